package publishers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mirrorlake/weibo-harvester/pkg/httpclient"
)

const defaultHTTPPublishTimeout = 10 * time.Second

// httpSender POSTs each event as JSON to a webhook-style endpoint.
type httpSender struct {
	url     string
	headers map[string]string
	client  *resty.Client
	log     Logger
}

func newHTTPSender(_ context.Context, cfg PublisherConfig, log Logger) (Sender, error) {
	if cfg.HTTP == nil || strings.TrimSpace(cfg.HTTP.URL) == "" {
		return nil, errors.New("http url is required")
	}

	timeout := defaultHTTPPublishTimeout
	if cfg.HTTP.TimeoutMs > 0 {
		timeout = time.Duration(cfg.HTTP.TimeoutMs) * time.Millisecond
	}
	return &httpSender{
		url:     cfg.HTTP.URL,
		headers: cfg.HTTP.Headers,
		client:  httpclient.NewRestyHTTPClient(timeout),
		log:     ensureLogger(log),
	}, nil
}

func (s *httpSender) Send(ctx context.Context, evt Event) error {
	req := s.client.R().SetContext(ctx).SetHeader("Content-Type", "application/json").SetBody(evt)
	for k, v := range s.headers {
		req.SetHeader(k, v)
	}

	resp, err := req.Post(s.url)
	if err != nil {
		s.log.Errorf("http publish failed for %s: %v", evt.DedupKey, err)
		return fmt.Errorf("http publish: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return &httpclient.StatusError{Code: resp.StatusCode(), URL: s.url}
	}
	if resp.StatusCode() != http.StatusOK {
		s.log.Infof("http publish accepted with status %d", resp.StatusCode())
	}
	return nil
}
