package app

import (
	"context"

	"github.com/mirrorlake/weibo-harvester/internal/domain"
	"github.com/mirrorlake/weibo-harvester/internal/ratelimit"
	"github.com/mirrorlake/weibo-harvester/pkg/httpclient"
	"github.com/mirrorlake/weibo-harvester/pkg/session"
)

// governedClient wraps the shared HTTP client with the admission governor
// and the session credential. Producers receive this client, so every remote
// fetch holds a stage permit and carries the current cookie without the
// producers knowing about either.
type governedClient struct {
	inner   httpclient.Client
	gov     *ratelimit.Governor
	session session.Provider
}

func newGovernedClient(inner httpclient.Client, gov *ratelimit.Governor, sess session.Provider) *governedClient {
	return &governedClient{inner: inner, gov: gov, session: sess}
}

func (c *governedClient) Get(ctx context.Context, url string, headers map[string]string) (httpclient.Response, error) {
	permit, err := c.gov.Acquire(ctx, ratelimit.StageFromContext(ctx))
	if err != nil {
		return nil, err
	}
	defer c.gov.Release(ctx, permit)

	merged := c.session.Headers()
	for k, v := range headers {
		merged[k] = v
	}

	resp, err := c.inner.Get(ctx, url, merged)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode() {
	case 401, 403:
		return nil, domain.ErrAuthExpired
	}
	return resp, nil
}
