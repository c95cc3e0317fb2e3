package producers

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/mirrorlake/weibo-harvester/internal/domain"
)

const maxHTMLBodyBytes = 2 << 20

// pageProducer fetches one public post page and extracts its Open Graph
// metadata into a post record plus media records for the advertised image
// and video. It works on any page that carries og: tags and knows nothing
// about the markup behind them.
type pageProducer struct {
	client HTTPClient
}

func NewPageProducer(client HTTPClient) Producer {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &pageProducer{client: client}
}

func (p *pageProducer) ID() string { return ProducerPage }

func (p *pageProducer) Produce(ctx context.Context, target Target, sink Sink) error {
	pageURL := strings.TrimSpace(target.Value)
	if pageURL == "" {
		return fmt.Errorf("target %q: value must be a page url", target.ID)
	}

	resp, err := p.client.Get(ctx, pageURL, Headers(target))
	if err != nil {
		return fmt.Errorf("target %q: fetch page: %w", target.ID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("target %q: page returned status %d", target.ID, resp.StatusCode())
	}

	body := resp.Body()
	if len(body) > maxHTMLBodyBytes {
		body = body[:maxHTMLBodyBytes]
	}

	meta, err := parsePageMeta(body)
	if err != nil {
		return fmt.Errorf("target %q: %w", target.ID, err)
	}
	if meta.Title == "" && meta.Description == "" {
		return fmt.Errorf("target %q: page exposed no usable metadata", target.ID)
	}

	post := domain.Post{
		SourceMode:   target.SourceMode(),
		SourceTarget: target.Value,
		PostID:       postIDFromURL(pageURL),
		Author:       meta.Author,
		Content:      firstNonEmpty(meta.Description, meta.Title),
		PostedAt:     firstNonEmpty(meta.PublishedAt, domain.Timestamp(time.Now())),
		PostURL:      pageURL,
	}
	if err := sink.Emit(ctx, post); err != nil {
		return err
	}

	attachments := []struct {
		mediaType string
		mediaURL  string
	}{
		{"image", meta.ImageURL},
		{"video", meta.VideoURL},
	}
	for _, att := range attachments {
		mediaType, mediaURL := att.mediaType, att.mediaURL
		if mediaURL == "" {
			continue
		}
		media := domain.Media{
			SourceMode:   post.SourceMode,
			SourceTarget: post.SourceTarget,
			PostID:       post.PostID,
			PostURL:      post.PostURL,
			Author:       post.Author,
			MediaType:    mediaType,
			MediaURL:     mediaURL,
			PostedAt:     post.PostedAt,
		}
		if err := sink.Emit(ctx, media); err != nil {
			return err
		}
	}
	return nil
}

type pageMeta struct {
	Title       string
	Description string
	Author      string
	PublishedAt string
	ImageURL    string
	VideoURL    string
}

func parsePageMeta(body []byte) (pageMeta, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pageMeta{}, fmt.Errorf("parse html: %w", err)
	}

	pm := pageMeta{}

	extract := func(sel string) string {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if val, ok := node.Attr("content"); ok {
				return strings.TrimSpace(val)
			}
		}
		return ""
	}

	pm.Title = firstNonEmpty(
		extract(`meta[property="og:title"]`),
		strings.TrimSpace(doc.Find("title").First().Text()),
	)
	pm.Description = firstNonEmpty(
		extract(`meta[property="og:description"]`),
		extract(`meta[name="description"]`),
	)
	pm.Author = firstNonEmpty(
		extract(`meta[property="article:author"]`),
		extract(`meta[name="author"]`),
	)
	pm.PublishedAt = extract(`meta[property="article:published_time"]`)
	pm.ImageURL = extract(`meta[property="og:image"]`)
	pm.VideoURL = firstNonEmpty(
		extract(`meta[property="og:video"]`),
		extract(`meta[property="og:video:url"]`),
	)

	return pm, nil
}

// postIDFromURL prefers the last path segment so ids line up with what the
// site itself shows; query strings and unusable paths fall back to a hash.
func postIDFromURL(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		last := segments[len(segments)-1]
		if last != "" && len(last) <= 64 {
			return last
		}
	}
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
