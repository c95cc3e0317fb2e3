package producers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mirrorlake/weibo-harvester/internal/domain"
	"github.com/mirrorlake/weibo-harvester/pkg/httpclient"
)

const samplePage = `<!DOCTYPE html>
<html><head>
<title>fallback title</title>
<meta property="og:title" content="A post worth keeping"/>
<meta property="og:description" content="Short text of the post."/>
<meta name="author" content="alice"/>
<meta property="article:published_time" content="2026-08-01 09:30:00"/>
<meta property="og:image" content="https://cdn.example.com/pic.jpg"/>
<meta property="og:video" content="https://cdn.example.com/clip.mp4"/>
</head><body></body></html>`

func TestPageProducerExtractsPostAndMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	target := Target{ID: "post-1", Mode: "url", Value: srv.URL + "/status/4901234"}

	sink := &captureSink{}
	producer := NewPageProducer(httpclient.NewRestyClient(5 * time.Second))
	if err := producer.Produce(context.Background(), target, sink); err != nil {
		t.Fatalf("Produce: %v", err)
	}

	if len(sink.recs) != 3 {
		t.Fatalf("expected post + image + video, got %d records", len(sink.recs))
	}

	post := sink.recs[0].(domain.Post)
	if post.PostID != "4901234" {
		t.Fatalf("post id should come from the url path, got %q", post.PostID)
	}
	if post.Content != "Short text of the post." || post.Author != "alice" {
		t.Fatalf("metadata not extracted: %+v", post)
	}
	if post.Mode() != domain.ModePostURL {
		t.Fatalf("expected post_url mode, got %s", post.Mode())
	}

	image := sink.recs[1].(domain.Media)
	if image.MediaType != "image" || image.MediaURL != "https://cdn.example.com/pic.jpg" {
		t.Fatalf("unexpected image record: %+v", image)
	}
	video := sink.recs[2].(domain.Media)
	if video.MediaType != "video" || video.MediaURL != "https://cdn.example.com/clip.mp4" {
		t.Fatalf("unexpected video record: %+v", video)
	}
	if image.PostID != post.PostID {
		t.Fatal("media must be linked to its post")
	}
}

func TestPageProducerFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	target := Target{ID: "post-1", Mode: "url", Value: srv.URL + "/gone"}
	producer := NewPageProducer(httpclient.NewRestyClient(5 * time.Second))
	if err := producer.Produce(context.Background(), target, &captureSink{}); err == nil {
		t.Fatal("expected error for non-200 page")
	}
}

func TestPageProducerFailsWithoutMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head></head><body>nothing</body></html>"))
	}))
	defer srv.Close()

	target := Target{ID: "post-1", Mode: "url", Value: srv.URL + "/empty"}
	producer := NewPageProducer(httpclient.NewRestyClient(5 * time.Second))
	if err := producer.Produce(context.Background(), target, &captureSink{}); err == nil {
		t.Fatal("expected error for page without metadata")
	}
}
