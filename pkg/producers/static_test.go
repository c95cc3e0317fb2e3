package producers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mirrorlake/weibo-harvester/internal/domain"
)

type captureSink struct {
	recs []domain.Record
}

func (s *captureSink) Emit(_ context.Context, rec domain.Record) error {
	s.recs = append(s.recs, rec)
	return nil
}

func TestStaticProducerReplaysAndStampsRecords(t *testing.T) {
	replay := strings.Join([]string{
		`{"kind":"posts","post_id":"p1","uid":"u1","author":"alice","content":"hello"}`,
		``,
		`{"kind":"comments","post_id":"p1","commenter":"bob","content":"hi","commented_at":"2026-08-01 10:00:00"}`,
		`{"kind":"media","post_id":"p1","media_type":"image","media_url":"https://cdn.example.com/a.jpg"}`,
		`{"kind":"profiles","uid":"u1","screen_name":"alice"}`,
	}, "\n")

	path := filepath.Join(t.TempDir(), "replay.jsonl")
	if err := os.WriteFile(path, []byte(replay), 0o644); err != nil {
		t.Fatalf("write replay file: %v", err)
	}

	target := Target{
		ID: "kw", Mode: "keyword", Value: "golang", Producer: ProducerStatic,
		Config: map[string]any{"path": path},
	}

	sink := &captureSink{}
	if err := NewStaticProducer().Produce(context.Background(), target, sink); err != nil {
		t.Fatalf("Produce: %v", err)
	}

	if len(sink.recs) != 4 {
		t.Fatalf("expected 4 records, got %d", len(sink.recs))
	}

	post, ok := sink.recs[0].(domain.Post)
	if !ok || post.PostID != "p1" {
		t.Fatalf("first record should be the post, got %+v", sink.recs[0])
	}
	if post.Mode() != domain.ModeKeyword || post.Target() != "golang" {
		t.Fatalf("replayed record missing source stamp: mode=%s target=%s", post.Mode(), post.Target())
	}

	if _, ok := sink.recs[3].(domain.Profile); !ok {
		t.Fatalf("last record should be the profile, got %+v", sink.recs[3])
	}
}

func TestStaticProducerRejectsUnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.jsonl")
	if err := os.WriteFile(path, []byte(`{"kind":"sticker"}`), 0o644); err != nil {
		t.Fatalf("write replay file: %v", err)
	}

	target := Target{ID: "kw", Mode: "keyword", Value: "golang",
		Producer: ProducerStatic, Config: map[string]any{"path": path}}
	err := NewStaticProducer().Produce(context.Background(), target, &captureSink{})
	if err == nil || !strings.Contains(err.Error(), "unknown record kind") {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestStaticProducerRequiresPath(t *testing.T) {
	target := Target{ID: "kw", Mode: "keyword", Value: "golang", Producer: ProducerStatic}
	if err := NewStaticProducer().Produce(context.Background(), target, &captureSink{}); err == nil {
		t.Fatal("expected error without path config")
	}
}
