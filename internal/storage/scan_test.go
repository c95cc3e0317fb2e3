package storage

import (
	"context"
	"testing"

	"github.com/mirrorlake/weibo-harvester/internal/dedup"
	"github.com/mirrorlake/weibo-harvester/internal/domain"
	"github.com/mirrorlake/weibo-harvester/internal/logger"
)

func TestRehydrateMakesReIngestionIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	records := []domain.Record{
		testPost(1),
		testPost(2),
		domain.Comment{
			SourceMode: domain.ModeKeyword, SourceTarget: "golang",
			PostID: "p001", Commenter: "alice", Content: "nice", CommentedAt: "2026-08-01 13:00:00",
		},
		domain.Media{
			SourceMode: domain.ModeKeyword, SourceTarget: "golang",
			PostID: "p001", MediaType: "image", MediaURL: "https://cdn.example.com/a.jpg?sig=1",
		},
		domain.Profile{UID: "u1", ScreenName: "tester", SourceTarget: "u1"},
	}

	set, err := NewSet(testOptions(dir), logger.NopLogger{})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	for _, rec := range records {
		if err := set.Enqueue(ctx, rec); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := set.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Second run over the same output directory.
	set2, err := NewSet(testOptions(dir), logger.NopLogger{})
	if err != nil {
		t.Fatalf("NewSet second run: %v", err)
	}
	defer set2.Close()

	idx := dedup.NewIndex(dedup.Budgets{})
	if err := set2.Rehydrate(idx); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}

	for _, rec := range records {
		if idx.Accept(rec) {
			t.Fatalf("rehydrated index re-accepted %s key %q", rec.Kind(), rec.DedupKey())
		}
	}

	// Query strips must not defeat media dedup across runs.
	variant := domain.Media{
		SourceMode: domain.ModeKeyword, SourceTarget: "golang",
		PostID: "p001", MediaType: "image", MediaURL: "https://cdn.example.com/a.jpg?sig=2",
	}
	if idx.Accept(variant) {
		t.Fatal("media URL with different query string should dedup against history")
	}

	fresh := testPost(99)
	if !idx.Accept(fresh) {
		t.Fatal("genuinely new record must still be accepted")
	}
}

func TestRehydrateMissingDirIsNoop(t *testing.T) {
	idx := dedup.NewIndex(dedup.Budgets{})
	if err := scanHistory(t.TempDir()+"/nope", idx, logger.NopLogger{}); err != nil {
		t.Fatalf("scanHistory on missing dir: %v", err)
	}
}
