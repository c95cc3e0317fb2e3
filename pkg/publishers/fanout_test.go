package publishers

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubPublisher struct {
	id    string
	typ   string
	err   error
	calls int
}

func (s *stubPublisher) ID() string   { return s.id }
func (s *stubPublisher) Type() string { return s.typ }
func (s *stubPublisher) Publish(context.Context, Event) error {
	s.calls++
	return s.err
}

func TestFanoutPublishAggregatesErrors(t *testing.T) {
	fanout := NewFanout([]Publisher{
		&stubPublisher{id: "ok", typ: "http"},
		&stubPublisher{id: "bad", typ: "http", err: errors.New("failed")},
	})

	count, err := fanout.Publish(context.Background(), Event{})
	if count != 1 {
		t.Fatalf("expected 1 success, got %d", count)
	}
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
}

func TestFanoutDropsNilPublishersAndNamesFailures(t *testing.T) {
	bad := &stubPublisher{id: "sqs-1", typ: "aws_sqs", err: errors.New("throttled")}
	fanout := NewFanout([]Publisher{nil, bad, nil})

	if fanout.Size() != 1 {
		t.Fatalf("nil publishers should be dropped, size=%d", fanout.Size())
	}

	evt := Event{Kind: "posts", DedupKey: "post_id:p1"}
	count, err := fanout.Publish(context.Background(), evt)
	if count != 0 || err == nil {
		t.Fatalf("expected failed delivery, count=%d err=%v", count, err)
	}
	for _, want := range []string{"aws_sqs", "sqs-1", "posts", "post_id:p1"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("failure should name %q, got %v", want, err)
		}
	}
}

func TestBuildAllWithDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()
	pubs, err := BuildAll(context.Background(), reg, []PublisherConfig{
		{ID: "http", Type: TypeHTTP, HTTP: &HTTPPublisherConfig{URL: "https://example.com"}},
	}, nil)
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	if len(pubs) != 1 {
		t.Fatalf("expected 1 publisher, got %d", len(pubs))
	}
	if pubs[0].ID() != "http" || pubs[0].Type() != TypeHTTP {
		t.Fatalf("publisher identity lost: id=%s type=%s", pubs[0].ID(), pubs[0].Type())
	}
}

func TestBuildAllRejectsUnknownType(t *testing.T) {
	_, err := BuildAll(context.Background(), DefaultRegistry(), []PublisherConfig{
		{ID: "x", Type: "carrier_pigeon"},
	}, nil)
	if err == nil {
		t.Fatal("expected error for unknown publisher type")
	}
}
