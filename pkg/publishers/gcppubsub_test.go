package publishers

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
)

func TestGCPPubSubSenderPublishes(t *testing.T) {
	// Use the in-memory Pub/Sub emulator.
	server := pstest.NewServer()
	defer server.Close()
	t.Setenv("PUBSUB_EMULATOR_HOST", server.Addr)

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	defer client.Close()
	if _, err := client.CreateTopic(ctx, "topic-1"); err != nil {
		t.Fatalf("create topic: %v", err)
	}

	sender, err := newGCPPubSubSender(ctx, PublisherConfig{
		ID:   "gcp-1",
		Type: TypePubSub,
		PubSub: &PubSubPublisherConfig{
			ProjectID: "test-project",
			TopicID:   "topic-1",
		},
	}, nil)
	if err != nil {
		t.Fatalf("newGCPPubSubSender: %v", err)
	}

	if err := sender.Send(ctx, testEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := len(server.Messages()); got != 1 {
		t.Fatalf("expected 1 message on the emulator, got %d", got)
	}
}

func TestGCPPubSubSenderRequiresProjectAndTopic(t *testing.T) {
	_, err := newGCPPubSubSender(context.Background(), PublisherConfig{
		ID:     "gcp-bad",
		Type:   TypePubSub,
		PubSub: &PubSubPublisherConfig{ProjectID: "p"},
	}, nil)
	if err == nil {
		t.Fatal("expected error for missing topic_id")
	}
}
