package publishers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// pubsubTopic is the slice of the Pub/Sub topic the sender needs.
type pubsubTopic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

type gcpPubSubSender struct {
	topic pubsubTopic
	log   Logger
}

func newGCPPubSubSender(ctx context.Context, cfg PublisherConfig, log Logger) (Sender, error) {
	if cfg.PubSub == nil ||
		strings.TrimSpace(cfg.PubSub.ProjectID) == "" ||
		strings.TrimSpace(cfg.PubSub.TopicID) == "" {
		return nil, errors.New("pubsub project_id and topic_id are required")
	}

	var opts []option.ClientOption
	if cfg.PubSub.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.PubSub.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &gcpPubSubSender{topic: client.Topic(cfg.PubSub.TopicID), log: ensureLogger(log)}, nil
}

func (s *gcpPubSubSender) Send(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	result := s.topic.Publish(ctx, &pubsub.Message{
		Data:       body,
		Attributes: evt.Attributes(),
	})
	id, err := result.Get(ctx)
	if err != nil {
		s.log.Errorf("pubsub publish failed for %s: %v", evt.DedupKey, err)
		return fmt.Errorf("pubsub publish: %w", err)
	}
	s.log.Infof("published %s event to pubsub message_id=%s", evt.Kind, id)
	return nil
}
