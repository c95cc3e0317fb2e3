// Package publishers fans harvested records out to downstream consumers:
// AWS SQS/SNS, Google Pub/Sub, or a plain HTTP endpoint.
package publishers

import (
	"context"
	"time"

	"github.com/mirrorlake/weibo-harvester/internal/domain"
)

// Event is the payload published downstream for every accepted record.
type Event struct {
	TargetID    string    `json:"target_id"`
	SourceMode  string    `json:"source_mode"`
	Kind        string    `json:"kind"`
	DedupKey    string    `json:"dedup_key"`
	Record      any       `json:"record"`
	HarvestedAt time.Time `json:"harvested_at"`
}

// NewEvent constructs an Event for the given target + record.
func NewEvent(targetID string, rec domain.Record) Event {
	return Event{
		TargetID:    targetID,
		SourceMode:  string(rec.Mode()),
		Kind:        string(rec.Kind()),
		DedupKey:    rec.DedupKey(),
		Record:      rec.JSONRow(),
		HarvestedAt: time.Now().UTC(),
	}
}

// Attributes returns the routing metadata downstream filters switch on.
func (e Event) Attributes() map[string]string {
	return map[string]string{
		"target_id":   e.TargetID,
		"source_mode": e.SourceMode,
		"kind":        e.Kind,
	}
}

// Publisher is one configured downstream destination.
type Publisher interface {
	ID() string
	Type() string
	Publish(ctx context.Context, evt Event) error
}

// Sender is the transport half of a publisher. Concrete senders live in
// transport-specific files (e.g. awssqs.go) and are wrapped with their
// config identity by the builder.
type Sender interface {
	Send(ctx context.Context, evt Event) error
}

// senderPublisher binds a Sender to the identity from its config entry.
type senderPublisher struct {
	id     string
	typ    string
	sender Sender
}

func (p *senderPublisher) ID() string   { return p.id }
func (p *senderPublisher) Type() string { return p.typ }
func (p *senderPublisher) Publish(ctx context.Context, evt Event) error {
	return p.sender.Send(ctx, evt)
}

// Logger is the minimal logging surface senders need.
type Logger interface {
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

func ensureLogger(log Logger) Logger {
	if log == nil {
		return noopLogger{}
	}
	return log
}
