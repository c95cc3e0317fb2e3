package producers

import (
	"context"

	"github.com/mirrorlake/weibo-harvester/internal/domain"
	"github.com/mirrorlake/weibo-harvester/pkg/httpclient"
)

// Sink accepts the records a producer extracts. The pipeline behind it owns
// dedup, budgets, and durable output; producers just emit.
type Sink interface {
	Emit(ctx context.Context, rec domain.Record) error
}

// Producer turns one configured target into records. Concrete
// implementations live in producer-specific files (e.g. page.go).
type Producer interface {
	ID() string
	Produce(ctx context.Context, target Target, sink Sink) error
}

// ProducerRegistry resolves the producer implementation for a target.
type ProducerRegistry interface {
	ProducerFor(target Target) (Producer, error)
}

// HTTPClient aliases the shared httpclient.Client interface for clarity within producers.
type HTTPClient = httpclient.Client
