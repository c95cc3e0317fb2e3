package producers

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mirrorlake/weibo-harvester/pkg/httpclient"
)

// producerRegistry implements ProducerRegistry.
type producerRegistry struct {
	byID   map[string]Producer
	byName map[string]Producer
	mu     sync.RWMutex
}

// NewProducerRegistry builds a registry from target-specific producers and
// shared producers keyed by their implementation name.
func NewProducerRegistry(named map[string]Producer, perTarget ...Producer) ProducerRegistry {
	reg := &producerRegistry{
		byID:   make(map[string]Producer),
		byName: make(map[string]Producer),
	}
	for _, p := range perTarget {
		reg.register(reg.byID, keyOf(p), p)
	}
	for name, p := range named {
		reg.register(reg.byName, strings.ToLower(strings.TrimSpace(name)), p)
	}
	return reg
}

func keyOf(p Producer) string {
	if p == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(p.ID()))
}

func (r *producerRegistry) register(m map[string]Producer, key string, p Producer) {
	if p == nil || key == "" {
		return
	}
	r.mu.Lock()
	m[key] = p
	r.mu.Unlock()
}

// ProducerFor selects the producer for a target, preferring one registered
// for the target's own id over the shared implementation it names.
func (r *producerRegistry) ProducerFor(target Target) (Producer, error) {
	if r == nil {
		return nil, fmt.Errorf("producer registry is nil")
	}
	if strings.TrimSpace(target.ID) == "" {
		return nil, fmt.Errorf("target id is empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.byID[strings.ToLower(strings.TrimSpace(target.ID))]; ok {
		return p, nil
	}
	name := strings.ToLower(strings.TrimSpace(target.Producer))
	if name != "" {
		if p, ok := r.byName[name]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no producer registered for target %q (producer %q)", target.ID, target.Producer)
}

// DefaultHTTPClient returns a tuned client for producer fetches.
func DefaultHTTPClient() HTTPClient { return httpclient.NewRestyClient(15 * time.Second) }

const (
	ProducerStatic = "static"
	ProducerPage   = "page"
)

// DefaultProducerRegistry wires up the built-in producers.
func DefaultProducerRegistry(client HTTPClient) ProducerRegistry {
	if client == nil {
		client = DefaultHTTPClient()
	}

	named := map[string]Producer{
		ProducerStatic: NewStaticProducer(),
		ProducerPage:   NewPageProducer(client),
	}
	return NewProducerRegistry(named)
}
