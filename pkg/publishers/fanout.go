package publishers

import (
	"context"
	"errors"
	"fmt"
)

// Fanout delivers each record event to every configured downstream
// destination. A failing destination never blocks the others; the harvest
// keeps count of deliveries that landed and logs the rest.
type Fanout struct {
	destinations []Publisher
}

// NewFanout builds the fanout over the built publishers. Nil entries are
// dropped so a partially populated slice cannot blow up mid-harvest.
func NewFanout(pubs []Publisher) *Fanout {
	kept := make([]Publisher, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Fanout{destinations: kept}
}

// Publish sends the event to every destination in registry order and
// reports how many accepted it. Failures are joined into a single error per
// event, so the caller logs one line and moves on to the next record.
func (f *Fanout) Publish(ctx context.Context, evt Event) (int, error) {
	if f == nil {
		return 0, nil
	}

	delivered := 0
	var failures []error
	for _, dest := range f.destinations {
		if err := dest.Publish(ctx, evt); err != nil {
			failures = append(failures, fmt.Errorf("%s %s: deliver %s event %s: %w",
				dest.Type(), dest.ID(), evt.Kind, evt.DedupKey, err))
			continue
		}
		delivered++
	}
	return delivered, errors.Join(failures...)
}

// Size reports how many destinations are configured. Zero means the harvest
// runs without downstream fanout.
func (f *Fanout) Size() int {
	if f == nil {
		return 0
	}
	return len(f.destinations)
}
