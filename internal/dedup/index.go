package dedup

import (
	"fmt"
	"sync"

	"github.com/mirrorlake/weibo-harvester/internal/domain"
)

// Budgets caps how much a single source may contribute. Zero means
// unlimited. Enforced here, at the single-writer boundary, so concurrent
// producers cannot overshoot between check and insert.
type Budgets struct {
	MaxPostsPerKeyword    int
	MaxCommentsPerKeyword int
	MaxCommentsPerPost    int
}

// Stats is a point-in-time snapshot of index counters.
type Stats struct {
	Seen       int
	Accepted   map[domain.Kind]int
	Duplicates int
	Limited    int
}

// Index is the in-memory set of previously-seen record keys. It is seeded
// from durable output before any producer starts and only grows during a
// run. All mutation goes through Accept under one mutex, making the
// check-then-insert atomic.
type Index struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	budgets Budgets

	accepted       map[domain.Kind]int
	duplicates     int
	limited        int
	sourcePosts    map[string]int
	sourceComments map[string]int
	postComments   map[string]int
}

// NewIndex builds an empty index with the given budgets.
func NewIndex(budgets Budgets) *Index {
	return &Index{
		seen:           make(map[string]struct{}),
		budgets:        budgets,
		accepted:       make(map[domain.Kind]int),
		sourcePosts:    make(map[string]int),
		sourceComments: make(map[string]int),
		postComments:   make(map[string]int),
	}
}

func indexKey(mode domain.SourceMode, kind domain.Kind, key string) string {
	return fmt.Sprintf("%s/%s/%s", mode, kind, key)
}

func sourceKey(mode domain.SourceMode, target string) string {
	return fmt.Sprintf("%s/%s", mode, target)
}

// Accept records the key exactly once per unique (mode, kind, key) and
// reports whether the caller now owns the record. Returns false for
// duplicates and for records over their source budget.
func (x *Index) Accept(rec domain.Record) bool {
	key := rec.DedupKey()
	if key == "" {
		return false
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	full := indexKey(rec.Mode(), rec.Kind(), key)
	if _, dup := x.seen[full]; dup {
		x.duplicates++
		return false
	}
	if !x.withinBudget(rec) {
		x.limited++
		return false
	}

	x.seen[full] = struct{}{}
	x.accepted[rec.Kind()]++
	x.bumpCounters(rec)
	return true
}

// withinBudget checks source budgets. Only keyword-mode posts and comments
// are budgeted, matching the configuration surface.
func (x *Index) withinBudget(rec domain.Record) bool {
	switch r := rec.(type) {
	case domain.Post:
		if rec.Mode() == domain.ModeKeyword && x.budgets.MaxPostsPerKeyword > 0 {
			if x.sourcePosts[sourceKey(rec.Mode(), r.SourceTarget)] >= x.budgets.MaxPostsPerKeyword {
				return false
			}
		}
	case domain.Comment:
		if rec.Mode() == domain.ModeKeyword && x.budgets.MaxCommentsPerKeyword > 0 {
			if x.sourceComments[sourceKey(rec.Mode(), r.SourceTarget)] >= x.budgets.MaxCommentsPerKeyword {
				return false
			}
		}
		if r.PostID != "" && x.budgets.MaxCommentsPerPost > 0 {
			if x.postComments[r.PostID] >= x.budgets.MaxCommentsPerPost {
				return false
			}
		}
	}
	return true
}

func (x *Index) bumpCounters(rec domain.Record) {
	switch r := rec.(type) {
	case domain.Post:
		x.sourcePosts[sourceKey(rec.Mode(), r.SourceTarget)]++
	case domain.Comment:
		x.sourceComments[sourceKey(rec.Mode(), r.SourceTarget)]++
		if r.PostID != "" {
			x.postComments[r.PostID]++
		}
	}
}

// Seed registers a key recovered from durable output during rehydration.
// Counters are bumped so budgets account for prior runs.
func (x *Index) Seed(mode domain.SourceMode, kind domain.Kind, key, target, postID string) {
	if key == "" {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	full := indexKey(mode, kind, key)
	if _, dup := x.seen[full]; dup {
		return
	}
	x.seen[full] = struct{}{}

	switch kind {
	case domain.KindPost:
		if target != "" {
			x.sourcePosts[sourceKey(mode, target)]++
		}
	case domain.KindComment:
		if target != "" {
			x.sourceComments[sourceKey(mode, target)]++
		}
		if postID != "" {
			x.postComments[postID]++
		}
	}
}

// SourcePostCount returns how many posts a source has contributed, including
// rehydrated history. Producers use it to stop paging early.
func (x *Index) SourcePostCount(mode domain.SourceMode, target string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.sourcePosts[sourceKey(mode, target)]
}

// SourceCommentCount returns how many comments a source has contributed.
func (x *Index) SourceCommentCount(mode domain.SourceMode, target string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.sourceComments[sourceKey(mode, target)]
}

// Stats returns a copy of the index counters.
func (x *Index) Stats() Stats {
	x.mu.Lock()
	defer x.mu.Unlock()

	accepted := make(map[domain.Kind]int, len(x.accepted))
	for k, v := range x.accepted {
		accepted[k] = v
	}
	return Stats{
		Seen:       len(x.seen),
		Accepted:   accepted,
		Duplicates: x.duplicates,
		Limited:    x.limited,
	}
}
