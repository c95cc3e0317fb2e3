package ratelimit

import (
	"context"
	"testing"
	"time"
)

func newTestGovernor(t *testing.T, limits Limits) *Governor {
	t.Helper()
	gov, err := NewGovernor(limits, 0, 0)
	if err != nil {
		t.Fatalf("NewGovernor: %v", err)
	}
	return gov
}

func mustAcquire(t *testing.T, gov *Governor, stage Stage) *Permit {
	t.Helper()
	p, err := gov.Acquire(context.Background(), stage)
	if err != nil {
		t.Fatalf("Acquire(%s): %v", stage, err)
	}
	return p
}

// tryAcquire attempts an acquire with a short deadline and reports whether
// it succeeded before timing out.
func tryAcquire(gov *Governor, stage Stage) (*Permit, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	p, err := gov.Acquire(ctx, stage)
	return p, err == nil
}

func TestStageCeilingBlocksOverSubscription(t *testing.T) {
	gov := newTestGovernor(t, Limits{Keyword: 1, PostDetail: 2, Comment: 2, User: 2, MediaDownload: 2, Global: 8})

	held := mustAcquire(t, gov, StageKeyword)
	if _, ok := tryAcquire(gov, StageKeyword); ok {
		t.Fatal("second keyword acquire should block at the stage ceiling")
	}
	// Other stages are unaffected.
	other, ok := tryAcquire(gov, StageComment)
	if !ok {
		t.Fatal("comment stage should be unaffected by keyword ceiling")
	}
	gov.Release(context.Background(), other)

	gov.Release(context.Background(), held)
	if p, ok := tryAcquire(gov, StageKeyword); !ok {
		t.Fatal("keyword slot should be free after release")
	} else {
		gov.Release(context.Background(), p)
	}
}

func TestGlobalCeilingBoundsSumAcrossStages(t *testing.T) {
	gov := newTestGovernor(t, Limits{Keyword: 2, PostDetail: 2, Comment: 2, User: 2, MediaDownload: 2, Global: 2})

	a := mustAcquire(t, gov, StageKeyword)
	b := mustAcquire(t, gov, StageComment)
	if _, ok := tryAcquire(gov, StageUser); ok {
		t.Fatal("third acquire should block at the global ceiling")
	}

	gov.Release(context.Background(), a)
	if p, ok := tryAcquire(gov, StageUser); !ok {
		t.Fatal("global slot should be free after release")
	} else {
		gov.Release(context.Background(), p)
	}
	gov.Release(context.Background(), b)
}

func TestCancelledAcquireReturnsStageToken(t *testing.T) {
	gov := newTestGovernor(t, Limits{Keyword: 1, PostDetail: 1, Comment: 1, User: 1, MediaDownload: 1, Global: 1})

	// Exhaust the global pool from another stage, then time out a keyword
	// acquire stuck waiting on it.
	held := mustAcquire(t, gov, StageComment)
	if _, ok := tryAcquire(gov, StageKeyword); ok {
		t.Fatal("keyword acquire should have blocked on the global pool")
	}

	// The failed acquire must have rolled back its stage token, otherwise
	// this acquire would hang on an empty keyword pool.
	gov.Release(context.Background(), held)
	p, ok := tryAcquire(gov, StageKeyword)
	if !ok {
		t.Fatal("stage token leaked by the cancelled acquire")
	}
	gov.Release(context.Background(), p)
}

func TestReleaseIsIdempotent(t *testing.T) {
	gov := newTestGovernor(t, Limits{Keyword: 1, PostDetail: 1, Comment: 1, User: 1, MediaDownload: 1, Global: 1})

	p := mustAcquire(t, gov, StageKeyword)
	gov.Release(context.Background(), p)
	gov.Release(context.Background(), p)
	gov.Release(context.Background(), nil)

	// A double release must not mint extra global capacity.
	a := mustAcquire(t, gov, StageKeyword)
	if _, ok := tryAcquire(gov, StageComment); ok {
		t.Fatal("double release inflated the global pool")
	}
	gov.Release(context.Background(), a)
}

func TestAcquireRejectsUnknownStage(t *testing.T) {
	gov := newTestGovernor(t, Limits{Keyword: 1, PostDetail: 1, Comment: 1, User: 1, MediaDownload: 1, Global: 1})
	if _, err := gov.Acquire(context.Background(), Stage("bogus")); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}

func TestNewGovernorValidation(t *testing.T) {
	cases := []struct {
		name   string
		limits Limits
		low    time.Duration
		high   time.Duration
	}{
		{"zero stage ceiling", Limits{Keyword: 0, PostDetail: 1, Comment: 1, User: 1, MediaDownload: 1, Global: 1}, 0, 0},
		{"zero global ceiling", Limits{Keyword: 1, PostDetail: 1, Comment: 1, User: 1, MediaDownload: 1, Global: 0}, 0, 0},
		{"inverted jitter window", Limits{Keyword: 1, PostDetail: 1, Comment: 1, User: 1, MediaDownload: 1, Global: 1}, time.Second, time.Millisecond},
	}
	for _, tc := range cases {
		if _, err := NewGovernor(tc.limits, tc.low, tc.high); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	low, high := 10*time.Millisecond, 20*time.Millisecond
	for i := 0; i < 100; i++ {
		d := Jitter(low, high)
		if d < low || d > high {
			t.Fatalf("jitter %s outside [%s, %s]", d, low, high)
		}
	}
	if d := Jitter(0, 0); d != 0 {
		t.Fatalf("zero window should yield zero, got %s", d)
	}
	if d := Jitter(time.Second, time.Millisecond); d != 0 {
		t.Fatalf("inverted window should yield zero, got %s", d)
	}
}

func TestStageContextRoundTrip(t *testing.T) {
	ctx := WithStage(context.Background(), StageMediaDownload)
	if got := StageFromContext(ctx); got != StageMediaDownload {
		t.Fatalf("got stage %s, want %s", got, StageMediaDownload)
	}
	if got := StageFromContext(context.Background()); got != StagePostDetail {
		t.Fatalf("untagged context should default to %s, got %s", StagePostDetail, got)
	}
}
