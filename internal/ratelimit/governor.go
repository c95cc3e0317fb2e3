package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Stage names a pipeline phase with its own admission ceiling.
type Stage string

const (
	StageKeyword       Stage = "keyword"
	StagePostDetail    Stage = "post_detail"
	StageComment       Stage = "comment"
	StageUser          Stage = "user"
	StageMediaDownload Stage = "media_download"
)

// Limits configures the per-stage ceilings and the global ceiling that bounds
// the sum across all stages.
type Limits struct {
	Keyword       int
	PostDetail    int
	Comment       int
	User          int
	MediaDownload int
	Global        int
}

// Governor is the two-level admission controller. Acquire takes the stage
// token first and the global token second; Release returns them in the exact
// reverse order. That fixed order is what prevents a caller from parking on a
// stage pool while holding global capacity.
type Governor struct {
	stages    map[Stage]*semaphore.Weighted
	global    *semaphore.Weighted
	delayLow  time.Duration
	delayHigh time.Duration
}

// Permit is a held pair of tokens for one in-flight request.
type Permit struct {
	stage    Stage
	released atomic.Bool
}

// NewGovernor builds a governor from ceilings and the post-release jitter
// window. Ceilings must be positive.
func NewGovernor(limits Limits, delayLow, delayHigh time.Duration) (*Governor, error) {
	ceilings := map[Stage]int{
		StageKeyword:       limits.Keyword,
		StagePostDetail:    limits.PostDetail,
		StageComment:       limits.Comment,
		StageUser:          limits.User,
		StageMediaDownload: limits.MediaDownload,
	}
	stages := make(map[Stage]*semaphore.Weighted, len(ceilings))
	for stage, ceiling := range ceilings {
		if ceiling <= 0 {
			return nil, fmt.Errorf("stage %s ceiling must be positive, got %d", stage, ceiling)
		}
		stages[stage] = semaphore.NewWeighted(int64(ceiling))
	}
	if limits.Global <= 0 {
		return nil, fmt.Errorf("global ceiling must be positive, got %d", limits.Global)
	}
	if delayLow < 0 || delayHigh < delayLow {
		return nil, fmt.Errorf("invalid jitter window [%s, %s]", delayLow, delayHigh)
	}

	return &Governor{
		stages:    stages,
		global:    semaphore.NewWeighted(int64(limits.Global)),
		delayLow:  delayLow,
		delayHigh: delayHigh,
	}, nil
}

// Acquire blocks until both the stage pool and the global pool have a free
// slot, or the context is done.
func (g *Governor) Acquire(ctx context.Context, stage Stage) (*Permit, error) {
	sem, ok := g.stages[stage]
	if !ok {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := g.global.Acquire(ctx, 1); err != nil {
		sem.Release(1)
		return nil, err
	}
	return &Permit{stage: stage}, nil
}

// Release returns the tokens (global first, then stage) and then suspends the
// caller for a uniform random duration from the jitter window. The delay is
// interruptible: a done context skips the remainder. Release is idempotent.
func (g *Governor) Release(ctx context.Context, p *Permit) {
	if p == nil || !p.released.CompareAndSwap(false, true) {
		return
	}
	g.global.Release(1)
	g.stages[p.stage].Release(1)

	delay := g.jitter()
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (g *Governor) jitter() time.Duration {
	if g.delayHigh <= 0 {
		return 0
	}
	span := g.delayHigh - g.delayLow
	if span <= 0 {
		return g.delayLow
	}
	return g.delayLow + time.Duration(rand.Int64N(int64(span)+1))
}

// Jitter samples a uniform duration from [low, high]. Shared helper for
// producer page pacing, which uses a slower window than permit release.
func Jitter(low, high time.Duration) time.Duration {
	if high <= 0 || high < low {
		return 0
	}
	span := high - low
	if span <= 0 {
		return low
	}
	return low + time.Duration(rand.Int64N(int64(span)+1))
}

// Sleep suspends for a uniform random duration from [low, high], returning
// early if the context is done.
func Sleep(ctx context.Context, low, high time.Duration) {
	delay := Jitter(low, high)
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
