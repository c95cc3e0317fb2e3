package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/mirrorlake/weibo-harvester/internal/dedup"
	"github.com/mirrorlake/weibo-harvester/internal/domain"
	"github.com/mirrorlake/weibo-harvester/internal/logger"
)

// Package storage owns the durable text output: one stream per
// (mode, kind), each with a single queued writer appending CSV and/or JSONL
// files in enqueue order.

// StreamID identifies one output stream.
type StreamID struct {
	Mode domain.SourceMode
	Kind domain.Kind
}

func (id StreamID) String() string {
	return fmt.Sprintf("%s/%s", id.Mode, id.Kind)
}

// Options tunes the queued writers.
type Options struct {
	TextDir       string
	WriteCSV      bool
	WriteJSON     bool
	QueueCapacity int
	BatchSize     int
	FlushInterval time.Duration
	// MaxWriteRetries bounds retries of one failing batch before the stream
	// is marked degraded.
	MaxWriteRetries int
}

// ErrDegraded is returned by Enqueue for a stream that exhausted its write
// retry budget. Other streams keep operating.
var ErrDegraded = errors.New("output stream degraded")

// ErrClosed is returned by Enqueue once shutdown has begun. Records from
// workers that outlive the drain are refused, not written.
var ErrClosed = errors.New("output stream closed")

// Set manages the output streams for a run. Writers are created lazily on
// first enqueue; each stream has exactly one writer goroutine, so no lock
// spans the actual file I/O.
type Set struct {
	opts Options
	log  logger.Logger

	mu      sync.Mutex
	writers map[StreamID]*writer
	closed  bool
}

// NewSet builds a stream set rooted at opts.TextDir.
func NewSet(opts Options, log logger.Logger) (*Set, error) {
	if opts.TextDir == "" {
		return nil, errors.New("text output directory is required")
	}
	if !opts.WriteCSV && !opts.WriteJSON {
		return nil, errors.New("at least one output format must be enabled")
	}
	if opts.QueueCapacity <= 0 || opts.BatchSize <= 0 || opts.FlushInterval <= 0 {
		return nil, fmt.Errorf("invalid writer tuning: capacity=%d batch=%d interval=%s",
			opts.QueueCapacity, opts.BatchSize, opts.FlushInterval)
	}
	return &Set{
		opts:    opts,
		log:     logger.Ensure(log),
		writers: make(map[StreamID]*writer),
	}, nil
}

// Enqueue hands the record to its stream's writer. It blocks when the queue
// is full; that is the pipeline's backpressure. Records for a degraded
// stream are dropped with ErrDegraded.
func (s *Set) Enqueue(ctx context.Context, rec domain.Record) error {
	w, err := s.writerFor(StreamID{Mode: rec.Mode(), Kind: rec.Kind()})
	if err != nil {
		return err
	}
	return w.enqueue(ctx, rec)
}

func (s *Set) writerFor(id StreamID) (*writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("stream %s: %w", id, ErrClosed)
	}
	if w, ok := s.writers[id]; ok {
		return w, nil
	}
	w := newWriter(id, s.paths(id), s.opts, s.log)
	s.writers[id] = w
	return w, nil
}

type streamPaths struct {
	csv  string
	json string
}

func (s *Set) paths(id StreamID) streamPaths {
	dir := filepath.Join(s.opts.TextDir, string(id.Mode))
	p := streamPaths{}
	if s.opts.WriteCSV {
		p.csv = filepath.Join(dir, string(id.Kind)+".csv")
	}
	if s.opts.WriteJSON {
		p.json = filepath.Join(dir, string(id.Kind)+".jsonl")
	}
	return p
}

// Degraded lists streams that exhausted their write retries.
func (s *Set) Degraded() []StreamID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []StreamID
	for id, w := range s.writers {
		if w.isDegraded() {
			out = append(out, id)
		}
	}
	return out
}

// Close stops accepting records, performs a final flush of every partial
// batch, and waits for all writers to exit. No record accepted into a queue
// is dropped on a graceful stop.
func (s *Set) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	writers := make([]*writer, 0, len(s.writers))
	for _, w := range s.writers {
		writers = append(writers, w)
	}
	s.mu.Unlock()

	var errs []error
	for _, w := range writers {
		if err := w.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Rehydrate scans existing output under TextDir and seeds the dedup index
// with every key-bearing row, so a fresh run never re-persists records from
// prior runs. Runs once, before producers start.
func (s *Set) Rehydrate(idx *dedup.Index) error {
	return scanHistory(s.opts.TextDir, idx, s.log)
}
