package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirrorlake/weibo-harvester/internal/domain"
	"github.com/mirrorlake/weibo-harvester/internal/logger"
)

const writeRetryBaseDelay = 100 * time.Millisecond

// writer drains one stream's bounded queue into write batches and flushes
// them with a dual trigger: the batch reaching BatchSize, or FlushInterval
// elapsing since the first unflushed record, whichever comes first.
type writer struct {
	id    StreamID
	paths streamPaths
	opts  Options
	log   logger.Logger

	queue chan domain.Record
	done  chan struct{}

	// closeMu guards queue against a send racing the close: abandoned
	// workers may still emit after shutdown begins, and a late enqueue must
	// be refused, never panic.
	closeMu  sync.RWMutex
	closed   bool
	degraded atomic.Bool
	dropped  atomic.Int64

	// csvHeaderChecked is only touched by the writer goroutine.
	csvHeaderChecked bool
}

func newWriter(id StreamID, paths streamPaths, opts Options, log logger.Logger) *writer {
	w := &writer{
		id:    id,
		paths: paths,
		opts:  opts,
		log:   log,
		queue: make(chan domain.Record, opts.QueueCapacity),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writer) isDegraded() bool { return w.degraded.Load() }

// enqueue blocks while the queue is full, slowing producers without any
// explicit coordination.
func (w *writer) enqueue(ctx context.Context, rec domain.Record) error {
	if w.degraded.Load() {
		w.dropped.Add(1)
		return fmt.Errorf("stream %s: %w", w.id, ErrDegraded)
	}

	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	if w.closed {
		return fmt.Errorf("stream %s: %w", w.id, ErrClosed)
	}
	select {
	case w.queue <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops the writer after a final flush of any partial batch. The
// closed flag flips under the same lock in-flight enqueues hold, so the
// channel is only closed once no sender can touch it.
func (w *writer) close() error {
	w.closeMu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.closeMu.Unlock()
	<-w.done
	if w.degraded.Load() {
		return fmt.Errorf("stream %s: %w (%d records dropped)", w.id, ErrDegraded, w.dropped.Load())
	}
	return nil
}

func (w *writer) run() {
	defer close(w.done)

	var batch []domain.Record
	timer := time.NewTimer(w.opts.FlushInterval)
	if !timer.Stop() {
		<-timer.C
	}
	timerArmed := false

	disarm := func() {
		if timerArmed && !timer.Stop() {
			<-timer.C
		}
		timerArmed = false
	}
	flush := func() {
		disarm()
		if len(batch) > 0 {
			w.flushBatch(batch)
			batch = nil
		}
	}

	for {
		if len(batch) == 0 {
			rec, ok := <-w.queue
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			timer.Reset(w.opts.FlushInterval)
			timerArmed = true
			if len(batch) >= w.opts.BatchSize {
				flush()
			}
			continue
		}

		select {
		case rec, ok := <-w.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.opts.BatchSize {
				flush()
			}
		case <-timer.C:
			timerArmed = false
			if len(batch) > 0 {
				w.flushBatch(batch)
				batch = nil
			}
		}
	}
}

// flushBatch appends the batch to the stream's file(s), retrying with
// exponential backoff. Exhausting the retry budget degrades this stream
// only; the process keeps running.
func (w *writer) flushBatch(batch []domain.Record) {
	if w.degraded.Load() {
		w.dropped.Add(int64(len(batch)))
		return
	}

	var lastErr error
	for attempt := 0; attempt <= w.opts.MaxWriteRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(writeRetryBaseDelay << (attempt - 1))
		}
		if lastErr = w.writeFiles(batch); lastErr == nil {
			return
		}
		w.log.WarnObj("stream flush failed", "flush_error", map[string]any{
			"stream":  w.id.String(),
			"attempt": attempt + 1,
			"error":   lastErr.Error(),
		})
	}

	w.degraded.Store(true)
	w.dropped.Add(int64(len(batch)))
	w.log.ErrorObj("stream degraded after exhausting write retries", "stream_error", map[string]any{
		"stream": w.id.String(),
		"error":  lastErr.Error(),
	})
}

func (w *writer) writeFiles(batch []domain.Record) error {
	if w.paths.csv != "" {
		if err := w.appendCSV(batch); err != nil {
			return fmt.Errorf("append csv: %w", err)
		}
	}
	if w.paths.json != "" {
		if err := w.appendJSONL(batch); err != nil {
			return fmt.Errorf("append jsonl: %w", err)
		}
	}
	return nil
}

func (w *writer) appendCSV(batch []domain.Record) error {
	columns := domain.Columns(w.id.Kind)
	writeHeader, err := w.prepareCSVHeader(columns)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(w.paths.csv), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(w.paths.csv, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	cw := csv.NewWriter(file)
	if writeHeader {
		if err := cw.Write(columns); err != nil {
			return err
		}
	}
	for _, rec := range batch {
		if err := cw.Write(rec.CSVRow()); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return file.Sync()
}

// prepareCSVHeader checks the existing header once per run. A schema change
// backs up the old file and starts a fresh one, so appended rows always
// match the header.
func (w *writer) prepareCSVHeader(columns []string) (bool, error) {
	if w.csvHeaderChecked {
		if _, err := os.Stat(w.paths.csv); os.IsNotExist(err) {
			return true, nil
		}
		return false, nil
	}
	w.csvHeaderChecked = true

	file, err := os.Open(w.paths.csv)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	header, readErr := csv.NewReader(file).Read()
	file.Close()
	if readErr != nil || !equalColumns(header, columns) {
		backup := fmt.Sprintf("%s.legacy_%s", w.paths.csv, time.Now().Format("20060102_150405"))
		if err := os.Rename(w.paths.csv, backup); err != nil {
			return false, err
		}
		w.log.WarnObj("csv schema changed; previous file backed up", "csv_backup", map[string]any{
			"stream": w.id.String(),
			"backup": backup,
		})
		return true, nil
	}
	return false, nil
}

func (w *writer) appendJSONL(batch []domain.Record) error {
	if err := os.MkdirAll(filepath.Dir(w.paths.json), 0o755); err != nil {
		return err
	}

	var buf []byte
	for _, rec := range batch {
		line, err := json.Marshal(rec.JSONRow())
		if err != nil {
			return err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	file, err := os.OpenFile(w.paths.json, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(buf); err != nil {
		return err
	}
	return file.Sync()
}

func equalColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
