package media

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirrorlake/weibo-harvester/internal/domain"
	"github.com/mirrorlake/weibo-harvester/internal/logger"
	"github.com/mirrorlake/weibo-harvester/internal/ratelimit"
	"github.com/mirrorlake/weibo-harvester/internal/storage"
	"github.com/mirrorlake/weibo-harvester/pkg/httpclient"
)

const downloadRetryBaseDelay = 500 * time.Millisecond

// Options tunes the download pool.
type Options struct {
	MediaDir      string
	Workers       int
	QueueCapacity int
	// MaxAttempts bounds retries of transient failures per job.
	MaxAttempts    int
	AttemptTimeout time.Duration
	// OverwriteExisting refetches files that are already on disk or recorded
	// as succeeded in the ledger.
	OverwriteExisting bool
}

// Sink receives each job's record after its terminal status and local path
// are filled in.
type Sink func(ctx context.Context, rec domain.Record) error

// HeaderSource supplies request headers for media fetches, typically the
// current session credential.
type HeaderSource func() map[string]string

// Downloader runs the media fetch pool. Jobs enter through Submit, each is
// fetched at most MaxAttempts times, and every job leaves exactly one
// terminal status through the sink.
type Downloader struct {
	opts    Options
	client  httpclient.Downloader
	gov     *ratelimit.Governor
	ledger  storage.DownloadLedger
	headers HeaderSource
	sink    Sink
	log     logger.Logger

	jobs  chan domain.Media
	group *errgroup.Group

	mu       sync.Mutex
	ordinals map[string]int

	closeOnce sync.Once
}

// NewDownloader builds the pool and starts its workers.
func NewDownloader(ctx context.Context, opts Options, client httpclient.Downloader,
	gov *ratelimit.Governor, ledger storage.DownloadLedger, headers HeaderSource,
	sink Sink, log logger.Logger) (*Downloader, error) {

	if opts.MediaDir == "" {
		return nil, errors.New("media directory is required")
	}
	if opts.Workers <= 0 || opts.QueueCapacity <= 0 || opts.MaxAttempts <= 0 {
		return nil, fmt.Errorf("invalid downloader tuning: workers=%d capacity=%d attempts=%d",
			opts.Workers, opts.QueueCapacity, opts.MaxAttempts)
	}
	if headers == nil {
		headers = func() map[string]string { return nil }
	}

	d := &Downloader{
		opts:     opts,
		client:   client,
		gov:      gov,
		ledger:   ledger,
		headers:  headers,
		sink:     sink,
		log:      logger.Ensure(log),
		jobs:     make(chan domain.Media, opts.QueueCapacity),
		ordinals: make(map[string]int),
	}

	group, ctx := errgroup.WithContext(ctx)
	d.group = group
	for i := 0; i < opts.Workers; i++ {
		group.Go(func() error {
			d.worker(ctx)
			return nil
		})
	}
	return d, nil
}

// Submit queues one media job. It blocks when the queue is full.
func (d *Downloader) Submit(ctx context.Context, m domain.Media) error {
	select {
	case d.jobs <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain stops accepting jobs and waits for in-flight and queued work to
// finish. The context bounds the wait; on expiry remaining jobs are
// abandoned and an error is returned.
func (d *Downloader) Drain(ctx context.Context) error {
	d.closeOnce.Do(func() { close(d.jobs) })

	done := make(chan struct{})
	go func() {
		d.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("media pool drain: %w", ctx.Err())
	}
}

func (d *Downloader) worker(ctx context.Context) {
	for m := range d.jobs {
		d.process(ctx, m)
	}
}

// process runs one job to its terminal status and hands the back-filled
// record to the sink.
func (d *Downloader) process(ctx context.Context, m domain.Media) {
	dest := d.localPath(m)
	m.LocalPath = dest
	m.Status = d.resolve(ctx, m, dest)

	if d.sink == nil {
		return
	}
	if err := d.sink(ctx, m); err != nil {
		d.log.WarnObj("media record dropped by sink", "media_sink", map[string]any{
			"url":   m.MediaURL,
			"error": err.Error(),
		})
	}
}

func (d *Downloader) resolve(ctx context.Context, m domain.Media, dest string) string {
	if ctx.Err() != nil {
		return domain.StatusSkipped
	}

	key := m.DedupKey()
	if !d.opts.OverwriteExisting {
		if ok, err := d.ledger.Succeeded(key); err != nil {
			d.log.WarnObj("download ledger lookup failed", "ledger_error", map[string]any{
				"url":   m.MediaURL,
				"error": err.Error(),
			})
		} else if ok {
			return domain.StatusExists
		}
		if _, err := os.Stat(dest); err == nil {
			if err := d.ledger.MarkSuccess(key); err != nil {
				d.log.WarnObj("download ledger write failed", "ledger_error", map[string]any{
					"url":   m.MediaURL,
					"error": err.Error(),
				})
			}
			return domain.StatusExists
		}
	}

	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := downloadRetryBaseDelay << (attempt - 2)
			select {
			case <-time.After(delay + ratelimit.Jitter(0, delay)):
			case <-ctx.Done():
				return domain.StatusSkipped
			}
		}

		lastErr = d.fetch(ctx, m, dest)
		if lastErr == nil {
			if err := d.ledger.MarkSuccess(key); err != nil {
				d.log.WarnObj("download ledger write failed", "ledger_error", map[string]any{
					"url":   m.MediaURL,
					"error": err.Error(),
				})
			}
			return domain.StatusSuccess
		}
		if ctx.Err() != nil {
			return domain.StatusSkipped
		}
		if !retryable(lastErr) {
			break
		}
		d.log.DebugObj("media fetch retrying", "media_retry", map[string]any{
			"url":     m.MediaURL,
			"attempt": attempt,
			"error":   lastErr.Error(),
		})
	}

	if err := d.ledger.MarkFailure(key); err != nil {
		d.log.WarnObj("download ledger write failed", "ledger_error", map[string]any{
			"url":   m.MediaURL,
			"error": err.Error(),
		})
	}
	d.log.WarnObj("media fetch failed", "media_error", map[string]any{
		"url":   m.MediaURL,
		"error": lastErr.Error(),
	})
	return domain.StatusFailed
}

// fetch performs one governed attempt: stage permit, bounded deadline,
// temp-file write, atomic rename.
func (d *Downloader) fetch(ctx context.Context, m domain.Media, dest string) error {
	permit, err := d.gov.Acquire(ctx, ratelimit.StageMediaDownload)
	if err != nil {
		return err
	}
	defer d.gov.Release(ctx, permit)

	attemptCtx := ctx
	if d.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.opts.AttemptTimeout)
		defer cancel()
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".part"
	if _, err := d.client.Download(attemptCtx, m.MediaURL, d.headers(), tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// localPath builds the deterministic destination for a job. The ordinal is
// per post and media type; the hash suffix keeps distinct URLs from
// colliding even when ordinals restart across runs.
func (d *Downloader) localPath(m domain.Media) string {
	author := domain.SanitizePathSegment(m.Author)
	post := domain.SanitizePathSegment(m.PostID)
	normalized := domain.NormalizeMediaURL(m.MediaURL)

	sum := sha1.Sum([]byte(normalized))
	hash := hex.EncodeToString(sum[:])[:12]

	name := fmt.Sprintf("%s_%02d_%s%s",
		m.MediaType, d.nextOrdinal(post, m.MediaType), hash, extensionFor(m))
	return filepath.Join(d.opts.MediaDir, string(m.Mode()), author, post, name)
}

func (d *Downloader) nextOrdinal(post, mediaType string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := post + "/" + mediaType
	d.ordinals[k]++
	return d.ordinals[k]
}

func extensionFor(m domain.Media) string {
	if u, err := url.Parse(m.MediaURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	if m.MediaType == "video" {
		return ".mp4"
	}
	return ".jpg"
}

// retryable separates transient fetch failures from permanent ones, so a
// 404 fails fast while a 503 or a timeout burns attempts.
func retryable(err error) bool {
	var status *httpclient.StatusError
	if errors.As(err, &status) {
		return status.Retryable()
	}
	return domain.IsTransient(err)
}
