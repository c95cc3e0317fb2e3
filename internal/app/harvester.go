package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirrorlake/weibo-harvester/internal/config"
	"github.com/mirrorlake/weibo-harvester/internal/dedup"
	"github.com/mirrorlake/weibo-harvester/internal/domain"
	"github.com/mirrorlake/weibo-harvester/internal/logger"
	"github.com/mirrorlake/weibo-harvester/internal/media"
	"github.com/mirrorlake/weibo-harvester/internal/ratelimit"
	"github.com/mirrorlake/weibo-harvester/internal/storage"
	"github.com/mirrorlake/weibo-harvester/pkg/httpclient"
	"github.com/mirrorlake/weibo-harvester/pkg/producers"
	"github.com/mirrorlake/weibo-harvester/pkg/publishers"
	"github.com/mirrorlake/weibo-harvester/pkg/session"
)

// Run lifecycle states.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateDraining = "draining"
	StateStopped  = "stopped"
)

// Harvester is the ingestion runtime. It rehydrates history, runs one
// governed producer per configured target, routes every accepted record into
// the durable streams and the media pool, and drains everything on stop.
type Harvester struct {
	cfg *config.Config
	log logger.Logger

	gov        *ratelimit.Governor
	idx        *dedup.Index
	streams    *storage.Set
	ledger     storage.DownloadLedger
	downloader *media.Downloader
	fanout     *publishers.Fanout
	session    session.Provider
	registry   producers.ProducerRegistry
	targets    []producers.Target

	state     atomic.Value
	renewGen  atomic.Int64
	renewBusy chan struct{}
	published atomic.Int64
	dropped   atomic.Int64
}

// NewHarvester builds the full pipeline from config.
func NewHarvester(ctx context.Context, cfg *config.Config, log logger.Logger) (*Harvester, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	log = logger.Ensure(log)
	if ctx == nil {
		ctx = context.Background()
	}

	if err := producers.LoadTargets(cfg.TargetsFile); err != nil {
		return nil, fmt.Errorf("load targets registry: %w", err)
	}
	targets := producers.Targets()
	targetIDs := make([]string, 0, len(targets))
	for _, t := range targets {
		targetIDs = append(targetIDs, t.ID)
	}
	log.InfoObj("targets registry loaded", "targets_meta", map[string]any{
		"count": len(targetIDs),
		"ids":   targetIDs,
	})

	sess, err := loadSession(cfg, log)
	if err != nil {
		return nil, err
	}

	fanout, err := buildFanout(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	gov, err := ratelimit.NewGovernor(ratelimit.Limits{
		Keyword:       cfg.KeywordConcurrency,
		PostDetail:    cfg.PostDetailConcurrency,
		Comment:       cfg.CommentConcurrency,
		User:          cfg.UserConcurrency,
		MediaDownload: cfg.MediaDownloadConcurrency,
		Global:        cfg.GlobalConcurrency,
	}, cfg.RequestDelayLow, cfg.RequestDelayHigh)
	if err != nil {
		return nil, fmt.Errorf("build governor: %w", err)
	}

	idx := dedup.NewIndex(dedup.Budgets{
		MaxPostsPerKeyword:    cfg.MaxPostsPerKeyword,
		MaxCommentsPerKeyword: cfg.MaxCommentsPerKeyword,
		MaxCommentsPerPost:    cfg.MaxCommentsPerPost,
	})

	textDir := filepath.Join(cfg.OutputDir, cfg.TextDir)
	streams, err := storage.NewSet(storage.Options{
		TextDir:         textDir,
		WriteCSV:        cfg.WriteCSV(),
		WriteJSON:       cfg.WriteJSON(),
		QueueCapacity:   cfg.QueueCapacity,
		BatchSize:       cfg.BatchSize,
		FlushInterval:   cfg.FlushInterval,
		MaxWriteRetries: cfg.MaxWriteRetries,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init output streams: %w", err)
	}

	ledger, err := storage.NewDownloadLedger(cfg.LedgerType, cfg.LedgerPath, storage.LedgerOptions{
		FailedTTL: cfg.LedgerTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init download ledger: %w", err)
	}
	log.InfoObj("download ledger initialized", "ledger_config", map[string]any{
		"type":               cfg.LedgerType,
		"path":               cfg.LedgerPath,
		"failed_ttl_seconds": int(cfg.LedgerTTL.Seconds()),
	})

	h := &Harvester{
		cfg:       cfg,
		log:       log,
		gov:       gov,
		idx:       idx,
		streams:   streams,
		ledger:    ledger,
		fanout:    fanout,
		session:   sess,
		targets:   targets,
		renewBusy: make(chan struct{}, 1),
	}
	h.state.Store(StateStarting)

	client := newGovernedClient(httpclient.NewRestyClient(cfg.RequestTimeout), gov, sess)
	h.registry = producers.DefaultProducerRegistry(client)

	if cfg.EnableMediaDownload {
		mediaDir := filepath.Join(cfg.OutputDir, cfg.MediaDir)
		h.downloader, err = media.NewDownloader(ctx, media.Options{
			MediaDir:          mediaDir,
			Workers:           cfg.MediaDownloadConcurrency,
			QueueCapacity:     cfg.QueueCapacity,
			MaxAttempts:       cfg.MaxDownloadAttempts,
			AttemptTimeout:    cfg.DownloadTimeout,
			OverwriteExisting: cfg.OverwriteExisting,
		}, httpclient.NewRestyClient(cfg.DownloadTimeout), gov, ledger, sess.Headers, h.persistAndPublish, log)
		if err != nil {
			return nil, fmt.Errorf("init media pool: %w", err)
		}
	}

	return h, nil
}

func loadSession(cfg *config.Config, log logger.Logger) (session.Provider, error) {
	if cfg.CookieFile == "" {
		return session.Static{}, nil
	}
	sess, err := session.NewFileProvider(cfg.CookieFile, cfg.AuthRenewTimeout, log)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.WarnObj("cookie file missing; running unauthenticated", "cookie_file", cfg.CookieFile)
			return session.Static{}, nil
		}
		return nil, fmt.Errorf("load session credential: %w", err)
	}
	return sess, nil
}

func buildFanout(ctx context.Context, cfg *config.Config, log logger.Logger) (*publishers.Fanout, error) {
	cfgs, err := publishers.LoadRegistry(cfg.PublishersFile)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}
	enabled := publishers.Enabled(cfgs)
	pubs, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabled, &publisherLog{log: log})
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}
	summaries := make([]map[string]string, 0, len(enabled))
	for _, c := range enabled {
		summaries = append(summaries, map[string]string{"id": c.ID, "type": c.Type})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(summaries),
		"publishers": summaries,
	})
	return publishers.NewFanout(pubs), nil
}

// State reports the current lifecycle state.
func (h *Harvester) State() string {
	s, _ := h.state.Load().(string)
	return s
}

// Status is a point-in-time snapshot for logs and operators.
type Status struct {
	State           string
	Dedup           dedup.Stats
	DegradedStreams []string
	Published       int64
	Dropped         int64
}

func (h *Harvester) Status() Status {
	degraded := h.streams.Degraded()
	ids := make([]string, 0, len(degraded))
	for _, id := range degraded {
		ids = append(ids, id.String())
	}
	return Status{
		State:           h.State(),
		Dedup:           h.idx.Stats(),
		DegradedStreams: ids,
		Published:       h.published.Load(),
		Dropped:         h.dropped.Load(),
	}
}

// Run executes one full harvest: rehydrate, produce, drain. It returns when
// every target finished or the context was cancelled, after all queues are
// drained.
func (h *Harvester) Run(ctx context.Context) error {
	if h == nil || h.streams == nil {
		return fmt.Errorf("harvester is not initialized")
	}

	start := time.Now()
	if err := h.streams.Rehydrate(h.idx); err != nil {
		return fmt.Errorf("rehydrate history: %w", err)
	}
	stats := h.idx.Stats()
	h.log.InfoObj("history rehydrated", "rehydrate_meta", map[string]any{
		"known_keys": stats.Seen,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})

	h.state.Store(StateRunning)
	h.log.InfoObj("harvest starting", "harvest_meta", map[string]any{
		"targets_count":    len(h.targets),
		"publishers_count": h.fanout.Size(),
		"media_download":   h.downloader != nil,
	})

	group, runCtx := errgroup.WithContext(ctx)
	for _, target := range h.targets {
		group.Go(func() error {
			return h.runTarget(runCtx, target)
		})
	}
	runErr := group.Wait()

	h.state.Store(StateDraining)
	drainErr := h.drain(ctx.Err() != nil)
	h.state.Store(StateStopped)

	h.logSummary(time.Since(start))
	return errors.Join(runErr, drainErr)
}

// drain empties the media pool first (it feeds the streams), then closes the
// streams so every accepted record reaches disk. On cancellation the grace
// window bounds how long the drain may take.
func (h *Harvester) drain(cancelled bool) error {
	var errs []error
	if h.downloader != nil {
		grace := context.Background()
		if cancelled {
			var cancel context.CancelFunc
			grace, cancel = context.WithTimeout(context.Background(), h.cfg.DrainGrace)
			defer cancel()
		}
		if err := h.downloader.Drain(grace); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.streams.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := h.ledger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (h *Harvester) logSummary(elapsed time.Duration) {
	status := h.Status()
	accepted := make(map[string]int, len(status.Dedup.Accepted))
	for kind, n := range status.Dedup.Accepted {
		accepted[string(kind)] = n
	}
	h.log.InfoObj("harvest finished", "harvest_summary", map[string]any{
		"elapsed_ms":       elapsed.Milliseconds(),
		"accepted":         accepted,
		"duplicates":       status.Dedup.Duplicates,
		"budget_limited":   status.Dedup.Limited,
		"published_events": status.Published,
		"dropped_records":  status.Dropped,
		"degraded_streams": status.DegradedStreams,
	})
}

// runTarget drives one producer to completion, re-running it after a
// successful session renewal. Only a failed renewal is fatal to the run.
func (h *Harvester) runTarget(ctx context.Context, target producers.Target) error {
	producer, err := h.registry.ProducerFor(target)
	if err != nil {
		h.log.ErrorObj("target has no producer; skipping", "target_error", map[string]any{
			"target": target.ID,
			"error":  err.Error(),
		})
		return nil
	}

	stage := stageFor(target.SourceMode())
	ctx = ratelimit.WithStage(ctx, stage)
	sink := &pipelineSink{h: h}

	for {
		err := producer.Produce(ctx, target, sink)
		switch {
		case err == nil:
			h.log.InfoObj("target finished", "target_meta", map[string]any{
				"target": target.ID,
				"mode":   string(target.SourceMode()),
			})
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, domain.ErrAuthExpired):
			if renewErr := h.renewSession(ctx); renewErr != nil {
				return fmt.Errorf("target %s: session renewal failed: %w", target.ID, renewErr)
			}
			// Retry the target with the fresh credential; dedup makes the
			// re-run idempotent.
			continue
		default:
			h.log.ErrorObj("target failed", "target_error", map[string]any{
				"target": target.ID,
				"error":  err.Error(),
			})
			return nil
		}
	}
}

// renewSession funnels concurrent auth failures into a single renewal. The
// producer that wins the slot performs it; the rest block until it finishes
// and then proceed with the renewed credential.
func (h *Harvester) renewSession(ctx context.Context) error {
	gen := h.renewGen.Load()
	select {
	case h.renewBusy <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-h.renewBusy }()

	if h.renewGen.Load() != gen {
		return nil
	}
	if err := h.session.Renew(ctx); err != nil {
		return err
	}
	h.renewGen.Add(1)
	return nil
}

func stageFor(mode domain.SourceMode) ratelimit.Stage {
	switch mode {
	case domain.ModeKeyword:
		return ratelimit.StageKeyword
	case domain.ModeUser:
		return ratelimit.StageUser
	default:
		return ratelimit.StagePostDetail
	}
}

// pipelineSink is the producer-facing funnel: dedup + budgets, then durable
// output, the media pool, and the downstream fanout.
type pipelineSink struct {
	h *Harvester
}

func (s *pipelineSink) Emit(ctx context.Context, rec domain.Record) error {
	if rec == nil {
		return nil
	}
	h := s.h

	if !h.idx.Accept(rec) {
		return nil
	}

	if m, ok := rec.(domain.Media); ok && h.downloader != nil {
		// The record reaches durable output with its terminal status, via
		// the downloader's sink.
		return h.downloader.Submit(ctx, m)
	}
	if m, ok := rec.(domain.Media); ok {
		m.Status = domain.StatusSkipped
		rec = m
	}

	return h.persistAndPublish(ctx, rec)
}

// persistAndPublish writes one record to its stream and fans it out. A
// degraded or already-closed stream drops the record but never stops the
// callers; publish failures are logged and absorbed the same way.
func (h *Harvester) persistAndPublish(ctx context.Context, rec domain.Record) error {
	if err := h.streams.Enqueue(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDegraded) || errors.Is(err, storage.ErrClosed) {
			h.dropped.Add(1)
			return nil
		}
		return err
	}

	if h.fanout.Size() > 0 {
		if n, err := h.fanout.Publish(ctx, publishers.NewEvent(rec.Target(), rec)); err != nil {
			h.log.WarnObj("event fanout partially failed", "publish_error", map[string]any{
				"kind":  string(rec.Kind()),
				"key":   rec.DedupKey(),
				"error": err.Error(),
			})
		} else {
			h.published.Add(int64(n))
		}
	}
	return nil
}

// publisherLog adapts the structured logger to the printf-style surface the
// publisher senders expect.
type publisherLog struct {
	log logger.Logger
}

func (p *publisherLog) Infof(format string, args ...any) {
	p.log.InfoObj(fmt.Sprintf(format, args...), "publisher", nil)
}

func (p *publisherLog) Errorf(format string, args ...any) {
	p.log.ErrorObj(fmt.Sprintf(format, args...), "publisher", nil)
}
