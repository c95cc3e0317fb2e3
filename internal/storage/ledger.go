package storage

import (
	"fmt"
	"strings"
	"time"
)

// DownloadLedger records the terminal outcome of media download jobs across
// runs. Succeeded keys are permanent: a later run never refetches them unless
// overwrite is forced. Failed keys expire after a TTL so they are retried on
// a fresh run.
type DownloadLedger interface {
	Close() error
	// Succeeded reports whether the key has a recorded successful download.
	Succeeded(key string) (bool, error)
	MarkSuccess(key string) error
	MarkFailure(key string) error
}

// LedgerOptions controls retention for concrete ledger implementations.
type LedgerOptions struct {
	// FailedTTL bounds how long failure entries are retained; failures never
	// suppress retries, the TTL only keeps the ledger file from growing
	// unbounded.
	FailedTTL       time.Duration
	CleanupInterval time.Duration
}

const (
	defaultFailedTTL       = 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
)

// NewDownloadLedger creates the configured ledger backend.
func NewDownloadLedger(typ, path string, opts LedgerOptions) (DownloadLedger, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	if opts.FailedTTL <= 0 {
		opts.FailedTTL = defaultFailedTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}

	switch typ {
	case "", "none", "disabled":
		return noopLedger{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt ledger requires a path")
		}
		return openBoltLedger(path, opts)
	default:
		return nil, fmt.Errorf("unsupported ledger type %q", typ)
	}
}

type noopLedger struct{}

func (noopLedger) Close() error                   { return nil }
func (noopLedger) Succeeded(string) (bool, error) { return false, nil }
func (noopLedger) MarkSuccess(string) error       { return nil }
func (noopLedger) MarkFailure(string) error       { return nil }
