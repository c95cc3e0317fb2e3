package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	downloadBucket  = "downloads"
	ledgerValueSize = 9 // 1 status byte + 8 bytes big-endian unix time
)

const (
	ledgerStatusSuccess byte = 1
	ledgerStatusFailed  byte = 2
)

// boltLedger implements DownloadLedger backed by BoltDB.
type boltLedger struct {
	db              *bolt.DB
	cleanupMu       sync.Mutex
	lastCleanup     atomic.Int64
	failedTTL       time.Duration
	cleanupInterval time.Duration
}

func openBoltLedger(path string, opts LedgerOptions) (DownloadLedger, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt ledger: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(downloadBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger bucket: %w", err)
	}

	ledger := &boltLedger{
		db:              db,
		failedTTL:       opts.FailedTTL,
		cleanupInterval: opts.CleanupInterval,
	}
	ledger.lastCleanup.Store(time.Now().Unix())
	return ledger, nil
}

func (b *boltLedger) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Succeeded reports whether the key has a recorded success. Failure entries
// never satisfy it: failed jobs are always retried on a fresh run.
func (b *boltLedger) Succeeded(key string) (bool, error) {
	if b == nil || b.db == nil || key == "" {
		return false, nil
	}

	if err := b.maybeCleanup(time.Now()); err != nil {
		return false, err
	}

	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(downloadBucket))
		if bucket == nil {
			return fmt.Errorf("download bucket missing")
		}
		status, _, valid := decodeLedgerValue(bucket.Get([]byte(key)))
		ok = valid && status == ledgerStatusSuccess
		return nil
	})
	return ok, err
}

func (b *boltLedger) MarkSuccess(key string) error {
	return b.mark(key, ledgerStatusSuccess)
}

func (b *boltLedger) MarkFailure(key string) error {
	return b.mark(key, ledgerStatusFailed)
}

func (b *boltLedger) mark(key string, status byte) error {
	if b == nil || b.db == nil || key == "" {
		return nil
	}

	now := time.Now()
	if err := b.maybeCleanup(now); err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(downloadBucket))
		if bucket == nil {
			return fmt.Errorf("download bucket missing")
		}
		return bucket.Put([]byte(key), encodeLedgerValue(status, now))
	})
}

// maybeCleanup ages out stale failure entries on a fixed cadence so the
// ledger does not grow unbounded across many failed runs.
func (b *boltLedger) maybeCleanup(now time.Time) error {
	last := time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	b.cleanupMu.Lock()
	defer b.cleanupMu.Unlock()

	last = time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(downloadBucket))
		if bucket == nil {
			return fmt.Errorf("download bucket missing")
		}

		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			status, at, valid := decodeLedgerValue(v)
			if !valid {
				if err := cursor.Delete(); err != nil {
					return err
				}
				continue
			}
			if status == ledgerStatusFailed && now.Sub(at) > b.failedTTL {
				if err := cursor.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err == nil {
		b.lastCleanup.Store(now.Unix())
	}
	return err
}

func encodeLedgerValue(status byte, at time.Time) []byte {
	buf := make([]byte, ledgerValueSize)
	buf[0] = status
	binary.BigEndian.PutUint64(buf[1:], uint64(at.Unix()))
	return buf
}

func decodeLedgerValue(value []byte) (byte, time.Time, bool) {
	if len(value) != ledgerValueSize {
		return 0, time.Time{}, false
	}
	unix := int64(binary.BigEndian.Uint64(value[1:]))
	if unix <= 0 {
		return 0, time.Time{}, false
	}
	return value[0], time.Unix(unix, 0), true
}
