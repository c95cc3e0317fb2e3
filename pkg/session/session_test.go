package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mirrorlake/weibo-harvester/internal/logger"
)

func writeCredential(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write credential: %v", err)
	}
}

func TestFileProviderLoadsHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookie.json")
	writeCredential(t, path, `{"cookie":"SUB=abc","user_agent":"ua/1.0","headers":{"X-Extra":"1"}}`)

	p, err := NewFileProvider(path, time.Minute, logger.NopLogger{})
	if err != nil {
		t.Fatalf("NewFileProvider: %v", err)
	}

	headers := p.Headers()
	if headers["Cookie"] != "SUB=abc" || headers["User-Agent"] != "ua/1.0" || headers["X-Extra"] != "1" {
		t.Fatalf("unexpected headers: %v", headers)
	}

	// Caller mutations must not leak back into the provider.
	headers["Cookie"] = "tampered"
	if p.Headers()["Cookie"] != "SUB=abc" {
		t.Fatal("Headers must return a copy")
	}
}

func TestFileProviderRejectsEmptyCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookie.json")
	writeCredential(t, path, `{}`)
	if _, err := NewFileProvider(path, time.Minute, logger.NopLogger{}); err == nil {
		t.Fatal("expected error for credential without headers")
	}
}

func TestFileProviderRenewPicksUpRefreshedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookie.json")
	writeCredential(t, path, `{"cookie":"SUB=old"}`)

	p, err := NewFileProvider(path, 10*time.Second, logger.NopLogger{})
	if err != nil {
		t.Fatalf("NewFileProvider: %v", err)
	}
	p.pollInterval = 20 * time.Millisecond

	go func() {
		time.Sleep(80 * time.Millisecond)
		writeCredential(t, path, `{"cookie":"SUB=new"}`)
		// Some filesystems have coarse mtime granularity.
		future := time.Now().Add(2 * time.Second)
		os.Chtimes(path, future, future)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Renew(ctx); err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if p.Headers()["Cookie"] != "SUB=new" {
		t.Fatalf("renewed cookie not loaded: %v", p.Headers())
	}
}

func TestFileProviderRenewTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookie.json")
	writeCredential(t, path, `{"cookie":"SUB=old"}`)

	p, err := NewFileProvider(path, 50*time.Millisecond, logger.NopLogger{})
	if err != nil {
		t.Fatalf("NewFileProvider: %v", err)
	}
	p.pollInterval = 10 * time.Millisecond

	if err := p.Renew(context.Background()); err == nil {
		t.Fatal("expected renewal timeout")
	}
}
