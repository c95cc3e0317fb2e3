// Package session supplies the opaque credential attached to harvest
// requests and handles its renewal when the remote side rejects it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mirrorlake/weibo-harvester/internal/logger"
)

// Provider hands out the current credential as request headers and blocks in
// Renew until a fresh credential is available.
type Provider interface {
	Headers() map[string]string
	Renew(ctx context.Context) error
}

// credentialFile is the on-disk shape. The cookie is treated as an opaque
// string; nothing in the pipeline inspects it.
type credentialFile struct {
	Cookie    string            `json:"cookie"`
	UserAgent string            `json:"user_agent"`
	Headers   map[string]string `json:"headers"`
}

func (c credentialFile) headerMap() map[string]string {
	headers := make(map[string]string, len(c.Headers)+2)
	for k, v := range c.Headers {
		if k = strings.TrimSpace(k); k != "" {
			headers[k] = v
		}
	}
	if c.Cookie != "" {
		headers["Cookie"] = c.Cookie
	}
	if c.UserAgent != "" {
		headers["User-Agent"] = c.UserAgent
	}
	return headers
}

// FileProvider reads the credential from a JSON file maintained by the
// operator. Renewal waits for that file to be replaced with new content, so
// a human can refresh the session without restarting the run.
type FileProvider struct {
	path         string
	renewTimeout time.Duration
	pollInterval time.Duration
	log          logger.Logger

	mu      sync.RWMutex
	headers map[string]string
	modTime time.Time
}

// NewFileProvider loads the credential file once and fails fast when it is
// missing or malformed.
func NewFileProvider(path string, renewTimeout time.Duration, log logger.Logger) (*FileProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("credential file path is empty")
	}
	p := &FileProvider{
		path:         path,
		renewTimeout: renewTimeout,
		pollInterval: 2 * time.Second,
		log:          logger.Ensure(log),
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Headers returns a copy of the current credential headers.
func (p *FileProvider) Headers() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]string, len(p.headers))
	for k, v := range p.headers {
		out[k] = v
	}
	return out
}

// Renew blocks until the credential file changes on disk and parses, or the
// renewal window closes. A closed window is a fatal condition for the run.
func (p *FileProvider) Renew(ctx context.Context) error {
	p.mu.RLock()
	staleModTime := p.modTime
	p.mu.RUnlock()

	p.log.WarnObj("session credential rejected; waiting for operator refresh", "session_renew", map[string]any{
		"path":    p.path,
		"timeout": p.renewTimeout.String(),
	})

	deadline := time.Now().Add(p.renewTimeout)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		info, err := os.Stat(p.path)
		if err == nil && info.ModTime().After(staleModTime) {
			if err := p.reload(); err != nil {
				p.log.WarnObj("refreshed credential file is unreadable", "session_renew", map[string]any{
					"path":  p.path,
					"error": err.Error(),
				})
			} else {
				p.log.InfoObj("session credential renewed", "session_renew", map[string]any{"path": p.path})
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("session renewal window of %s elapsed", p.renewTimeout)
		}
	}
}

func (p *FileProvider) reload() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read credential file: %w", err)
	}

	var cred credentialFile
	if err := json.Unmarshal(raw, &cred); err != nil {
		return fmt.Errorf("decode credential file: %w", err)
	}
	headers := cred.headerMap()
	if len(headers) == 0 {
		return errors.New("credential file carries no usable headers")
	}

	info, err := os.Stat(p.path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.headers = headers
	p.modTime = info.ModTime()
	p.mu.Unlock()
	return nil
}

// Static wraps a fixed header map, mainly for tests and unauthenticated runs.
type Static map[string]string

func (s Static) Headers() map[string]string {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func (s Static) Renew(context.Context) error {
	return errors.New("static credential cannot be renewed")
}
