package producers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mirrorlake/weibo-harvester/internal/domain"
)

// Package producers contains the pluggable target registry (YAML/JSON) and
// the producer implementations that turn targets into records.

// Target is one configured collection target: a keyword to search, a post
// URL to expand, or a user to profile.
type Target struct {
	ID          string         `json:"id" yaml:"id"`
	Mode        string         `json:"mode" yaml:"mode"`
	Value       string         `json:"value" yaml:"value"`
	Producer    string         `json:"producer" yaml:"producer"`
	PageDelayMs int            `json:"page_delay_ms" yaml:"page_delay_ms"`
	Config      map[string]any `json:"config" yaml:"config"`
}

type registry struct {
	Targets []Target `json:"targets" yaml:"targets"`
}

var (
	regMu              sync.RWMutex
	currentReg         registry
	targetsIdx         map[string]Target
	defaultPageDelayMs = 800
)

// SourceMode maps the target's declared mode onto the canonical set.
func (t Target) SourceMode() domain.SourceMode { return domain.NormalizeMode(t.Mode) }

// PageDelay returns the per-page pacing floor for the target.
func (t Target) PageDelay() time.Duration {
	if t.PageDelayMs <= 0 {
		return time.Duration(defaultPageDelayMs) * time.Millisecond
	}
	return time.Duration(t.PageDelayMs) * time.Millisecond
}

// Targets returns a copy of the currently loaded target registry.
func Targets() []Target {
	regMu.RLock()
	defer regMu.RUnlock()

	if len(currentReg.Targets) == 0 {
		return nil
	}

	out := make([]Target, len(currentReg.Targets))
	copy(out, currentReg.Targets)
	return out
}

// TargetByID returns the target entry for the given id, if loaded.
func TargetByID(id string) (Target, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Target{}, false
	}

	regMu.RLock()
	defer regMu.RUnlock()

	if targetsIdx == nil {
		return Target{}, false
	}

	t, ok := targetsIdx[id]
	return t, ok
}

// LoadTargets loads the target registry from file.
func LoadTargets(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("targets file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open targets file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read targets file: %w", err)
	}

	reg, err := parseRegistry(raw, filepath.Ext(path))
	if err != nil {
		return err
	}

	if len(reg.Targets) == 0 {
		return errors.New("targets file contains no targets entries")
	}

	idx := make(map[string]Target, len(reg.Targets))
	for i := range reg.Targets {
		t := sanitizeTarget(reg.Targets[i])
		if err := validateTarget(t); err != nil {
			return fmt.Errorf("target[%d]: %w", i, err)
		}
		if _, exists := idx[t.ID]; exists {
			return fmt.Errorf("duplicate target id %q", t.ID)
		}
		reg.Targets[i] = t
		idx[t.ID] = t
	}

	regMu.Lock()
	currentReg = reg
	targetsIdx = idx
	regMu.Unlock()

	return nil
}

func parseRegistry(data []byte, ext string) (registry, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		if reg, err := unmarshalRegistry(d.name, data, d.fn); err == nil {
			return reg, nil
		}
	}

	return registry{}, errors.New("targets file format not recognized (expected YAML or JSON)")
}

type unmarshalFn func([]byte, any) error

func unmarshalRegistry(name string, data []byte, fn unmarshalFn) (registry, error) {
	var reg registry
	if err := fn(data, &reg); err != nil {
		return registry{}, fmt.Errorf("decode %s targets: %w", name, err)
	}
	return reg, nil
}

func sanitizeTarget(t Target) Target {
	t.ID = strings.TrimSpace(t.ID)
	t.Mode = strings.TrimSpace(t.Mode)
	t.Value = strings.TrimSpace(t.Value)
	t.Producer = strings.TrimSpace(t.Producer)

	if t.Config == nil {
		t.Config = map[string]any{}
	}
	if t.PageDelayMs <= 0 {
		t.PageDelayMs = defaultPageDelayMs
	}

	return t
}

func validateTarget(t Target) error {
	if t.ID == "" {
		return errors.New("id is required")
	}
	if t.Mode == "" {
		return fmt.Errorf("mode is required for target %q", t.ID)
	}
	if t.Value == "" {
		return fmt.Errorf("value is required for target %q", t.ID)
	}
	if t.Producer == "" {
		return fmt.Errorf("producer is required for target %q", t.ID)
	}
	return nil
}
