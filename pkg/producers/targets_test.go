package producers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mirrorlake/weibo-harvester/internal/domain"
)

func writeTargetsFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write targets file: %v", err)
	}
	return path
}

func TestLoadTargetsYAML(t *testing.T) {
	path := writeTargetsFile(t, "targets.yaml", `
targets:
  - id: go-keyword
    mode: keyword
    value: golang
    producer: static
    config:
      path: ./replay.jsonl
  - id: some-post
    mode: url
    value: https://example.com/status/123
    producer: page
    page_delay_ms: 1200
`)
	if err := LoadTargets(path); err != nil {
		t.Fatalf("LoadTargets: %v", err)
	}

	targets := Targets()
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}

	kw, ok := TargetByID("go-keyword")
	if !ok {
		t.Fatal("go-keyword target missing")
	}
	if kw.SourceMode() != domain.ModeKeyword {
		t.Fatalf("expected keyword mode, got %s", kw.SourceMode())
	}
	if ConfigString(kw, "path", "") != "./replay.jsonl" {
		t.Fatalf("config path lost: %+v", kw.Config)
	}

	post, _ := TargetByID("some-post")
	if post.SourceMode() != domain.ModePostURL {
		t.Fatalf("url alias should normalize to post_url, got %s", post.SourceMode())
	}
	if post.PageDelay().Milliseconds() != 1200 {
		t.Fatalf("page delay lost: %s", post.PageDelay())
	}
}

func TestLoadTargetsRejectsDuplicateIDs(t *testing.T) {
	path := writeTargetsFile(t, "targets.yaml", `
targets:
  - {id: dup, mode: keyword, value: a, producer: static}
  - {id: dup, mode: keyword, value: b, producer: static}
`)
	err := LoadTargets(path)
	if err == nil || !strings.Contains(err.Error(), "duplicate target id") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestLoadTargetsRejectsMissingFields(t *testing.T) {
	path := writeTargetsFile(t, "targets.yaml", `
targets:
  - {id: broken, mode: keyword, producer: static}
`)
	err := LoadTargets(path)
	if err == nil || !strings.Contains(err.Error(), "value is required") {
		t.Fatalf("expected missing value error, got %v", err)
	}
}

func TestProducerRegistryResolvesByNameAndID(t *testing.T) {
	reg := DefaultProducerRegistry(nil)

	p, err := reg.ProducerFor(Target{ID: "x", Producer: "static"})
	if err != nil || p.ID() != ProducerStatic {
		t.Fatalf("expected static producer, got %v err=%v", p, err)
	}
	p, err = reg.ProducerFor(Target{ID: "x", Producer: "PAGE"})
	if err != nil || p.ID() != ProducerPage {
		t.Fatalf("producer lookup should be case-insensitive, got %v err=%v", p, err)
	}
	if _, err := reg.ProducerFor(Target{ID: "x", Producer: "nope"}); err == nil {
		t.Fatal("expected error for unknown producer")
	}
}
