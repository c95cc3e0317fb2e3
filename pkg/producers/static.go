package producers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mirrorlake/weibo-harvester/internal/domain"
)

// staticProducer replays records from a JSONL export. It backs offline runs
// and pipelines where a separate process does the site-specific extraction
// and drops its output as files.
type staticProducer struct{}

func NewStaticProducer() Producer {
	return &staticProducer{}
}

func (p *staticProducer) ID() string { return ProducerStatic }

// Produce reads the file named by the target's "path" config entry. Each
// line is one JSON object carrying a "kind" field plus the record fields.
func (p *staticProducer) Produce(ctx context.Context, target Target, sink Sink) error {
	path := ConfigString(target, "path", "")
	if path == "" {
		return fmt.Errorf("target %q: static producer requires a path config entry", target.ID)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("target %q: open replay file: %w", target.ID, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		rec, err := decodeLine([]byte(line), target)
		if err != nil {
			return fmt.Errorf("target %q line %d: %w", target.ID, lineNo, err)
		}
		if rec == nil {
			continue
		}
		if err := sink.Emit(ctx, rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("target %q: scan replay file: %w", target.ID, err)
	}
	return nil
}

// decodeLine picks the record type by the line's kind tag and stamps the
// target's mode and value where the export left them empty.
func decodeLine(line []byte, target Target) (domain.Record, error) {
	var tag struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(line, &tag); err != nil {
		return nil, fmt.Errorf("decode kind tag: %w", err)
	}

	switch domain.Kind(tag.Kind) {
	case domain.KindPost:
		var rec domain.Post
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		stampSource(&rec.SourceMode, &rec.SourceTarget, target)
		return rec, nil
	case domain.KindComment:
		var rec domain.Comment
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		stampSource(&rec.SourceMode, &rec.SourceTarget, target)
		return rec, nil
	case domain.KindMedia:
		var rec domain.Media
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		stampSource(&rec.SourceMode, &rec.SourceTarget, target)
		return rec, nil
	case domain.KindProfile:
		var rec domain.Profile
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		if rec.SourceTarget == "" {
			rec.SourceTarget = target.Value
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("unknown record kind %q", tag.Kind)
	}
}

func stampSource(mode *domain.SourceMode, tgt *string, target Target) {
	if *mode == "" {
		*mode = target.SourceMode()
	}
	if *tgt == "" {
		*tgt = target.Value
	}
}
