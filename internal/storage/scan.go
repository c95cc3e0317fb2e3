package storage

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mirrorlake/weibo-harvester/internal/dedup"
	"github.com/mirrorlake/weibo-harvester/internal/domain"
	"github.com/mirrorlake/weibo-harvester/internal/logger"
)

// scanHistory walks the text output tree and seeds the dedup index from
// every row it can read. Unreadable files are logged and skipped; history
// scanning must never block a run.
func scanHistory(textDir string, idx *dedup.Index, log logger.Logger) error {
	entries, err := os.ReadDir(textDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		mode := domain.NormalizeMode(entry.Name())
		modeDir := filepath.Join(textDir, entry.Name())
		for _, kind := range domain.Kinds() {
			scanJSONL(filepath.Join(modeDir, string(kind)+".jsonl"), mode, kind, idx, log)
			scanCSV(filepath.Join(modeDir, string(kind)+".csv"), mode, kind, idx, log)
		}
	}
	return nil
}

func scanJSONL(path string, mode domain.SourceMode, kind domain.Kind, idx *dedup.Index, log logger.Logger) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		log.WarnObj("history jsonl unreadable", "scan_error", map[string]any{"path": path, "error": err.Error()})
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			continue
		}
		seedRow(idx, mode, kind, jsonField(row))
	}
	if err := scanner.Err(); err != nil {
		log.WarnObj("history jsonl scan aborted", "scan_error", map[string]any{"path": path, "error": err.Error()})
	}
}

func scanCSV(path string, mode domain.SourceMode, kind domain.Kind, idx *dedup.Index, log logger.Logger) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		log.WarnObj("history csv unreadable", "scan_error", map[string]any{"path": path, "error": err.Error()})
		return
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			log.WarnObj("history csv row skipped", "scan_error", map[string]any{"path": path, "error": err.Error()})
			continue
		}
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}
		seedRow(idx, mode, kind, get)
	}
}

func jsonField(row map[string]any) func(string) string {
	return func(name string) string {
		v, ok := row[name]
		if !ok || v == nil {
			return ""
		}
		s, ok := v.(string)
		if !ok {
			return ""
		}
		return s
	}
}

// seedRow rebuilds the dedup key the same way the live record types do, so a
// rehydrated key matches a freshly scraped one exactly.
func seedRow(idx *dedup.Index, mode domain.SourceMode, kind domain.Kind, get func(string) string) {
	target := get("source_target")
	switch kind {
	case domain.KindPost:
		rec := domain.Post{
			PostID:  get("post_id"),
			UID:     get("uid"),
			Content: get("content"),
		}
		if rec.PostID == "" && rec.Content == "" {
			return
		}
		idx.Seed(mode, kind, rec.DedupKey(), target, rec.PostID)
	case domain.KindComment:
		rec := domain.Comment{
			PostID:      get("post_id"),
			Commenter:   get("commenter"),
			Content:     get("content"),
			CommentedAt: get("commented_at"),
		}
		if rec.Commenter == "" && rec.Content == "" {
			return
		}
		idx.Seed(mode, kind, rec.DedupKey(), target, rec.PostID)
	case domain.KindMedia:
		rec := domain.Media{
			PostID:    get("post_id"),
			MediaType: get("media_type"),
			MediaURL:  get("media_url"),
		}
		if rec.MediaURL == "" {
			return
		}
		idx.Seed(mode, kind, rec.DedupKey(), target, rec.PostID)
	case domain.KindProfile:
		uid := get("uid")
		if uid == "" {
			return
		}
		idx.Seed(mode, kind, uid, target, "")
	}
}
