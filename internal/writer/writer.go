// Package writer merges records with their search terms and persists one JSON array per
// source.
package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

const contentType = "application/json"

// Merge pairs records[i] with tasks[i].SearchTerm. The lists must be the same length.
func Merge(tasks []voyage.SearchTask, records []*voyage.Record) ([]voyage.Entry, error) {
	if len(tasks) != len(records) {
		return nil, fmt.Errorf("merge: %d tasks but %d records", len(tasks), len(records))
	}
	entries := make([]voyage.Entry, len(tasks))
	for i, task := range tasks {
		entries[i] = voyage.Entry{SearchText: task.SearchTerm, Record: records[i]}
	}
	return entries, nil
}

// Notification announces a finished run.
type Notification struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`
	URI    string `json:"uri"`
	Total  int    `json:"total"`
	Found  int    `json:"found"`
	// Digest identifies the written file content, empty without a hasher.
	Digest string `json:"sha256,omitempty"`
}

// Attributes lets subscribers filter on source without decoding the body.
func (n Notification) Attributes() map[string]string {
	return map[string]string{"source": n.Source, "run_id": n.RunID}
}

// Writer persists merged entries.
type Writer struct {
	store     voyage.BlobStore
	publisher voyage.Publisher
	hasher    voyage.Hasher
	prefix    string
	logger    *zap.Logger
}

// New builds a Writer. publisher and hasher may be nil.
func New(store voyage.BlobStore, publisher voyage.Publisher, hasher voyage.Hasher, prefix string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		store:     store,
		publisher: publisher,
		hasher:    hasher,
		prefix:    strings.Trim(prefix, "/"),
		logger:    logger,
	}
}

// Path returns the object path results for source are written to.
func (w *Writer) Path(source voyage.Source) string {
	return path.Join(w.prefix, string(source)+".json")
}

// Write replaces the source's result file with entries and returns its URI. A failed
// notification is logged, not returned: the results are already durable.
func (w *Writer) Write(ctx context.Context, runID string, source voyage.Source, entries []voyage.Entry) (string, error) {
	if entries == nil {
		entries = []voyage.Entry{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entries); err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	var digest string
	if w.hasher != nil {
		sum, err := w.hasher.Hash(buf.Bytes())
		if err != nil {
			return "", fmt.Errorf("hash results: %w", err)
		}
		digest = sum
	}
	uri, err := w.store.PutObject(ctx, w.Path(source), contentType, &buf)
	if err != nil {
		return "", fmt.Errorf("store results: %w", err)
	}

	found := 0
	for _, e := range entries {
		if !e.Failed() {
			found++
		}
	}
	w.logger.Info("results written",
		zap.String("run_id", runID),
		zap.String("source", string(source)),
		zap.String("uri", uri),
		zap.Int("total", len(entries)),
		zap.Int("found", found),
	)

	if w.publisher != nil {
		note := Notification{RunID: runID, Source: string(source), URI: uri, Total: len(entries), Found: found, Digest: digest}
		if id, err := w.publisher.Publish(ctx, note); err != nil {
			w.logger.Error("publish run notification", zap.String("run_id", runID), zap.Error(err))
		} else {
			w.logger.Debug("published run notification", zap.String("message_id", id))
		}
	}
	return uri, nil
}
