package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"ragserver/types"
)

// record pairs a document with its own lock so pipelines working on
// different documents never contend on each other's updates.
type record struct {
	mu  sync.Mutex
	doc types.Document
}

func (rec *record) snapshot() types.Document {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.doc
}

// Registry tracks every known document and its processing state. The map
// mutex only guards membership; each record carries its own lock. Records are
// mirrored to disk as one JSON file per document so status survives restarts.
type Registry struct {
	mu        sync.RWMutex
	docs      map[uuid.UUID]*record
	statusDir string
	logger    *slog.Logger
}

func NewRegistry(statusDir string) *Registry {
	return &Registry{
		docs:      make(map[uuid.UUID]*record),
		statusDir: statusDir,
		logger:    slog.Default().With("component", "registry"),
	}
}

// Restore loads persisted document records from the status directory.
// In-flight statuses from a previous run are marked failed since their
// pipeline no longer exists.
func (r *Registry) Restore() error {
	if err := os.MkdirAll(r.statusDir, 0o755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	entries, err := os.ReadDir(r.statusDir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(r.statusDir, e.Name()))
		if err != nil {
			r.logger.Warn("skip unreadable status record", slog.String("file", e.Name()), slog.Any("error", err))
			continue
		}
		var doc types.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			r.logger.Warn("skip malformed status record", slog.String("file", e.Name()), slog.Any("error", err))
			continue
		}
		if !doc.Status.Terminal() {
			doc.Status = types.StatusFailed
			doc.Error = "processing interrupted by restart"
		}
		r.docs[doc.ID] = &record{doc: doc}
	}
	r.logger.Info("restored document records", slog.Int("count", len(r.docs)))
	return nil
}

func (r *Registry) Create(doc types.Document) error {
	r.mu.Lock()
	if _, exists := r.docs[doc.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("document %s already registered", doc.ID)
	}
	r.docs[doc.ID] = &record{doc: doc}
	r.mu.Unlock()
	return r.persist(&doc)
}

// Get returns a copy of the record so callers cannot mutate registry state.
func (r *Registry) Get(id uuid.UUID) (types.Document, bool) {
	r.mu.RLock()
	rec, ok := r.docs[id]
	r.mu.RUnlock()
	if !ok {
		return types.Document{}, false
	}
	return rec.snapshot(), true
}

// List returns all document records, newest upload first.
func (r *Registry) List() []types.Document {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.docs))
	for _, rec := range r.docs {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()
	out := make([]types.Document, len(recs))
	for i, rec := range recs {
		out[i] = rec.snapshot()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out
}

// Transition advances a document to the given status. Moving backwards in
// the lifecycle is rejected; progress follows the status except for failed,
// which freezes the last value.
func (r *Registry) Transition(id uuid.UUID, status types.DocumentStatus) error {
	return r.Mutate(id, func(doc *types.Document) error {
		if status.Rank() < doc.Status.Rank() {
			return fmt.Errorf("invalid transition %s -> %s", doc.Status, status)
		}
		doc.Status = status
		if status != types.StatusFailed {
			doc.Progress = status.Progress()
		}
		return nil
	})
}

// Fail marks the document failed, recording the stage and cause. Progress
// keeps its last value so callers can see how far processing got.
func (r *Registry) Fail(id uuid.UUID, stage string, cause error) {
	err := r.Mutate(id, func(doc *types.Document) error {
		doc.Status = types.StatusFailed
		doc.Error = fmt.Sprintf("%s: %v", stage, cause)
		return nil
	})
	if err != nil {
		r.logger.Error("record failure", slog.String("doc_id", id.String()), slog.Any("error", err))
	}
}

// Mutate applies fn to the record under its per-document lock and persists
// the result when fn succeeds. Only the map lookup touches the registry-wide
// lock, so mutations of unrelated documents proceed in parallel.
func (r *Registry) Mutate(id uuid.UUID, fn func(*types.Document) error) error {
	r.mu.RLock()
	rec, ok := r.docs[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	rec.mu.Lock()
	if err := fn(&rec.doc); err != nil {
		rec.mu.Unlock()
		return err
	}
	snapshot := rec.doc
	rec.mu.Unlock()
	return r.persist(&snapshot)
}

func (r *Registry) Delete(id uuid.UUID) bool {
	r.mu.Lock()
	_, ok := r.docs[id]
	delete(r.docs, id)
	r.mu.Unlock()
	if ok {
		if err := os.Remove(r.statusPath(id)); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("remove status record", slog.String("doc_id", id.String()), slog.Any("error", err))
		}
	}
	return ok
}

func (r *Registry) persist(doc *types.Document) error {
	if err := os.MkdirAll(r.statusDir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.statusPath(doc.ID), raw, 0o644)
}

func (r *Registry) statusPath(id uuid.UUID) string {
	return filepath.Join(r.statusDir, id.String()+".json")
}
