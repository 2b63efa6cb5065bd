package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragserver/config"
	"ragserver/model"
	"ragserver/store"
	"ragserver/types"
)

type job struct {
	docID     uuid.UUID
	path      string
	url       string
	overrides types.IngestOverrides
}

// Service is the ingestion orchestrator. Accepted documents are registered
// as pending and handed to a fixed worker pool; each worker runs the full
// parse, chunk, embed, index pipeline for one document at a time.
type Service struct {
	cfg      *config.Config
	registry *Registry
	embedder *model.EmbeddingService
	store    store.VectorStorer

	jobs   chan job
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	logger *slog.Logger
}

func NewService(cfg *config.Config, registry *Registry, embedder *model.EmbeddingService, vs store.VectorStorer) *Service {
	return &Service{
		cfg:      cfg,
		registry: registry,
		embedder: embedder,
		store:    vs,
		jobs:     make(chan job, cfg.Ingest.QueueSize),
		logger:   slog.Default().With("component", "ingest"),
	}
}

// Start launches the worker pool. Workers drain the queue until Stop is
// called.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.cfg.Ingest.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.logger.Info("ingestion workers started", slog.Int("workers", s.cfg.Ingest.Workers))
}

// Stop rejects new work, cancels in-flight pipelines and waits for workers
// to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("ingestion workers stopped")
}

func (s *Service) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	log := s.logger.With(slog.Int("worker", id))
	for j := range s.jobs {
		if ctx.Err() != nil {
			s.registry.Fail(j.docID, "pipeline", ctx.Err())
			continue
		}
		log.Debug("picked up document", slog.String("doc_id", j.docID.String()))
		s.process(ctx, j)
	}
}

// IngestFile registers an upload and queues it for processing. The save
// callback writes the uploaded bytes to the path this service chose; the
// status record is only created once the bytes are on disk.
func (s *Service) IngestFile(filename string, size int64, meta map[string]string, ov types.IngestOverrides, save func(dst string) error) (types.Document, error) {
	doc := s.newDocument(filepath.Base(filename), types.SourceUpload, size, meta, ov)
	doc.FileType = strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")

	if err := os.MkdirAll(s.cfg.Data.RawDir, 0o755); err != nil {
		return types.Document{}, err
	}
	rawPath := s.rawPath(doc)
	if err := save(rawPath); err != nil {
		return types.Document{}, fmt.Errorf("save upload: %w", err)
	}

	if err := s.registry.Create(doc); err != nil {
		return types.Document{}, err
	}
	if err := s.enqueue(job{docID: doc.ID, path: rawPath, overrides: ov}); err != nil {
		s.registry.Fail(doc.ID, "queue", err)
		return types.Document{}, err
	}
	return doc, nil
}

// IngestURL registers a URL source and queues it. The fetch happens inside
// the pipeline, so the returned record has no size yet.
func (s *Service) IngestURL(params types.URLIngestParams) (types.Document, error) {
	doc := s.newDocument(params.URL, types.SourceURL, 0, params.Metadata, params.Overrides)
	doc.FileType = "html"
	doc.Metadata.SourceURL = params.URL

	if err := s.registry.Create(doc); err != nil {
		return types.Document{}, err
	}
	if err := s.enqueue(job{docID: doc.ID, url: params.URL, overrides: params.Overrides}); err != nil {
		s.registry.Fail(doc.ID, "queue", err)
		return types.Document{}, err
	}
	return doc, nil
}

func (s *Service) newDocument(name string, kind types.SourceKind, size int64, meta map[string]string, ov types.IngestOverrides) types.Document {
	indexName := ov.IndexName
	if indexName == "" {
		indexName = s.cfg.Store.IndexName
	}
	return types.Document{
		ID:         uuid.New(),
		Name:       name,
		SourceKind: kind,
		ByteSize:   size,
		UploadedAt: time.Now().UTC(),
		Status:     types.StatusPending,
		Metadata:   metaFromMap(meta, indexName),
	}
}

func (s *Service) enqueue(j job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("ingestion service is shutting down")
	}
	select {
	case s.jobs <- j:
		return nil
	default:
		return errors.New("ingestion queue is full")
	}
}

func (s *Service) process(ctx context.Context, j job) {
	start := time.Now()
	log := s.logger.With(slog.String("doc_id", j.docID.String()))

	doc, ok := s.registry.Get(j.docID)
	if !ok {
		return
	}

	if err := s.registry.Transition(j.docID, types.StatusParsing); err != nil {
		log.Error("transition", slog.Any("error", err))
		return
	}
	parser := NewParser(
		resolveBool(j.overrides.ExtractMetadata, s.cfg.Ingest.ExtractMetadata),
		resolveBool(j.overrides.DetectLanguage, s.cfg.Ingest.DetectLanguage),
	)
	var parsed *Parsed
	var err error
	if j.url != "" {
		parsed, err = parser.ParseURL(ctx, j.url)
	} else {
		parsed, err = parser.ParseFile(ctx, j.path)
	}
	if err != nil {
		s.fail(ctx, j.docID, "parse", err, log)
		return
	}

	merr := s.registry.Mutate(j.docID, func(d *types.Document) error {
		mergeMeta(&d.Metadata, parsed.Meta)
		if d.SourceKind == types.SourceURL {
			d.ByteSize = parsed.ByteSize
		}
		if d.FileType == "" {
			d.FileType = parsed.FileType
		}
		return nil
	})
	if merr != nil {
		log.Error("update metadata", slog.Any("error", merr))
	}
	doc, _ = s.registry.Get(j.docID)
	if dups := s.findDuplicates(doc); len(dups) > 0 {
		warn := &types.DuplicateWarning{DocumentIDs: dups}
		log.Warn("possible duplicate upload", slog.String("detail", warn.Error()))
		merr = s.registry.Mutate(j.docID, func(d *types.Document) error {
			d.PossibleDuplicates = dups
			return nil
		})
		if merr != nil {
			log.Error("record duplicates", slog.Any("error", merr))
		}
		doc.PossibleDuplicates = dups
	}

	if err := s.registry.Transition(j.docID, types.StatusChunking); err != nil {
		log.Error("transition", slog.Any("error", err))
		return
	}
	chunker, err := s.chunkerFor(j.overrides)
	if err != nil {
		s.fail(ctx, j.docID, "chunk", err, log)
		return
	}
	texts := chunker.Split(parsed.Text)
	if len(texts) == 0 {
		s.fail(ctx, j.docID, "chunk", &types.ChunkingError{Reason: "document produced no chunks"}, log)
		return
	}
	chunks := buildChunks(doc, parsed.Text, texts, chunker.Method())

	if err := s.registry.Transition(j.docID, types.StatusEmbedding); err != nil {
		log.Error("transition", slog.Any("error", err))
		return
	}
	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		s.fail(ctx, j.docID, "embed", err, log)
		return
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	if err := s.store.Upsert(ctx, chunks); err != nil {
		// Roll back whatever the store may have kept so a failed document
		// never contributes results.
		if _, derr := s.store.DeleteByDocument(context.WithoutCancel(ctx), j.docID); derr != nil {
			log.Error("rollback after index failure", slog.Any("error", derr))
		}
		s.fail(ctx, j.docID, "index", err, log)
		return
	}

	s.writeProcessedSnapshot(doc, parsed.Text, len(chunks), log)

	elapsed := time.Since(start).Seconds()
	err = s.registry.Mutate(j.docID, func(d *types.Document) error {
		d.ChunkIDs = make([]string, len(chunks))
		for i, c := range chunks {
			d.ChunkIDs[i] = c.ID
		}
		d.Processing = types.ProcessingDetails{
			ChunkMethod:    chunker.Method(),
			ChunkCount:     len(chunks),
			ProcessingTime: elapsed,
			IndexName:      doc.Metadata.IndexName,
		}
		d.Status = types.StatusCompleted
		d.Progress = types.StatusCompleted.Progress()
		return nil
	})
	if err != nil {
		log.Error("finalize", slog.Any("error", err))
		return
	}
	log.Info("document indexed",
		slog.Int("chunks", len(chunks)),
		slog.Float64("seconds", elapsed),
	)
}

func (s *Service) fail(ctx context.Context, id uuid.UUID, stage string, cause error, log *slog.Logger) {
	if ctx.Err() != nil && !errors.Is(cause, ctx.Err()) {
		cause = fmt.Errorf("%w (%v)", cause, ctx.Err())
	}
	s.registry.Fail(id, stage, cause)
	log.Error("ingestion failed", slog.String("stage", stage), slog.Any("error", cause))
}

func (s *Service) chunkerFor(ov types.IngestOverrides) (*Chunker, error) {
	method := s.cfg.Chunker.Method
	if ov.Chunker != "" {
		method = ov.Chunker
	}
	size := s.cfg.Chunker.ChunkSize
	if ov.ChunkSize > 0 {
		size = ov.ChunkSize
	}
	overlap := s.cfg.Chunker.ChunkOverlap
	switch {
	case ov.ChunkOverlap != nil:
		overlap = *ov.ChunkOverlap
	case ov.ChunkSize > 0 && overlap >= size:
		// The configured overlap cannot pair with a smaller requested size;
		// drop it rather than reject the request.
		overlap = 0
	}
	return NewChunker(method, size, overlap, s.cfg.Chunker.MinChunkSize)
}

// findDuplicates flags previously completed documents whose name or title
// matches the new document's name or title, with a byte size within the
// configured tolerance. Advisory only.
func (s *Service) findDuplicates(doc types.Document) []string {
	var dups []string
	for _, other := range s.registry.List() {
		if other.ID == doc.ID || other.Status != types.StatusCompleted {
			continue
		}
		if !labelsMatch(doc, other) {
			continue
		}
		diff := other.ByteSize - doc.ByteSize
		if diff < 0 {
			diff = -diff
		}
		if diff <= s.cfg.Ingest.DuplicateSizeTolerance {
			dups = append(dups, other.ID.String())
		}
	}
	return dups
}

// labelsMatch compares the name and extracted title of both documents in
// every combination, so a rescan under a different filename still matches
// the original through its title.
func labelsMatch(a, b types.Document) bool {
	labels := []string{a.Name}
	if a.Metadata.Title != "" {
		labels = append(labels, a.Metadata.Title)
	}
	for _, label := range labels {
		if strings.EqualFold(b.Name, label) {
			return true
		}
		if b.Metadata.Title != "" && strings.EqualFold(b.Metadata.Title, label) {
			return true
		}
	}
	return false
}

type processedSnapshot struct {
	DocID      uuid.UUID `json:"doc_id"`
	Name       string    `json:"name"`
	Text       string    `json:"text"`
	ChunkCount int       `json:"chunk_count"`
	SavedAt    time.Time `json:"saved_at"`
}

func (s *Service) writeProcessedSnapshot(doc types.Document, text string, chunkCount int, log *slog.Logger) {
	if err := os.MkdirAll(s.cfg.Data.ProcessedDir, 0o755); err != nil {
		log.Warn("processed snapshot", slog.Any("error", err))
		return
	}
	snap := processedSnapshot{
		DocID:      doc.ID,
		Name:       doc.Name,
		Text:       text,
		ChunkCount: chunkCount,
		SavedAt:    time.Now().UTC(),
	}
	raw, err := json.Marshal(snap)
	if err == nil {
		err = os.WriteFile(s.processedPath(doc.ID), raw, 0o644)
	}
	if err != nil {
		log.Warn("processed snapshot", slog.Any("error", err))
	}
}

// Delete removes the document's chunks from the store along with its raw
// file, processed snapshot and status record. The number of removed chunks
// is returned.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (int, error) {
	doc, ok := s.registry.Get(id)
	if !ok {
		return 0, fmt.Errorf("document %s not found", id)
	}
	removed, err := s.store.DeleteByDocument(ctx, id)
	if err != nil {
		return 0, err
	}
	if doc.SourceKind == types.SourceUpload {
		if err := os.Remove(s.rawPath(doc)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove raw file", slog.Any("error", err))
		}
	}
	if err := os.Remove(s.processedPath(id)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("remove processed snapshot", slog.Any("error", err))
	}
	s.registry.Delete(id)
	s.logger.Info("document deleted", slog.String("doc_id", id.String()), slog.Int("chunks_removed", removed))
	return removed, nil
}

// Document returns the status record for one document.
func (s *Service) Document(id uuid.UUID) (types.Document, bool) {
	return s.registry.Get(id)
}

// Documents lists all status records, newest first.
func (s *Service) Documents() []types.Document {
	return s.registry.List()
}

// WaitForDocument polls a document record until it reaches a terminal status.
// The poll budget comes from configuration; exceeding it returns
// ErrStatusTimeout with the last observed record, which is distinct from the
// document itself having failed.
func (s *Service) WaitForDocument(ctx context.Context, id uuid.UUID) (types.Document, error) {
	interval := time.Duration(s.cfg.Ingest.PollIntervalMillis) * time.Millisecond
	var doc types.Document
	for attempt := 0; attempt < s.cfg.Ingest.PollMaxAttempts; attempt++ {
		var ok bool
		doc, ok = s.registry.Get(id)
		if !ok {
			return types.Document{}, fmt.Errorf("document %s not found", id)
		}
		if doc.Status.Terminal() {
			return doc, nil
		}
		select {
		case <-ctx.Done():
			return doc, ctx.Err()
		case <-time.After(interval):
		}
	}
	return doc, types.ErrStatusTimeout
}

func (s *Service) rawPath(doc types.Document) string {
	return filepath.Join(s.cfg.Data.RawDir, doc.ID.String()+"_"+sanitizeName(doc.Name))
}

func (s *Service) processedPath(id uuid.UUID) string {
	return filepath.Join(s.cfg.Data.ProcessedDir, id.String()+".json")
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

// buildChunks derives stable chunk IDs from the document and sequence index
// and locates each chunk's offsets in the extracted text.
func buildChunks(doc types.Document, fullText string, texts []string, method string) []types.Chunk {
	chunks := make([]types.Chunk, len(texts))
	searchFrom := 0
	for i, text := range texts {
		start := -1
		if idx := strings.Index(fullText[searchFrom:], text); idx >= 0 {
			start = searchFrom + idx
			// Overlapping windows share text, so the next search may begin
			// before this chunk ends.
			advance := len(text) / 2
			if advance < 1 {
				advance = 1
			}
			searchFrom = start + advance
		}
		meta := types.ChunkMeta{
			DocumentName: doc.Name,
			Title:        doc.Metadata.Title,
			Language:     doc.Metadata.Language,
			IndexName:    doc.Metadata.IndexName,
			ChunkMethod:  method,
			Extra:        doc.Metadata.Extra,
		}
		if start >= 0 {
			meta.StartOffset = start
			meta.EndOffset = start + len(text)
		}
		chunks[i] = types.Chunk{
			ID:       types.ChunkID(doc.ID, i),
			DocID:    doc.ID,
			Seq:      i,
			Text:     text,
			Metadata: meta,
		}
	}
	return chunks
}

func metaFromMap(meta map[string]string, indexName string) types.DocumentMeta {
	out := types.DocumentMeta{IndexName: indexName}
	for k, v := range meta {
		switch strings.ToLower(k) {
		case "title":
			out.Title = v
		case "author":
			out.Author = v
		case "language":
			out.Language = v
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]string)
			}
			out.Extra[k] = v
		}
	}
	return out
}

// mergeMeta fills empty fields of dst from extracted metadata without
// clobbering values the client supplied.
func mergeMeta(dst *types.DocumentMeta, src types.DocumentMeta) {
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if dst.Author == "" {
		dst.Author = src.Author
	}
	if dst.Language == "" {
		dst.Language = src.Language
	}
	if dst.SourceURL == "" {
		dst.SourceURL = src.SourceURL
	}
	for k, v := range src.Extra {
		if dst.Extra == nil {
			dst.Extra = make(map[string]string)
		}
		if _, exists := dst.Extra[k]; !exists {
			dst.Extra[k] = v
		}
	}
}

func resolveBool(override *bool, def bool) bool {
	if override != nil {
		return *override
	}
	return def
}
