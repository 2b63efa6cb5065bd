package types

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

type DocumentStatus string

const (
	StatusPending   DocumentStatus = "pending"
	StatusParsing   DocumentStatus = "parsing"
	StatusChunking  DocumentStatus = "chunking"
	StatusEmbedding DocumentStatus = "embedding"
	StatusCompleted DocumentStatus = "completed"
	StatusFailed    DocumentStatus = "failed"
)

// statusRank orders pipeline stages so transitions can be checked for
// monotonicity. Failed is reachable from any non-terminal state.
var statusRank = map[DocumentStatus]int{
	StatusPending:   0,
	StatusParsing:   1,
	StatusChunking:  2,
	StatusEmbedding: 3,
	StatusCompleted: 4,
	StatusFailed:    5,
}

var statusProgress = map[DocumentStatus]float64{
	StatusPending:   0,
	StatusParsing:   10,
	StatusChunking:  20,
	StatusEmbedding: 70,
	StatusCompleted: 100,
}

func (s DocumentStatus) Rank() int { return statusRank[s] }

func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress reports the completed stage weight as a percentage. A failed
// document keeps the progress of its last completed stage, so the caller
// reads progress from the record, not from this method.
func (s DocumentStatus) Progress() float64 {
	return statusProgress[s]
}

type SourceKind string

const (
	SourceUpload SourceKind = "upload"
	SourceURL    SourceKind = "url"
)

// DocumentMeta is the enumerated document metadata plus an open extension
// bag for provider-specific fields nothing in the core recognizes.
type DocumentMeta struct {
	Title     string            `json:"title,omitempty"`
	Author    string            `json:"author,omitempty"`
	Language  string            `json:"language,omitempty"`
	SourceURL string            `json:"source_url,omitempty"`
	IndexName string            `json:"index_name,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

type ProcessingDetails struct {
	ChunkMethod    string  `json:"chunk_method,omitempty"`
	ChunkCount     int     `json:"chunk_count"`
	ProcessingTime float64 `json:"processing_time"` // seconds
	IndexName      string  `json:"index_name,omitempty"`
}

// Document is the per-ingestion status record. It is created when an
// ingestion request is accepted and mutated only by the ingestion pipeline.
type Document struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	SourceKind SourceKind        `json:"source_kind"`
	FileType   string            `json:"file_type"`
	ByteSize   int64             `json:"byte_size"`
	UploadedAt time.Time         `json:"uploaded_at"`
	Status     DocumentStatus    `json:"status"`
	Progress   float64           `json:"progress"`
	Metadata   DocumentMeta      `json:"metadata"`
	ChunkIDs   []string          `json:"chunk_ids,omitempty"`
	Processing ProcessingDetails `json:"processing_details"`

	// PossibleDuplicates lists previously completed documents whose name and
	// size match this one. Advisory only, never blocks ingestion.
	PossibleDuplicates []string `json:"possible_duplicates,omitempty"`

	// Error is set only when Status is failed.
	Error string `json:"error,omitempty"`
}

// ChunkMeta carries the document fields a chunk inherits plus chunk-local
// offsets into the extracted text.
type ChunkMeta struct {
	DocumentName string            `json:"document_name,omitempty"`
	Title        string            `json:"title,omitempty"`
	Language     string            `json:"language,omitempty"`
	IndexName    string            `json:"index_name,omitempty"`
	ChunkMethod  string            `json:"chunk_method,omitempty"`
	StartOffset  int               `json:"start_offset"`
	EndOffset    int               `json:"end_offset"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Value resolves a recognized metadata key, falling back to the extension
// bag. Used by metadata-filtered search.
func (m ChunkMeta) Value(key string) (string, bool) {
	switch key {
	case "document_name":
		return m.DocumentName, m.DocumentName != ""
	case "title":
		return m.Title, m.Title != ""
	case "language":
		return m.Language, m.Language != ""
	case "index_name":
		return m.IndexName, m.IndexName != ""
	case "chunk_method":
		return m.ChunkMethod, m.ChunkMethod != ""
	}
	v, ok := m.Extra[key]
	return v, ok
}

// Match reports whether every filter key matches this metadata exactly.
func (m ChunkMeta) Match(filter map[string]string) bool {
	for k, want := range filter {
		got, ok := m.Value(k)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Chunk is the unit indexed for retrieval. Its ID is derived from the owning
// document and sequence index so re-ingesting a document overwrites its
// chunks instead of duplicating them.
type Chunk struct {
	ID        string
	DocID     uuid.UUID
	Seq       int
	Text      string
	Embedding []float32
	Metadata  ChunkMeta
}

// ChunkID builds the stable chunk identifier for a document position.
func ChunkID(docID uuid.UUID, seq int) string {
	return docID.String() + ":" + strconv.Itoa(seq)
}

// SearchResult is one ranked match from the vector store.
type SearchResult struct {
	ChunkID  string    `json:"chunk_id"`
	DocID    uuid.UUID `json:"document_id"`
	Score    float64   `json:"score"`
	Text     string    `json:"text"`
	Metadata ChunkMeta `json:"metadata"`
}

// Source attributes part of an answer to an indexed document.
type Source struct {
	DocID        string    `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Score        float64   `json:"score"`
	Snippet      string    `json:"text_snippet"`
	Metadata     ChunkMeta `json:"metadata"`
}

type QueryResult struct {
	Query          string    `json:"query"`
	Answer         string    `json:"answer"`
	Sources        []Source  `json:"sources"`
	ProcessingTime float64   `json:"processing_time"` // seconds
	Timestamp      time.Time `json:"timestamp"`
}

// StoreStats are the vector-store aggregate counters. These are the
// authoritative numbers for admin statistics; the documents listing is a
// derived view and may briefly disagree after partial failures.
type StoreStats struct {
	DocumentCount  int   `json:"document_count"`
	ChunkCount     int   `json:"chunk_count"`
	VectorCount    int   `json:"vector_count"`
	IndexSizeBytes int64 `json:"index_size_bytes"`
}
