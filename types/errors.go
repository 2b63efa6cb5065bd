package types

import (
	"errors"
	"fmt"
)

// ErrStatusTimeout terminates a bounded status-polling loop that never saw a
// terminal document state. Distinct from a failed document.
var ErrStatusTimeout = errors.New("status polling timed out")

// ParseError marks a source that could not be turned into text. The document
// fails; there is nothing to retry.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ChunkingError is an invalid chunker configuration. It is raised when the
// chunker is built, before any document runs through it.
type ChunkingError struct {
	Reason string
}

func (e *ChunkingError) Error() string {
	return "chunking: " + e.Reason
}

// EmbeddingError is a provider failure that survived the bounded retry loop.
// Re-submitting the document is the recovery path.
type EmbeddingError struct {
	Attempts int
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// DimensionError means the embedding model and the vector store disagree on
// vector width. It aborts the current document and indicates configuration
// drift that likely affects every document.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: store expects %d, got %d", e.Want, e.Got)
}

// GenerationError is an LLM provider failure on the query path. It is
// surfaced to the caller instead of a fabricated answer.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("answer generation: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// DuplicateWarning is advisory: the new document looks like ones already
// indexed. It annotates the document record and never blocks ingestion.
type DuplicateWarning struct {
	DocumentIDs []string
}

func (e *DuplicateWarning) Error() string {
	return fmt.Sprintf("possible duplicate of %d existing document(s)", len(e.DocumentIDs))
}
