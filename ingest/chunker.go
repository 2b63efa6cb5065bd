package ingest

import (
	"regexp"
	"strings"

	"ragserver/types"
)

const (
	MethodRecursive = "recursive"
	MethodSimple    = "simple"
	MethodSentence  = "sentence"
)

// recursiveSeparators in priority order: paragraph, line, sentence, clause,
// word. Segments still too long after the last separator get a hard cut.
var recursiveSeparators = []string{"\n\n", "\n", ". ", ", ", " "}

var sentencePattern = regexp.MustCompile(`(?s)\s*[^.!?]+(?:[.!?]+|$)`)

// Chunker splits extracted text into bounded segments. Its parameters are
// validated at construction so a bad configuration fails at startup, not per
// document.
type Chunker struct {
	method       string
	chunkSize    int
	overlap      int
	minChunkSize int
}

func NewChunker(method string, chunkSize, overlap, minChunkSize int) (*Chunker, error) {
	switch method {
	case MethodRecursive, MethodSimple, MethodSentence:
	default:
		return nil, &types.ChunkingError{Reason: "unknown method " + method}
	}
	if chunkSize <= 0 {
		return nil, &types.ChunkingError{Reason: "chunk size must be positive"}
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, &types.ChunkingError{Reason: "overlap must satisfy 0 <= overlap < chunk_size"}
	}
	if minChunkSize < 0 || minChunkSize > chunkSize {
		minChunkSize = 0
	}
	return &Chunker{
		method:       method,
		chunkSize:    chunkSize,
		overlap:      overlap,
		minChunkSize: minChunkSize,
	}, nil
}

func (c *Chunker) Method() string { return c.method }

// Split returns the ordered chunk texts for the document. Empty input yields
// no chunks; no returned chunk is ever empty.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var chunks []string
	switch c.method {
	case MethodSimple:
		chunks = c.splitSimple(text)
	case MethodSentence:
		chunks = c.splitSentence(text)
	default:
		chunks = c.mergeSmall(c.splitRecursive(text, recursiveSeparators))
	}
	if c.method == MethodSimple {
		return chunks
	}
	out := chunks[:0]
	for _, ch := range chunks {
		if strings.TrimSpace(ch) != "" {
			out = append(out, ch)
		}
	}
	return out
}

// splitSimple is a fixed-size sliding window sharing overlap characters
// between consecutive chunks. For text of length L it yields exactly
// ceil((L-overlap)/(chunkSize-overlap)) chunks.
func (c *Chunker) splitSimple(text string) []string {
	step := c.chunkSize - c.overlap
	var chunks []string
	for i := 0; i < len(text); i += step {
		end := i + c.chunkSize
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[i:end])
		if end == len(text) {
			break
		}
	}
	return chunks
}

// splitRecursive tries separators in priority order, recursing into any
// segment still longer than the chunk size with the next separator down.
// When no separator remains a hard cut at chunkSize applies.
func (c *Chunker) splitRecursive(text string, seps []string) []string {
	if len(text) <= c.chunkSize {
		return []string{text}
	}
	if len(seps) == 0 {
		var chunks []string
		for i := 0; i < len(text); i += c.chunkSize {
			end := i + c.chunkSize
			if end > len(text) {
				end = len(text)
			}
			chunks = append(chunks, text[i:end])
		}
		return chunks
	}

	parts := strings.SplitAfter(text, seps[0])
	var chunks []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			chunks = append(chunks, buf.String())
			buf.Reset()
		}
	}
	for _, part := range parts {
		if len(part) > c.chunkSize {
			flush()
			chunks = append(chunks, c.splitRecursive(part, seps[1:])...)
			continue
		}
		if buf.Len()+len(part) > c.chunkSize {
			flush()
		}
		buf.WriteString(part)
	}
	flush()
	return chunks
}

// splitSentence splits on sentence boundaries and greedily packs sentences
// until the chunk size is reached.
func (c *Chunker) splitSentence(text string) []string {
	sentences := sentencePattern.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{text}
	}
	var chunks []string
	var buf strings.Builder
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		// An oversized sentence becomes its own chunk rather than being cut
		// mid-word.
		if buf.Len() > 0 && buf.Len()+len(s)+1 > c.chunkSize {
			chunks = append(chunks, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(s)
	}
	if buf.Len() > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}

// mergeSmall folds fragments below the minimum size into their neighbour so
// the recursive strategy does not emit confetti. A sole undersized chunk is
// kept as is.
func (c *Chunker) mergeSmall(chunks []string) []string {
	if c.minChunkSize <= 0 || len(chunks) < 2 {
		return chunks
	}
	var out []string
	current := chunks[0]
	for _, ch := range chunks[1:] {
		if len(current) < c.minChunkSize && len(current)+len(ch) <= c.chunkSize {
			current += ch
			continue
		}
		out = append(out, current)
		current = ch
	}
	if len(current) < c.minChunkSize && len(out) > 0 && len(out[len(out)-1])+len(current) <= c.chunkSize {
		out[len(out)-1] += current
	} else {
		out = append(out, current)
	}
	return out
}
