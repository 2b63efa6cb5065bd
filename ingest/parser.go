package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"ragserver/types"
)

const maxURLFetchBytes = 32 << 20

var htmlTitlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// englishStopwords drives the cheap language heuristic. A text where these
// account for a reasonable share of words is tagged "en", otherwise the
// language stays unknown.
var englishStopwords = map[string]struct{}{
	"the": {}, "and": {}, "of": {}, "to": {}, "in": {}, "is": {}, "that": {},
	"it": {}, "for": {}, "on": {}, "with": {}, "as": {}, "was": {}, "are": {},
	"this": {}, "be": {}, "by": {}, "at": {}, "from": {}, "or": {},
}

// Parsed is the outcome of text extraction for one document.
type Parsed struct {
	Text     string
	FileType string
	ByteSize int64
	Meta     types.DocumentMeta
}

// Parser extracts plain text and optional metadata from uploaded files and
// fetched URLs.
type Parser struct {
	extractMetadata bool
	detectLanguage  bool
	client          *http.Client
	logger          *slog.Logger
}

func NewParser(extractMetadata, detectLanguage bool) *Parser {
	return &Parser{
		extractMetadata: extractMetadata,
		detectLanguage:  detectLanguage,
		client:          &http.Client{Timeout: 30 * time.Second},
		logger:          slog.Default().With("component", "parser"),
	}
}

// ParseFile extracts text from a file on disk, dispatching on extension.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Parsed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &types.ParseError{Source: path, Err: err}
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	parsed := &Parsed{FileType: ext, ByteSize: info.Size()}

	switch ext {
	case "pdf":
		pages, err := api.PageCountFile(path)
		if err != nil {
			return nil, &types.ParseError{Source: path, Err: fmt.Errorf("invalid pdf: %w", err)}
		}
		res, err := docconv.ConvertPath(path)
		if err != nil {
			return nil, &types.ParseError{Source: path, Err: err}
		}
		parsed.Text = normalizeText(res.Body)
		if p.extractMetadata {
			parsed.Meta = metaFromDocconv(res.Meta)
			if parsed.Meta.Extra == nil {
				parsed.Meta.Extra = map[string]string{}
			}
			parsed.Meta.Extra["page_count"] = strconv.Itoa(pages)
		}
	case "docx", "doc", "html", "htm", "rtf", "odt":
		res, err := docconv.ConvertPath(path)
		if err != nil {
			return nil, &types.ParseError{Source: path, Err: err}
		}
		parsed.Text = normalizeText(res.Body)
		if p.extractMetadata {
			parsed.Meta = metaFromDocconv(res.Meta)
		}
	case "md", "markdown":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, &types.ParseError{Source: path, Err: err}
		}
		parsed.Text = normalizeText(string(raw))
		if p.extractMetadata {
			parsed.Meta.Title = markdownTitle(parsed.Text)
		}
	case "txt", "text", "":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, &types.ParseError{Source: path, Err: err}
		}
		parsed.Text = normalizeText(string(raw))
		parsed.FileType = "txt"
	default:
		return nil, &types.ParseError{Source: path, Err: fmt.Errorf("unsupported file type %q", ext)}
	}

	return p.finish(path, parsed)
}

// ParseURL fetches the URL and extracts text from the HTML body.
func (p *Parser) ParseURL(ctx context.Context, rawURL string) (*Parsed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &types.ParseError{Source: rawURL, Err: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &types.ParseError{Source: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &types.ParseError{Source: rawURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLFetchBytes))
	if err != nil {
		return nil, &types.ParseError{Source: rawURL, Err: err}
	}

	parsed := &Parsed{FileType: "html", ByteSize: int64(len(body))}

	res, err := docconv.Convert(strings.NewReader(string(body)), "text/html", true)
	if err != nil {
		return nil, &types.ParseError{Source: rawURL, Err: err}
	}
	parsed.Text = normalizeText(res.Body)
	if p.extractMetadata {
		parsed.Meta = metaFromDocconv(res.Meta)
		if parsed.Meta.Title == "" {
			if m := htmlTitlePattern.FindSubmatch(body); m != nil {
				parsed.Meta.Title = strings.TrimSpace(string(m[1]))
			}
		}
	}
	parsed.Meta.SourceURL = rawURL

	return p.finish(rawURL, parsed)
}

func (p *Parser) finish(source string, parsed *Parsed) (*Parsed, error) {
	if strings.TrimSpace(parsed.Text) == "" {
		return nil, &types.ParseError{Source: source, Err: fmt.Errorf("no extractable text")}
	}
	if p.detectLanguage && parsed.Meta.Language == "" {
		parsed.Meta.Language = DetectLanguage(parsed.Text)
	}
	p.logger.Debug("extracted text",
		slog.String("source", source),
		slog.String("type", parsed.FileType),
		slog.Int("chars", len(parsed.Text)),
	)
	return parsed, nil
}

func metaFromDocconv(meta map[string]string) types.DocumentMeta {
	var out types.DocumentMeta
	for k, v := range meta {
		switch strings.ToLower(k) {
		case "title":
			out.Title = v
		case "author", "creator":
			if out.Author == "" {
				out.Author = v
			}
		}
	}
	return out
}

// markdownTitle returns the first top-level heading, if any.
func markdownTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

// DetectLanguage is a stopword-ratio heuristic that only distinguishes
// English from everything else.
func DetectLanguage(text string) string {
	sample := text
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	words := strings.Fields(strings.ToLower(sample))
	if len(words) < 10 {
		return "unknown"
	}
	hits := 0
	for _, w := range words {
		if _, ok := englishStopwords[strings.Trim(w, ".,;:!?\"'()")]; ok {
			hits++
		}
	}
	if float64(hits)/float64(len(words)) >= 0.08 {
		return "en"
	}
	return "unknown"
}

// normalizeText collapses runs of blank lines and trims trailing whitespace
// per line so chunk boundaries are stable across extractors.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	var out []string
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
