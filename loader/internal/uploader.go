package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ragserver/loader/types"
	srvtypes "ragserver/types"
)

// Uploader posts files to the ingestion API and waits for the document to
// reach a terminal status before archiving the file.
type Uploader struct {
	cfg    types.Config
	client *http.Client
	logger *slog.Logger
}

func NewUploader(cfg types.Config) *Uploader {
	return &Uploader{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Minute},
		logger: slog.Default().With("component", "uploader"),
	}
}

// Process drains fileChan, uploading each file and moving it to the archive
// or bad directory depending on the outcome.
func (u *Uploader) Process(ctx context.Context, fileChan <-chan string) {
	for path := range fileChan {
		if ctx.Err() != nil {
			return
		}
		doc, err := u.upload(ctx, path)
		if err != nil {
			u.logger.Error("upload failed", slog.String("path", path), slog.Any("error", err))
			u.MoveToArchive(path, true)
			continue
		}
		if doc.Status == srvtypes.StatusFailed {
			u.logger.Error("ingestion failed",
				slog.String("path", path),
				slog.String("doc_id", doc.ID.String()),
				slog.String("reason", doc.Error),
			)
			u.MoveToArchive(path, true)
			continue
		}
		u.logger.Info("document indexed",
			slog.String("path", path),
			slog.String("doc_id", doc.ID.String()),
			slog.Int("chunks", doc.Processing.ChunkCount),
		)
		u.MoveToArchive(path, false)
	}
}

func (u *Uploader) upload(ctx context.Context, path string) (*srvtypes.Document, error) {
	path, cleanup, err := u.prepare(path)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	url := strings.TrimRight(u.cfg.ServerURL, "/") + "/api/v1/ingest/upload?wait=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, raw)
	}

	var doc srvtypes.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &doc, nil
}

// prepare optionally crops PDF headers and footers into a temp file before
// upload. The cleanup callback removes the temp file.
func (u *Uploader) prepare(path string) (string, func(), error) {
	noop := func() {}
	if u.cfg.CropTop == 0 && u.cfg.CropBottom == 0 {
		return path, noop, nil
	}
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return path, noop, nil
	}
	cropped := filepath.Join(os.TempDir(), "cropped_"+filepath.Base(path))
	if err := CropHeaderFooter(path, cropped, u.cfg.CropTop, u.cfg.CropBottom); err != nil {
		return "", noop, err
	}
	return cropped, func() { os.Remove(cropped) }, nil
}

// MoveToArchive relocates a handled file. Bad files keep a rejected marker
// in their name so they are easy to spot.
func (u *Uploader) MoveToArchive(path string, bad bool) {
	dir := u.cfg.ArchiveDir
	name := filepath.Base(path)
	if bad {
		dir = u.cfg.BadDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		u.logger.Error("create archive dir", slog.Any("error", err))
		return
	}
	dst := filepath.Join(dir, time.Now().UTC().Format("20060102T150405")+"_"+name)
	if err := os.Rename(path, dst); err != nil {
		u.logger.Error("archive file", slog.String("path", path), slog.Any("error", err))
	}
}
