package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"ragserver/ingest"
	"ragserver/types"
)

// metadataFormFields are the multipart form keys copied into document
// metadata on upload.
var metadataFormFields = []string{"title", "author", "language"}

type IngestHandler struct {
	ingest *ingest.Service
}

func NewIngestHandler(s *ingest.Service) *IngestHandler {
	return &IngestHandler{ingest: s}
}

// HandleUpload accepts a multipart file and queues it for processing. The
// response carries the pending status record; processing is asynchronous
// unless the wait query flag is set.
func (h *IngestHandler) HandleUpload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}

	overrides, verrs := overridesFromForm(c)
	if len(verrs) > 0 {
		return NewValidationError(verrs)
	}
	meta := make(map[string]string)
	for _, key := range metadataFormFields {
		if v := c.FormValue(key); v != "" {
			meta[key] = v
		}
	}

	doc, err := h.ingest.IngestFile(file.Filename, file.Size, meta, overrides, func(dst string) error {
		return c.SaveFile(file, dst)
	})
	if err != nil {
		return err
	}

	if c.QueryBool("wait") {
		return h.respondAfterWait(c, doc.ID)
	}
	return c.Status(fiber.StatusAccepted).JSON(doc)
}

// HandleIngestURL queues a URL for fetching and indexing.
func (h *IngestHandler) HandleIngestURL(c *fiber.Ctx) error {
	var params types.URLIngestParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errs := types.Validate(&params); len(errs) > 0 {
		return NewValidationError(errs)
	}

	doc, err := h.ingest.IngestURL(params)
	if err != nil {
		return err
	}
	if c.QueryBool("wait") {
		return h.respondAfterWait(c, doc.ID)
	}
	return c.Status(fiber.StatusAccepted).JSON(doc)
}

func (h *IngestHandler) respondAfterWait(c *fiber.Ctx, id uuid.UUID) error {
	doc, err := h.ingest.WaitForDocument(c.Context(), id)
	if errors.Is(err, types.ErrStatusTimeout) {
		// The document is still processing, not failed. Return the last
		// observed record with the timeout status.
		return c.Status(fiber.StatusGatewayTimeout).JSON(doc)
	}
	if err != nil {
		return err
	}
	return c.JSON(doc)
}

func (h *IngestHandler) HandleStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}
	doc, ok := h.ingest.Document(id)
	if !ok {
		return ErrNotFound(id, "document")
	}
	return c.JSON(doc)
}

func (h *IngestHandler) HandleListDocuments(c *fiber.Ctx) error {
	docs := h.ingest.Documents()
	return c.JSON(fiber.Map{
		"documents": docs,
		"count":     len(docs),
	})
}

func (h *IngestHandler) HandleDeleteDocument(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}
	if _, ok := h.ingest.Document(id); !ok {
		return ErrNotFound(id, "document")
	}
	removed, err := h.ingest.Delete(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"id":             id,
		"chunks_removed": removed,
	})
}

// overridesFromForm reads per-request chunking knobs from multipart form
// values and validates them the same way the JSON endpoints do.
func overridesFromForm(c *fiber.Ctx) (types.IngestOverrides, map[string]string) {
	var ov types.IngestOverrides
	ov.Chunker = c.FormValue("chunker")
	ov.IndexName = c.FormValue("index_name")

	if v := c.FormValue("chunk_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ov, map[string]string{"ChunkSize": "must be an integer"}
		}
		ov.ChunkSize = n
	}
	if v := c.FormValue("chunk_overlap"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ov, map[string]string{"ChunkOverlap": "must be an integer"}
		}
		ov.ChunkOverlap = &n
	}
	for key, dst := range map[string]**bool{
		"extract_metadata": &ov.ExtractMetadata,
		"detect_language":  &ov.DetectLanguage,
	} {
		if v := c.FormValue(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return ov, map[string]string{key: "must be a boolean"}
			}
			*dst = &b
		}
	}
	return ov, types.Validate(&ov)
}
