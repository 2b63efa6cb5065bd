package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Validater interface {
	Validate() map[string]string
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

// QueryParams is the request body of the query endpoint.
type QueryParams struct {
	Query  string            `json:"query" validate:"required,min=1"`
	TopK   int               `json:"top_k" validate:"omitempty,min=1,max=50"`
	Filter map[string]string `json:"filter,omitempty"`
}

// IngestOverrides are the per-request knobs a client may set on upload.
// Unset fields fall back to the configured defaults; pointer fields let an
// explicit zero or false survive as a value of its own.
type IngestOverrides struct {
	Chunker         string `json:"chunker,omitempty" validate:"omitempty,oneof=recursive simple sentence"`
	ChunkSize       int    `json:"chunk_size,omitempty" validate:"omitempty,min=100,max=4000"`
	ChunkOverlap    *int   `json:"chunk_overlap,omitempty" validate:"omitempty,min=0"`
	ExtractMetadata *bool  `json:"extract_metadata,omitempty"`
	DetectLanguage  *bool  `json:"detect_language,omitempty"`
	IndexName       string `json:"index_name,omitempty"`
}

// URLIngestParams is the request body of the URL ingest endpoint.
type URLIngestParams struct {
	URL       string            `json:"url" validate:"required,url"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Overrides IngestOverrides   `json:"overrides,omitempty"`
}

func (params *QueryParams) Validate() map[string]string {
	return validateStruct(params)
}

func (params *URLIngestParams) Validate() map[string]string {
	errs := validateStruct(params)
	if more := params.Overrides.Validate(); len(more) > 0 {
		if errs == nil {
			errs = make(map[string]string)
		}
		for k, v := range more {
			errs[k] = v
		}
	}
	return errs
}

func (params *IngestOverrides) Validate() map[string]string {
	errs := validateStruct(params)
	// Cross-field constraint validator tags cannot express: overlap must stay
	// below the chunk size it is paired with.
	if params.ChunkSize > 0 && params.ChunkOverlap != nil && *params.ChunkOverlap >= params.ChunkSize {
		if errs == nil {
			errs = make(map[string]string)
		}
		errs["ChunkOverlap"] = "must be smaller than chunk_size"
	}
	return errs
}

func validateStruct(v any) map[string]string {
	validate := validator.New()
	if err := validate.Struct(v); err != nil {
		verrs := err.(validator.ValidationErrors)
		errors := make(map[string]string)
		for _, e := range verrs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}
