package api

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"ragserver/types"
)

func ErrorHandler(c *fiber.Ctx, err error) error {
	if apiError, ok := err.(Error); ok {
		return c.Status(apiError.Code).JSON(apiError)
	}
	if valError, ok := err.(ValidationError); ok {
		return c.Status(valError.Status).JSON(valError)
	}

	apiError := mapDomainError(err)
	slog.Error("request failed",
		slog.String("path", c.Path()),
		slog.Int("code", apiError.Code),
		slog.String("message", apiError.Message),
	)
	return c.Status(apiError.Code).JSON(apiError)
}

// mapDomainError translates pipeline errors into HTTP statuses. Upstream
// model failures are gateway errors, not server bugs.
func mapDomainError(err error) Error {
	var (
		fiberErr *fiber.Error
		embedErr *types.EmbeddingError
		genErr   *types.GenerationError
		chunkErr *types.ChunkingError
		parseErr *types.ParseError
		dimErr   *types.DimensionError
	)
	switch {
	case errors.Is(err, types.ErrStatusTimeout):
		return NewError(fiber.StatusGatewayTimeout, err.Error())
	case errors.As(err, &embedErr), errors.As(err, &genErr):
		return NewError(fiber.StatusBadGateway, err.Error())
	case errors.As(err, &chunkErr), errors.As(err, &parseErr):
		return NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &dimErr):
		return NewError(fiber.StatusInternalServerError, err.Error())
	case errors.As(err, &fiberErr):
		return NewError(fiberErr.Code, fiberErr.Message)
	default:
		return NewError(fiber.StatusInternalServerError, err.Error())
	}
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrInvalidID() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid id given",
	}
}

func ErrNotFound[T any](arg T, resource string) Error {
	return Error{
		Code:    fiber.StatusNotFound,
		Message: fmt.Sprintf("%s with %v not found", resource, arg),
	}
}
