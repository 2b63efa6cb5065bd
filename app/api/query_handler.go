package api

import (
	"github.com/gofiber/fiber/v2"

	"ragserver/engine"
	"ragserver/types"
)

type QueryHandler struct {
	query *engine.QueryService
}

func NewQueryHandler(q *engine.QueryService) *QueryHandler {
	return &QueryHandler{query: q}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var params types.QueryParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errs := types.Validate(&params); len(errs) > 0 {
		return NewValidationError(errs)
	}

	result, err := h.query.Query(c.Context(), params)
	if err != nil {
		return err
	}
	return c.JSON(result)
}
