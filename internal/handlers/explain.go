package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"quill/internal/errs"
	"quill/internal/models"
	"quill/internal/services"
)

// ExplainHandler handles HTTP requests for term explanations
type ExplainHandler struct {
	service *services.ExplainService
}

// NewExplainHandler creates a new explain handler
func NewExplainHandler(service *services.ExplainService) *ExplainHandler {
	return &ExplainHandler{service: service}
}

// Handle explains a term
// POST /v1/explain
func (h *ExplainHandler) Handle(c *fiber.Ctx) error {
	var req models.ExplainRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"ok":    false,
			"error": "Invalid request body",
		})
	}

	resp, err := h.service.Explain(c.Context(), &req)
	if err != nil {
		if errs.KindOf(err) != errs.KindInvalidInput {
			log.Printf("❌ [EXPLAIN] %v", err)
		}
		return c.Status(errs.HTTPStatus(err)).JSON(fiber.Map{
			"ok":    false,
			"error": err.Error(),
		})
	}

	return c.JSON(resp)
}
