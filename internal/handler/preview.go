package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/internal/service"
	"github.com/veloverlay/api/pkg/response"
)

type PreviewHandler struct {
	service   *service.PreviewService
	validator *validator.Validate
}

func NewPreviewHandler(svc *service.PreviewService, v *validator.Validate) *PreviewHandler {
	return &PreviewHandler{
		service:   svc,
		validator: v,
	}
}

// Preview handles POST /api/preview
func (h *PreviewHandler) Preview(c *fiber.Ctx) error {
	var req model.PreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if details := validateOverlay(h.validator, req.Config); details != nil {
		return response.ValidationError(c, "Validation failed", details)
	}

	result, err := h.service.GetPreview(c.UserContext(), &req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}
