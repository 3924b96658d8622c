package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/internal/service"
	"github.com/veloverlay/api/pkg/response"
)

type SyncHandler struct {
	service   *service.SyncService
	validator *validator.Validate
}

func NewSyncHandler(svc *service.SyncService, v *validator.Validate) *SyncHandler {
	return &SyncHandler{
		service:   svc,
		validator: v,
	}
}

// VideoInfo handles POST /api/video-info
func (h *SyncHandler) VideoInfo(c *fiber.Ctx) error {
	var req model.VideoInfoRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.VideoInfo(c.UserContext(), req.VideoPath)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// CalculateSync handles POST /api/calculate-sync
func (h *SyncHandler) CalculateSync(c *fiber.Ctx) error {
	var req model.SyncRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.CalculateSync(c.UserContext(), &req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}
