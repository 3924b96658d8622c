package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/internal/overlay"
	"github.com/veloverlay/api/internal/service"
	"github.com/veloverlay/api/pkg/response"
)

type RenderHandler struct {
	service   *service.RenderService
	validator *validator.Validate
}

func NewRenderHandler(svc *service.RenderService, v *validator.Validate) *RenderHandler {
	return &RenderHandler{
		service:   svc,
		validator: v,
	}
}

// Generate handles POST /api/generate
func (h *RenderHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if details := validateOverlay(h.validator, req.Config); details != nil {
		return response.ValidationError(c, "Validation failed", details)
	}

	result, err := h.service.StartGenerate(c.UserContext(), &req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/status
func (h *RenderHandler) Status(c *fiber.Ctx) error {
	return response.OK(c, h.service.Status())
}

// JobStatus handles GET /api/status/:jobId
func (h *RenderHandler) JobStatus(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.StatusByID(c.UserContext(), jobID)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/cancel/:jobId
func (h *RenderHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.UserContext(), jobID)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// validateOverlay checks the settings of recognised elements only. Unknown
// ids are dropped later by the overlay config builder.
func validateOverlay(v *validator.Validate, settings model.OverlaySettings) map[string]string {
	var details map[string]string
	for id, st := range settings {
		if _, ok := overlay.ParseElement(id); !ok {
			continue
		}
		err := v.Struct(st)
		if err == nil {
			continue
		}
		if details == nil {
			details = make(map[string]string)
		}
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, e := range validationErrors {
				details["config."+id+"."+e.Field()] = e.Tag()
			}
		} else {
			details["config."+id] = err.Error()
		}
	}
	return details
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
