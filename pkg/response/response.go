package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/veloverlay/api/internal/model"
)

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeInputError      = "INPUT_ERROR"
	CodeParseError      = "PARSE_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeBusy            = "BUSY"
	CodeConflict        = "CONFLICT"
	CodeTimeout         = "TIMEOUT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeServiceError    = "SERVICE_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

// FromError maps a domain error onto the error envelope.
func FromError(c *fiber.Ctx, err error) error {
	msg := err.Error()
	switch {
	case errors.Is(err, model.ErrInput):
		return Error(c, fiber.StatusBadRequest, CodeInputError, msg, nil)
	case errors.Is(err, model.ErrParse):
		return Error(c, fiber.StatusUnprocessableEntity, CodeParseError, msg, nil)
	case errors.Is(err, model.ErrBusy):
		return Error(c, fiber.StatusConflict, CodeBusy, msg, nil)
	case errors.Is(err, model.ErrJobFinished):
		return Error(c, fiber.StatusConflict, CodeConflict, msg, nil)
	case errors.Is(err, model.ErrTimeout):
		return Error(c, fiber.StatusGatewayTimeout, CodeTimeout, msg, nil)
	case errors.Is(err, model.ErrJobNotFound):
		return NotFound(c, "Job not found")
	}
	return ServiceError(c, msg)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}
