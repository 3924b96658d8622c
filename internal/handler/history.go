package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/pkg/response"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// HistoryStore lists finished renders
type HistoryStore interface {
	List(ctx context.Context, limit int) ([]model.HistoryEntry, error)
	Get(ctx context.Context, jobID string) (model.HistoryEntry, error)
}

type HistoryHandler struct {
	store HistoryStore
}

// NewHistoryHandler creates the handler; a nil store serves an empty list.
func NewHistoryHandler(store HistoryStore) *HistoryHandler {
	return &HistoryHandler{store: store}
}

// List handles GET /api/history?limit=
func (h *HistoryHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		return response.ValidationError(c, "limit must be between 1 and 200", nil)
	}
	if h.store == nil {
		return response.OK(c, fiber.Map{"renders": []model.HistoryEntry{}})
	}

	entries, err := h.store.List(c.UserContext(), limit)
	if err != nil {
		return response.FromError(c, err)
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	return response.OK(c, fiber.Map{"renders": entries})
}

// Get handles GET /api/history/:jobId
func (h *HistoryHandler) Get(c *fiber.Ctx) error {
	if h.store == nil {
		return response.NotFound(c, "Job not found")
	}
	entry, err := h.store.Get(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, entry)
}
