// Package storage persists the render history in a local SQLite database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/veloverlay/api/internal/model"
)

// Render is one finished generate job.
type Render struct {
	ID            uint   `gorm:"primaryKey"`
	JobID         string `gorm:"uniqueIndex;size:36"`
	VideoPath     string
	TelemetryPath string
	OutputPath    string
	OutputURL     string
	Status        string `gorm:"index"`
	Message       string
	OffsetSeconds float64
	SyncSuccess   bool
	Frames        int
	CreatedAt     time.Time `gorm:"index"`
	CompletedAt   *time.Time
}

// History stores finished renders.
type History struct {
	db *gorm.DB
}

// OpenHistory opens (or creates) the database at path and migrates it.
func OpenHistory(path string) (*History, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Render{}); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &History{db: db}, nil
}

// Record saves a terminal job snapshot. Recording the same job twice
// updates the existing row.
func (h *History) Record(ctx context.Context, snap model.JobSnapshot) error {
	row := Render{
		JobID:         snap.JobID,
		VideoPath:     snap.VideoPath,
		TelemetryPath: snap.TelemetryPath,
		OutputPath:    snap.OutputPath,
		OutputURL:     snap.OutputURL,
		Status:        string(snap.Status),
		Message:       snap.Message,
		OffsetSeconds: snap.OffsetSeconds,
		SyncSuccess:   snap.SyncSuccess,
		Frames:        snap.FramesProcessed,
		CreatedAt:     snap.CreatedAt,
		CompletedAt:   snap.CompletedAt,
	}

	var existing Render
	err := h.db.WithContext(ctx).Where("job_id = ?", snap.JobID).First(&existing).Error
	switch {
	case err == nil:
		row.ID = existing.ID
		return h.db.WithContext(ctx).Save(&row).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return h.db.WithContext(ctx).Create(&row).Error
	default:
		return err
	}
}

// List returns the most recent renders, newest first.
func (h *History) List(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []Render
	if err := h.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.HistoryEntry, len(rows))
	for i, r := range rows {
		out[i] = r.entry()
	}
	return out, nil
}

// Get returns one render by job id.
func (h *History) Get(ctx context.Context, jobID string) (model.HistoryEntry, error) {
	var row Render
	err := h.db.WithContext(ctx).Where("job_id = ?", jobID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.HistoryEntry{}, model.ErrJobNotFound
	}
	if err != nil {
		return model.HistoryEntry{}, err
	}
	return row.entry(), nil
}

func (h *History) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r Render) entry() model.HistoryEntry {
	return model.HistoryEntry{
		JobID:         r.JobID,
		VideoPath:     r.VideoPath,
		TelemetryPath: r.TelemetryPath,
		OutputPath:    r.OutputPath,
		OutputURL:     r.OutputURL,
		Status:        model.JobStatus(r.Status),
		Message:       r.Message,
		OffsetSeconds: r.OffsetSeconds,
		SyncSuccess:   r.SyncSuccess,
		Frames:        r.Frames,
		CreatedAt:     r.CreatedAt,
		CompletedAt:   r.CompletedAt,
	}
}
