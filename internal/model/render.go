package model

import "time"

// ElementSettings is the per-element overlay configuration sent by clients.
// Absent fields fall back to enabled, scale 1.0 and opacity 1.0.
type ElementSettings struct {
	Enabled *bool    `json:"enabled"`
	Scale   *float64 `json:"scale" validate:"omitempty,gt=0,lte=10"`
	Opacity *float64 `json:"opacity" validate:"omitempty,gte=0,lte=1"`
}

// OverlaySettings maps element ids (speed, power, cadence, heart_rate,
// gradient, map, elevation) to their settings. Unknown ids are ignored.
type OverlaySettings map[string]ElementSettings

// GenerateRequest starts a full overlay render
type GenerateRequest struct {
	FitPath       string          `json:"fitPath" validate:"required"`
	VideoPath     string          `json:"videoPath" validate:"required"`
	OutputPath    string          `json:"outputPath" validate:"required"`
	OffsetSeconds *float64        `json:"offsetSeconds"`
	Config        OverlaySettings `json:"config"`
}

// PreviewRequest renders a single composited frame
type PreviewRequest struct {
	FitPath       string          `json:"fitPath" validate:"required"`
	VideoPath     string          `json:"videoPath" validate:"required"`
	Timestamp     float64         `json:"timestamp" validate:"gte=0"`
	OffsetSeconds *float64        `json:"offsetSeconds"`
	Config        OverlaySettings `json:"config"`
	// MaxWidth downscales the returned image; 0 keeps the video size.
	MaxWidth int `json:"maxWidth" validate:"omitempty,gte=16,lte=7680"`
}

// PreviewResponse carries a base64 encoded PNG frame
type PreviewResponse struct {
	Image           string  `json:"image"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	Timestamp       float64 `json:"timestamp"`
	OffsetSeconds   float64 `json:"offset"`
	TelemetryOffset float64 `json:"telemetryOffset"`
}

// SyncRequest asks for the offset between a video and a telemetry file
type SyncRequest struct {
	FitPath   string `json:"fitPath" validate:"required"`
	VideoPath string `json:"videoPath" validate:"required"`
}

// SyncResult is the outcome of sync resolution. Success=false is not an
// error: the caller may proceed with a zero or manual offset.
type SyncResult struct {
	OffsetSeconds  float64    `json:"offset"`
	VideoCreated   *time.Time `json:"video_created"`
	TelemetryStart *time.Time `json:"fit_start"`
	Success        bool       `json:"success"`
	Message        string     `json:"message"`
}

// VideoInfoRequest asks for video metadata
type VideoInfoRequest struct {
	VideoPath string `json:"videoPath" validate:"required"`
}

// VideoInfoResponse is the metadata of a video file
type VideoInfoResponse struct {
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	Duration     float64    `json:"duration"`
	FPS          float64    `json:"fps"`
	TotalFrames  int        `json:"totalFrames"`
	HasAudio     bool       `json:"hasAudio"`
	CreationTime *time.Time `json:"creationTime,omitempty"`
}

// CancelResponse is returned after a cancellation request
type CancelResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
}

// HistoryEntry is a finished render as returned by the history endpoint
type HistoryEntry struct {
	JobID         string     `json:"jobId"`
	VideoPath     string     `json:"videoPath"`
	TelemetryPath string     `json:"telemetryPath"`
	OutputPath    string     `json:"outputPath"`
	OutputURL     string     `json:"outputUrl,omitempty"`
	Status        JobStatus  `json:"status"`
	Message       string     `json:"message"`
	OffsetSeconds float64    `json:"offsetSeconds"`
	SyncSuccess   bool       `json:"syncSuccess"`
	Frames        int        `json:"frames"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}
