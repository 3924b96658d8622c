package model

import "time"

// JobSnapshot is a point-in-time copy of a generate job's status.
// Readers always receive a copy; the live record stays with the job controller.
type JobSnapshot struct {
	JobID           string     `json:"jobId,omitempty"`
	Status          JobStatus  `json:"status"`
	State           string     `json:"state,omitempty"`
	Progress        int        `json:"progress"`
	Message         string     `json:"message"`
	Warning         string     `json:"warning,omitempty"`
	Error           *string    `json:"error,omitempty"`
	OffsetSeconds   float64    `json:"offsetSeconds"`
	SyncSuccess     bool       `json:"syncSuccess"`
	VideoPath       string     `json:"videoPath,omitempty"`
	TelemetryPath   string     `json:"telemetryPath,omitempty"`
	OutputPath      string     `json:"outputPath,omitempty"`
	OutputURL       string     `json:"outputUrl,omitempty"`
	FramesProcessed int        `json:"framesProcessed"`
	TotalFrames     int        `json:"totalFrames"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// IdleSnapshot is reported before any job has run.
func IdleSnapshot() JobSnapshot {
	return JobSnapshot{Status: JobStatusIdle, Message: "Ready"}
}
