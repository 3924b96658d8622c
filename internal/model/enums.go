package model

// Job status
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusError     JobStatus = "error"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCancelled, JobStatusError:
		return true
	}
	return false
}

// Telemetry file formats
type TelemetryFormat string

const (
	TelemetryFormatFIT TelemetryFormat = "fit"
	TelemetryFormatGPX TelemetryFormat = "gpx"
)

// Speed units shown in the overlay
type Units string

const (
	UnitsMetric   Units = "metric"
	UnitsImperial Units = "imperial"
)
