package model

import "errors"

// Error taxonomy shared by the telemetry, sync, render and job layers.
// Callers wrap these with fmt.Errorf("%w: ...") and match with errors.Is.
var (
	// ErrInput means a file is missing, unreadable or not a usable video.
	ErrInput = errors.New("input error")
	// ErrParse means the telemetry file is malformed or has no usable samples.
	ErrParse = errors.New("parse error")
	// ErrSyncUnavailable means the video has no readable creation time.
	ErrSyncUnavailable = errors.New("sync unavailable")
	ErrRender          = errors.New("render error")
	ErrEncode          = errors.New("encode error")
	// ErrBusy is returned when a generate job is already running.
	ErrBusy        = errors.New("a job is already running")
	ErrTimeout     = errors.New("timed out")
	ErrCancelled   = errors.New("cancelled")
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when cancelling a job that already reached a terminal state.
	ErrJobFinished = errors.New("job already finished")
)
