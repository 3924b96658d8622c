package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veloverlay/api/internal/client"
	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/internal/pipeline"
	"github.com/veloverlay/api/internal/service"
)

// Error codes sent to subscribers when a job fails
const (
	CodeRenderFailed = "RENDER_ERROR"
	CodeEncodeFailed = "ENCODE_ERROR"
	CodeInputFailed  = "INPUT_ERROR"
	CodeJobFailed    = "JOB_FAILED"
)

const finishTimeout = 30 * time.Second

// DefaultLinkExpiry matches how long job records are kept.
const DefaultLinkExpiry = 24 * time.Hour

// StatusPublisher pushes job snapshots to subscribers. Implementations must
// not block the job for long.
type StatusPublisher interface {
	PublishStatus(snap model.JobSnapshot)
	PublishError(jobID, code, message string)
}

// HistoryRecorder stores terminal job snapshots.
type HistoryRecorder interface {
	Record(ctx context.Context, snap model.JobSnapshot) error
}

// RenderWorker runs generate jobs handed over by the RenderService
type RenderWorker struct {
	renderService *service.RenderService
	pipeline      *pipeline.Pipeline
	storage       client.StorageClient
	history       HistoryRecorder
	publishers    []StatusPublisher
	linkExpiry    time.Duration
}

// NewRenderWorker creates a render worker. storage and history may be nil.
func NewRenderWorker(renderService *service.RenderService, p *pipeline.Pipeline, storage client.StorageClient, history HistoryRecorder, publishers ...StatusPublisher) *RenderWorker {
	return &RenderWorker{
		renderService: renderService,
		pipeline:      p,
		storage:       storage,
		history:       history,
		publishers:    publishers,
		linkExpiry:    DefaultLinkExpiry,
	}
}

// WithLinkExpiry sets how long presigned output links stay valid when the
// bucket has no public URL.
func (w *RenderWorker) WithLinkExpiry(d time.Duration) *RenderWorker {
	if d > 0 {
		w.linkExpiry = d
	}
	return w
}

// Process runs one job to a terminal state. ctx is cancelled when the job
// is cancelled.
func (w *RenderWorker) Process(ctx context.Context, jobID string, job *pipeline.Job) {
	started := time.Now()
	slog.Info("starting render job", "job_id", jobID, "output", job.OutputPath)
	if job.Warning != "" {
		slog.Warn("render job sync warning", "job_id", jobID, "warning", job.Warning)
	}

	err := w.pipeline.Run(ctx, job, func(p pipeline.Progress) {
		if p.State == pipeline.StateCompleted || p.State == pipeline.StateFailed || p.State == pipeline.StateCancelled {
			return
		}
		w.updateProgress(jobID, p)
	})

	// the job context may already be cancelled; terminal bookkeeping uses its own
	finishCtx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	var snap model.JobSnapshot
	switch {
	case err == nil:
		url, warning := w.upload(finishCtx, jobID, job.OutputPath)
		snap, err = w.renderService.CompleteJob(finishCtx, jobID, url, warning)
		if err != nil {
			slog.Error("failed to mark job as completed", "job_id", jobID, "error", err)
			return
		}
		w.publish(snap)
		slog.Info("render job completed", "job_id", jobID,
			"frames", snap.FramesProcessed, "elapsed", time.Since(started).Round(time.Millisecond))

	case errors.Is(err, model.ErrCancelled):
		snap, err = w.renderService.CancelJob(finishCtx, jobID)
		if err != nil {
			slog.Error("failed to mark job as cancelled", "job_id", jobID, "error", err)
			return
		}
		w.publish(snap)
		slog.Info("render job cancelled", "job_id", jobID, "frames", snap.FramesProcessed)

	default:
		snap = w.failJob(finishCtx, jobID, err)
	}

	w.record(finishCtx, snap)
}

// upload copies the finished file to object storage when configured. A
// failed upload leaves the local file in place and becomes a warning.
func (w *RenderWorker) upload(ctx context.Context, jobID, path string) (string, string) {
	if w.storage == nil || !w.storage.IsConfigured() {
		return "", ""
	}
	key := w.storage.Key(jobID, path)
	url, err := w.storage.UploadFile(ctx, key, path)
	if err != nil {
		slog.Warn("upload failed", "job_id", jobID, "key", key, "error", err)
		return "", fmt.Sprintf("upload failed: %v", err)
	}
	if url == "" {
		url, err = w.storage.GetSignedURL(ctx, key, w.linkExpiry)
		if err != nil {
			slog.Warn("output link unavailable", "job_id", jobID, "key", key, "error", err)
			return "", fmt.Sprintf("uploaded to %s but no link could be signed: %v", key, err)
		}
	}
	slog.Info("render uploaded", "job_id", jobID, "key", key)
	return url, ""
}

func (w *RenderWorker) updateProgress(jobID string, p pipeline.Progress) {
	snap, err := w.renderService.UpdateJobProgress(context.Background(), jobID, p)
	if err != nil {
		slog.Warn("failed to update progress", "job_id", jobID, "error", err)
		return
	}
	w.publish(snap)
}

func (w *RenderWorker) failJob(ctx context.Context, jobID string, cause error) model.JobSnapshot {
	msg := cause.Error()
	snap, err := w.renderService.FailJob(ctx, jobID, msg)
	if err != nil {
		slog.Error("failed to mark job as failed", "job_id", jobID, "error", err)
	}
	slog.Error("render job failed", "job_id", jobID, "error", cause)

	w.publish(snap)
	code := failureCode(cause)
	for _, p := range w.publishers {
		p.PublishError(jobID, code, msg)
	}
	return snap
}

func (w *RenderWorker) publish(snap model.JobSnapshot) {
	if snap.JobID == "" {
		return
	}
	for _, p := range w.publishers {
		p.PublishStatus(snap)
	}
}

func (w *RenderWorker) record(ctx context.Context, snap model.JobSnapshot) {
	if w.history == nil || snap.JobID == "" {
		return
	}
	if err := w.history.Record(ctx, snap); err != nil {
		slog.Warn("failed to record history", "job_id", snap.JobID, "error", err)
	}
}

func failureCode(err error) string {
	switch {
	case errors.Is(err, model.ErrRender):
		return CodeRenderFailed
	case errors.Is(err, model.ErrEncode):
		return CodeEncodeFailed
	case errors.Is(err, model.ErrInput):
		return CodeInputFailed
	}
	return CodeJobFailed
}
