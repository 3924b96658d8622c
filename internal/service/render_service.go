package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/internal/overlay"
	"github.com/veloverlay/api/internal/pipeline"
)

const (
	jobTTL     = 24 * time.Hour
	maxRecent  = 32
	jobKeyBase = "job:"
)

// JobRunner executes an opened job to completion. It is called on the job's
// own goroutine and must report the outcome through the RenderService.
type JobRunner interface {
	Process(ctx context.Context, jobID string, job *pipeline.Job)
}

type activeJob struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// RenderService owns the single generate slot and the job records. Readers
// always get copies; only the running job's goroutine mutates its record.
type RenderService struct {
	pipeline *pipeline.Pipeline
	redis    *redis.Client
	runner   JobRunner

	mu     sync.RWMutex
	active *activeJob
	latest string
	jobs   map[string]*model.JobSnapshot
	order  []string
}

// NewRenderService creates the job controller. redisClient may be nil, in
// which case job records live only in memory.
func NewRenderService(p *pipeline.Pipeline, redisClient *redis.Client) *RenderService {
	return &RenderService{
		pipeline: p,
		redis:    redisClient,
		jobs:     make(map[string]*model.JobSnapshot),
	}
}

// SetRunner wires the worker that processes started jobs.
func (s *RenderService) SetRunner(r JobRunner) {
	s.runner = r
}

// StartGenerate opens the inputs and hands the job to the runner. It returns
// once the job is Rendering; input and parse errors are returned before any
// job record exists. A second call while a job is active fails with ErrBusy.
func (s *RenderService) StartGenerate(ctx context.Context, req *model.GenerateRequest) (model.JobSnapshot, error) {
	if s.runner == nil {
		return model.JobSnapshot{}, errors.New("render service has no runner")
	}
	jobID := uuid.New().String()
	jobCtx, cancel := context.WithCancel(context.Background())
	slot := &activeJob{id: jobID, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		cancel()
		return model.JobSnapshot{}, model.ErrBusy
	}
	s.active = slot
	s.mu.Unlock()

	job, err := s.pipeline.Open(ctx, pipeline.OpenRequest{
		VideoPath:     req.VideoPath,
		TelemetryPath: req.FitPath,
		OutputPath:    req.OutputPath,
		OffsetSeconds: req.OffsetSeconds,
		Overlay:       OverlayConfig(req.Config),
	})
	if err != nil {
		s.release(slot)
		return model.JobSnapshot{}, err
	}

	now := time.Now()
	snap := &model.JobSnapshot{
		JobID:         jobID,
		Status:        model.JobStatusRunning,
		State:         string(pipeline.StateRendering),
		Message:       "Starting render",
		Warning:       job.Warning,
		OffsetSeconds: job.Offset,
		SyncSuccess:   job.Sync.Success,
		VideoPath:     job.VideoPath,
		TelemetryPath: job.TelemetryPath,
		OutputPath:    job.OutputPath,
		TotalFrames:   job.Info.TotalFrames,
		CreatedAt:     now,
		StartedAt:     &now,
	}

	s.mu.Lock()
	s.remember(snap)
	out := *snap
	s.mu.Unlock()
	s.saveJob(ctx, &out)

	slog.Info("generate job started", "job_id", jobID, "video", job.VideoPath,
		"frames", job.Info.TotalFrames, "offset", job.Offset, "sync", job.Sync.Success)

	go func() {
		defer s.release(slot)
		s.runner.Process(jobCtx, jobID, job)
	}()
	return out, nil
}

func (s *RenderService) release(slot *activeJob) {
	slot.cancel()
	s.mu.Lock()
	if s.active == slot {
		s.active = nil
	}
	s.mu.Unlock()
	close(slot.done)
}

// remember stores snap as the latest record. Callers hold s.mu.
func (s *RenderService) remember(snap *model.JobSnapshot) {
	s.jobs[snap.JobID] = snap
	s.latest = snap.JobID
	s.order = append(s.order, snap.JobID)
	for len(s.order) > maxRecent {
		delete(s.jobs, s.order[0])
		s.order = s.order[1:]
	}
}

// Status returns the latest job's snapshot, or the idle snapshot.
func (s *RenderService) Status() model.JobSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if snap, ok := s.jobs[s.latest]; ok {
		return *snap
	}
	return model.IdleSnapshot()
}

// StatusByID returns a copy of a job's record from memory or redis.
func (s *RenderService) StatusByID(ctx context.Context, jobID string) (model.JobSnapshot, error) {
	s.mu.RLock()
	snap, ok := s.jobs[jobID]
	var out model.JobSnapshot
	if ok {
		out = *snap
	}
	s.mu.RUnlock()
	if ok {
		return out, nil
	}
	return s.getJob(ctx, jobID)
}

// Cancel signals the running job to stop at the next frame boundary.
func (s *RenderService) Cancel(ctx context.Context, jobID string) (*model.CancelResponse, error) {
	s.mu.Lock()
	if s.active != nil && s.active.id == jobID {
		s.active.cancel()
		if snap, ok := s.jobs[jobID]; ok {
			snap.Message = "Cancelling"
		}
		s.mu.Unlock()
		slog.Info("generate job cancel requested", "job_id", jobID)
		return &model.CancelResponse{Success: true, JobID: jobID, Status: model.JobStatusCancelled}, nil
	}
	s.mu.Unlock()

	snap, err := s.StatusByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if snap.Status.Terminal() {
		return nil, fmt.Errorf("%w: status is %s", model.ErrJobFinished, snap.Status)
	}
	return nil, model.ErrJobNotFound
}

// Wait blocks until no job is active or ctx ends.
func (s *RenderService) Wait(ctx context.Context) error {
	s.mu.RLock()
	slot := s.active
	s.mu.RUnlock()
	if slot == nil {
		return nil
	}
	select {
	case <-slot.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels the active job and waits for it to clean up.
func (s *RenderService) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	if s.active != nil {
		s.active.cancel()
	}
	s.mu.RUnlock()
	return s.Wait(ctx)
}

// UpdateJobProgress records a progress event (called by worker). Progress
// never decreases.
func (s *RenderService) UpdateJobProgress(ctx context.Context, jobID string, p pipeline.Progress) (model.JobSnapshot, error) {
	return s.update(ctx, jobID, func(snap *model.JobSnapshot) {
		snap.Progress = max(snap.Progress, min(p.Percent, 99))
		snap.State = string(p.State)
		snap.FramesProcessed = p.Frames
		if p.Total > 0 {
			snap.TotalFrames = p.Total
		}
		if p.Message != "" {
			snap.Message = p.Message
		}
	})
}

// CompleteJob marks job as completed (called by worker)
func (s *RenderService) CompleteJob(ctx context.Context, jobID, outputURL, warning string) (model.JobSnapshot, error) {
	return s.update(ctx, jobID, func(snap *model.JobSnapshot) {
		now := time.Now()
		snap.Status = model.JobStatusCompleted
		snap.State = string(pipeline.StateCompleted)
		snap.Progress = 100
		snap.Message = "Video generated successfully"
		snap.OutputURL = outputURL
		if warning != "" {
			snap.Warning = joinWarnings(snap.Warning, warning)
		}
		snap.CompletedAt = &now
	})
}

// FailJob marks job as failed (called by worker)
func (s *RenderService) FailJob(ctx context.Context, jobID string, errMsg string) (model.JobSnapshot, error) {
	return s.update(ctx, jobID, func(snap *model.JobSnapshot) {
		now := time.Now()
		snap.Status = model.JobStatusError
		snap.State = string(pipeline.StateFailed)
		snap.Message = errMsg
		snap.Error = &errMsg
		snap.CompletedAt = &now
	})
}

// CancelJob marks job as cancelled (called by worker)
func (s *RenderService) CancelJob(ctx context.Context, jobID string) (model.JobSnapshot, error) {
	return s.update(ctx, jobID, func(snap *model.JobSnapshot) {
		now := time.Now()
		snap.Status = model.JobStatusCancelled
		snap.State = string(pipeline.StateCancelled)
		snap.Message = "Render cancelled"
		snap.CompletedAt = &now
	})
}

func (s *RenderService) update(ctx context.Context, jobID string, fn func(*model.JobSnapshot)) (model.JobSnapshot, error) {
	s.mu.Lock()
	snap, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return model.JobSnapshot{}, fmt.Errorf("%w: %s", model.ErrJobNotFound, jobID)
	}
	if snap.Status.Terminal() {
		out := *snap
		s.mu.Unlock()
		return out, nil
	}
	fn(snap)
	out := *snap
	s.mu.Unlock()

	if out.Status.Terminal() {
		s.saveJob(ctx, &out)
	}
	return out, nil
}

// Helper methods

func (s *RenderService) saveJob(ctx context.Context, job *model.JobSnapshot) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		slog.Warn("marshal job", "job_id", job.JobID, "error", err)
		return
	}
	if err := s.redis.Set(ctx, jobKeyBase+job.JobID, data, jobTTL).Err(); err != nil {
		slog.Warn("save job", "job_id", job.JobID, "error", err)
	}
}

func (s *RenderService) getJob(ctx context.Context, jobID string) (model.JobSnapshot, error) {
	if s.redis == nil {
		return model.JobSnapshot{}, model.ErrJobNotFound
	}
	data, err := s.redis.Get(ctx, jobKeyBase+jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.JobSnapshot{}, model.ErrJobNotFound
		}
		return model.JobSnapshot{}, err
	}

	var job model.JobSnapshot
	if err := json.Unmarshal(data, &job); err != nil {
		return model.JobSnapshot{}, err
	}
	return job, nil
}

// OverlayConfig converts client settings into a renderer config.
func OverlayConfig(settings model.OverlaySettings) overlay.Config {
	patches := make(map[string]overlay.Patch, len(settings))
	for id, st := range settings {
		patches[id] = overlay.Patch{Enabled: st.Enabled, Scale: st.Scale, Opacity: st.Opacity}
	}
	return overlay.ConfigFrom(patches)
}

func joinWarnings(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
