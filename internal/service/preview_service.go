package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"time"

	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/internal/overlay"
	"github.com/veloverlay/api/internal/pipeline"
)

// PreviewService renders single composited frames. It never waits on a
// running generate job: every preview opens its own track and decoder.
type PreviewService struct {
	pipeline *pipeline.Pipeline
	timeout  time.Duration
}

func NewPreviewService(p *pipeline.Pipeline, timeout time.Duration) *PreviewService {
	return &PreviewService{pipeline: p, timeout: timeout}
}

type previewResult struct {
	resp *model.PreviewResponse
	err  error
}

// GetPreview returns a base64 PNG of the frame at req.Timestamp. It fails
// with ErrTimeout when rendering exceeds the configured bound.
func (s *PreviewService) GetPreview(ctx context.Context, req *model.PreviewRequest) (*model.PreviewResponse, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan previewResult, 1)
	go func() {
		resp, err := s.render(ctx, req)
		done <- previewResult{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		slog.Warn("preview timed out", "video", req.VideoPath, "timestamp", req.Timestamp, "timeout", s.timeout)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: preview exceeded %s", model.ErrTimeout, s.timeout)
		}
		return nil, ctx.Err()
	}
}

func (s *PreviewService) render(ctx context.Context, req *model.PreviewRequest) (*model.PreviewResponse, error) {
	job, err := s.pipeline.Open(ctx, pipeline.OpenRequest{
		VideoPath:     req.VideoPath,
		TelemetryPath: req.FitPath,
		OffsetSeconds: req.OffsetSeconds,
		Overlay:       OverlayConfig(req.Config),
	})
	if err != nil {
		return nil, err
	}

	still, err := s.pipeline.Preview(ctx, job, req.Timestamp)
	if err != nil {
		return nil, err
	}

	img := overlay.Downscale(still.Image, req.MaxWidth)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: encode png: %v", model.ErrRender, err)
	}

	b := img.Bounds()
	return &model.PreviewResponse{
		Image:           "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:           b.Dx(),
		Height:          b.Dy(),
		Timestamp:       still.Timestamp,
		OffsetSeconds:   job.Offset,
		TelemetryOffset: still.TelemetryOffset,
	}, nil
}
