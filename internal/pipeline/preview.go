package pipeline

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/internal/overlay"
)

// Still is a single composited preview frame.
type Still struct {
	Image *image.RGBA
	// Timestamp is the video time actually extracted, after clamping.
	Timestamp float64
	// TelemetryOffset is the matching position in the track, in seconds.
	TelemetryOffset float64
}

// Preview composites the overlay onto the frame at videoSeconds. It decodes
// through its own handle and never touches the encoder.
func (p *Pipeline) Preview(ctx context.Context, job *Job, videoSeconds float64) (*Still, error) {
	at := clampTimestamp(videoSeconds, job.Info.Duration, job.Info.FPS)

	frame, err := p.codec.ExtractFrame(ctx, job.VideoPath, at, job.Info)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrTimeout, ctx.Err())
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrTimeout, err)
	}

	offset := job.TelemetryOffset(at)
	sample := job.Track.SampleAtOffset(offset)
	b := frame.Bounds()
	layer, err := job.Renderer.Render(sample, job.Overlay, b.Dx(), b.Dy())
	if err != nil {
		return nil, fmt.Errorf("%w: preview: %v", model.ErrRender, err)
	}
	overlay.Composite(frame, layer)
	return &Still{Image: frame, Timestamp: at, TelemetryOffset: offset}, nil
}

// clampTimestamp keeps a seek inside the last frame of the video.
func clampTimestamp(at, duration, fps float64) float64 {
	if at < 0 || math.IsNaN(at) {
		return 0
	}
	if duration <= 0 {
		return at
	}
	last := duration
	if fps > 0 {
		last = math.Max(0, duration-1/fps)
	}
	return math.Min(at, last)
}
