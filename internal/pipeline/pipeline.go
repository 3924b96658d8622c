// Package pipeline turns a video and a telemetry track into an overlaid video.
// A job moves Opening -> Rendering -> Finalizing and ends Completed, Failed or
// Cancelled. Frames are decoded, overlaid and encoded strictly in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/veloverlay/api/internal/config"
	"github.com/veloverlay/api/internal/media"
	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/internal/overlay"
	"github.com/veloverlay/api/internal/telemetry"
	"github.com/veloverlay/api/internal/timesync"
)

type State string

const (
	StateIdle       State = "idle"
	StateOpening    State = "opening"
	StateRendering  State = "rendering"
	StateFinalizing State = "finalizing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// LayerRenderer draws the overlay layer for one sample.
type LayerRenderer interface {
	Render(sample telemetry.Sample, cfg overlay.Config, w, h int) (*image.RGBA, error)
}

// RendererFactory builds a renderer bound to a track.
type RendererFactory func(track *telemetry.Track, layout overlay.Layout) (LayerRenderer, error)

func defaultRenderer(track *telemetry.Track, layout overlay.Layout) (LayerRenderer, error) {
	return overlay.NewRenderer(track, layout)
}

// OpenRequest names the inputs of a job. OutputPath is empty for previews.
type OpenRequest struct {
	VideoPath     string
	TelemetryPath string
	OutputPath    string
	// OffsetSeconds overrides the resolved sync offset when set.
	OffsetSeconds *float64
	Overlay       overlay.Config
}

// Job is an opened, ready to run unit of work. It exclusively owns its track
// and renderer.
type Job struct {
	VideoPath     string
	TelemetryPath string
	OutputPath    string

	Track    *telemetry.Track
	Info     *media.VideoInfo
	Sync     model.SyncResult
	Offset   float64
	Warning  string
	Overlay  overlay.Config
	Renderer LayerRenderer
}

// Progress is one status event emitted while a job runs.
type Progress struct {
	State   State
	Percent int
	Frames  int
	Total   int
	Message string
}

// Observer receives progress events on the job's goroutine.
type Observer func(Progress)

type Pipeline struct {
	codec       media.Codec
	resolver    *timesync.Resolver
	trackOpts   telemetry.Options
	layout      overlay.Layout
	interval    time.Duration
	buffer      int
	newRenderer RendererFactory
	now         func() time.Time

	tiles       overlay.TileFetcher
	maxTiles    int
	tileTimeout time.Duration
}

func New(codec media.Codec, resolver *timesync.Resolver, cfg *config.Config) *Pipeline {
	buffer := cfg.Pipeline.FrameBuffer
	if buffer <= 0 {
		buffer = 1
	}
	return &Pipeline{
		codec:       codec,
		resolver:    resolver,
		trackOpts:   TrackOptions(cfg.Overlay),
		layout:      Layout(cfg.Overlay),
		interval:    cfg.Pipeline.ProgressInterval,
		buffer:      buffer,
		newRenderer: defaultRenderer,
		now:         time.Now,
		maxTiles:    cfg.Basemap.MaxTiles,
		tileTimeout: cfg.Basemap.Timeout,
	}
}

// WithRenderer replaces the overlay renderer factory.
func (p *Pipeline) WithRenderer(f RendererFactory) *Pipeline {
	p.newRenderer = f
	return p
}

// WithBasemap loads map tiles from tiles once per opened job. Without it the
// map is drawn on a plain panel.
func (p *Pipeline) WithBasemap(tiles overlay.TileFetcher) *Pipeline {
	p.tiles = tiles
	return p
}

// TrackOptions maps overlay config to telemetry sampling options.
func TrackOptions(cfg config.OverlayConfig) telemetry.Options {
	opts := telemetry.DefaultOptions()
	if cfg.GradeWindow > 0 {
		opts.GradeWindow = cfg.GradeWindow
	}
	if cfg.GradeMinDistance > 0 {
		opts.GradeMinDistance = cfg.GradeMinDistance
	}
	if cfg.GradeClamp > 0 {
		opts.GradeClamp = cfg.GradeClamp
	}
	return opts
}

// Layout maps overlay config to drawing constants.
func Layout(cfg config.OverlayConfig) overlay.Layout {
	l := overlay.DefaultLayout()
	if cfg.Units == string(model.UnitsMetric) {
		l.Units = model.UnitsMetric
	}
	if cfg.MapZoom > 0 {
		l.MapZoom = cfg.MapZoom
	}
	if cfg.MapSize > 0 {
		l.MapSize = float64(cfg.MapSize)
	}
	if cfg.ElevationWindow > 0 {
		l.ElevationWindow = cfg.ElevationWindow
	}
	if cfg.ElevationHeight > 0 {
		l.ElevationHeight = float64(cfg.ElevationHeight)
	}
	if cfg.ElevationResolution > 1 {
		l.ElevationResolution = cfg.ElevationResolution
	}
	return l
}

// Open validates the inputs, loads the track, probes the video and resolves
// the sync offset. A failed sync is not an error: the job proceeds with a zero
// offset and a warning.
func (p *Pipeline) Open(ctx context.Context, req OpenRequest) (*Job, error) {
	for _, path := range []string{req.VideoPath, req.TelemetryPath} {
		st, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInput, err)
		}
		if st.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", model.ErrInput, path)
		}
	}
	if req.OutputPath != "" {
		if filepath.Clean(req.OutputPath) == filepath.Clean(req.VideoPath) {
			return nil, fmt.Errorf("%w: output would overwrite the input video", model.ErrInput)
		}
		dir := filepath.Dir(req.OutputPath)
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			return nil, fmt.Errorf("%w: output directory %s does not exist", model.ErrInput, dir)
		}
	}

	track, err := telemetry.Load(req.TelemetryPath, p.trackOpts)
	if err != nil {
		return nil, err
	}
	// loading is not interruptible; a caller that gave up meanwhile gets no probe
	if err := stopped(ctx); err != nil {
		return nil, err
	}
	res, info, err := p.resolver.ResolveTrack(ctx, req.VideoPath, track)
	if err != nil {
		if stop := stopped(ctx); stop != nil {
			return nil, stop
		}
		return nil, err
	}
	if info.Width <= 0 || info.Height <= 0 || info.FPS <= 0 {
		return nil, fmt.Errorf("%w: %s has no usable video stream", model.ErrInput, req.VideoPath)
	}

	job := &Job{
		VideoPath:     req.VideoPath,
		TelemetryPath: req.TelemetryPath,
		OutputPath:    req.OutputPath,
		Track:         track,
		Info:          info,
		Sync:          res,
		Overlay:       req.Overlay,
	}
	switch {
	case req.OffsetSeconds != nil:
		job.Offset = *req.OffsetSeconds
	case res.Success:
		job.Offset = res.OffsetSeconds
	default:
		job.Warning = res.Message + "; using zero offset"
	}

	layout := p.layout
	layout.Basemap = p.loadBasemap(ctx, track, req.Overlay)
	job.Renderer, err = p.newRenderer(track, layout)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// loadBasemap returns nil when the map is hidden, the track has no positions
// or no tile could be fetched; the map then falls back to the plain panel.
func (p *Pipeline) loadBasemap(ctx context.Context, track *telemetry.Track, cfg overlay.Config) *overlay.Basemap {
	if p.tiles == nil || !track.HasPosition() {
		return nil
	}
	if st := cfg.Get(overlay.Map); !st.Enabled || st.Opacity <= 0 {
		return nil
	}
	if p.tileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.tileTimeout)
		defer cancel()
	}
	started := p.now()
	bm, err := overlay.LoadBasemap(ctx, p.tiles, track, p.layout, p.maxTiles)
	if err != nil {
		slog.Warn("basemap unavailable, drawing plain map panel", "error", err)
		return nil
	}
	slog.Debug("basemap loaded", "tiles", bm.Len(), "elapsed", p.now().Sub(started))
	return bm
}

// stopped maps an ended context to ErrTimeout or ErrCancelled.
func stopped(ctx context.Context) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", model.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", model.ErrCancelled, err)
	}
}

// TelemetryOffset maps a video presentation time to seconds after the
// track start.
func (j *Job) TelemetryOffset(videoSeconds float64) float64 {
	return videoSeconds + j.Offset
}

// FrameOffset maps a frame index to seconds after the track start.
func (j *Job) FrameOffset(index int) float64 {
	return j.TelemetryOffset(float64(index) / j.Info.FPS)
}

type decoded struct {
	seq   int
	frame *image.RGBA
	err   error
}

// Run renders every frame of the job's video into the output file. It
// returns ErrCancelled when ctx ends; the partial output is removed on any
// failure.
func (p *Pipeline) Run(ctx context.Context, job *Job, observe Observer) error {
	if observe == nil {
		observe = func(Progress) {}
	}
	total := job.Info.TotalFrames
	emit := func(state State, frames int, pct int, msg string) {
		observe(Progress{State: state, Percent: pct, Frames: frames, Total: total, Message: msg})
	}
	emit(StateRendering, 0, 0, "Rendering overlay")

	src, err := p.codec.OpenSource(ctx, job.VideoPath, job.Info)
	if err != nil {
		emit(StateFailed, 0, 0, err.Error())
		return err
	}
	sink, err := p.codec.OpenSink(ctx, job.OutputPath, job.Info, job.VideoPath)
	if err != nil {
		src.Close()
		emit(StateFailed, 0, 0, err.Error())
		return err
	}

	frames := make(chan decoded, p.buffer)
	decodeCtx, stopDecode := context.WithCancel(ctx)
	go decodeFrames(decodeCtx, src, frames)
	defer func() {
		stopDecode()
		src.Close()
		for range frames {
		}
	}()

	processed := 0
	fail := func(cause error) error {
		if aerr := sink.Abort(); aerr != nil {
			slog.Warn("abort encoder", "output", job.OutputPath, "error", aerr)
		}
		if errors.Is(cause, model.ErrCancelled) {
			emit(StateCancelled, processed, percent(processed, total), "Cancelled")
		} else {
			emit(StateFailed, processed, percent(processed, total), cause.Error())
		}
		return cause
	}
	cancelled := func() error {
		return fmt.Errorf("%w after %d frames", model.ErrCancelled, processed)
	}

	gate := progressGate{interval: p.interval, now: p.now}
	w, h := job.Info.Width, job.Info.Height
	for {
		// frame boundary
		if ctx.Err() != nil {
			return fail(cancelled())
		}
		var d decoded
		var ok bool
		select {
		case <-ctx.Done():
			return fail(cancelled())
		case d, ok = <-frames:
		}
		if !ok {
			if ctx.Err() != nil {
				return fail(cancelled())
			}
			break
		}
		if d.err != nil {
			return fail(fmt.Errorf("decode frame %d: %w", d.seq, d.err))
		}
		if d.seq != processed {
			return fail(fmt.Errorf("%w: frame %d arrived, expected %d", model.ErrRender, d.seq, processed))
		}

		sample := job.Track.SampleAtOffset(job.FrameOffset(d.seq))
		layer, err := job.Renderer.Render(sample, job.Overlay, w, h)
		if err != nil {
			return fail(fmt.Errorf("%w: frame %d: %v", model.ErrRender, d.seq, err))
		}
		overlay.Composite(d.frame, layer)
		if err := sink.WriteFrame(d.frame); err != nil {
			return fail(fmt.Errorf("frame %d: %w", d.seq, err))
		}
		processed++

		if pct := percent(processed, total); gate.allow(pct) {
			emit(StateRendering, processed, pct, fmt.Sprintf("Rendering frame %d of %d", processed, total))
		}
	}

	if processed == 0 {
		return fail(fmt.Errorf("%w: no frames decoded from %s", model.ErrInput, job.VideoPath))
	}

	emit(StateFinalizing, processed, percent(processed, total), "Finalizing video")
	if err := sink.Close(); err != nil {
		return fail(err)
	}
	if err := p.verifyOutput(ctx, job.OutputPath); err != nil {
		return fail(err)
	}
	emit(StateCompleted, processed, 100, "Video generated successfully")
	return nil
}

func decodeFrames(ctx context.Context, src media.FrameSource, out chan<- decoded) {
	defer close(out)
	for seq := 0; ; seq++ {
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		select {
		case out <- decoded{seq: seq, frame: frame, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// verifyOutput checks that the finished file exists, is non-empty and probes
// as a video.
func (p *Pipeline) verifyOutput(ctx context.Context, path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: output missing: %v", model.ErrEncode, err)
	}
	if st.Size() == 0 {
		return fmt.Errorf("%w: output %s is empty", model.ErrEncode, path)
	}
	if _, err := p.codec.Probe(ctx, path); err != nil {
		return fmt.Errorf("%w: output unreadable: %v", model.ErrEncode, err)
	}
	return nil
}
