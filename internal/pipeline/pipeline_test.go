package pipeline

import (
	"context"
	"errors"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/veloverlay/api/internal/config"
	"github.com/veloverlay/api/internal/media/mediatest"
	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/internal/overlay"
	"github.com/veloverlay/api/internal/telemetry"
	"github.com/veloverlay/api/internal/telemetry/telemetrytest"
	"github.com/veloverlay/api/internal/timesync"
)

var trackStart = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// recordingRenderer returns transparent layers and records sampled times.
type recordingRenderer struct {
	mu       sync.Mutex
	times    []time.Time
	failAt   int
	onRender func(n int)
}

func (r *recordingRenderer) Render(s telemetry.Sample, _ overlay.Config, w, h int) (*image.RGBA, error) {
	r.mu.Lock()
	n := len(r.times)
	r.times = append(r.times, s.Time)
	r.mu.Unlock()
	if r.onRender != nil {
		r.onRender(n)
	}
	if r.failAt >= 0 && n == r.failAt {
		return nil, errors.New("glyph cache exploded")
	}
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}

type countingTiles struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (c *countingTiles) Tile(ctx context.Context, z, x, y int) (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fail {
		return nil, errors.New("tile server down")
	}
	return image.NewRGBA(image.Rect(0, 0, 256, 256)), nil
}

type fixture struct {
	p         *Pipeline
	codec     *mediatest.Codec
	renderer  *recordingRenderer
	video     string
	telemetry string
	output    string
}

func newFixture(t *testing.T, frames int, created *time.Time) *fixture {
	t.Helper()
	codec := mediatest.New(16, 8, 10, frames)
	codec.Info.CreationTime = created

	cfg := &config.Config{Pipeline: config.PipelineConfig{FrameBuffer: 4}}
	load := func(path string) (*telemetry.Track, error) {
		return telemetry.Load(path, telemetry.DefaultOptions())
	}
	rec := &recordingRenderer{failAt: -1}
	p := New(codec, timesync.NewResolver(codec, load, nil, time.Hour), cfg).
		WithRenderer(func(*telemetry.Track, overlay.Layout) (LayerRenderer, error) { return rec, nil })

	return &fixture{
		p:         p,
		codec:     codec,
		renderer:  rec,
		video:     telemetrytest.Touch(t, "ride.mp4"),
		telemetry: telemetrytest.WriteGPX(t, trackStart, 120),
		output:    filepath.Join(t.TempDir(), "out.mp4"),
	}
}

func (f *fixture) open(t *testing.T, offset *float64) *Job {
	t.Helper()
	job, err := f.p.Open(context.Background(), OpenRequest{
		VideoPath:     f.video,
		TelemetryPath: f.telemetry,
		OutputPath:    f.output,
		OffsetSeconds: offset,
		Overlay:       overlay.DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return job
}

func at(sec float64) time.Time {
	return trackStart.Add(time.Duration(math.Round(sec * float64(time.Second))))
}

func TestRunPreservesOrderAndTiming(t *testing.T) {
	created := trackStart.Add(5 * time.Second)
	f := newFixture(t, 30, &created)
	job := f.open(t, nil)
	if job.Offset != 5 || job.Warning != "" {
		t.Fatalf("offset=%v warning=%q", job.Offset, job.Warning)
	}

	var events []Progress
	if err := f.p.Run(context.Background(), job, func(p Progress) { events = append(events, p) }); err != nil {
		t.Fatalf("Run: %v", err)
	}

	written := f.codec.Written()
	if len(written) != 30 {
		t.Fatalf("wrote %d frames, want 30", len(written))
	}
	for i, v := range written {
		if int(v) != i {
			t.Fatalf("frame %d carries index %d", i, v)
		}
	}
	for i, ts := range f.renderer.times {
		if want := at(float64(i)/10 + 5); !ts.Equal(want) {
			t.Fatalf("frame %d sampled %v, want %v", i, ts, want)
		}
		if i > 0 && ts.Before(f.renderer.times[i-1]) {
			t.Fatalf("sample times went backwards at frame %d", i)
		}
	}

	last := -1
	for _, e := range events {
		if e.Percent < last {
			t.Fatalf("progress went backwards: %d after %d", e.Percent, last)
		}
		last = e.Percent
		if e.State == StateRendering && e.Percent > 99 {
			t.Fatalf("rendering progress reached %d", e.Percent)
		}
	}
	if final := events[len(events)-1]; final.State != StateCompleted || final.Percent != 100 {
		t.Fatalf("final event %+v", final)
	}
	if !f.codec.Closed() || f.codec.Aborted() {
		t.Fatal("sink should be closed, not aborted")
	}
	if st, err := os.Stat(f.output); err != nil || st.Size() == 0 {
		t.Fatalf("output missing or empty: %v", err)
	}
}

func TestManualOffsetOverridesSync(t *testing.T) {
	created := trackStart.Add(5 * time.Second)
	f := newFixture(t, 5, &created)
	manual := 12.5
	job := f.open(t, &manual)
	if job.Offset != 12.5 {
		t.Fatalf("offset = %v", job.Offset)
	}
	if err := f.p.Run(context.Background(), job, nil); err != nil {
		t.Fatal(err)
	}
	if got := f.renderer.times[0]; !got.Equal(at(12.5)) {
		t.Fatalf("first sample at %v", got)
	}
}

func TestOpenWithoutCreationTimeUsesZeroOffset(t *testing.T) {
	f := newFixture(t, 5, nil)
	job := f.open(t, nil)
	if job.Offset != 0 || job.Sync.Success {
		t.Fatalf("offset=%v success=%v", job.Offset, job.Sync.Success)
	}
	if !strings.Contains(job.Warning, "sync unavailable") {
		t.Fatalf("warning = %q", job.Warning)
	}
	if err := f.p.Run(context.Background(), job, nil); err != nil {
		t.Fatal(err)
	}
	if got := f.renderer.times[0]; !got.Equal(trackStart) {
		t.Fatalf("first sample at %v", got)
	}
}

func TestRunCancelStopsAtFrameBoundary(t *testing.T) {
	f := newFixture(t, 200, nil)
	job := f.open(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.renderer.onRender = func(n int) {
		if n == 50 {
			cancel()
		}
	}

	var lastState State
	err := f.p.Run(ctx, job, func(p Progress) { lastState = p.State })
	if !errors.Is(err, model.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if n := len(f.codec.Written()); n > 51 {
		t.Fatalf("wrote %d frames after cancelling at 50", n)
	}
	if !f.codec.Aborted() {
		t.Fatal("sink not aborted")
	}
	if _, err := os.Stat(f.output); !os.IsNotExist(err) {
		t.Fatalf("partial output left behind: %v", err)
	}
	if lastState != StateCancelled {
		t.Fatalf("last state %s", lastState)
	}
}

func TestRunRenderFailureAborts(t *testing.T) {
	f := newFixture(t, 20, nil)
	f.renderer.failAt = 3
	job := f.open(t, nil)

	err := f.p.Run(context.Background(), job, nil)
	if !errors.Is(err, model.ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
	if len(f.codec.Written()) != 3 || !f.codec.Aborted() {
		t.Fatalf("written=%d aborted=%v", len(f.codec.Written()), f.codec.Aborted())
	}
	if _, err := os.Stat(f.output); !os.IsNotExist(err) {
		t.Fatal("partial output left behind")
	}
}

func TestRunEncodeFailureAborts(t *testing.T) {
	f := newFixture(t, 20, nil)
	f.codec.FailWriteAt = 2
	job := f.open(t, nil)

	var lastState State
	err := f.p.Run(context.Background(), job, func(p Progress) { lastState = p.State })
	if !errors.Is(err, model.ErrEncode) {
		t.Fatalf("expected ErrEncode, got %v", err)
	}
	if lastState != StateFailed || !f.codec.Aborted() {
		t.Fatalf("state=%s aborted=%v", lastState, f.codec.Aborted())
	}
}

func TestOpenErrors(t *testing.T) {
	f := newFixture(t, 5, nil)
	badGPX := telemetrytest.Touch(t, "broken.gpx")
	ctx := context.Background()

	cases := []struct {
		name string
		req  OpenRequest
		want error
	}{
		{"missing video", OpenRequest{VideoPath: "/nonexistent.mp4", TelemetryPath: f.telemetry}, model.ErrInput},
		{"missing telemetry", OpenRequest{VideoPath: f.video, TelemetryPath: "/nonexistent.fit"}, model.ErrInput},
		{"malformed telemetry", OpenRequest{VideoPath: f.video, TelemetryPath: badGPX}, model.ErrParse},
		{"missing output dir", OpenRequest{VideoPath: f.video, TelemetryPath: f.telemetry, OutputPath: "/nonexistent/dir/out.mp4"}, model.ErrInput},
		{"output over input", OpenRequest{VideoPath: f.video, TelemetryPath: f.telemetry, OutputPath: f.video}, model.ErrInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.p.Open(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	f.codec.ProbeErr = model.ErrInput
	if _, err := f.p.Open(ctx, OpenRequest{VideoPath: f.video, TelemetryPath: f.telemetry}); !errors.Is(err, model.ErrInput) {
		t.Fatalf("unprobeable video: got %v", err)
	}
	if f.codec.SinkOpened() {
		t.Fatal("sink opened by a failed open")
	}
}

func TestOpenStopsWhenContextEnds(t *testing.T) {
	f := newFixture(t, 5, nil)
	req := OpenRequest{VideoPath: f.video, TelemetryPath: f.telemetry}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.p.Open(ctx, req); !errors.Is(err, model.ErrCancelled) {
		t.Fatalf("cancelled open: got %v", err)
	}

	ctx, cancel = context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if _, err := f.p.Open(ctx, req); !errors.Is(err, model.ErrTimeout) {
		t.Fatalf("expired open: got %v", err)
	}
	if n := f.codec.Probes(); n != 0 {
		t.Fatalf("video probed %d times after the caller gave up", n)
	}
}

func TestOpenLoadsBasemapPerJob(t *testing.T) {
	f := newFixture(t, 5, nil)
	tiles := &countingTiles{}
	var layout overlay.Layout
	f.p.WithBasemap(tiles).WithRenderer(func(_ *telemetry.Track, l overlay.Layout) (LayerRenderer, error) {
		layout = l
		return f.renderer, nil
	})

	f.open(t, nil)
	if layout.Basemap.Len() == 0 || layout.Basemap.Len() != tiles.calls {
		t.Fatalf("basemap has %d tiles after %d requests", layout.Basemap.Len(), tiles.calls)
	}

	// hidden map: nothing fetched
	calls := tiles.calls
	hidden := overlay.DefaultConfig().With(overlay.Map, overlay.Settings{Enabled: false, Scale: 1, Opacity: 1})
	if _, err := f.p.Open(context.Background(), OpenRequest{VideoPath: f.video, TelemetryPath: f.telemetry, Overlay: hidden}); err != nil {
		t.Fatal(err)
	}
	if layout.Basemap != nil || tiles.calls != calls {
		t.Fatalf("hidden map still loaded tiles: %d requests", tiles.calls-calls)
	}

	// an unreachable tile server falls back to the plain panel
	tiles.fail = true
	f.open(t, nil)
	if layout.Basemap != nil {
		t.Fatal("expected no basemap when every tile fails")
	}
}

func TestRunWithOverlayRenderer(t *testing.T) {
	codec := mediatest.New(64, 36, 10, 12)
	load := func(path string) (*telemetry.Track, error) {
		return telemetry.Load(path, telemetry.DefaultOptions())
	}
	p := New(codec, timesync.NewResolver(codec, load, nil, time.Hour), &config.Config{})
	job, err := p.Open(context.Background(), OpenRequest{
		VideoPath:     telemetrytest.Touch(t, "clip.mp4"),
		TelemetryPath: telemetrytest.WriteGPX(t, trackStart, 30),
		OutputPath:    filepath.Join(t.TempDir(), "out.mp4"),
		Overlay:       overlay.DefaultConfig(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(codec.Written()) != 12 {
		t.Fatalf("wrote %d frames", len(codec.Written()))
	}
}
