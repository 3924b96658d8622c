package timesync

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/veloverlay/api/internal/media"
	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/internal/telemetry"
)

var start = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeProber struct {
	info  *media.VideoInfo
	err   error
	calls int
}

func (p *fakeProber) Probe(context.Context, string) (*media.VideoInfo, error) {
	p.calls++
	return p.info, p.err
}

func testTrack(t *testing.T) *telemetry.Track {
	t.Helper()
	power := 200.0
	tr, err := telemetry.NewTrack([]telemetry.Sample{
		{Time: start, Power: &power},
		{Time: start.Add(time.Hour), Power: &power},
	}, telemetry.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func touch(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestComputeOffset(t *testing.T) {
	created := start.Add(5 * time.Second)
	res := Compute(&media.VideoInfo{CreationTime: &created}, testTrack(t))

	if !res.Success {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if math.Abs(res.OffsetSeconds-5.0) > 1e-9 {
		t.Errorf("expected offset 5.0, got %v", res.OffsetSeconds)
	}
	if res.TelemetryStart == nil || !res.TelemetryStart.Equal(start) {
		t.Errorf("unexpected telemetry start %v", res.TelemetryStart)
	}
}

func TestComputeNegativeOffset(t *testing.T) {
	created := start.Add(-30 * time.Second)
	res := Compute(&media.VideoInfo{CreationTime: &created}, testTrack(t))
	if !res.Success || res.OffsetSeconds != -30 {
		t.Errorf("expected offset -30, got %v (%s)", res.OffsetSeconds, res.Message)
	}
}

func TestComputeWithoutCreationTime(t *testing.T) {
	res := Compute(&media.VideoInfo{}, testTrack(t))

	if res.Success {
		t.Fatal("expected failure without creation time")
	}
	if res.OffsetSeconds != 0 {
		t.Errorf("expected zero offset, got %v", res.OffsetSeconds)
	}
	if !strings.Contains(res.Message, model.ErrSyncUnavailable.Error()) {
		t.Errorf("expected reason in message, got %q", res.Message)
	}
}

func TestResolveUsesCache(t *testing.T) {
	created := start.Add(5 * time.Second)
	prober := &fakeProber{info: &media.VideoInfo{CreationTime: &created}}
	loads := 0
	loader := func(string) (*telemetry.Track, error) {
		loads++
		return testTrack(t), nil
	}
	r := NewResolver(prober, loader, NewMemoryCache(), time.Hour)
	video, fit := touch(t, "video.mp4"), touch(t, "ride.fit")

	for i := 0; i < 3; i++ {
		res, err := r.Resolve(context.Background(), video, fit)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if res.OffsetSeconds != 5 {
			t.Errorf("expected offset 5, got %v", res.OffsetSeconds)
		}
	}
	if prober.calls != 1 || loads != 1 {
		t.Errorf("expected one probe and one load, got %d and %d", prober.calls, loads)
	}
}

func TestResolvePropagatesInputErrors(t *testing.T) {
	prober := &fakeProber{err: model.ErrInput}
	r := NewResolver(prober, func(string) (*telemetry.Track, error) { return testTrack(t), nil }, nil, time.Hour)

	_, err := r.Resolve(context.Background(), touch(t, "video.mp4"), touch(t, "ride.fit"))
	if !errors.Is(err, model.ErrInput) {
		t.Errorf("expected ErrInput, got %v", err)
	}

	_, err = r.Resolve(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), touch(t, "ride.fit"))
	if !errors.Is(err, model.ErrInput) {
		t.Errorf("missing file: expected ErrInput, got %v", err)
	}
}

func TestResolveParseError(t *testing.T) {
	prober := &fakeProber{info: &media.VideoInfo{}}
	r := NewResolver(prober, func(string) (*telemetry.Track, error) {
		return nil, model.ErrParse
	}, nil, time.Hour)

	_, err := r.Resolve(context.Background(), touch(t, "video.mp4"), touch(t, "ride.fit"))
	if !errors.Is(err, model.ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := start
	c.now = func() time.Time { return now }

	c.Set(context.Background(), "k", model.SyncResult{OffsetSeconds: 1, Success: true}, time.Minute)
	if _, ok := c.Get(context.Background(), "k"); !ok {
		t.Fatal("expected hit")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(client)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "pair"); ok {
		t.Fatal("expected miss on empty cache")
	}

	created := start.Add(5 * time.Second)
	c.Set(ctx, "pair", model.SyncResult{OffsetSeconds: 5, Success: true, VideoCreated: &created}, time.Hour)

	res, ok := c.Get(ctx, "pair")
	if !ok {
		t.Fatal("expected hit")
	}
	if res.OffsetSeconds != 5 || !res.Success || !res.VideoCreated.Equal(created) {
		t.Errorf("unexpected cached result %+v", res)
	}
	if ttl := mr.TTL("sync:pair"); ttl != time.Hour {
		t.Errorf("expected 1h ttl, got %v", ttl)
	}
}
