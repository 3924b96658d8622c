// Package timesync finds the offset between the telemetry clock and the
// video timeline from the video's recorded creation time.
package timesync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/veloverlay/api/internal/media"
	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/internal/telemetry"
)

// Prober reads video metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (*media.VideoInfo, error)
}

// TrackLoader loads a telemetry file.
type TrackLoader func(path string) (*telemetry.Track, error)

// Resolver computes sync offsets and caches them per file version.
type Resolver struct {
	prober Prober
	load   TrackLoader
	cache  Cache
	ttl    time.Duration
}

func NewResolver(prober Prober, load TrackLoader, cache Cache, ttl time.Duration) *Resolver {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Resolver{prober: prober, load: load, cache: cache, ttl: ttl}
}

// Resolve returns the offset for a video/telemetry pair. A video without a
// usable creation time gives Success=false and a nil error; unreadable files
// return ErrInput or ErrParse.
func (r *Resolver) Resolve(ctx context.Context, videoPath, telemetryPath string) (model.SyncResult, error) {
	key, err := cacheKey(videoPath, telemetryPath)
	if err != nil {
		return model.SyncResult{}, err
	}
	if res, ok := r.cache.Get(ctx, key); ok {
		return res, nil
	}

	track, err := r.load(telemetryPath)
	if err != nil {
		return model.SyncResult{}, err
	}
	info, err := r.prober.Probe(ctx, videoPath)
	if err != nil {
		return model.SyncResult{}, err
	}

	res := Compute(info, track)
	r.cache.Set(ctx, key, res, r.ttl)
	return res, nil
}

// ResolveTrack computes the offset for an already loaded track.
func (r *Resolver) ResolveTrack(ctx context.Context, videoPath string, track *telemetry.Track) (model.SyncResult, *media.VideoInfo, error) {
	info, err := r.prober.Probe(ctx, videoPath)
	if err != nil {
		return model.SyncResult{}, nil, err
	}
	return Compute(info, track), info, nil
}

// Compute derives offset = video creation time - first telemetry timestamp.
func Compute(info *media.VideoInfo, track *telemetry.Track) model.SyncResult {
	start := track.Start()
	res := model.SyncResult{TelemetryStart: &start}

	if info.CreationTime == nil {
		res.Message = fmt.Sprintf("%v: video has no creation_time metadata", model.ErrSyncUnavailable)
		slog.Warn("sync unavailable", "reason", "missing creation_time")
		return res
	}

	created := *info.CreationTime
	res.VideoCreated = &created
	res.OffsetSeconds = created.Sub(start).Seconds()
	res.Success = true

	switch {
	case res.OffsetSeconds < 0:
		res.Message = fmt.Sprintf("Video starts %.1fs before the activity", -res.OffsetSeconds)
	case res.OffsetSeconds > track.Duration().Seconds():
		res.Message = fmt.Sprintf("Video starts %.1fs after the activity ended", res.OffsetSeconds-track.Duration().Seconds())
	default:
		res.Message = fmt.Sprintf("Video starts %.1fs into the activity", res.OffsetSeconds)
	}
	return res
}

// cacheKey identifies a file pair by path, size and modification time so a
// replaced file never hits a stale entry.
func cacheKey(videoPath, telemetryPath string) (string, error) {
	h := sha256.New()
	for _, p := range []string{videoPath, telemetryPath} {
		st, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("%w: %v", model.ErrInput, err)
		}
		fmt.Fprintf(h, "%s|%d|%d;", p, st.Size(), st.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
