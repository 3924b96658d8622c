package service

import (
	"context"

	"github.com/veloverlay/api/internal/media"
	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/internal/timesync"
)

// SyncService answers offset and metadata queries for the UI.
type SyncService struct {
	resolver *timesync.Resolver
	prober   timesync.Prober
}

func NewSyncService(resolver *timesync.Resolver, prober timesync.Prober) *SyncService {
	return &SyncService{resolver: resolver, prober: prober}
}

// CalculateSync resolves the offset for a video/telemetry pair. A video
// without creation time is reported with Success=false, not an error.
func (s *SyncService) CalculateSync(ctx context.Context, req *model.SyncRequest) (model.SyncResult, error) {
	return s.resolver.Resolve(ctx, req.VideoPath, req.FitPath)
}

// VideoInfo returns the metadata of a video file.
func (s *SyncService) VideoInfo(ctx context.Context, path string) (*model.VideoInfoResponse, error) {
	info, err := s.prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return videoInfoResponse(info), nil
}

func videoInfoResponse(info *media.VideoInfo) *model.VideoInfoResponse {
	return &model.VideoInfoResponse{
		Width:        info.Width,
		Height:       info.Height,
		Duration:     info.Duration,
		FPS:          info.FPS,
		TotalFrames:  info.TotalFrames,
		HasAudio:     info.HasAudio,
		CreationTime: info.CreationTime,
	}
}
