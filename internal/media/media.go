// Package media talks to the external codec tools. Frames cross the process
// boundary as raw RGBA so the rest of the system never sees a container or codec.
package media

import (
	"context"
	"image"
	"time"
)

// VideoInfo is the subset of container metadata the overlay pipeline needs.
type VideoInfo struct {
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	FPS          float64    `json:"fps"`
	FrameRate    string     `json:"frameRate"` // exact rational, e.g. 30000/1001
	Duration     float64    `json:"duration"`  // seconds
	TotalFrames  int        `json:"totalFrames"`
	HasAudio     bool       `json:"hasAudio"`
	Codec        string     `json:"codec"`
	CreationTime *time.Time `json:"creationTime,omitempty"`
}

// FrameSource yields decoded frames in presentation order. Next returns
// io.EOF after the last frame.
type FrameSource interface {
	Next() (*image.RGBA, error)
	Close() error
}

// FrameSink accepts frames in order. Close finalizes the output file; Abort
// stops the encoder and removes whatever was written.
type FrameSink interface {
	WriteFrame(frame *image.RGBA) error
	Close() error
	Abort() error
}

// Codec is the decode/encode collaborator used by the frame pipeline.
type Codec interface {
	Probe(ctx context.Context, path string) (*VideoInfo, error)
	OpenSource(ctx context.Context, path string, info *VideoInfo) (FrameSource, error)
	OpenSink(ctx context.Context, output string, info *VideoInfo, audioFrom string) (FrameSink, error)
	ExtractFrame(ctx context.Context, path string, at float64, info *VideoInfo) (*image.RGBA, error)
}
