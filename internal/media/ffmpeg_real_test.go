package media

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/veloverlay/api/internal/config"
)

// These tests need ffmpeg and ffprobe on PATH and are skipped otherwise.

func requireFFmpeg(t *testing.T) *FFmpeg {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available: %v", bin, err)
		}
	}
	return NewFFmpeg(&config.MediaConfig{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		VideoCodec:  "mpeg4",
		AudioCodec:  "copy",
	})
}

func makeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	cmd := exec.Command("ffmpeg", "-v", "error", "-y",
		"-f", "lavfi", "-i", "testsrc=size=64x48:rate=10:duration=1",
		"-c:v", "mpeg4",
		"-metadata", "creation_time=2024-05-01T10:00:05Z",
		path,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("cannot create test clip: %v: %s", err, out)
	}
	return path
}

func TestFFmpegRoundTrip(t *testing.T) {
	codec := requireFFmpeg(t)
	clip := makeClip(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	info, err := codec.Probe(ctx, clip)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Width != 64 || info.Height != 48 {
		t.Fatalf("unexpected size %dx%d", info.Width, info.Height)
	}
	if info.CreationTime == nil {
		t.Error("expected creation time from metadata")
	}

	src, err := codec.OpenSource(ctx, clip, info)
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	out := filepath.Join(t.TempDir(), "out.mp4")
	sink, err := codec.OpenSink(ctx, out, info, clip)
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}

	frames := 0
	for {
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if err := sink.WriteFrame(frame); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		frames++
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("sink Close: %v", err)
	}
	if frames != 10 {
		t.Errorf("expected 10 frames, got %d", frames)
	}

	outInfo, err := codec.Probe(ctx, out)
	if err != nil {
		t.Fatalf("probe output: %v", err)
	}
	if outInfo.Width != 64 || outInfo.Height != 48 {
		t.Errorf("output size changed: %dx%d", outInfo.Width, outInfo.Height)
	}

	frame, err := codec.ExtractFrame(ctx, clip, 0.5, info)
	if err != nil {
		t.Fatalf("ExtractFrame: %v", err)
	}
	if frame.Bounds().Dx() != 64 {
		t.Errorf("unexpected extracted frame width %d", frame.Bounds().Dx())
	}
}

func TestFFmpegSinkAbortRemovesOutput(t *testing.T) {
	codec := requireFFmpeg(t)
	clip := makeClip(t)
	ctx := context.Background()

	info, err := codec.Probe(ctx, clip)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	out := filepath.Join(t.TempDir(), "partial.mp4")
	sink, err := codec.OpenSink(ctx, out, info, "")
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	if err := sink.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("expected partial output removed, stat err = %v", err)
	}
}
