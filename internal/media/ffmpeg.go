package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/veloverlay/api/internal/config"
	"github.com/veloverlay/api/internal/model"
)

// FFmpeg implements Codec by running ffprobe and ffmpeg as child processes.
type FFmpeg struct {
	ffmpeg     string
	ffprobe    string
	videoCodec string
	preset     string
	crf        int
	audioCodec string
}

// NewFFmpeg creates a codec backed by the configured ffmpeg binaries.
func NewFFmpeg(cfg *config.MediaConfig) *FFmpeg {
	return &FFmpeg{
		ffmpeg:     cfg.FFmpegPath,
		ffprobe:    cfg.FFprobePath,
		videoCodec: cfg.VideoCodec,
		preset:     cfg.Preset,
		crf:        cfg.CRF,
		audioCodec: cfg.AudioCodec,
	}
}

// Probe reads stream and container metadata.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInput, err)
	}

	cmd := exec.CommandContext(ctx, f.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: ffprobe %s: %v: %s", model.ErrInput, path, err, tail(stderr.String()))
	}
	return parseProbe(out)
}

// OpenSource starts a decoder streaming raw RGBA frames of info's size.
func (f *FFmpeg) OpenSource(ctx context.Context, path string, info *VideoInfo) (FrameSource, error) {
	args := []string{
		"-v", "error",
		"-i", path,
		"-map", "0:v:0",
		"-an", "-sn",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, f.ffmpeg, args...)
	stderr := &limitedBuffer{max: 8 << 10}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: decoder pipe: %v", model.ErrInput, err)
	}

	slog.Debug("starting decoder", "path", path, "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start decoder: %v", model.ErrInput, err)
	}

	return &ffmpegSource{
		cmd:    cmd,
		out:    stdout,
		stderr: stderr,
		width:  info.Width,
		height: info.Height,
	}, nil
}

// OpenSink starts an encoder reading raw RGBA frames on stdin. Audio from
// audioFrom is copied through when present.
func (f *FFmpeg) OpenSink(ctx context.Context, output string, info *VideoInfo, audioFrom string) (FrameSink, error) {
	rate := info.FrameRate
	if rate == "" || parseRate(rate) <= 0 {
		rate = strconv.FormatFloat(info.FPS, 'f', -1, 64)
	}

	args := []string{
		"-y", "-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"-r", rate,
		"-i", "pipe:0",
	}
	if audioFrom != "" && info.HasAudio {
		args = append(args, "-i", audioFrom, "-map", "0:v:0", "-map", "1:a?", "-c:a", f.audioCodec)
	} else {
		args = append(args, "-map", "0:v:0")
	}
	args = append(args, "-c:v", f.videoCodec, "-pix_fmt", "yuv420p")
	if f.preset != "" {
		args = append(args, "-preset", f.preset)
	}
	if f.crf > 0 {
		args = append(args, "-crf", strconv.Itoa(f.crf))
	}
	args = append(args, "-shortest", output)

	// The encoder is not tied to ctx: cancellation goes through Abort so the
	// partial file is always cleaned up.
	cmd := exec.Command(f.ffmpeg, args...)
	stderr := &limitedBuffer{max: 8 << 10}
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: encoder pipe: %v", model.ErrEncode, err)
	}

	slog.Debug("starting encoder", "output", output, "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start encoder: %v", model.ErrEncode, err)
	}

	return &ffmpegSink{
		cmd:    cmd,
		in:     stdin,
		stderr: stderr,
		output: output,
		size:   info.Width * info.Height * 4,
	}, nil
}

// ExtractFrame decodes the single frame at timestamp at (seconds) with its
// own ffmpeg process, independent of any running job.
func (f *FFmpeg) ExtractFrame(ctx context.Context, path string, at float64, info *VideoInfo) (*image.RGBA, error) {
	cmd := exec.CommandContext(ctx, f.ffmpeg,
		"-v", "error",
		"-ss", strconv.FormatFloat(at, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-an", "-sn",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"pipe:1",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: extract frame at %.3fs: %v: %s", model.ErrInput, at, err, tail(stderr.String()))
	}

	img := image.NewRGBA(image.Rect(0, 0, info.Width, info.Height))
	if len(out) < len(img.Pix) {
		return nil, fmt.Errorf("%w: no frame at %.3fs", model.ErrInput, at)
	}
	copy(img.Pix, out)
	return img, nil
}

type ffmpegSource struct {
	cmd    *exec.Cmd
	out    io.ReadCloser
	stderr *limitedBuffer
	width  int
	height int

	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegSource) Next() (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	_, err := io.ReadFull(s.out, img.Pix)
	switch {
	case err == nil:
		return img, nil
	case errors.Is(err, io.EOF):
		if werr := s.Close(); werr != nil {
			return nil, werr
		}
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("%w: truncated frame from decoder: %s", model.ErrInput, tail(s.stderr.String()))
	default:
		return nil, fmt.Errorf("%w: read frame: %v", model.ErrInput, err)
	}
}

func (s *ffmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.out.Close()
		if err := s.cmd.Wait(); err != nil && !isKilled(err) {
			s.closeErr = fmt.Errorf("%w: decoder exited: %v: %s", model.ErrInput, err, tail(s.stderr.String()))
		}
	})
	return s.closeErr
}

type ffmpegSink struct {
	cmd    *exec.Cmd
	in     io.WriteCloser
	stderr *limitedBuffer
	output string
	size   int

	done bool
}

func (s *ffmpegSink) WriteFrame(frame *image.RGBA) error {
	if len(frame.Pix) != s.size {
		return fmt.Errorf("%w: frame is %d bytes, encoder expects %d", model.ErrEncode, len(frame.Pix), s.size)
	}
	if _, err := s.in.Write(frame.Pix); err != nil {
		return fmt.Errorf("%w: write frame: %v: %s", model.ErrEncode, err, tail(s.stderr.String()))
	}
	return nil
}

func (s *ffmpegSink) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	s.in.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("%w: encoder exited: %v: %s", model.ErrEncode, err, tail(s.stderr.String()))
	}
	return nil
}

func (s *ffmpegSink) Abort() error {
	if !s.done {
		s.done = true
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		s.in.Close()
		_ = s.cmd.Wait()
	}
	if err := os.Remove(s.output); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func isKilled(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && !exitErr.Exited()
}

// limitedBuffer keeps the first max bytes of a child's stderr.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 512 {
		return s[len(s)-512:]
	}
	return s
}
