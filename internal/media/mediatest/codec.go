// Package mediatest provides an in-memory media.Codec for tests. Source
// frames are solid images whose red channel encodes the frame index, so a
// sink can verify ordering after compositing a transparent layer.
package mediatest

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"sync"

	"github.com/veloverlay/api/internal/media"
	"github.com/veloverlay/api/internal/model"
)

// Codec is a fake codec. Configure the exported fields before use.
type Codec struct {
	Info     media.VideoInfo
	ProbeErr error
	// Frames is the number of frames the source yields; 0 means Info.TotalFrames.
	Frames int
	// FailWriteAt makes the sink fail on that frame index; negative disables.
	FailWriteAt int
	// Hold, when set, blocks each source frame until a value is received.
	Hold chan struct{}
	// ExtractHold does the same for single-frame extraction.
	ExtractHold chan struct{}

	mu         sync.Mutex
	written    []uint8
	aborted    bool
	closed     bool
	probes     int
	extracts   []float64
	openedSink bool
}

// New returns a codec producing frames of the given size and rate.
func New(w, h int, fps float64, frames int) *Codec {
	return &Codec{
		Info: media.VideoInfo{
			Width:       w,
			Height:      h,
			FPS:         fps,
			FrameRate:   fmt.Sprintf("%g", fps),
			Duration:    float64(frames) / fps,
			TotalFrames: frames,
			Codec:       "fake",
		},
		FailWriteAt: -1,
	}
}

func (c *Codec) Probe(ctx context.Context, path string) (*media.VideoInfo, error) {
	c.mu.Lock()
	c.probes++
	c.mu.Unlock()
	if c.ProbeErr != nil {
		return nil, c.ProbeErr
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInput, err)
	}
	info := c.Info
	return &info, nil
}

func (c *Codec) OpenSource(ctx context.Context, path string, info *media.VideoInfo) (media.FrameSource, error) {
	n := c.Frames
	if n == 0 {
		n = c.Info.TotalFrames
	}
	return &source{codec: c, w: info.Width, h: info.Height, n: n, done: make(chan struct{})}, nil
}

func (c *Codec) OpenSink(ctx context.Context, output string, info *media.VideoInfo, audioFrom string) (media.FrameSink, error) {
	f, err := os.Create(output)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrEncode, err)
	}
	c.mu.Lock()
	c.openedSink = true
	c.written = nil
	c.mu.Unlock()
	return &sink{codec: c, f: f, path: output}, nil
}

func (c *Codec) ExtractFrame(ctx context.Context, path string, at float64, info *media.VideoInfo) (*image.RGBA, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInput, err)
	}
	c.mu.Lock()
	c.extracts = append(c.extracts, at)
	hold := c.ExtractHold
	c.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return Frame(info.Width, info.Height, int(at*info.FPS)), nil
}

// Frame returns the solid frame the fake source yields for index i.
func Frame(w, h, i int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	c := color.RGBA{R: uint8(i % 256), G: 40, B: 80, A: 255}
	for p := 0; p < len(img.Pix); p += 4 {
		img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// Written returns the red channel of the first pixel of every written frame.
func (c *Codec) Written() []uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint8(nil), c.written...)
}

func (c *Codec) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

func (c *Codec) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Codec) SinkOpened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openedSink
}

func (c *Codec) Probes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probes
}

func (c *Codec) Extracts() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.extracts...)
}

type source struct {
	codec *Codec
	w, h  int
	n     int
	i     int

	once sync.Once
	done chan struct{}
}

func (s *source) Next() (*image.RGBA, error) {
	if s.i >= s.n {
		return nil, io.EOF
	}
	if hold := s.codec.Hold; hold != nil {
		select {
		case <-hold:
		case <-s.done:
			return nil, io.EOF
		}
	}
	img := Frame(s.w, s.h, s.i)
	s.i++
	return img, nil
}

func (s *source) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type sink struct {
	codec *Codec
	f     *os.File
	path  string
	n     int
}

func (s *sink) WriteFrame(frame *image.RGBA) error {
	if s.codec.FailWriteAt >= 0 && s.n == s.codec.FailWriteAt {
		return fmt.Errorf("%w: disk full", model.ErrEncode)
	}
	if _, err := s.f.Write(frame.Pix[:4]); err != nil {
		return fmt.Errorf("%w: %v", model.ErrEncode, err)
	}
	s.codec.mu.Lock()
	s.codec.written = append(s.codec.written, frame.Pix[0])
	s.codec.mu.Unlock()
	s.n++
	return nil
}

func (s *sink) Close() error {
	s.codec.mu.Lock()
	s.codec.closed = true
	s.codec.mu.Unlock()
	return s.f.Close()
}

func (s *sink) Abort() error {
	s.codec.mu.Lock()
	s.codec.aborted = true
	s.codec.mu.Unlock()
	s.f.Close()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
