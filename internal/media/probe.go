package media

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/veloverlay/api/internal/model"
)

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
}

type probeStream struct {
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	RFrameRate   string            `json:"r_frame_rate"`
	NbFrames     string            `json:"nb_frames"`
	Duration     string            `json:"duration"`
	Tags         map[string]string `json:"tags"`
	SideDataList []struct {
		Rotation float64 `json:"rotation"`
	} `json:"side_data_list"`
}

// parseProbe turns `ffprobe -print_format json -show_format -show_streams`
// output into VideoInfo.
func parseProbe(data []byte) (*VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: invalid ffprobe output: %v", model.ErrInput, err)
	}

	var video *probeStream
	info := &VideoInfo{}
	for i := range out.Streams {
		switch out.Streams[i].CodecType {
		case "video":
			if video == nil {
				video = &out.Streams[i]
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if video == nil {
		return nil, fmt.Errorf("%w: no video stream", model.ErrInput)
	}

	info.Codec = video.CodecName
	info.Width, info.Height = video.Width, video.Height
	if r := rotation(video); r == 90 || r == 270 {
		info.Width, info.Height = info.Height, info.Width
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid frame size %dx%d", model.ErrInput, info.Width, info.Height)
	}

	info.FrameRate = video.AvgFrameRate
	info.FPS = parseRate(video.AvgFrameRate)
	if info.FPS <= 0 {
		info.FrameRate = video.RFrameRate
		info.FPS = parseRate(video.RFrameRate)
	}
	if info.FPS <= 0 {
		return nil, fmt.Errorf("%w: unknown frame rate", model.ErrInput)
	}

	info.Duration = parseFloat(out.Format.Duration)
	if info.Duration <= 0 {
		info.Duration = parseFloat(video.Duration)
	}

	if n, err := strconv.Atoi(video.NbFrames); err == nil && n > 0 {
		info.TotalFrames = n
	} else {
		info.TotalFrames = int(math.Round(info.Duration * info.FPS))
	}

	if ts, ok := creationTime(out.Format.Tags, video.Tags); ok {
		info.CreationTime = &ts
	}
	return info, nil
}

// creationTime prefers the container tag and falls back to the video stream.
func creationTime(tagSets ...map[string]string) (time.Time, bool) {
	for _, tags := range tagSets {
		raw, ok := tags["creation_time"]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if ts, err := parseCreationTime(raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func parseCreationTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000000Z", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised creation_time %q", raw)
}

func rotation(s *probeStream) int {
	if v, ok := s.Tags["rotate"]; ok {
		if r, err := strconv.Atoi(v); err == nil {
			return ((r % 360) + 360) % 360
		}
	}
	for _, sd := range s.SideDataList {
		if sd.Rotation != 0 {
			r := int(math.Round(sd.Rotation))
			return ((r % 360) + 360) % 360
		}
	}
	return 0
}

func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
