// Package telemetry loads activity recordings and answers "what were the
// metrics at instant t" by interpolating between recorded samples.
package telemetry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/veloverlay/api/internal/model"
)

// Load parses a FIT or GPX file into a Track. The format is chosen by file
// extension. A missing file is an input error; anything unreadable inside
// the file is a parse error.
func Load(path string, opts Options) (*Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read telemetry %s: %v", model.ErrInput, path, err)
	}

	var (
		samples []Sample
		format  model.TelemetryFormat
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fit":
		format = model.TelemetryFormatFIT
		samples, err = decodeFIT(bytes.NewReader(data))
	case ".gpx":
		format = model.TelemetryFormatGPX
		samples, err = decodeGPX(data)
	default:
		return nil, fmt.Errorf("%w: unsupported telemetry format %q", model.ErrInput, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	track, err := NewTrack(samples, opts)
	if err != nil {
		return nil, err
	}
	track.format = format
	return track, nil
}
