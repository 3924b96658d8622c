package overlay

import "math"

// Element identifies one overlay component. The set is closed.
type Element int

const (
	Speed Element = iota
	Power
	Cadence
	HeartRate
	Gradient
	Map
	Elevation

	elementCount
)

var elementNames = [elementCount]string{
	Speed:     "speed",
	Power:     "power",
	Cadence:   "cadence",
	HeartRate: "heart_rate",
	Gradient:  "gradient",
	Map:       "map",
	Elevation: "elevation",
}

func (e Element) String() string {
	if e < 0 || e >= elementCount {
		return "unknown"
	}
	return elementNames[e]
}

// ParseElement maps an element id such as "heart_rate" to its Element.
func ParseElement(id string) (Element, bool) {
	for e, name := range elementNames {
		if name == id {
			return Element(e), true
		}
	}
	return 0, false
}

// Elements lists every element in drawing order.
func Elements() []Element {
	out := make([]Element, elementCount)
	for i := range out {
		out[i] = Element(i)
	}
	return out
}

// Settings controls one element. Scale multiplies the element's size around
// its fixed anchor; Opacity is applied when the element is composited.
type Settings struct {
	Enabled bool    `json:"enabled"`
	Scale   float64 `json:"scale"`
	Opacity float64 `json:"opacity"`
}

func DefaultSettings() Settings {
	return Settings{Enabled: true, Scale: 1, Opacity: 1}
}

// Config holds settings for every element. It is a value type; copies never
// share state.
type Config [elementCount]Settings

func DefaultConfig() Config {
	var c Config
	for i := range c {
		c[i] = DefaultSettings()
	}
	return c
}

func (c Config) Get(e Element) Settings { return c[e] }

// With returns a copy of c with e's settings replaced.
func (c Config) With(e Element, s Settings) Config {
	c[e] = s
	return c
}

// Patch is a partial Settings as received from clients.
type Patch struct {
	Enabled *bool
	Scale   *float64
	Opacity *float64
}

// ConfigFrom builds a Config from element id patches. Unknown ids are
// ignored and missing fields keep their defaults. Out-of-range values are
// clamped.
func ConfigFrom(patches map[string]Patch) Config {
	c := DefaultConfig()
	for id, p := range patches {
		e, ok := ParseElement(id)
		if !ok {
			continue
		}
		s := c[e]
		if p.Enabled != nil {
			s.Enabled = *p.Enabled
		}
		if p.Scale != nil && *p.Scale > 0 && !math.IsInf(*p.Scale, 0) {
			s.Scale = *p.Scale
		}
		if p.Opacity != nil && !math.IsNaN(*p.Opacity) {
			s.Opacity = math.Max(0, math.Min(1, *p.Opacity))
		}
		c[e] = s
	}
	return c
}

// visible reports whether the element contributes any pixels.
func (s Settings) visible() bool {
	return s.Enabled && s.Opacity > 0 && s.Scale > 0
}
