package overlay

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/internal/telemetry"
)

const (
	testW = 640
	testH = 360
)

func fp(v float64) *float64 { return &v }

func testTrack(t *testing.T, withPosition bool) *telemetry.Track {
	t.Helper()
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	samples := make([]telemetry.Sample, 0, 120)
	for i := 0; i < 120; i++ {
		s := telemetry.Sample{
			Time:      start.Add(time.Duration(i) * time.Second),
			Elevation: fp(100 + float64(i)*0.5),
			Power:     fp(200 + float64(i%10)),
			Cadence:   fp(90),
			HeartRate: fp(140),
			Speed:     fp(8),
			Distance:  fp(float64(i) * 8),
		}
		if withPosition {
			s.Position = &telemetry.LatLng{Lat: 45 + float64(i)*0.0001, Lng: 7 + float64(i)*0.0001}
		}
		samples = append(samples, s)
	}
	tr, err := telemetry.NewTrack(samples, telemetry.DefaultOptions())
	if err != nil {
		t.Fatalf("NewTrack: %v", err)
	}
	return tr
}

func newTestRenderer(t *testing.T, tr *telemetry.Track) *Renderer {
	t.Helper()
	r, err := NewRenderer(tr, DefaultLayout())
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	return r
}

func render(t *testing.T, r *Renderer, s telemetry.Sample, cfg Config) *image.RGBA {
	t.Helper()
	layer, err := r.Render(s, cfg, testW, testH)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return layer
}

func allDisabled() Config {
	var c Config
	for _, e := range Elements() {
		c[e] = Settings{Enabled: false, Scale: 1, Opacity: 1}
	}
	return c
}

func opaquePixels(img *image.RGBA, r image.Rectangle) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.RGBAAt(x, y).A > 0 {
				n++
			}
		}
	}
	return n
}

func TestRenderIsDeterministic(t *testing.T) {
	tr := testTrack(t, true)
	r := newTestRenderer(t, tr)
	s := tr.SampleAtOffset(60)

	a := render(t, r, s, DefaultConfig())
	b := render(t, r, s, DefaultConfig())
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Fatal("two renders of the same sample differ")
	}

	other := newTestRenderer(t, tr)
	c := render(t, other, s, DefaultConfig())
	if !bytes.Equal(a.Pix, c.Pix) {
		t.Fatal("renders from separate renderers differ")
	}
}

func TestRenderAllDisabledIsTransparent(t *testing.T) {
	tr := testTrack(t, true)
	r := newTestRenderer(t, tr)
	layer := render(t, r, tr.SampleAtOffset(30), allDisabled())
	if n := opaquePixels(layer, layer.Bounds()); n != 0 {
		t.Fatalf("expected transparent layer, got %d visible pixels", n)
	}
}

func TestRenderEveryElementDrawsSomething(t *testing.T) {
	tr := testTrack(t, true)
	r := newTestRenderer(t, tr)
	s := tr.SampleAtOffset(60)
	for _, e := range Elements() {
		cfg := allDisabled().With(e, DefaultSettings())
		layer := render(t, r, s, cfg)
		if opaquePixels(layer, layer.Bounds()) == 0 {
			t.Errorf("%s: nothing drawn", e)
		}
	}
}

func TestRenderDisabledElementLeavesOthersUntouched(t *testing.T) {
	tr := testTrack(t, true)
	r := newTestRenderer(t, tr)
	s := tr.SampleAtOffset(60)

	full := render(t, r, s, DefaultConfig())
	without := render(t, r, s, DefaultConfig().With(Power, Settings{Enabled: false, Scale: 1, Opacity: 1}))

	tile, err := r.drawMetric(Power, s, DefaultSettings(), testW, testH)
	if err != nil {
		t.Fatalf("drawMetric: %v", err)
	}
	region := tile.Bounds()
	if n := opaquePixels(without, region); n != 0 {
		t.Fatalf("power region has %d visible pixels after disabling", n)
	}
	for y := 0; y < testH; y++ {
		for x := 0; x < testW; x++ {
			if (image.Point{X: x, Y: y}).In(region) {
				continue
			}
			if full.RGBAAt(x, y) != without.RGBAAt(x, y) {
				t.Fatalf("pixel (%d,%d) outside power region changed", x, y)
			}
		}
	}
}

func TestScaleKeepsAnchor(t *testing.T) {
	tr := testTrack(t, true)
	r := newTestRenderer(t, tr)
	s := tr.SampleAtOffset(60)
	big := Settings{Enabled: true, Scale: 1.5, Opacity: 1}

	a, err := r.drawMetric(Speed, s, DefaultSettings(), testW, testH)
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.drawMetric(Speed, s, big, testW, testH)
	if err != nil {
		t.Fatal(err)
	}
	if a.Bounds().Min != b.Bounds().Min {
		t.Errorf("metric anchor moved: %v -> %v", a.Bounds().Min, b.Bounds().Min)
	}
	if b.Bounds().Dx() <= a.Bounds().Dx() {
		t.Errorf("scaled metric not larger: %v vs %v", b.Bounds(), a.Bounds())
	}

	ma, mb := r.drawMap(s, DefaultSettings(), testW, testH), r.drawMap(s, big, testW, testH)
	if ma.Bounds().Max.X != mb.Bounds().Max.X || ma.Bounds().Min.Y != mb.Bounds().Min.Y {
		t.Errorf("map anchor moved: %v -> %v", ma.Bounds(), mb.Bounds())
	}

	ea, eb := r.drawElevation(s, DefaultSettings(), testW, testH), r.drawElevation(s, big, testW, testH)
	if ea.Bounds().Min.X != eb.Bounds().Min.X || ea.Bounds().Max.Y != eb.Bounds().Max.Y {
		t.Errorf("elevation anchor moved: %v -> %v", ea.Bounds(), eb.Bounds())
	}
}

func TestOpacity(t *testing.T) {
	tr := testTrack(t, true)
	r := newTestRenderer(t, tr)
	s := tr.SampleAtOffset(60)

	zero := DefaultConfig()
	for _, e := range Elements() {
		zero = zero.With(e, Settings{Enabled: true, Scale: 1, Opacity: 0})
	}
	if n := opaquePixels(render(t, r, s, zero), image.Rect(0, 0, testW, testH)); n != 0 {
		t.Fatalf("opacity 0 drew %d pixels", n)
	}

	only := allDisabled().With(Map, DefaultSettings())
	half := allDisabled().With(Map, Settings{Enabled: true, Scale: 1, Opacity: 0.5})
	opaque := render(t, r, s, only)
	faded := render(t, r, s, half)
	tile := r.drawMap(s, DefaultSettings(), testW, testH)
	c := tile.Bounds().Min.Add(image.Pt(tile.Bounds().Dx()/2, tile.Bounds().Dy()/2))
	if faded.RGBAAt(c.X, c.Y).A >= opaque.RGBAAt(c.X, c.Y).A {
		t.Errorf("half opacity alpha %d not below full %d", faded.RGBAAt(c.X, c.Y).A, opaque.RGBAAt(c.X, c.Y).A)
	}
}

func TestMapNeedsPosition(t *testing.T) {
	tr := testTrack(t, false)
	r := newTestRenderer(t, tr)
	s := tr.SampleAtOffset(60)
	if tile := r.drawMap(s, DefaultSettings(), testW, testH); tile != nil {
		t.Fatalf("expected no map without positions, got %v", tile.Bounds())
	}
	layer := render(t, r, s, allDisabled().With(Map, DefaultSettings()))
	if n := opaquePixels(layer, layer.Bounds()); n != 0 {
		t.Fatalf("map drew %d pixels without positions", n)
	}
}

func TestRenderInvalidSize(t *testing.T) {
	tr := testTrack(t, true)
	r := newTestRenderer(t, tr)
	if _, err := r.Render(tr.SampleAtOffset(0), DefaultConfig(), 0, 100); !errors.Is(err, model.ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
}

func TestMetricText(t *testing.T) {
	s := telemetry.Sample{Speed: fp(10), Power: fp(251.6), Grade: fp(-3.24)}
	cases := []struct {
		e     Element
		units model.Units
		value string
		label string
	}{
		{Speed, model.UnitsMetric, "36", "KM/H"},
		{Speed, model.UnitsImperial, "22", "MPH"},
		{Power, model.UnitsMetric, "252", "W"},
		{Cadence, model.UnitsMetric, "--", "RPM"},
		{Gradient, model.UnitsMetric, "-3.2%", "GRADIENT"},
	}
	for _, tc := range cases {
		v, l := metricText(tc.e, s, tc.units)
		if v != tc.value || l != tc.label {
			t.Errorf("%s/%s: got %q %q, want %q %q", tc.e, tc.units, v, l, tc.value, tc.label)
		}
	}
}

func TestComposite(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 4, 4))
	red := color.RGBA{200, 0, 0, 255}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			frame.SetRGBA(x, y, red)
		}
	}
	layer := image.NewRGBA(image.Rect(0, 0, 4, 4))
	layer.SetRGBA(1, 1, color.RGBA{255, 255, 255, 255})
	layer.SetRGBA(2, 2, color.RGBA{0, 0, 0, 128})

	Composite(frame, layer)

	if got := frame.RGBAAt(0, 0); got != red {
		t.Errorf("transparent pixel changed frame: %v", got)
	}
	if got := frame.RGBAAt(1, 1); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("opaque pixel not copied: %v", got)
	}
	got := frame.RGBAAt(2, 2)
	if got.R == 0 || got.R >= red.R || got.A != 255 {
		t.Errorf("half-transparent black not blended: %v", got)
	}
}

func TestDownscale(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1920, 1080))
	out := Downscale(img, 640)
	if out.Bounds().Dx() != 640 || out.Bounds().Dy() != 360 {
		t.Fatalf("got %v", out.Bounds())
	}
	if Downscale(img, 4000) != img {
		t.Fatal("image that fits should be returned as is")
	}
}

func TestProfileRange(t *testing.T) {
	r := newTestRenderer(t, testTrack(t, false)) // 100 m to 159.5 m

	steep := []telemetry.ElevationPoint{{Elevation: 100}, {Elevation: 130}}
	if lo, hi := r.profileRange(steep); lo != 100 || hi != 130 {
		t.Errorf("steep window: got %v..%v", lo, hi)
	}

	flat := []telemetry.ElevationPoint{{Elevation: 120}, {Elevation: 121}}
	if lo, hi := r.profileRange(flat); lo != 100 || hi != 159.5 {
		t.Errorf("flat window: expected track range, got %v..%v", lo, hi)
	}

	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	tr, err := telemetry.NewTrack([]telemetry.Sample{
		{Time: start, Elevation: fp(50)},
		{Time: start.Add(time.Minute), Elevation: fp(52)},
	}, telemetry.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	r = newTestRenderer(t, tr)
	flat = []telemetry.ElevationPoint{{Elevation: 50}, {Elevation: 52}}
	if lo, hi := r.profileRange(flat); lo != 46 || hi != 56 {
		t.Errorf("flat track: expected 46..56, got %v..%v", lo, hi)
	}
}
