package overlay

import "testing"

func TestConfigFrom(t *testing.T) {
	off := false
	scale := 1.5
	neg := -2.0
	loud := 3.0

	c := ConfigFrom(map[string]Patch{
		"heart_rate": {Enabled: &off},
		"map":        {Scale: &scale, Opacity: &loud},
		"power":      {Scale: &neg},
		"wattage":    {Enabled: &off},
	})

	if c.Get(HeartRate).Enabled {
		t.Error("heart_rate should be disabled")
	}
	if got := c.Get(Map); got.Scale != 1.5 || got.Opacity != 1 {
		t.Errorf("map settings = %+v", got)
	}
	if got := c.Get(Power).Scale; got != 1 {
		t.Errorf("non-positive scale should keep default, got %v", got)
	}
	for _, e := range []Element{Speed, Cadence, Gradient, Elevation} {
		if c.Get(e) != DefaultSettings() {
			t.Errorf("%s changed: %+v", e, c.Get(e))
		}
	}
}

func TestConfigWithDoesNotShare(t *testing.T) {
	a := DefaultConfig()
	b := a.With(Speed, Settings{Enabled: false, Scale: 2, Opacity: 0.5})
	if !a.Get(Speed).Enabled {
		t.Fatal("With mutated the original config")
	}
	if b.Get(Speed).Scale != 2 {
		t.Fatal("With did not apply")
	}
}

func TestParseElement(t *testing.T) {
	for _, e := range Elements() {
		got, ok := ParseElement(e.String())
		if !ok || got != e {
			t.Errorf("round trip of %s failed", e)
		}
	}
	if _, ok := ParseElement("altitude"); ok {
		t.Error("unknown id accepted")
	}
}
