package pipeline

import (
	"testing"
	"time"
)

func TestPercent(t *testing.T) {
	cases := []struct{ done, total, want int }{
		{0, 100, 0},
		{1, 3, 33},
		{50, 200, 25},
		{199, 200, 99},
		{200, 200, 99},
		{250, 200, 99},
		{5, 0, 0},
	}
	for _, tc := range cases {
		if got := percent(tc.done, tc.total); got != tc.want {
			t.Errorf("percent(%d, %d) = %d, want %d", tc.done, tc.total, got, tc.want)
		}
	}
}

func TestProgressGate(t *testing.T) {
	now := time.Unix(0, 0)
	g := progressGate{interval: 500 * time.Millisecond, now: func() time.Time { return now }}

	if !g.allow(1) {
		t.Fatal("first value should pass")
	}
	if g.allow(2) {
		t.Fatal("value inside the interval passed")
	}
	now = now.Add(time.Second)
	if g.allow(1) {
		t.Fatal("non-increasing value passed")
	}
	if !g.allow(3) {
		t.Fatal("higher value after the interval was held back")
	}
}
