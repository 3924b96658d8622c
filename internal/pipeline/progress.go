package pipeline

import (
	"math"
	"time"
)

// percent is floor(done/total*100), held at 99 until the job completes.
func percent(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	p := int(math.Floor(float64(done) / float64(total) * 100))
	return min(p, 99)
}

// progressGate rate-limits progress events. A value passes only when it is
// higher than the last one emitted and the interval has elapsed.
type progressGate struct {
	interval time.Duration
	now      func() time.Time

	last    time.Time
	emitted int
	started bool
}

func (g *progressGate) allow(pct int) bool {
	if g.started && pct <= g.emitted {
		return false
	}
	t := g.now()
	if g.started && t.Sub(g.last) < g.interval {
		return false
	}
	g.started = true
	g.last = t
	g.emitted = pct
	return true
}
