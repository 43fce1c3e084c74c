package engine

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/unclebandit/chatblast-backend/internal/model"
)

// Decision is the rate gate's answer for "may a message be sent now".
type Decision int

const (
	// Proceed means the next send may go out now.
	Proceed Decision = iota
	// WaitDaily means the daily cap is exhausted; pause until local midnight.
	WaitDaily
	// WaitWindow means the current local time is outside the sending window.
	WaitWindow
)

// RateGate holds a campaign's pacing configuration plus the run-local
// counters. It is owned by a single dispatch loop and is not safe for
// concurrent use.
type RateGate struct {
	minDelaySeconds int
	maxDelaySeconds int
	dailyLimit      int

	hasWindow   bool
	windowStart int // minutes since midnight
	windowEnd   int

	sentToday int
	day       time.Time // local calendar day the counter belongs to

	rng *rand.Rand
}

// NewRateGate builds a gate from the campaign's pacing config. The window
// strings must be "HH:MM"; campaign validation guarantees both-or-neither.
func NewRateGate(c *model.Campaign, now time.Time, rng *rand.Rand) (*RateGate, error) {
	g := &RateGate{
		minDelaySeconds: c.MinDelaySeconds,
		maxDelaySeconds: c.MaxDelaySeconds,
		dailyLimit:      c.DailyLimit,
		day:             dateOf(now),
		rng:             rng,
	}
	if c.HasWindow() {
		start, err := parseClock(*c.WindowStart)
		if err != nil {
			return nil, fmt.Errorf("invalid window start: %w", err)
		}
		end, err := parseClock(*c.WindowEnd)
		if err != nil {
			return nil, fmt.Errorf("invalid window end: %w", err)
		}
		g.hasWindow = true
		g.windowStart = start
		g.windowEnd = end
	}
	return g, nil
}

// Check decides whether a send may happen at now. Day rollover uses the
// wall-clock calendar day, not a rolling 24h window.
func (g *RateGate) Check(now time.Time) Decision {
	g.rollover(now)
	if g.dailyLimit > 0 && g.sentToday >= g.dailyLimit {
		return WaitDaily
	}
	if g.hasWindow && !g.InWindow(now) {
		return WaitWindow
	}
	return Proceed
}

// RecordSend counts one successful send against today's cap.
func (g *RateGate) RecordSend(now time.Time) {
	g.rollover(now)
	g.sentToday++
}

// SentToday returns the running count for the current calendar day.
func (g *RateGate) SentToday() int { return g.sentToday }

// Delay picks a uniformly random pause in [minDelay, maxDelay] seconds,
// inclusive. A misconfigured maxDelay < minDelay degenerates to minDelay.
func (g *RateGate) Delay() time.Duration {
	min, max := g.minDelaySeconds, g.maxDelaySeconds
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	return time.Duration(min+g.rng.Intn(max-min+1)) * time.Second
}

// InWindow reports whether now's local time-of-day falls inside the
// configured sending window. Windows spanning midnight wrap.
func (g *RateGate) InWindow(now time.Time) bool {
	if !g.hasWindow {
		return true
	}
	m := now.Hour()*60 + now.Minute()
	if g.windowStart <= g.windowEnd {
		return m >= g.windowStart && m <= g.windowEnd
	}
	return m >= g.windowStart || m <= g.windowEnd
}

func (g *RateGate) rollover(now time.Time) {
	d := dateOf(now)
	if !d.Equal(g.day) {
		g.day = d
		g.sentToday = 0
	}
}

// NextMidnight returns the start of the next local calendar day.
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
