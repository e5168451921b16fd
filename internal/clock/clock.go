// Package clock provides the coarse, minute-wrap-aware seconds ticker the
// Supervisor uses for its execution and heartbeat timers. Timeouts here are
// never sub-second, so a seconds-of-minute source plus explicit wrap
// handling is monotonic-enough.
package clock

import "time"

// Clock is the tick source the Supervisor's timers read from. It is an
// interface so tests can drive time deterministically instead of sleeping.
type Clock interface {
	NowSeconds() int
}

// Real is the production Clock, backed by the system wall clock.
type Real struct{}

// NowSeconds returns the second-of-minute component of the current local
// time, in [0, 59].
func (Real) NowSeconds() int {
	return time.Now().Second()
}

// Timer tracks elapsed seconds against a Clock, tolerant of the minute wrap,
// via a (startSec, overflow, elapsed) triple.
type Timer struct {
	clock    Clock
	startSec int
	overflow bool
	elapsed  int
}

// NewTimer starts a Timer against clk, sampling the current second as the
// window's origin.
func NewTimer(clk Clock) *Timer {
	return &Timer{clock: clk, startSec: clk.NowSeconds()}
}

// Reset zeroes elapsed time and resamples the origin second. Called when the
// window it tracks (execution or heartbeat) restarts.
func (t *Timer) Reset() {
	t.startSec = t.clock.NowSeconds()
	t.overflow = false
	t.elapsed = 0
}

// Tick advances the timer by the delta since the last sampled second and
// returns the new cumulative elapsed-seconds count. A single call never
// attributes more than 59s to one interval: on the minute wrap (current
// second == 59) the overflow latch arms and the next tick's origin resets
// to 0.
func (t *Timer) Tick() int {
	current := t.clock.NowSeconds()

	if current > t.startSec && !t.overflow {
		t.elapsed += current - t.startSec
		t.startSec = current
	}

	if current == 59 {
		t.overflow = true
		t.startSec = 0
	} else {
		t.overflow = false
	}

	return t.elapsed
}

// Elapsed returns the last computed cumulative elapsed-seconds count without
// advancing the timer.
func (t *Timer) Elapsed() int {
	return t.elapsed
}
