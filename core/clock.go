// Package core implements the step-pulse execution engine: the scheduler,
// trigger-synchronization subsystem, closed-loop monitor and command
// handlers that sit behind the host transport.
package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// CLOCK_FREQ is the MCU's monotonic tick rate. The host protocol reasons in
// ticks at this frequency; see the "clock"/"uptime" responses.
const CLOCK_FREQ = 16_000_000

// Tick is a count of CLOCK_FREQ-rate ticks. The wire protocol truncates to
// the low 32 bits; comparisons that might straddle a wrap use signed
// subtraction (TickBefore), exactly as Klipper's own sched_timer does.
type Tick uint32

// TickBefore reports whether a is strictly before b, tolerant of 32-bit
// wraparound (valid within half the tick space, ~2.2 minutes at 16MHz).
func TickBefore(a, b Tick) bool {
	return int32(a-b) < 0
}

// TickAfter reports whether a is strictly after b, same wraparound caveat.
func TickAfter(a, b Tick) bool {
	return int32(a-b) > 0
}

// Clock is the time source the scheduler and every async task suspend on.
// WaitUntil is the literal "await boundary" the concurrency model describes:
// it returns a channel that closes at (or after) the given tick, or when
// cancel closes first.
type Clock interface {
	Now() Tick
	WaitUntil(tick Tick, cancel <-chan struct{}) <-chan struct{}
	// BusyWaitFor blocks the calling goroutine, without yielding, for the
	// given number of ticks. Used only for step-pulse width, where
	// cooperative scheduling jitter would otherwise violate the driver's
	// minimum high time.
	BusyWaitFor(ticks Tick)
}

// softwareClock maps ticks onto wall-clock time via a fixed scale factor.
// It is the default Clock on hosted builds and in tests, and targets/esp32c6
// also runs on it: that target installs no Clock of its own.
type softwareClock struct {
	epoch     time.Time
	perTick   time.Duration
	synthetic atomic.Uint32 // test-only override, see SetSyntheticTick
	useSynth  atomic.Bool
}

// NewSoftwareClock returns a Clock that maps one tick to perTick of wall
// time. Production code should pass time.Second/CLOCK_FREQ; tests pass a
// much shorter duration so waits resolve quickly.
func NewSoftwareClock(perTick time.Duration) Clock {
	return &softwareClock{epoch: time.Now(), perTick: perTick}
}

func (c *softwareClock) Now() Tick {
	if c.useSynth.Load() {
		return Tick(c.synthetic.Load())
	}
	return Tick(time.Since(c.epoch) / c.perTick)
}

// SetSyntheticTick freezes Now() at the given value, for deterministic
// tests of resync/shutdown edge cases that reason about "now" directly.
func (c *softwareClock) SetSyntheticTick(t Tick) {
	c.synthetic.Store(uint32(t))
	c.useSynth.Store(true)
}

func (c *softwareClock) WaitUntil(tick Tick, cancel <-chan struct{}) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		for {
			now := c.Now()
			if !TickBefore(now, tick) {
				return
			}
			remaining := time.Duration(tick-now) * c.perTick
			if remaining > 50*time.Millisecond {
				remaining = 50 * time.Millisecond // re-check periodically under synthetic overrides
			}
			t := time.NewTimer(remaining)
			select {
			case <-t.C:
			case <-cancel:
				t.Stop()
				return
			}
		}
	}()
	return ch
}

func (c *softwareClock) BusyWaitFor(ticks Tick) {
	if c.useSynth.Load() {
		return // synthetic-time tests never want a real busy-wait
	}
	deadline := time.Now().Add(time.Duration(ticks) * c.perTick)
	for time.Now().Before(deadline) {
		// spin; this mirrors the hardware busy-wait used for pulse width
	}
}

var (
	globalClock   Clock
	globalClockMu sync.RWMutex
)

func init() {
	globalClock = NewSoftwareClock(time.Second / CLOCK_FREQ)
}

// SetClock installs the process-wide Clock, replacing the default
// softwareClock; call it before spawning any task.
func SetClock(c Clock) {
	globalClockMu.Lock()
	defer globalClockMu.Unlock()
	globalClock = c
}

// GetClock returns the process-wide Clock.
func GetClock() Clock {
	globalClockMu.RLock()
	defer globalClockMu.RUnlock()
	return globalClock
}

// Now is shorthand for GetClock().Now().
func Now() Tick {
	return GetClock().Now()
}
