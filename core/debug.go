package core

import "strconv"

// DebugWriter is the platform-specific sink for debug text (UART, USB CDC,
// stdout on hosted builds).
type DebugWriter func(string)

var (
	debugWriter  DebugWriter = func(string) {}
	debugEnabled bool
)

// SetDebugWriter installs the platform-specific debug sink.
func SetDebugWriter(w DebugWriter) { debugWriter = w }

// SetDebugEnabled toggles debug output at runtime; disabled by default so
// it never perturbs step timing.
func SetDebugEnabled(enabled bool) { debugEnabled = enabled }

// DebugPrintln writes msg through the installed sink if debugging is on.
func DebugPrintln(msg string) {
	if debugEnabled {
		debugWriter(msg)
	}
}

// itoa is a tiny wrapper kept for call-site brevity in the hot paths that
// build debug strings by concatenation rather than fmt.Sprintf.
func itoa(v int) string { return strconv.Itoa(v) }

// TimingEventKind identifies a post-mortem ring-buffer entry.
type TimingEventKind uint8

const (
	EvtQueueStep TimingEventKind = iota + 1
	EvtLoadMove
	EvtPulseFire
	EvtTimerPast
	EvtResetClock
	EvtTrsyncTrigger
	EvtEndstopArm
	EvtCorrection
)

// TimingEvent captures one scheduler-relevant event for post-mortem
// analysis after a shutdown.
type TimingEvent struct {
	Kind  TimingEventKind
	OID   uint8
	Clock Tick
	V1    uint32
	V2    uint32
}

const timingRingSize = 64

var (
	timingRing     [timingRingSize]TimingEvent
	timingRingHead uint8
)

// RecordTiming appends an event to the ring buffer. Always non-blocking.
func RecordTiming(kind TimingEventKind, oid uint8, clock Tick, v1, v2 uint32) {
	idx := timingRingHead
	timingRing[idx] = TimingEvent{Kind: kind, OID: oid, Clock: clock, V1: v1, V2: v2}
	timingRingHead = (idx + 1) % timingRingSize
}

// DumpTimingRing writes the ring buffer out through DebugPrintln, oldest
// entry first. Intended to be called right after a shutdown.
func DumpTimingRing() {
	start := timingRingHead
	for i := uint8(0); i < timingRingSize; i++ {
		evt := &timingRing[(start+i)%timingRingSize]
		if evt.Kind == 0 {
			continue
		}
		DebugPrintln("[timing] kind=" + itoa(int(evt.Kind)) + " oid=" + itoa(int(evt.OID)) +
			" clock=" + itoa(int(evt.Clock)) + " v1=" + itoa(int(evt.V1)) + " v2=" + itoa(int(evt.V2)))
	}
}
