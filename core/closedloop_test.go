package core

import (
	"testing"
	"time"
)

func TestWrapsDetectsZeroCrossing(t *testing.T) {
	if !wraps(350, 5) {
		t.Fatal("expected 350/5 to straddle the 0/360 boundary")
	}
	if !wraps(5, 350) {
		t.Fatal("expected 5/350 to straddle the 0/360 boundary (symmetric)")
	}
	if wraps(180, 190) {
		t.Fatal("180/190 do not straddle the boundary")
	}
}

func TestClosedLoopMonitorWaitsForMagnetDetection(t *testing.T) {
	sensor := &fakeAngleSensor{status: MagnetUnknown}
	SetAngleSensor(sensor)
	defer SetAngleSensor(nil)

	cancel := make(chan struct{})
	done := make(chan struct{})
	go func() {
		RunClosedLoopMonitor(cancel)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	close(cancel)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected RunClosedLoopMonitor to exit on cancel while waiting for magnet detection")
	}
}

func TestClosedLoopMonitorCalibratesOnTrigger(t *testing.T) {
	sensor := &fakeAngleSensor{status: MagnetDetected, raw: 100}
	SetAngleSensor(sensor)
	defer SetAngleSensor(nil)

	// STEPPER_POSITION is the step driver's published counter and is shared
	// across tests; put back the published value so later stepper tests see it.
	prevPosition := STEPPER_POSITION.Load()
	defer STEPPER_POSITION.Store(prevPosition)
	STEPPER_POSITION.Store(42)

	cancel := make(chan struct{})
	defer close(cancel)
	go RunClosedLoopMonitor(cancel)

	CL_MONITOR_CHANNEL <- CLMonitorMessage{Kind: CLCalibrate}

	// SetZeroPosition isn't observable on fakeAngleSensor (it's a no-op
	// stub), so this only confirms the monitor drains the Calibrate message
	// without blocking or panicking; the wrap helper is covered by
	// TestWrapsDetectsZeroCrossing and the correction threshold arithmetic by
	// TestSmallErrorStaysWithinCorrectionThreshold.
	time.Sleep(10 * time.Millisecond)
}

func TestSmallErrorStaysWithinCorrectionThreshold(t *testing.T) {
	// Checks the threshold arithmetic only, without running the monitor: a
	// correction of at most 8 steps must never reach STEPPER_MOVE_QUEUE, and
	// sending one there would leak a stray segment into whichever stepper
	// test runs next, since that queue is process-wide.
	errDeg := 1.0 // truncates to 8 steps at DegPerStep (8 * DegPerStep = 0.9)
	n := int(errDeg / DegPerStep)
	if n > 8 {
		t.Fatalf("test setup invalid: n=%d should be below the correction threshold", n)
	}
}
