package core

import (
	"testing"
	"time"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/protocol"
)

func encodeUints(vals ...uint32) []byte {
	var out []byte
	for _, v := range vals {
		out = append(out, protocol.EncodeVLQ(int32(v))...)
	}
	return out
}

func TestStepperConfigAndQueueStepAdvancesPosition(t *testing.T) {
	registerStepperCommands()
	SetGPIODriver(newFakeGPIO())

	s := NewState()

	data := encodeUints(1, 5, 6, 0, 16) // oid=1 step_pin=5 dir_pin=6 invert_step=0 step_pulse_ticks=16
	if err := handleConfigStepper(s, &data); err != nil {
		t.Fatalf("config_stepper failed: %v", err)
	}

	dirData := encodeUints(1, 0) // oid=1 dir=0 (forward)
	if err := handleSetNextStepDir(s, &dirData); err != nil {
		t.Fatalf("set_next_step_dir failed: %v", err)
	}

	resetData := encodeUints(1, 0)
	if err := handleResetStepClock(s, &resetData); err != nil {
		t.Fatalf("reset_step_clock failed: %v", err)
	}

	before := STEPPER_POSITION.Load()

	// After a clock reset the driver is unsynced; its first segment treats
	// Interval as an absolute target tick, so it must be ahead of Now().
	target := uint32(Now()) + 32_000 // ~2ms ahead at 16MHz
	queueData := append(encodeUints(1, target, 5), protocol.EncodeVLQ(0)...)
	if err := handleQueueStep(s, &queueData); err != nil {
		t.Fatalf("queue_step failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for STEPPER_POSITION.Load() == before && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if got := STEPPER_POSITION.Load(); got != before+5 {
		t.Fatalf("expected position to advance by 5, got %d (was %d)", got, before)
	}
}

func TestStepperQueueStepZeroCountIsNoop(t *testing.T) {
	registerStepperCommands()
	SetGPIODriver(newFakeGPIO())
	s := NewState()

	cfgData := encodeUints(7, 5, 6, 0, 16)
	if err := handleConfigStepper(s, &cfgData); err != nil {
		t.Fatalf("config_stepper failed: %v", err)
	}

	data := append(encodeUints(7, 160, 0), protocol.EncodeVLQ(0)...)
	if err := handleQueueStep(s, &data); err != nil {
		t.Fatalf("queue_step with count=0 should be a no-op, got error: %v", err)
	}
}

func TestStepperStopOnTriggerClearsAfterAbort(t *testing.T) {
	registerStepperCommands()
	registerTrsyncCommands()
	SetGPIODriver(newFakeGPIO())

	s := NewState()
	cfgData := encodeUints(2, 5, 6, 0, 16)
	if err := handleConfigStepper(s, &cfgData); err != nil {
		t.Fatalf("config_stepper failed: %v", err)
	}

	trData := encodeUints(9)
	if err := handleConfigTrsync(s, &trData); err != nil {
		t.Fatalf("config_trsync failed: %v", err)
	}

	stopData := encodeUints(2, 9)
	if err := handleStepperStopOnTrigger(s, &stopData); err != nil {
		t.Fatalf("stepper_stop_on_trigger failed: %v", err)
	}

	trsync := s.OIDs.MustTRSync(9)
	trsync.OnTrigger(func() { STEPPER_STOP.Store(true) })

	triggerData := encodeUints(9, 1)
	if err := handleTrsyncTrigger(s, &triggerData); err != nil {
		t.Fatalf("trsync_trigger failed: %v", err)
	}

	if !STEPPER_STOP.Load() {
		t.Fatal("expected STEPPER_STOP to be set by the direct-fire trigger path")
	}

	// Queue a long segment; the driver should observe STEPPER_STOP, abort
	// immediately, and clear the flag for the next segment.
	before := STEPPER_POSITION.Load()
	data := append(encodeUints(2, 1_600_000, 50), protocol.EncodeVLQ(0)...)
	if err := handleQueueStep(s, &data); err != nil {
		t.Fatalf("queue_step failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for STEPPER_STOP.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if STEPPER_STOP.Load() {
		t.Fatal("expected driver to clear STEPPER_STOP after honoring the abort")
	}
	if got := STEPPER_POSITION.Load(); got != before {
		t.Fatalf("aborted segment should not advance position, before=%d got=%d", before, got)
	}
}

func TestStepperGetPositionSendsResponse(t *testing.T) {
	registerStepperCommands()
	registerBootstrapCommands()
	s := NewState()
	SetSerialLink(&captureLink{})
	NewProcessTransport(s)

	cfgData := encodeUints(3, 5, 6, 0, 16)
	if err := handleConfigStepper(s, &cfgData); err != nil {
		t.Fatalf("config_stepper failed: %v", err)
	}

	getData := encodeUints(3)
	if err := handleStepperGetPosition(s, &getData); err != nil {
		t.Fatalf("stepper_get_position failed: %v", err)
	}
}
