package core

import "testing"

func TestOIDTableSetGet(t *testing.T) {
	table := NewOIDTable()
	entity := &StepperEntity{OID: 5}
	table.SetStepper(5, entity)

	got, ok := table.Stepper(5)
	if !ok || got != entity {
		t.Fatalf("expected stepper entity back, got %v ok=%v", got, ok)
	}

	if _, ok := table.Endstop(5); ok {
		t.Fatal("slot 5 should not report as an endstop variant")
	}
}

func TestOIDTableMustPanicsOnUnknown(t *testing.T) {
	table := NewOIDTable()
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for unconfigured oid")
		}
	}()
	table.MustStepper(9)
}

func TestOIDTableMustPanicsOnWrongVariant(t *testing.T) {
	table := NewOIDTable()
	table.SetDigitalOut(2, &DigitalOutEntity{OID: 2})
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when oid holds the wrong variant")
		}
	}()
	table.MustEndstop(2)
}

func TestOIDTableReset(t *testing.T) {
	table := NewOIDTable()
	table.SetStepper(0, &StepperEntity{OID: 0})
	table.Allocate(10)
	table.Reset()

	if _, ok := table.Stepper(0); ok {
		t.Fatal("expected Reset to clear slot 0")
	}
}

func TestOIDTableShutdownAllStopsEndstopAndTrsync(t *testing.T) {
	table := NewOIDTable()

	digital := &DigitalOutEntity{OID: 1}
	table.SetDigitalOut(1, digital)

	endstop := &EndstopEntity{OID: 2, ch: make(chan struct{}, 1), active: true, cancel: make(chan struct{})}
	table.SetEndstop(2, endstop)

	trsync := &TRSyncEntity{OID: 3, ch: make(chan TRSyncMessage, 1), started: true, cancel: make(chan struct{})}
	table.SetTRSync(3, trsync)

	SetGPIODriver(newFakeGPIO())
	table.ShutdownAll()

	if endstop.active {
		t.Fatal("expected endstop Shutdown to clear active flag")
	}
	if trsync.started {
		t.Fatal("expected trsync Shutdown to clear started flag")
	}
}
