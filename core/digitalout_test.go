package core

import (
	"testing"
	"time"
)

func TestConfigDigitalOutSetsInitialValue(t *testing.T) {
	registerDigitalOutCommands()
	gpio := newFakeGPIO()
	SetGPIODriver(gpio)

	s := NewState()
	// oid=1 pin=4 value=1 default_value=0 max_duration=0
	data := encodeUints(1, 4, 1, 0, 0)
	if err := handleConfigDigitalOut(s, &data); err != nil {
		t.Fatalf("config_digital_out failed: %v", err)
	}

	got, _ := gpio.GetPin(4)
	if !got {
		t.Fatal("expected pin 4 to be driven high at config time per value=1")
	}

	entity := s.OIDs.MustDigitalOut(1)
	if entity.DefaultValue {
		t.Fatal("expected DefaultValue false per default_value=0")
	}
}

func TestQueueDigitalOutFiresAtClock(t *testing.T) {
	registerDigitalOutCommands()
	gpio := newFakeGPIO()
	SetGPIODriver(gpio)

	s := NewState()
	cfgData := encodeUints(2, 7, 0, 0, 0)
	if err := handleConfigDigitalOut(s, &cfgData); err != nil {
		t.Fatalf("config_digital_out failed: %v", err)
	}

	target := uint32(Now())
	queueData := encodeUints(2, target, 1) // on_ticks=1 (true)
	if err := handleQueueDigitalOut(s, &queueData); err != nil {
		t.Fatalf("queue_digital_out failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		if v, _ := gpio.GetPin(7); v {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected pin 7 to go high after the scheduled one-shot fired")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestQueueDigitalOutSupersedesPending(t *testing.T) {
	registerDigitalOutCommands()
	gpio := newFakeGPIO()
	SetGPIODriver(gpio)

	s := NewState()
	cfgData := encodeUints(3, 8, 0, 0, 0)
	if err := handleConfigDigitalOut(s, &cfgData); err != nil {
		t.Fatalf("config_digital_out failed: %v", err)
	}

	far := uint32(Now()) + 16_000_000 // ~1s out, never expected to fire in this test
	firstQueue := encodeUints(3, far, 1)
	if err := handleQueueDigitalOut(s, &firstQueue); err != nil {
		t.Fatalf("first queue_digital_out failed: %v", err)
	}

	secondQueue := encodeUints(3, uint32(Now()), 1)
	if err := handleQueueDigitalOut(s, &secondQueue); err != nil {
		t.Fatalf("second queue_digital_out failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		if v, _ := gpio.GetPin(8); v {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected the superseding one-shot to fire promptly, not wait for the first's far clock")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDigitalOutShutdownRestoresDefault(t *testing.T) {
	gpio := newFakeGPIO()
	SetGPIODriver(gpio)
	_ = gpio.SetPin(9, true)

	e := &DigitalOutEntity{OID: 1, Pin: 9, DefaultValue: false}
	e.Shutdown()

	got, _ := gpio.GetPin(9)
	if got {
		t.Fatal("expected Shutdown to restore the pin to its default value")
	}
}
