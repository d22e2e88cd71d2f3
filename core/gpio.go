package core

import (
	"sync"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/protocol"
)

// DigitalOutEntity is the OID table's DigitalOut variant: an output pin
// driven by one-shot goroutines spawned per queue_digital_out call.
// max_duration is accepted for protocol compatibility but not enforced —
// there is no PWM timer to drive a safety-off here (on_ticks is boolean,
// see spec §4.6).
type DigitalOutEntity struct {
	OID          uint8
	Pin          GPIOPin
	DefaultValue bool

	mu     sync.Mutex
	cancel chan struct{}
}

func registerDigitalOutCommands() {
	RegisterCommand("config_digital_out", "oid=%c pin=%u value=%c default_value=%c max_duration=%u", handleConfigDigitalOut)
	RegisterCommand("queue_digital_out", "oid=%c clock=%u on_ticks=%u", handleQueueDigitalOut)
}

func handleConfigDigitalOut(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	value, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	defaultValue, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	_, err = protocol.DecodeVLQUint(data) // max_duration: accepted, not enforced
	if err != nil {
		return err
	}

	drv := MustGPIO()
	_ = drv.ConfigureOutput(GPIOPin(pin))
	_ = drv.SetPin(GPIOPin(pin), value != 0)

	s.OIDs.SetDigitalOut(uint8(oid), &DigitalOutEntity{
		OID:          uint8(oid),
		Pin:          GPIOPin(pin),
		DefaultValue: defaultValue != 0,
	})
	return nil
}

func handleQueueDigitalOut(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	clock, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	onTicks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	e := s.OIDs.MustDigitalOut(uint8(oid))

	e.mu.Lock()
	if e.cancel != nil {
		close(e.cancel)
	}
	cancel := make(chan struct{})
	e.cancel = cancel
	e.mu.Unlock()

	go runDigitalOutOneShot(e, cancel, Tick(clock), onTicks != 0)
	return nil
}

// runDigitalOutOneShot sleeps until clock then drives the pin, per spec
// §4.6: PWM duty control is out of scope, on_ticks is treated as boolean.
func runDigitalOutOneShot(e *DigitalOutEntity, cancel <-chan struct{}, clock Tick, on bool) {
	select {
	case <-cancel:
		return
	case <-GetClock().WaitUntil(clock, cancel):
	}
	_ = MustGPIO().SetPin(e.Pin, on)
}

// Shutdown cancels any pending one-shot and returns the pin to its default.
func (e *DigitalOutEntity) Shutdown() {
	e.mu.Lock()
	if e.cancel != nil {
		close(e.cancel)
		e.cancel = nil
	}
	e.mu.Unlock()
	_ = MustGPIO().SetPin(e.Pin, e.DefaultValue)
}
