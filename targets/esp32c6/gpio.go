//go:build esp32c6

package main

import (
	"machine"
	"time"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/core"
)

// hwGPIO implements core.GPIODriver over machine.Pin, grounded on the
// teacher's RPGPIODriver (lazy-configure-on-first-use, a map from the
// protocol's GPIOPin numbering to machine.Pin).
type hwGPIO struct {
	configured map[core.GPIOPin]machine.Pin
}

func (d *hwGPIO) pin(p core.GPIOPin) machine.Pin {
	if d.configured == nil {
		d.configured = make(map[core.GPIOPin]machine.Pin)
	}
	if mp, ok := d.configured[p]; ok {
		return mp
	}
	mp := gpioPins[p]
	d.configured[p] = mp
	return mp
}

func (d *hwGPIO) ConfigureOutput(pin core.GPIOPin) error {
	d.pin(pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	return nil
}

func (d *hwGPIO) ConfigureInputPullUp(pin core.GPIOPin) error {
	d.pin(pin).Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return nil
}

func (d *hwGPIO) ConfigureInputPullDown(pin core.GPIOPin) error {
	d.pin(pin).Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	return nil
}

func (d *hwGPIO) SetPin(pin core.GPIOPin, value bool) error {
	d.pin(pin).Set(value)
	return nil
}

func (d *hwGPIO) GetPin(pin core.GPIOPin) (bool, error) {
	return d.pin(pin).Get(), nil
}

// WaitForLevel polls the pin until it reads value or cancel closes. The
// ESP32-C6's GPIO interrupt wiring in tinygo varies by pin bank, so this
// firmware uses a short poll rather than a per-pin interrupt; the endstop
// edge that matters for homing accuracy is a single sample, not the
// interrupt latency.
func (d *hwGPIO) WaitForLevel(pin core.GPIOPin, value bool, cancel <-chan struct{}) bool {
	p := d.pin(pin)
	for {
		select {
		case <-cancel:
			return false
		default:
		}
		if p.Get() == value {
			return true
		}
		time.Sleep(50 * time.Microsecond)
	}
}
