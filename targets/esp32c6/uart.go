//go:build esp32c6

package main

import (
	"errors"
	"machine"
	"time"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/core"
)

// hwUART implements core.UARTDriver over machine.UART1, the bus this board
// dedicates to the TMC2209 single-wire half-duplex link. bit_time arrives
// in CLOCK_FREQ ticks per bit (see spec §4.6); the baud rate is derived
// from it rather than hardcoded, since different TMC2209 configurations
// negotiate different UART speeds.
type hwUART struct {
	configured bool
}

func (d *hwUART) ConfigureHalfDuplex(rxPin, txPin core.GPIOPin, pullUp bool, bitTimeTicks core.Tick) error {
	if bitTimeTicks == 0 {
		return errors.New("zero bit_time")
	}
	baud := uint32(core.CLOCK_FREQ) / uint32(bitTimeTicks)
	err := machine.UART1.Configure(machine.UARTConfig{
		BaudRate: baud,
		TX:       gpioPins[txPin],
		RX:       gpioPins[rxPin],
	})
	if err != nil {
		return err
	}
	d.configured = true
	return nil
}

func (d *hwUART) Write(bus uint8, data []byte) error {
	if !d.configured {
		return errors.New("uart not configured")
	}
	_, err := machine.UART1.Write(data)
	return err
}

func (d *hwUART) Read(bus uint8, n int, cancel <-chan struct{}) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		select {
		case <-cancel:
			return out, nil
		default:
		}
		if machine.UART1.Buffered() == 0 {
			time.Sleep(20 * time.Microsecond)
			continue
		}
		b, err := machine.UART1.ReadByte()
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
	return out, nil
}
