//go:build esp32c6

package main

import (
	"machine"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/core"
)

// AS5600 register map. No driver for this sensor exists in the example
// pack (tmc2209/tmc5160 cover the stepper driver side only), so this talks
// to machine.I2C0 directly, the same way the teacher's target code talks
// to machine.ADC/machine.PWM directly rather than through a third-party
// driver package.
const (
	as5600Addr          = 0x36
	as5600RegStatus     = 0x0B
	as5600RegRawAngleHi = 0x0C
	as5600RegAngleHi    = 0x0E
)

type as5600 struct {
	bus  *machine.I2C
	zero uint16
}

func newAS5600(bus *machine.I2C) *as5600 {
	bus.Configure(machine.I2CConfig{Frequency: machine.TWI_FREQ_400KHZ})
	return &as5600{bus: bus}
}

func (s *as5600) read16(reg uint8) uint16 {
	var buf [2]byte
	if err := s.bus.Tx(as5600Addr, []byte{reg}, buf[:]); err != nil {
		return 0
	}
	return (uint16(buf[0])<<8 | uint16(buf[1])) & 0x0FFF
}

func (s *as5600) MagnetStatus() core.MagnetStatus {
	var status [1]byte
	if err := s.bus.Tx(as5600Addr, []byte{as5600RegStatus}, status[:]); err != nil {
		return core.MagnetUnknown
	}
	switch {
	case status[0]&0x20 != 0:
		return core.MagnetDetected
	case status[0]&0x10 != 0:
		return core.MagnetTooStrong
	case status[0]&0x08 != 0:
		return core.MagnetTooWeak
	default:
		return core.MagnetUnknown
	}
}

func (s *as5600) RawAngle() uint16 { return s.read16(as5600RegRawAngleHi) }

func (s *as5600) Angle() uint16 { return s.read16(as5600RegAngleHi) }

func (s *as5600) SetZeroPosition(raw uint16) { s.zero = raw }
