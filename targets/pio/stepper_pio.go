//go:build rp2040

// Package pio is an alternate stepper pulse backend for boards with an
// RP2040 PIO peripheral, wired in as a core.StepperBackend. Grounded on the
// teacher's PIO stepper program: a fixed pulse-count/delay command word
// pushed through the TX FIFO, decoded by a tiny PIO assembly loop so pulse
// timing comes from hardware rather than a busy-wait goroutine.
package pio

import (
	"machine"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/core"
	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// buildStepperProgram assembles the PIO step-pulse loop:
//
//	pull block              ; wait for a command word
//	out x, 16               ; pulse count
//	out y, 8                ; delay cycles
//	out pins, 1             ; direction
//	set pins, 1 [7]         ; step high
//	set pins, 0             ; step low
//	jmp y--, <delay>        ; inter-pulse spacing
//	jmp x--, <step>         ; next pulse
func buildStepperProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		asm.Pull(false, true).Encode(),
		asm.Out(rp2pio.OutDestX, 16).Encode(),
		asm.Out(rp2pio.OutDestY, 8).Encode(),
		asm.Out(rp2pio.OutDestPins, 1).Encode(),
		asm.Set(rp2pio.SetDestPins, 1).Delay(7).Encode(),
		asm.Set(rp2pio.SetDestPins, 0).Encode(),
		asm.Jmp(6, rp2pio.JmpYNZeroDec).Encode(),
		asm.Jmp(4, rp2pio.JmpXNZeroDec).Encode(),
	}
}

const stepperPIOOrigin = 0

// Backend drives one physical stepper's step/dir pins through a PIO state
// machine instead of core's default GPIO bit-bang path. Install with
// core.SetStepperBackend once Init succeeds.
type Backend struct {
	pio       *rp2pio.PIO
	sm        rp2pio.StateMachine
	stepPin   machine.Pin
	dirPin    machine.Pin
	direction bool
}

// NewBackend claims state machine smNum on PIO block pioNum (0 or 1).
func NewBackend(pioNum, smNum uint8) *Backend {
	pioHW := rp2pio.PIO0
	if pioNum != 0 {
		pioHW = rp2pio.PIO1
	}
	return &Backend{pio: pioHW, sm: pioHW.StateMachine(smNum)}
}

// Init loads the step-pulse program and configures the step/dir pins.
func (b *Backend) Init(stepPin, dirPin core.GPIOPin) error {
	b.stepPin = machine.Pin(stepPin)
	b.dirPin = machine.Pin(dirPin)

	b.sm.TryClaim()

	program := buildStepperProgram()
	offset, err := b.pio.AddProgram(program, stepperPIOOrigin)
	if err != nil {
		return err
	}

	b.stepPin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})
	b.dirPin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(b.stepPin, 1)
	cfg.SetOutPins(b.dirPin, 1)
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	cfg.SetClkDivIntFrac(1000, 0)

	b.sm.Init(offset, cfg)
	b.sm.SetPindirsConsecutive(b.stepPin, 1, true)
	b.sm.SetPindirsConsecutive(b.dirPin, 1, true)
	b.sm.SetPinsConsecutive(b.stepPin, 1, false)
	b.sm.SetPinsConsecutive(b.dirPin, 1, false)
	b.sm.SetEnabled(true)

	return nil
}

// Step satisfies core.StepperBackend: one pulse, minimal PIO-timed delay.
// The scheduler in core/stepper.go already paces calls at the segment's
// step interval; this only needs to produce the hardware pulse itself.
func (b *Backend) Step() {
	// x=0 (one pulse: jmp x-- falls through at zero), y=1, dir at bit 24.
	cmd := uint32(1) << 16
	if b.direction {
		cmd |= 1 << 24
	}
	for b.sm.IsTxFIFOFull() {
	}
	b.sm.TxPut(cmd)
}

// SetDirection satisfies core.StepperBackend.
func (b *Backend) SetDirection(dir bool) { b.direction = dir }

// Stop clears the FIFO and restarts the state machine, used when the
// board's bootstrap reinitializes after a shutdown.
func (b *Backend) Stop() {
	b.sm.SetEnabled(false)
	b.sm.ClearFIFOs()
	b.sm.Restart()
	b.sm.SetEnabled(true)
}

var _ core.StepperBackend = (*Backend)(nil)
