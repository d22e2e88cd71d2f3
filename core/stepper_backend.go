package core

// StepperBackend is an optional hardware-accelerated pulse generator a
// target can install in place of the default GPIO bit-bang path in
// firePulse/setDirection. Only boards with a PIO-like peripheral (see
// targets/pio) need one; everything else drives the step/dir pins
// directly through GPIODriver.
type StepperBackend interface {
	SetDirection(dir bool)
	Step()
}

var stepperBackend StepperBackend

// SetStepperBackend installs a hardware pulse generator. Called once from
// target bootstrap, before config_stepper's first invocation, if the board
// has one.
func SetStepperBackend(b StepperBackend) { stepperBackend = b }
