package core

// GPIOPin identifies a hardware pin number. The numbering is whatever the
// target's pin enumeration registers under the "pin" dictionary
// enumeration; core code never interprets it beyond that.
type GPIOPin uint32

// GPIODriver is the hardware boundary every digital-out, step/dir and
// endstop input pin goes through. Hosted tests and tinygo targets each
// supply their own implementation.
type GPIODriver interface {
	ConfigureOutput(pin GPIOPin) error
	ConfigureInputPullUp(pin GPIOPin) error
	ConfigureInputPullDown(pin GPIOPin) error

	SetPin(pin GPIOPin, value bool) error
	GetPin(pin GPIOPin) (bool, error)

	// WaitForLevel blocks the calling goroutine until pin reads value, or
	// cancel closes first, returning which happened. Both the esp32c6
	// target and the hosted test driver implement it by polling the pin.
	WaitForLevel(pin GPIOPin, value bool, cancel <-chan struct{}) (triggered bool)
}

var gpioDriver GPIODriver

// SetGPIODriver installs the platform GPIO implementation; called once from
// target bootstrap before any config_* command can run.
func SetGPIODriver(d GPIODriver) { gpioDriver = d }

// MustGPIO returns the installed driver, panicking if bootstrap never set
// one — a programming error, not a host protocol violation.
func MustGPIO() GPIODriver {
	if gpioDriver == nil {
		panic("GPIO driver not configured")
	}
	return gpioDriver
}
