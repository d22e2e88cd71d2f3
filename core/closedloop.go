package core

// Closed-loop monitor (H): no teacher equivalent — the teacher's firmware
// has no angle sensor. Grounded on the shape of the teacher's adc.go
// polling task and its i2c_hal.go HAL boundary, generalized to the one
// sensor this firmware cares about.

const (
	// DegPerTick is the angular resolution of the 12-bit absolute encoder.
	DegPerTick = 360.0 / 4096.0
	// DegPerStep is the mechanical resolution at 16 microsteps on a
	// 200-step/rev motor.
	DegPerStep = 360.0 / 3200.0
	stepsPerRev = 3200

	clMonitorChannelDepth = 64
)

// MagnetStatus is the AS5600-style absolute encoder's health readout.
type MagnetStatus uint8

const (
	MagnetUnknown MagnetStatus = iota
	MagnetDetected
	MagnetTooWeak
	MagnetTooStrong
)

// AngleSensor is the closed-loop monitor's hardware boundary: a 12-bit
// absolute magnetic angle encoder exposing the handful of registers this
// firmware reads. Assumed present per spec; the target supplies a concrete
// I2C-backed implementation.
type AngleSensor interface {
	MagnetStatus() MagnetStatus
	RawAngle() uint16
	Angle() uint16
	SetZeroPosition(raw uint16)
}

var angleSensor AngleSensor

// SetAngleSensor installs the platform angle sensor driver; called once
// from target bootstrap before the closed-loop monitor goroutine starts.
func SetAngleSensor(s AngleSensor) { angleSensor = s }

// CLMonitorKind discriminates CL_MONITOR_CHANNEL messages.
type CLMonitorKind uint8

const (
	CLCalibrate CLMonitorKind = iota
	CLCheckPosition
)

// CLMonitorMessage is the closed-loop monitor's single inbox message type.
type CLMonitorMessage struct {
	Kind CLMonitorKind

	// CheckPosition fields.
	Counter  int32
	Interval Tick
	Dir      uint8
}

// CL_MONITOR_CHANNEL is fed by the step driver (CheckPosition, best-effort
// try-send) and the endstop runner (Calibrate on trigger).
var CL_MONITOR_CHANNEL = make(chan CLMonitorMessage, clMonitorChannelDepth)

// RunClosedLoopMonitor polls for the sensor's magnet to be detected, then
// services CL_MONITOR_CHANNEL until cancel closes. There is exactly one
// instance, started once from target bootstrap; the step driver is spawned
// separately, by the first config_stepper.
func RunClosedLoopMonitor(cancel <-chan struct{}) {
	if angleSensor == nil {
		return
	}
	for angleSensor.MagnetStatus() != MagnetDetected {
		select {
		case <-cancel:
			return
		case <-GetClock().WaitUntil(Now()+Tick(CLOCK_FREQ/50), cancel):
		}
	}

	var angleCalibrate uint16
	var stepCalibrate int32

	for {
		select {
		case <-cancel:
			return
		case msg := <-CL_MONITOR_CHANNEL:
			switch msg.Kind {
			case CLCalibrate:
				angleCalibrate = angleSensor.RawAngle()
				pos := STEPPER_POSITION.Load()
				if pos < 0 {
					pos = -pos
				}
				stepCalibrate = pos % stepsPerRev
				angleSensor.SetZeroPosition(angleCalibrate)

			case CLCheckPosition:
				if angleCalibrate == 0 && stepCalibrate == 0 {
					continue
				}
				angle := angleSensor.Angle()
				if angle == 0 {
					continue
				}
				exactAngle := float64(angle) * DegPerTick

				motorSteps := (msg.Counter - stepCalibrate) % stepsPerRev
				if motorSteps < 0 {
					motorSteps += stepsPerRev
				}
				exactMotor := float64(motorSteps) * DegPerStep

				if wraps(exactAngle, exactMotor) {
					continue
				}

				errDeg := exactAngle - exactMotor
				errDeg -= 360 * float64(int(errDeg/360))
				if errDeg < 0 {
					errDeg += 360
				}
				if errDeg > 180 {
					errDeg -= 360
				}

				n := int(errDeg / DegPerStep)
				if n < 0 {
					n = -n
				}
				if n <= 8 {
					continue
				}

				dir := uint8(0)
				if errDeg < 0 {
					dir = 1
				}
				RecordTiming(EvtCorrection, 0, Now(), uint32(n), uint32(dir))
				select {
				case STEPPER_MOVE_QUEUE <- StepperMessage{
					Kind:     MsgStepCorrection,
					Interval: Tick(CLOCK_FREQ / 10000), // fixed slow cadence; correction is a trickle, not a move
					Count:    uint16(n),
					Dir:      dir,
				}:
				default:
				}
			}
		}
	}
}

// wraps reports whether a and b straddle the 0/360deg boundary from
// opposite sides (one above 345deg, the other below 15deg), where a plain
// subtraction would otherwise produce a spurious near-360deg error.
func wraps(a, b float64) bool {
	const hi, lo = 345.0, 15.0
	return (a > hi && b < lo) || (a < lo && b > hi)
}
