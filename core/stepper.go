package core

import (
	"sync"
	"sync/atomic"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/protocol"
)

// stepperQueueDepth sizes STEPPER_MOVE_QUEUE generously: Klipper bursts
// moves ahead of real time, especially across direction changes.
const stepperQueueDepth = 2048

// StepperMessageKind discriminates the three things that can land in
// STEPPER_MOVE_QUEUE.
type StepperMessageKind uint8

const (
	MsgStepInfo StepperMessageKind = iota
	MsgStepCorrection
	MsgResetStepClock
)

// StepperMessage is the tagged union the step-driver goroutine consumes.
// Interval/Add/Count are only meaningful for the StepInfo/StepCorrection
// kinds.
type StepperMessage struct {
	Kind     StepperMessageKind
	Interval Tick
	Count    uint16
	Add      int32
	Dir      uint8
}

// STEPPER_MOVE_QUEUE is the single physical stepper's move queue: an MPSC
// channel fed by the transport's queue_step/reset_step_clock handlers and by
// the closed-loop monitor's correction segments.
var STEPPER_MOVE_QUEUE = make(chan StepperMessage, stepperQueueDepth)

// STEPPER_STOP is the edge-triggered abort flag a trsync trigger raises;
// the driver loop clears it after honoring one abort.
var STEPPER_STOP atomic.Bool

// STEPPER_POSITION is the net commanded pulse count, published after every
// completed segment regardless of direction or abort (invariant iii).
var STEPPER_POSITION atomic.Int32

type stepperConfig struct {
	StepPin        GPIOPin
	DirPin         GPIOPin
	InvertStep     bool
	StepPulseTicks Tick
}

// StepperEntity is the OID table's Stepper variant: the producer-side
// handle config_stepper inserts. It does not own the step/dir pins — those
// belong to the single step-driver goroutine spawned the first time
// config_stepper runs (spec invariant i: at most one driver task exists).
type StepperEntity struct {
	OID uint8

	mu      sync.Mutex
	nextDir uint8

	cfg *atomic.Pointer[stepperConfig]

	cancel chan struct{}
}

var (
	stepperDriverOnce sync.Once
	stepperCfg        atomic.Pointer[stepperConfig]
	stepperCancel     = make(chan struct{})
)

// registerStepperCommands wires the step-scheduler command surface.
func registerStepperCommands() {
	RegisterCommand("config_stepper", "oid=%c step_pin=%u dir_pin=%u invert_step=%c step_pulse_ticks=%u", handleConfigStepper)
	RegisterCommand("queue_step", "oid=%c interval=%u count=%hu add=%hi", handleQueueStep)
	RegisterCommand("set_next_step_dir", "oid=%c dir=%c", handleSetNextStepDir)
	RegisterCommand("reset_step_clock", "oid=%c clock=%u", handleResetStepClock)
	RegisterCommand("stepper_get_position", "oid=%c", handleStepperGetPosition)
	RegisterCommand("stepper_stop_on_trigger", "oid=%c trsync_oid=%c", handleStepperStopOnTrigger)
	RegisterResponse("stepper_position", "oid=%c pos=%i")

	RegisterConstant("STEPPER_BOTH_EDGES", "1")
}

func handleConfigStepper(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	stepPin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	dirPin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	invertStep, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	pulseTicks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	cfg := &stepperConfig{
		StepPin:        GPIOPin(stepPin),
		DirPin:         GPIOPin(dirPin),
		InvertStep:     invertStep != 0,
		StepPulseTicks: Tick(pulseTicks),
	}
	driver := MustGPIO()
	_ = driver.ConfigureOutput(cfg.StepPin)
	_ = driver.ConfigureOutput(cfg.DirPin)
	stepperCfg.Store(cfg)

	entity := &StepperEntity{OID: uint8(oid), cfg: &stepperCfg, cancel: stepperCancel}
	s.OIDs.SetStepper(uint8(oid), entity)

	stepperDriverOnce.Do(func() {
		go runStepperDriver(STEPPER_MOVE_QUEUE, stepperCancel)
	})
	return nil
}

func handleQueueStep(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	interval, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	add, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}

	entity := s.OIDs.MustStepper(uint8(oid))
	if count == 0 {
		return nil
	}

	entity.mu.Lock()
	dir := entity.nextDir
	entity.mu.Unlock()

	STEPPER_MOVE_QUEUE <- StepperMessage{
		Kind:     MsgStepInfo,
		Interval: Tick(interval),
		Count:    uint16(count),
		Add:      add,
		Dir:      dir,
	}
	return nil
}

func handleSetNextStepDir(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	dir, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	entity := s.OIDs.MustStepper(uint8(oid))
	entity.mu.Lock()
	entity.nextDir = uint8(dir)
	entity.mu.Unlock()
	return nil
}

func handleResetStepClock(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	_ = s.OIDs.MustStepper(uint8(oid))
	_, err = protocol.DecodeVLQUint(data) // clock: ignored; the driver resets its step clock to 0, so the next segment's first interval is taken as an absolute tick
	if err != nil {
		return err
	}
	STEPPER_MOVE_QUEUE <- StepperMessage{Kind: MsgResetStepClock}
	return nil
}

func handleStepperGetPosition(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	_ = s.OIDs.MustStepper(uint8(oid))
	pos := STEPPER_POSITION.Load()
	SendResponse("stepper_position", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQInt(output, pos)
	})
	return nil
}

func handleStepperStopOnTrigger(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	trsyncOID, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	_ = s.OIDs.MustStepper(uint8(oid))
	trsync := s.OIDs.MustTRSync(uint8(trsyncOID))
	trsync.OnTrigger(func() { STEPPER_STOP.Store(true) })
	return nil
}

// Shutdown stops the step-driver goroutine; called once from
// OIDTable.ShutdownAll. Every StepperEntity inserted so far shares the same
// cancel channel (there is only ever one physical driver), so closing it
// once is sufficient even if multiple oids were configured.
func (e *StepperEntity) Shutdown() {
	select {
	case <-e.cancel:
	default:
		close(e.cancel)
	}
}

// runStepperDriver is the sole consumer of STEPPER_MOVE_QUEUE: the step
// scheduler, the core of the core. stepClock==0 means "unsynced" — the
// next StepInfo with interval < now is dropped rather than fired in the
// past.
func runStepperDriver(queue <-chan StepperMessage, cancel <-chan struct{}) {
	var stepClock Tick
	var stepCounter int32

	for {
		select {
		case <-cancel:
			return
		case msg := <-queue:
			switch msg.Kind {
			case MsgResetStepClock:
				stepClock = 0
			case MsgStepInfo:
				stepClock = runSegment(msg, &stepCounter, stepClock, false)
			case MsgStepCorrection:
				stepClock = runSegment(msg, &stepCounter, stepClock, true)
			}
		}
	}
}

// runSegment drives one queued segment to completion (or abort), returning
// the step_clock value the driver should carry into the next message.
func runSegment(msg StepperMessage, stepCounter *int32, stepClock Tick, correction bool) Tick {
	cfg := stepperCfg.Load()
	if cfg == nil {
		return stepClock
	}
	clock := GetClock()
	drv := MustGPIO()

	setDirection(drv, cfg, msg.Dir)

	now := clock.Now()
	if !correction && stepClock == 0 && TickBefore(msg.Interval, now) {
		RecordTiming(EvtLoadMove, 0, now, uint32(msg.Interval), 0)
		return stepClock
	}

	base := stepClock
	if correction {
		base = now
	}

	delay := int64(msg.Interval)
	for k := uint16(0); k < msg.Count; k++ {
		if STEPPER_STOP.CompareAndSwap(true, false) {
			stepClock = 0
			break
		}

		scheduled := base + Tick(delay)
		now = clock.Now()
		if TickAfter(now, scheduled) {
			emitShutdown("Stepper too far in past")
			return 0
		}
		<-clock.WaitUntil(scheduled, nil)

		firePulse(drv, cfg)
		stepClock = clock.Now()

		if !correction {
			if msg.Dir == 0 {
				*stepCounter++
			} else {
				*stepCounter--
			}
			if k%32 == 0 {
				postCheckPosition(*stepCounter, msg.Interval, msg.Dir)
			}
		}

		delay += int64(msg.Add)
		base = scheduled
	}

	if correction {
		stepClock = clock.Now()
	} else {
		STEPPER_POSITION.Store(*stepCounter)
	}
	return stepClock
}

func setDirection(drv GPIODriver, cfg *stepperConfig, dir uint8) {
	want := dir != 0
	if stepperBackend != nil {
		stepperBackend.SetDirection(want)
		return
	}
	cur, _ := drv.GetPin(cfg.DirPin)
	if cur != want {
		_ = drv.SetPin(cfg.DirPin, want)
	}
}

func firePulse(drv GPIODriver, cfg *stepperConfig) {
	if stepperBackend != nil {
		stepperBackend.Step()
		return
	}
	active := !cfg.InvertStep
	_ = drv.SetPin(cfg.StepPin, active)
	GetClock().BusyWaitFor(cfg.StepPulseTicks)
	_ = drv.SetPin(cfg.StepPin, !active)
}

func postCheckPosition(counter int32, interval Tick, dir uint8) {
	select {
	case CL_MONITOR_CHANNEL <- CLMonitorMessage{Kind: CLCheckPosition, Counter: counter, Interval: interval, Dir: dir}:
	default:
	}
}

func emitShutdown(reason string) {
	if globalState != nil {
		globalState.TryShutdown(reason)
	}
}
