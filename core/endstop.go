package core

import (
	"sync"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/protocol"
)

const endstopChannelDepth = 4

// EndstopEntity is the OID table's Endstop variant: the input pin and the
// cached state endstop_query_state reports.
type EndstopEntity struct {
	OID    uint8
	Pin    GPIOPin
	PullUp bool

	ch chan struct{}

	mu        sync.Mutex
	homing    bool
	nextClock Tick
	lastRead  bool
	cancel    chan struct{}
	active    bool
}

func registerEndstopCommands() {
	RegisterCommand("config_endstop", "oid=%c pin=%u pull_up=%c", handleConfigEndstop)
	RegisterCommand("endstop_home", "oid=%c clock=%u sample_ticks=%u sample_count=%c rest_ticks=%u pin_value=%c trsync_oid=%c trigger_reason=%c", handleEndstopHome)
	RegisterCommand("endstop_query_state", "oid=%c", handleEndstopQueryState)
	RegisterResponse("endstop_state", "oid=%c homing=%c next_clock=%u pin_value=%c")
}

func handleConfigEndstop(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	pullUp, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	drv := MustGPIO()
	if pullUp != 0 {
		_ = drv.ConfigureInputPullUp(GPIOPin(pin))
	} else {
		_ = drv.ConfigureInputPullDown(GPIOPin(pin))
	}

	s.OIDs.SetEndstop(uint8(oid), &EndstopEntity{
		OID:    uint8(oid),
		Pin:    GPIOPin(pin),
		PullUp: pullUp != 0,
		ch:     make(chan struct{}, endstopChannelDepth),
	})
	return nil
}

func handleEndstopHome(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	clock, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	sampleTicks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	sampleCount, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	restTicks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	pinValue, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	trsyncOID, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	triggerReason, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	e := s.OIDs.MustEndstop(uint8(oid))

	disarm := clock == 0 && sampleTicks == 0 && sampleCount == 0 && restTicks == 0 &&
		pinValue == 0 && trsyncOID == 0 && triggerReason == 0
	if disarm {
		select {
		case e.ch <- struct{}{}:
		default:
		}
		return nil
	}

	trsync := s.OIDs.MustTRSync(uint8(trsyncOID))

	e.mu.Lock()
	if e.active {
		close(e.cancel)
	}
	e.cancel = make(chan struct{})
	e.active = true
	e.homing = true
	cancel := e.cancel
	e.mu.Unlock()

	go runEndstop(e, cancel, pinValue != 0, uint8(triggerReason), trsync)
	return nil
}

func handleEndstopQueryState(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	e := s.OIDs.MustEndstop(uint8(oid))
	e.mu.Lock()
	homing, nextClock, lastRead := e.homing, e.nextClock, e.lastRead
	e.mu.Unlock()

	SendResponse("endstop_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQUint(output, boolToUint32(homing))
		protocol.EncodeVLQUint(output, uint32(nextClock))
		protocol.EncodeVLQUint(output, boolToUint32(lastRead))
	})
	return nil
}

// Shutdown ends the watcher goroutine if one is active.
func (e *EndstopEntity) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		close(e.cancel)
		e.active = false
		e.homing = false
	}
}

// runEndstop is the Armed -> Triggered -> Dead watcher. A single pin edge
// is authoritative: sample_ticks/sample_count/rest_ticks are accepted for
// protocol compatibility but not replicated here (see spec §4.4).
func runEndstop(e *EndstopEntity, cancel <-chan struct{}, pinValue bool, triggerReason uint8, trsync *TRSyncEntity) {
	drv := MustGPIO()

	stop := make(chan struct{})
	triggered := drv.WaitForLevel(e.Pin, pinValue, mergeCancel(cancel, e.ch, stop))
	close(stop)
	if !triggered {
		e.mu.Lock()
		e.homing = false
		e.mu.Unlock()
		return
	}

	now := Now()
	e.mu.Lock()
	e.lastRead = pinValue
	e.nextClock = now
	e.mu.Unlock()

	RecordTiming(EvtEndstopArm, e.OID, now, uint32(boolToUint32(pinValue)), uint32(triggerReason))
	trsync.ch <- TRSyncMessage{Kind: TRSyncNewTrigger, Reason: triggerReason}

	select {
	case <-cancel:
		return
	case <-e.ch:
	}

	// Calibrate events are rare (one per homing move) and must never be
	// dropped, unlike the high-frequency CheckPosition cadence in
	// stepper.go's postCheckPosition; a blocking send matches
	// `_examples/original_source/src/klipper/endstop/task.rs`'s
	// `CL_MONITOR_CHANNEL.send(...).await`.
	CL_MONITOR_CHANNEL <- CLMonitorMessage{Kind: CLCalibrate}

	e.mu.Lock()
	e.homing = false
	e.mu.Unlock()
}

// mergeCancel folds the watcher's cancel channel and its disarm inbox into
// a single cancel signal for WaitForLevel: whichever fires first wins the
// Armed-state race against the pin edge. Closing stop ends the merge
// without firing it, so a later disarm message is left for the Triggered
// state to receive.
func mergeCancel(cancel <-chan struct{}, disarm chan struct{}, stop <-chan struct{}) <-chan struct{} {
	merged := make(chan struct{})
	go func() {
		select {
		case <-cancel:
		case <-disarm:
		case <-stop:
			return
		}
		close(merged)
	}()
	return merged
}
