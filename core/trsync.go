package core

import (
	"sync"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/protocol"
)

const trsyncChannelDepth = 8

// TRSyncMsgKind discriminates TRSYNC_CHANNEL messages.
type TRSyncMsgKind uint8

const (
	TRSyncSetTimeout TRSyncMsgKind = iota
	TRSyncNewTrigger
	TRSyncHostRequest
	TRSyncEndTask
)

// TRSyncMessage is one TRSYNC_CHANNEL entry.
type TRSyncMessage struct {
	Kind    TRSyncMsgKind
	Timeout Tick  // SetTimeout
	Reason  uint8 // NewTrigger
}

// TRSyncEntity is the OID table's TRSync variant: an optional "alert"
// callback (wired by stepper_stop_on_trigger) fired when the runner
// observes a trigger, plus the channel the runner itself consumes.
type TRSyncEntity struct {
	OID uint8
	ch  chan TRSyncMessage

	mu      sync.Mutex
	onFire  func()
	started bool
	cancel  chan struct{}
}

func registerTrsyncCommands() {
	RegisterCommand("config_trsync", "oid=%c", handleConfigTrsync)
	RegisterCommand("trsync_start", "oid=%c report_clock=%u report_ticks=%u expire_reason=%c", handleTrsyncStart)
	RegisterCommand("trsync_set_timeout", "oid=%c clock=%u", handleTrsyncSetTimeout)
	RegisterCommand("trsync_trigger", "oid=%c reason=%c", handleTrsyncTrigger)
	RegisterResponse("trsync_state", "oid=%c can_trigger=%c trigger_reason=%c clock=%u")
}

func handleConfigTrsync(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	s.OIDs.SetTRSync(uint8(oid), &TRSyncEntity{
		OID: uint8(oid),
		ch:  make(chan TRSyncMessage, trsyncChannelDepth),
	})
	return nil
}

func handleTrsyncStart(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	reportClock, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	reportTicks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	expireReason, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	e := s.OIDs.MustTRSync(uint8(oid))
	e.mu.Lock()
	if e.started {
		close(e.cancel)
	}
	e.cancel = make(chan struct{})
	e.started = true
	cancel := e.cancel
	e.mu.Unlock()

	go runTrsync(e, cancel, Tick(reportClock), Tick(reportTicks), uint8(expireReason))
	return nil
}

func handleTrsyncSetTimeout(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	clock, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	e := s.OIDs.MustTRSync(uint8(oid))
	e.ch <- TRSyncMessage{Kind: TRSyncSetTimeout, Timeout: Tick(clock)}
	return nil
}

func handleTrsyncTrigger(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	reason, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	e := s.OIDs.MustTRSync(uint8(oid))

	switch reason {
	case 1: // endstop hit: fire the stop callback directly, no runner involvement
		e.mu.Lock()
		fire := e.onFire
		e.mu.Unlock()
		if fire != nil {
			fire()
		}
	case 2: // comms timeout: one-shot report, does not latch or stop the stepper
		emitTrsyncState(e.OID, false, uint8(reason), Now())
	case 3:
		e.ch <- TRSyncMessage{Kind: TRSyncHostRequest}
	case 4:
		e.ch <- TRSyncMessage{Kind: TRSyncEndTask}
	}
	return nil
}

// OnTrigger registers the callback stepper_stop_on_trigger wires to
// STEPPER_STOP. NewTrigger also calls it, so either path (reason=1's direct
// fire, or the runner observing a NewTrigger/endstop trigger) stops the
// stepper.
func (e *TRSyncEntity) OnTrigger(fn func()) {
	e.mu.Lock()
	e.onFire = fn
	e.mu.Unlock()
}

// Shutdown ends the runner goroutine if one is active.
func (e *TRSyncEntity) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		close(e.cancel)
		e.started = false
	}
}

// runTrsync is the trsync runner: races a periodic report timer against
// TRSYNC_CHANNEL, exactly per the Armed/Triggered-style state machine in
// spec §4.4.
func runTrsync(e *TRSyncEntity, cancel <-chan struct{}, reportClock, reportTicks Tick, expireReason uint8) {
	var timeout Tick
	haveTimeout := false
	triggerable := true
	nextReport := reportClock + reportTicks
	end := false

	clock := GetClock()
	for {
		select {
		case <-cancel:
			return
		case <-clock.WaitUntil(nextReport, cancel):
			now := clock.Now()
			if haveTimeout && TickAfter(now, timeout) {
				triggerable = false
				haveTimeout = false
			}
			emitTrsyncState(e.OID, triggerable, expireReason, now)
			nextReport = now + reportTicks
			RecordTiming(EvtTrsyncTrigger, e.OID, now, boolToUint32(triggerable), uint32(expireReason))
			if end {
				return
			}

		case msg := <-e.ch:
			switch msg.Kind {
			case TRSyncSetTimeout:
				timeout = msg.Timeout
				haveTimeout = true
			case TRSyncNewTrigger:
				expireReason = msg.Reason
				triggerable = false
				e.mu.Lock()
				fire := e.onFire
				e.mu.Unlock()
				if fire != nil {
					fire()
				}
			case TRSyncHostRequest:
				end = true
			case TRSyncEndTask:
				end = true
				expireReason = 4
				triggerable = false
			}
		}
	}
}

func emitTrsyncState(oid uint8, triggerable bool, expireReason uint8, now Tick) {
	SendResponse("trsync_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQUint(output, boolToUint32(triggerable))
		protocol.EncodeVLQUint(output, uint32(expireReason))
		protocol.EncodeVLQUint(output, uint32(now))
	})
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
