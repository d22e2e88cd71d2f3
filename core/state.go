package core

import (
	"sync"
	"sync/atomic"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/protocol"
)

// MCU identifies this firmware build in the identify/config responses; the
// closed-loop stepper test rig this module targets.
const MCU = "ESP32C6-Test"

// STATS_SUMSQ_BASE matches the constant Klipper's host stats code expects
// on the wire; kept even though this firmware doesn't compute load stats.
const STATS_SUMSQ_BASE = 256

// moveQueueDepth is reported in the "config" response as move_count; the
// host uses it to size its own outgoing queue, not something this firmware
// enforces directly (STEPPER_MOVE_QUEUE is sized independently, see
// stepper.go).
const moveQueueDepth = 16

// State is the firmware's single mutable bag: the OID table, the
// config/shutdown cell, and the boot epoch. Every command handler receives
// it explicitly rather than reaching through package globals, so tests can
// construct an isolated State per scenario.
type State struct {
	OIDs *OIDTable

	configCRC  atomic.Uint32
	isShutdown atomic.Bool

	shutdownMu     sync.Mutex
	shutdownReason string

	bootTick Tick
}

// NewState returns a freshly booted State with an empty OID table.
func NewState() *State {
	return &State{
		OIDs:     NewOIDTable(),
		bootTick: Now(),
	}
}

// IsConfigured reports whether finalize_config has been called since boot
// or the last config_reset.
func (s *State) IsConfigured() bool { return s.configCRC.Load() != 0 }

// IsShutdown reports whether the firmware is latched into shutdown.
func (s *State) IsShutdown() bool { return s.isShutdown.Load() }

// Uptime returns elapsed ticks since State was constructed, widened to 64
// bits the way the host's get_uptime expects (high/low halves).
func (s *State) Uptime() uint64 {
	return uint64(Now() - s.bootTick)
}

// OnHostReset clears transport-adjacent state when the transport detects
// the host restarted its sequence numbering (USB replug, FIRMWARE_RESTART).
// It does not clear OIDs or shutdown latch: those require config_reset and a
// fresh finalize_config from the host, exactly like the teacher's
// ResetFirmwareState being a distinct, host-driven call.
func (s *State) OnHostReset() {}

// TryShutdown latches the shutdown flag, stops every running task reachable
// from the OID table, and emits shutdown(reason, clock) to the host. Safe
// to call more than once; only the first call has an effect, matching the
// teacher's idempotent emergency-stop path.
func (s *State) TryShutdown(reason string) {
	if !s.isShutdown.CompareAndSwap(false, true) {
		return
	}
	s.shutdownMu.Lock()
	s.shutdownReason = reason
	s.shutdownMu.Unlock()

	s.OIDs.ShutdownAll()

	clock := Now()
	SendResponse("shutdown", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQString(output, reason)
		protocol.EncodeVLQUint(output, uint32(clock))
	})
	DumpTimingRing()
}

// ShutdownReason returns the latched reason, or "" if not shut down.
func (s *State) ShutdownReason() string {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	return s.shutdownReason
}

// registerBootstrapCommands wires the bootstrap/config command surface
// shared by every target: identify handshake, clock/uptime queries, and the
// config_reset/finalize_config/get_config state machine. Called once from
// target bootstrap (or test setup) alongside registerStepperCommands,
// registerTrsyncCommands, etc.
func registerBootstrapCommands() {
	RegisterCommand("identify_response", "offset=%u data=%*s", nil)
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify)

	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("allocate_oids", "count=%c", handleAllocateOids)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)

	RegisterResponse("clock", "clock=%u")
	RegisterResponse("uptime", "high=%u clock=%u")
	RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c move_count=%hu")
	RegisterResponse("shutdown", "static_string_id=%s clock=%u")

	RegisterConstant("MCU", MCU)
	RegisterConstant("CLOCK_FREQ", itoa(CLOCK_FREQ))
	RegisterConstant("STATS_SUMSQ_BASE", itoa(STATS_SUMSQ_BASE))
}

// RegisterAllCommands wires the full command surface: bootstrap/config plus
// every OID-bearing module. Targets call this once at boot, before the
// dictionary is generated.
func RegisterAllCommands() {
	registerBootstrapCommands()
	registerStepperCommands()
	registerTrsyncCommands()
	registerEndstopCommands()
	registerDigitalOutCommands()
	registerTMCUartCommands()
}

func handleIdentify(s *State, data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))
	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func handleGetUptime(s *State, data *[]byte) error {
	uptime := s.Uptime()
	SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(uptime>>32))
		protocol.EncodeVLQUint(output, uint32(uptime))
	})
	return nil
}

func handleGetClock(s *State, data *[]byte) error {
	clock := Now()
	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(clock))
	})
	return nil
}

func handleGetConfig(s *State, data *[]byte) error {
	crc := s.configCRC.Load()
	SendResponse("config", func(output protocol.OutputBuffer) {
		if crc != 0 {
			protocol.EncodeVLQUint(output, 1)
		} else {
			protocol.EncodeVLQUint(output, 0)
		}
		protocol.EncodeVLQUint(output, crc)
		if s.IsShutdown() {
			protocol.EncodeVLQUint(output, 1)
		} else {
			protocol.EncodeVLQUint(output, 0)
		}
		protocol.EncodeVLQUint(output, moveQueueDepth)
	})
	return nil
}

func handleConfigReset(s *State, data *[]byte) error {
	s.configCRC.Store(0)
	s.OIDs.Reset()
	return nil
}

func handleFinalizeConfig(s *State, data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	s.configCRC.Store(crc)
	return nil
}

func handleAllocateOids(s *State, data *[]byte) error {
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	s.OIDs.Allocate(int(count))
	return nil
}

func handleEmergencyStop(s *State, data *[]byte) error {
	s.TryShutdown("emergency_stop")
	return nil
}
