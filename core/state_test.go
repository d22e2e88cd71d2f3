package core

import (
	"testing"
	"time"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/protocol"
)

func TestStateConfigLifecycle(t *testing.T) {
	registerBootstrapCommands()
	s := NewState()

	if s.IsConfigured() {
		t.Fatal("fresh state should not be configured")
	}

	data := protocol.EncodeVLQ(0xABCD)
	if err := handleFinalizeConfig(s, &data); err != nil {
		t.Fatalf("finalize_config failed: %v", err)
	}
	if !s.IsConfigured() {
		t.Fatal("expected IsConfigured after finalize_config")
	}

	empty := []byte{}
	if err := handleConfigReset(s, &empty); err != nil {
		t.Fatalf("config_reset failed: %v", err)
	}
	if s.IsConfigured() {
		t.Fatal("expected config_reset to clear configured state")
	}
}

func TestStateShutdownIsIdempotent(t *testing.T) {
	registerBootstrapCommands()
	s := NewState()
	link := &captureLink{}
	SetSerialLink(link)
	NewProcessTransport(s)

	cancel := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		RunTxPump(cancel)
		close(stopped)
	}()

	s.TryShutdown("test reason")
	s.TryShutdown("second reason")

	deadline := time.Now().Add(time.Second)
	for len(link.bytes()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(cancel)
	<-stopped

	if s.ShutdownReason() != "test reason" {
		t.Fatalf("expected first reason to latch, got %q", s.ShutdownReason())
	}
	if !s.IsShutdown() {
		t.Fatal("expected IsShutdown true")
	}
	if len(link.bytes()) == 0 {
		t.Fatal("expected shutdown response to be written to the serial link")
	}
}

func TestStateUptimeStartsNearZero(t *testing.T) {
	s := NewState()
	if s.Uptime() > 1_000_000 {
		t.Fatalf("fresh state should report near-zero uptime, got %d", s.Uptime())
	}
}

func TestHandleAllocateOidsLeavesSlotUsable(t *testing.T) {
	s := NewState()
	data := protocol.EncodeVLQ(4)
	if err := handleAllocateOids(s, &data); err != nil {
		t.Fatalf("allocate_oids failed: %v", err)
	}
	s.OIDs.SetDigitalOut(3, &DigitalOutEntity{OID: 3})
	if _, ok := s.OIDs.DigitalOut(3); !ok {
		t.Fatal("expected oid 3 to be usable after allocating 4 slots")
	}
}

func TestHandleEmergencyStopLatches(t *testing.T) {
	s := NewState()
	SetSerialLink(&captureLink{})
	NewProcessTransport(s)

	empty := []byte{}
	if err := handleEmergencyStop(s, &empty); err != nil {
		t.Fatalf("emergency_stop failed: %v", err)
	}
	if s.ShutdownReason() != "emergency_stop" {
		t.Fatalf("expected reason emergency_stop, got %q", s.ShutdownReason())
	}
}

func TestHandleIdentifyReturnsDictionaryChunk(t *testing.T) {
	registerBootstrapCommands()
	GetGlobalDictionary().BuildDictionary()

	s := NewState()
	SetSerialLink(&captureLink{})
	NewProcessTransport(s)

	data := protocol.EncodeVLQ(0)
	data = append(data, protocol.EncodeVLQ(40)...)
	if err := handleIdentify(s, &data); err != nil {
		t.Fatalf("identify failed: %v", err)
	}
}
