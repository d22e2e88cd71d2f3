package core

import "sync"

// OIDKind discriminates the closed set of hardware endpoint variants an oid
// can hold. A tagged union, not dynamic dispatch: the set is fixed and each
// variant has distinct, non-overlapping operations (spec Design Notes).
type OIDKind uint8

const (
	OIDNone OIDKind = iota
	OIDTMCUart
	OIDStepper
	OIDDigitalOut
	OIDEndstop
	OIDTRSync
)

// maxOIDs bounds the table exactly as the host-visible allocate_oids count
// check expects.
const maxOIDs = 128

// oidEntry is one slot of the table: a kind tag plus one pointer field per
// variant. Exactly one of the pointer fields is non-nil, matching kind.
type oidEntry struct {
	kind OIDKind

	tmcUart    *TMCUartEntity
	stepper    *StepperEntity
	digitalOut *DigitalOutEntity
	endstop    *EndstopEntity
	trsync     *TRSyncEntity
}

// OIDTable is the host-assigned id -> hardware endpoint mapping, bounded at
// maxOIDs entries. Reconfiguring an occupied slot is permitted and replaces
// the variant in place (invariant ii never holds two variants for one oid).
type OIDTable struct {
	mu        sync.Mutex
	entries   [maxOIDs]oidEntry
	allocated int
}

func NewOIDTable() *OIDTable { return &OIDTable{} }

// Allocate records the host's declared oid count, clamped to maxOIDs; the
// table itself is always pre-sized and the recorded count is not reported
// back to the host.
func (t *OIDTable) Allocate(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if count > maxOIDs {
		count = maxOIDs
	}
	t.allocated = count
}

// Reset clears every slot, used by config_reset to start a fresh config
// sequence.
func (t *OIDTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = [maxOIDs]oidEntry{}
	t.allocated = 0
}

// ShutdownAll calls Shutdown on every populated entity, stopping every
// running task. Called once from State.TryShutdown.
func (t *OIDTable) ShutdownAll() {
	t.mu.Lock()
	entries := t.entries
	t.mu.Unlock()
	for i := range entries {
		switch entries[i].kind {
		case OIDTMCUart:
			if v := entries[i].tmcUart; v != nil {
				v.Shutdown()
			}
		case OIDStepper:
			if v := entries[i].stepper; v != nil {
				v.Shutdown()
			}
		case OIDDigitalOut:
			if v := entries[i].digitalOut; v != nil {
				v.Shutdown()
			}
		case OIDEndstop:
			if v := entries[i].endstop; v != nil {
				v.Shutdown()
			}
		case OIDTRSync:
			if v := entries[i].trsync; v != nil {
				v.Shutdown()
			}
		}
	}
}

func (t *OIDTable) setEntry(oid uint8, e oidEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[oid] = e
}

func (t *OIDTable) getEntry(oid uint8) oidEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[oid]
}

func (t *OIDTable) SetTMCUart(oid uint8, v *TMCUartEntity) {
	t.setEntry(oid, oidEntry{kind: OIDTMCUart, tmcUart: v})
}
func (t *OIDTable) SetStepper(oid uint8, v *StepperEntity) {
	t.setEntry(oid, oidEntry{kind: OIDStepper, stepper: v})
}
func (t *OIDTable) SetDigitalOut(oid uint8, v *DigitalOutEntity) {
	t.setEntry(oid, oidEntry{kind: OIDDigitalOut, digitalOut: v})
}
func (t *OIDTable) SetEndstop(oid uint8, v *EndstopEntity) {
	t.setEntry(oid, oidEntry{kind: OIDEndstop, endstop: v})
}
func (t *OIDTable) SetTRSync(oid uint8, v *TRSyncEntity) {
	t.setEntry(oid, oidEntry{kind: OIDTRSync, trsync: v})
}

func (t *OIDTable) TMCUart(oid uint8) (*TMCUartEntity, bool) {
	e := t.getEntry(oid)
	return e.tmcUart, e.kind == OIDTMCUart
}
func (t *OIDTable) Stepper(oid uint8) (*StepperEntity, bool) {
	e := t.getEntry(oid)
	return e.stepper, e.kind == OIDStepper
}
func (t *OIDTable) DigitalOut(oid uint8) (*DigitalOutEntity, bool) {
	e := t.getEntry(oid)
	return e.digitalOut, e.kind == OIDDigitalOut
}
func (t *OIDTable) Endstop(oid uint8) (*EndstopEntity, bool) {
	e := t.getEntry(oid)
	return e.endstop, e.kind == OIDEndstop
}
func (t *OIDTable) TRSync(oid uint8) (*TRSyncEntity, bool) {
	e := t.getEntry(oid)
	return e.trsync, e.kind == OIDTRSync
}

// MustStepper looks up oid's Stepper variant, panicking on an unknown oid or
// a wrong-variant oid. This is a host protocol violation; per the current
// error-handling design the transport's recover in parseFrame turns it into
// a resync rather than crashing the process.
func (t *OIDTable) MustStepper(oid uint8) *StepperEntity {
	v, ok := t.Stepper(oid)
	if !ok {
		panic(errUnknownOID)
	}
	return v
}

func (t *OIDTable) MustEndstop(oid uint8) *EndstopEntity {
	v, ok := t.Endstop(oid)
	if !ok {
		panic(errUnknownOID)
	}
	return v
}

func (t *OIDTable) MustTRSync(oid uint8) *TRSyncEntity {
	v, ok := t.TRSync(oid)
	if !ok {
		panic(errUnknownOID)
	}
	return v
}

func (t *OIDTable) MustDigitalOut(oid uint8) *DigitalOutEntity {
	v, ok := t.DigitalOut(oid)
	if !ok {
		panic(errUnknownOID)
	}
	return v
}

func (t *OIDTable) MustTMCUart(oid uint8) *TMCUartEntity {
	v, ok := t.TMCUart(oid)
	if !ok {
		panic(errUnknownOID)
	}
	return v
}
