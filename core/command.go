package core

import (
	"errors"
	"sync"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/protocol"
)

// CommandHandler decodes its own arguments from the frame data and acts on
// State. It returns quickly: anything long-running is dispatched as a
// goroutine (see stepper.go, trsync.go, endstop.go, gpio.go).
type CommandHandler func(s *State, data *[]byte) error

// command is one entry of the dictionary: a name, a Klipper-style format
// string (used only to build the identify dictionary), and, for host->MCU
// commands, a handler. Responses (MCU->host) are registered with a nil
// handler so they still get an id and a dictionary line.
type command struct {
	id      uint16
	name    string
	format  string
	handler CommandHandler
}

// Registry maps command ids to handlers and builds the wire dictionary.
type Registry struct {
	mu       sync.RWMutex
	byID     map[uint16]*command
	byName   map[string]uint16
	nextID   uint16
}

var globalRegistry = &Registry{
	byID:   make(map[uint16]*command),
	byName: make(map[string]uint16),
}

// RegisterCommand registers a host->MCU command.
func RegisterCommand(name, format string, handler CommandHandler) uint16 {
	return globalRegistry.register(name, format, handler)
}

// RegisterResponse registers an MCU->host message (no handler).
func RegisterResponse(name, format string) uint16 {
	return globalRegistry.register(name, format, nil)
}

func (r *Registry) register(name, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byName[name]; ok {
		return id
	}
	id := r.nextID
	r.nextID++
	r.byID[id] = &command{id: id, name: name, format: format, handler: handler}
	r.byName[name] = id
	return id
}

// Dispatch looks up cmdID and, if a handler is registered, invokes it.
// Unknown ids are silently dropped (the host retries); this matches
// spec §4.1.
func (r *Registry) Dispatch(s *State, cmdID uint16, data *[]byte) error {
	r.mu.RLock()
	cmd, ok := r.byID[cmdID]
	r.mu.RUnlock()
	if !ok || cmd.handler == nil {
		return nil
	}
	return cmd.handler(s, data)
}

// idByName looks up a registered command/response id by name; used by
// SendResponse so callers don't have to thread ids around.
func (r *Registry) idByName(name string) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// each calls fn for every registered entry in id order, for dictionary
// generation.
func (r *Registry) each(fn func(id uint16, name, format string, isCommand bool)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := uint16(0); i < r.nextID; i++ {
		cmd, ok := r.byID[i]
		if !ok {
			continue
		}
		fn(cmd.id, cmd.name, cmd.format, cmd.handler != nil)
	}
}

// DispatchCommand dispatches against the global registry.
func DispatchCommand(s *State, cmdID uint16, data *[]byte) error {
	return globalRegistry.Dispatch(s, cmdID, data)
}

// SendResponse encodes and transmits a registered MCU->host message through
// the process-wide transport.
func SendResponse(name string, args func(output protocol.OutputBuffer)) {
	t := GetTransport()
	if t == nil {
		return
	}
	id, ok := globalRegistry.idByName(name)
	if !ok {
		panic("response not registered: " + name)
	}
	t.SendCommand(id, args)
}

var errUnknownOID = errors.New("unknown oid")
