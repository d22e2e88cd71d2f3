package core

import (
	"sync"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/protocol"
)

// SerialLink is the thin virtual-serial collaborator assumed present by the
// wire-protocol layer ("the USB/JTAG virtual-serial byte transport itself,
// assumed to expose async read and write-with-signal"). Target bootstrap
// code supplies a concrete implementation (USB CDC or JTAG semihosting).
type SerialLink interface {
	// Write sends buffered bytes out. May be called from the TX pump
	// goroutine; must not block indefinitely.
	Write(data []byte) (int, error)
}

// wakingOutput wraps a protocol.ScratchOutput so every write wakes the TX
// pump, the Go rendition of the USB_READY_TO_SEND edge-triggered signal.
// Access is serialized: the scheduler, trsync and endstop goroutines can all
// call SendResponse concurrently.
type wakingOutput struct {
	mu    sync.Mutex
	inner *protocol.ScratchOutput
}

func newWakingOutput() *wakingOutput {
	return &wakingOutput{inner: protocol.NewScratchOutput()}
}

func (w *wakingOutput) Output(data []byte) {
	w.mu.Lock()
	w.inner.Output(data)
	w.mu.Unlock()
	usbReadyToSend.Wake()
}

func (w *wakingOutput) CurPosition() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.CurPosition()
}

func (w *wakingOutput) Update(pos int, val byte) {
	w.mu.Lock()
	w.inner.Update(pos, val)
	w.mu.Unlock()
}

func (w *wakingOutput) DataSince(pos int) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.DataSince(pos)
}

// drain copies out whatever has accumulated and resets the scratch buffer,
// mirroring the teacher's writeUSB/outputBuffer.Reset() pump.
func (w *wakingOutput) drain() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	result := append([]byte(nil), w.inner.Result()...)
	w.inner.Reset()
	return result
}

// WakeSignal is an edge-triggered, coalescing wake: any number of Wake
// calls before the pump observes one are collapsed into a single wakeup.
type WakeSignal struct {
	ch chan struct{}
}

func NewWakeSignal() *WakeSignal { return &WakeSignal{ch: make(chan struct{}, 1)} }

func (w *WakeSignal) Wake() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (w *WakeSignal) C() <-chan struct{} { return w.ch }

var (
	usbOutput      = newWakingOutput()
	usbReadyToSend = NewWakeSignal()

	globalTransport *protocol.Transport
	globalLink      SerialLink
	globalState     *State
)

// NewProcessTransport builds the process-wide Transport, wired to dispatch
// host->MCU commands against state and to wake the TX pump on every
// outbound byte. Target bootstrap code (targets/*/main.go) calls this once
// before spawning any task.
func NewProcessTransport(state *State) *protocol.Transport {
	globalState = state
	t := protocol.NewTransport(usbOutput, func(cmdID uint16, data *[]byte) error {
		return DispatchCommand(state, cmdID, data)
	})
	t.SetResetCallback(func() {
		state.OnHostReset()
	})
	globalTransport = t
	return t
}

// GetTransport returns the process-wide transport, or nil before bootstrap.
func GetTransport() *protocol.Transport { return globalTransport }

// SetSerialLink installs the virtual-serial collaborator the TX pump
// writes through.
func SetSerialLink(l SerialLink) { globalLink = l }

// Receive feeds bytes read off the serial link into the transport, which
// parses zero or more frames and dispatches each contained command. A
// partial frame is left in input until more bytes arrive; a bad length,
// sequence byte, trailer or CRC drops sync, and parsing resumes after the
// next sync byte.
func Receive(input protocol.InputBuffer) {
	if globalTransport == nil {
		return
	}
	globalTransport.Receive(input)
}

// RunTxPump drains the outbound scratch buffer through the installed
// SerialLink whenever USB_READY_TO_SEND fires, until cancel closes. This is
// the one goroutine with a real byte-transport side effect; every other
// task reaches the host only by calling SendResponse, which writes into the
// scratch buffer and wakes this pump.
func RunTxPump(cancel <-chan struct{}) {
	for {
		select {
		case <-usbReadyToSend.C():
		case <-cancel:
			return
		}
		data := usbOutput.drain()
		if len(data) == 0 || globalLink == nil {
			continue
		}
		written := 0
		for written < len(data) {
			n, err := globalLink.Write(data[written:])
			if err != nil || n == 0 {
				break
			}
			written += n
		}
	}
}
