//go:build esp32c6

package main

import (
	"machine"
	"time"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/core"
	"github.com/Knight-Ops/klipper-cl-stepper-mcu/protocol"
)

// gpioPins enumerates the pins this board exposes to config_stepper,
// config_endstop and config_digital_out, in "pin" dictionary order.
var gpioPins = []machine.Pin{
	machine.GPIO0, machine.GPIO1, machine.GPIO2, machine.GPIO3,
	machine.GPIO4, machine.GPIO5, machine.GPIO6, machine.GPIO7,
	machine.GPIO10, machine.GPIO11, machine.GPIO18, machine.GPIO19,
	machine.GPIO20, machine.GPIO21, machine.GPIO22, machine.GPIO23,
}

var (
	inputBuffer *protocol.FifoBuffer
	transport   *protocol.Transport
)

func main() {
	core.RegisterAllCommands()
	registerESP32C6Pins()

	core.SetGPIODriver(&hwGPIO{})
	core.SetUARTDriver(&hwUART{})
	core.SetAngleSensor(newAS5600(machine.I2C0))

	core.GetGlobalDictionary().BuildDictionary()

	state := core.NewState()
	transport = core.NewProcessTransport(state)
	core.SetSerialLink(&usbSerial{})

	inputBuffer = protocol.NewFifoBuffer(256)

	cancel := make(chan struct{})
	go core.RunTxPump(cancel)
	go core.RunClosedLoopMonitor(cancel)
	go serialReaderLoop()

	select {}
}

// serialReaderLoop pulls bytes off the USB-Serial-JTAG peripheral into the
// fixed-capacity FIFO and hands complete frames to the transport, mirroring
// the teacher's usbReaderLoop/main-loop split but as two independent
// goroutines instead of one polled loop, matching this firmware's
// task-per-concern concurrency model.
func serialReaderLoop() {
	buf := make([]byte, 64)
	for {
		n := machine.Serial.Buffered()
		if n == 0 {
			time.Sleep(100 * time.Microsecond)
			continue
		}
		if n > len(buf) {
			n = len(buf)
		}
		read, err := machine.Serial.Read(buf[:n])
		if err != nil || read == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		if written := inputBuffer.Write(buf[:read]); written == 0 {
			continue
		}

		data := inputBuffer.Data()
		originalLen := len(data)
		in := protocol.NewSliceInputBuffer(data)
		core.Receive(in)
		if consumed := originalLen - in.Available(); consumed > 0 {
			inputBuffer.Pop(consumed)
		}
	}
}

// registerESP32C6Pins publishes the board's GPIO pin names; must run
// before BuildDictionary().
func registerESP32C6Pins() {
	names := make([]string, len(gpioPins))
	for i := range gpioPins {
		names[i] = "gpio" + itoa(i)
	}
	core.RegisterEnumeration("pin", names)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// usbSerial adapts machine.Serial (the USB-Serial-JTAG peripheral on this
// board) to core.SerialLink.
type usbSerial struct{}

func (usbSerial) Write(data []byte) (int, error) {
	return machine.Serial.Write(data)
}
