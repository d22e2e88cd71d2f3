package core

import (
	"github.com/Knight-Ops/klipper-cl-stepper-mcu/protocol"
	"tinygo.org/x/drivers/tmc2209"
)

const uartCellBits = 10

// TMCUartEntity is the OID table's TMCUart variant: a half-duplex bus
// adopted for the TMC2209 soft-uart bit-bang protocol Klipper speaks on
// the host side.
type TMCUartEntity struct {
	OID     uint8
	RxPin   GPIOPin
	TxPin   GPIOPin
	PullUp  bool
	BitTime Tick
	Bus     uint8
}

// Shutdown satisfies OIDTable.ShutdownAll; the bridge runs no task of its
// own, so there is nothing to stop.
func (e *TMCUartEntity) Shutdown() {}

func registerTMCUartCommands() {
	RegisterCommand("config_tmcuart", "oid=%c rx_pin=%u pull_up=%c tx_pin=%u bit_time=%u", handleConfigTMCUart)
	RegisterCommand("tmcuart_send", "oid=%c write=%*s read=%c", handleTMCUartSend)
	RegisterResponse("tmcuart_response", "oid=%c read=%*s")
}

func handleConfigTMCUart(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	rxPin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	pullUp, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	txPin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	bitTime, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	bus := uint8(oid)
	if err := MustUART().ConfigureHalfDuplex(GPIOPin(rxPin), GPIOPin(txPin), pullUp != 0, Tick(bitTime)); err != nil {
		return err
	}

	s.OIDs.SetTMCUart(uint8(oid), &TMCUartEntity{
		OID:     uint8(oid),
		RxPin:   GPIOPin(rxPin),
		TxPin:   GPIOPin(txPin),
		PullUp:  pullUp != 0,
		BitTime: Tick(bitTime),
		Bus:     bus,
	})
	return nil
}

func handleTMCUartSend(s *State, data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	write, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}
	readCells, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	e := s.OIDs.MustTMCUart(uint8(oid))

	raw := stripUartCells(write, len(write)*8/uartCellBits)
	uart := MustUART()
	if err := uart.Write(e.Bus, raw); err != nil {
		return err
	}

	// Self-echo: the half-duplex line reflects our own transmission before
	// the peer's response arrives; discard exactly len(raw) bytes.
	if _, err := uart.Read(e.Bus, len(raw), nil); err != nil {
		return err
	}

	if readCells != uartCellBits {
		// Unsupported read length in this revision; respond empty.
		SendResponse("tmcuart_response", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, oid)
			protocol.EncodeVLQBytes(output, nil)
		})
		return nil
	}

	resp, err := uart.Read(e.Bus, 1, nil)
	if err != nil {
		return err
	}
	if len(resp) == 1 {
		_ = tmc2209.CalculateCRC(resp) // computed but not compared; the reply is relayed to the host unchecked
	}

	SendResponse("tmcuart_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQBytes(output, inflateUartCells(resp))
	})
	return nil
}

// stripUartCells unpacks an LSB-first bitstream of 10-bit cells (start=0,
// 8 data bits, stop=1) back into raw bytes for transmission on real UART
// hardware.
func stripUartCells(bits []byte, nCells int) []byte {
	out := make([]byte, 0, nCells)
	bitIdx := 0
	readBit := func() byte {
		byteIdx := bitIdx / 8
		if byteIdx >= len(bits) {
			return 1
		}
		shift := uint(bitIdx % 8)
		b := (bits[byteIdx] >> shift) & 1
		bitIdx++
		return b
	}
	for c := 0; c < nCells; c++ {
		readBit() // start bit, discarded
		var v byte
		for i := 0; i < 8; i++ {
			v |= readBit() << uint(i)
		}
		readBit() // stop bit, discarded
		out = append(out, v)
	}
	return out
}

// inflateUartCells is the inverse of stripUartCells, used to re-frame a
// real UART response back into the 10-bit-cell form the host expects.
func inflateUartCells(data []byte) []byte {
	nBits := len(data) * uartCellBits
	out := make([]byte, (nBits+7)/8)
	bitIdx := 0
	writeBit := func(b byte) {
		byteIdx := bitIdx / 8
		shift := uint(bitIdx % 8)
		if b != 0 {
			out[byteIdx] |= 1 << shift
		}
		bitIdx++
	}
	for _, v := range data {
		writeBit(0)
		for i := 0; i < 8; i++ {
			writeBit((v >> uint(i)) & 1)
		}
		writeBit(1)
	}
	return out
}
