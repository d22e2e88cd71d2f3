package core

import (
	"bytes"
	"testing"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/protocol"
)

func TestUartCellRoundTrip(t *testing.T) {
	raw := []byte{0x05, 0xA5, 0xFF, 0x00}
	cells := inflateUartCells(raw)
	back := stripUartCells(cells, len(raw))
	if !bytes.Equal(raw, back) {
		t.Fatalf("round trip mismatch: raw=%x cells=%x back=%x", raw, cells, back)
	}
}

func TestConfigTMCUartConfiguresHalfDuplex(t *testing.T) {
	registerTMCUartCommands()
	uart := &fakeUART{}
	SetUARTDriver(uart)

	s := NewState()
	data := encodeUints(1, 10, 0, 11, 256) // oid=1 rx_pin=10 pull_up=0 tx_pin=11 bit_time=256
	if err := handleConfigTMCUart(s, &data); err != nil {
		t.Fatalf("config_tmcuart failed: %v", err)
	}

	entity := s.OIDs.MustTMCUart(1)
	if entity.RxPin != 10 || entity.TxPin != 11 || entity.BitTime != 256 {
		t.Fatalf("unexpected entity fields: %+v", entity)
	}
}

func TestTMCUartSendRoundTripsResponse(t *testing.T) {
	registerTMCUartCommands()
	uart := &fakeUART{}
	SetUARTDriver(uart)

	s := NewState()
	cfgData := encodeUints(2, 10, 0, 11, 256)
	if err := handleConfigTMCUart(s, &cfgData); err != nil {
		t.Fatalf("config_tmcuart failed: %v", err)
	}

	writeRaw := []byte{0x05, 0x00, 0x01} // TMC2209 sync+addr+register-ish bytes
	writeCells := inflateUartCells(writeRaw)

	// Queue the self-echo (len(writeRaw) bytes) then the actual 1-byte reply.
	uart.queueResponse(make([]byte, len(writeRaw)))
	uart.queueResponse([]byte{0x2A})

	var data []byte
	data = append(data, protocol.EncodeVLQ(2)...)
	protocol.EncodeVLQBytes(appendOnlyBuffer(&data), writeCells)
	data = append(data, protocol.EncodeVLQ(10)...) // readCells == uartCellBits

	if err := handleTMCUartSend(s, &data); err != nil {
		t.Fatalf("tmcuart_send failed: %v", err)
	}

	if len(uart.sent) != 1 {
		t.Fatalf("expected exactly one write to the UART, got %d", len(uart.sent))
	}
	if !bytes.Equal(uart.sent[0], writeRaw) {
		t.Fatalf("expected stripped write to match original raw bytes: got %x want %x", uart.sent[0], writeRaw)
	}
}

func TestTMCUartSendUnsupportedReadLengthRespondsEmpty(t *testing.T) {
	registerTMCUartCommands()
	uart := &fakeUART{}
	SetUARTDriver(uart)

	s := NewState()
	cfgData := encodeUints(3, 10, 0, 11, 256)
	if err := handleConfigTMCUart(s, &cfgData); err != nil {
		t.Fatalf("config_tmcuart failed: %v", err)
	}

	writeRaw := []byte{0x05}
	writeCells := inflateUartCells(writeRaw)
	uart.queueResponse(make([]byte, len(writeRaw)))

	var data []byte
	data = append(data, protocol.EncodeVLQ(3)...)
	protocol.EncodeVLQBytes(appendOnlyBuffer(&data), writeCells)
	data = append(data, protocol.EncodeVLQ(5)...) // not 10: unsupported

	if err := handleTMCUartSend(s, &data); err != nil {
		t.Fatalf("tmcuart_send failed: %v", err)
	}
}

// appendOnly adapts a *[]byte into the minimal protocol.OutputBuffer surface
// EncodeVLQBytes needs (Output only); CurPosition/Update/DataSince are
// unused on this write-only path.
type appendOnly struct{ dst *[]byte }

func appendOnlyBuffer(dst *[]byte) *appendOnly { return &appendOnly{dst: dst} }

func (a *appendOnly) Output(data []byte)        { *a.dst = append(*a.dst, data...) }
func (a *appendOnly) CurPosition() int          { return len(*a.dst) }
func (a *appendOnly) Update(pos int, v byte)    { (*a.dst)[pos] = v }
func (a *appendOnly) DataSince(pos int) []byte  { return (*a.dst)[pos:] }
