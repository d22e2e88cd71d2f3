// Package protocol implements the Klipper wire protocol: sync-framed
// messages, VLQ-encoded fields, and a CRC16 trailer.
package protocol

// Version identifies this package's protocol implementation. The
// dictionary's identify payload carries its own version string and does
// not read this constant.
const Version = "0.1.0"

const (
	// MessageMax bounds the scratch output buffer; large enough to hold a
	// full get_config/identify response in one frame.
	MessageMax = 512

	// MessageSeqMask isolates the 4-bit rolling sequence number from a
	// sequence byte; MessageSeqShift is unused by the framing logic in transport.go
	// (MessageDest already occupies the high nibble) but kept since the
	// sequence byte's bit layout is fixed by the wire format.
	MessageSeqMask  = 0x0F
	MessageSeqShift = 4
)
