// Package tinycompress implements the one zlib shape this firmware needs:
// a single stored (uncompressed) DEFLATE block wrapped in a zlib header and
// an Adler-32 trailer, written through io.Writer/io.Closer. Klipper's host
// decompresses the dictionary with a standard zlib inflate, so the wire
// format must be real zlib — stored blocks are the cheapest legal encoding
// for a TinyGo target with no DEFLATE compressor and a firmware-sized
// (single-digit KB) dictionary payload where the compression ratio doesn't
// matter.
package tinycompress

import (
	"hash"
	"hash/adler32"
	"io"
)

// Writer accumulates writes in memory and emits one stored zlib stream on
// Close. core.Dictionary.BuildDictionary is the sole caller: it renders the
// full JSON dictionary, writes it through this Writer once, and caches the
// result — so buffering the whole payload before emitting it costs nothing
// extra here.
type Writer struct {
	output   io.Writer
	inputBuf []byte
	adler    hash.Hash32
}

// dictionaryBufHint preallocates the input buffer near the dictionary's
// typical rendered size; the TinyGo goroutine scheduler stalls on an
// allocation mid-Write, so this sizes the buffer once up front rather than
// growing it across repeated Write calls.
const dictionaryBufHint = 8192

// NewWriter creates a Writer that emits a zlib stream to w on Close.
func NewWriter(w io.Writer) *Writer {
	debugPrint("[tinycompress] NewWriter")
	return &Writer{
		output:   w,
		inputBuf: make([]byte, 0, dictionaryBufHint),
		adler:    adler32.New(),
	}
}

// Write implements io.Writer, buffering p for the stored block written on
// Close.
func (w *Writer) Write(p []byte) (n int, err error) {
	if cap(w.inputBuf)-len(w.inputBuf) < len(p) {
		grown := make([]byte, len(w.inputBuf), len(w.inputBuf)+len(p))
		copy(grown, w.inputBuf)
		w.inputBuf = grown
	}
	w.inputBuf = append(w.inputBuf, p...)
	return len(p), nil
}

// Close writes the zlib header, one final stored DEFLATE block holding
// every byte buffered since NewWriter, and the Adler-32 trailer.
func (w *Writer) Close() error {
	debugPrint("[tinycompress] Close: emitting stored block")

	if _, err := w.output.Write([]byte{0x78, 0x9C}); err != nil {
		return err
	}

	length := uint16(len(w.inputBuf))
	nlength := ^length
	blockHeader := []byte{
		0x01, // final block, stored (no compression)
		byte(length), byte(length >> 8),
		byte(nlength), byte(nlength >> 8),
	}
	if _, err := w.output.Write(blockHeader); err != nil {
		return err
	}

	if _, err := w.output.Write(w.inputBuf); err != nil {
		return err
	}

	checksum := adler32.Checksum(w.inputBuf)
	trailer := []byte{
		byte(checksum >> 24), byte(checksum >> 16),
		byte(checksum >> 8), byte(checksum),
	}
	_, err := w.output.Write(trailer)
	return err
}

// debugPrint is a no-op until a target calls SetDebugWriter; kept separate
// from core.DebugPrintln so this package has no dependency on core.
var debugPrint = func(s string) {}

// SetDebugWriter installs a platform debug sink for this package's trace
// lines, the same split the teacher uses (tinycompress and core each own
// their own sink) so tinycompress never imports core.
func SetDebugWriter(fn func(string)) {
	debugPrint = fn
}
