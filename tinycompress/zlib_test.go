package tinycompress

import (
	"bytes"
	"compress/zlib"
	"io"
	"testing"
)

func TestWriterRoundTripsThroughStdlibZlibReader(t *testing.T) {
	payload := []byte(`{"version":"test","config":{"PIN_COUNT":"8"}}`)

	var out bytes.Buffer
	w := NewWriter(&out)
	if _, err := w.Write(payload[:10]); err != nil {
		t.Fatalf("Write first chunk: %v", err)
	}
	if _, err := w.Write(payload[10:]); err != nil {
		t.Fatalf("Write second chunk: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := zlib.NewReader(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("stdlib zlib.NewReader rejected our stream: %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("stdlib zlib reader failed mid-stream: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q want %q", got, payload)
	}
}

func TestWriterEmptyPayload(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := zlib.NewReader(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("zlib.NewReader: %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty payload, got %q", got)
	}
}

func TestSetDebugWriterReceivesTraceLines(t *testing.T) {
	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(func(string) {})

	var out bytes.Buffer
	w := NewWriter(&out)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(lines) == 0 {
		t.Fatal("expected at least one debug trace line")
	}
}
