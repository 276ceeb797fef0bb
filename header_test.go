package smp

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Op:       OpWriteRequest,
		Version:  Version2,
		Flags:    0,
		Length:   7,
		Group:    GroupImage,
		Sequence: 42,
		Command:  CmdImageUpload,
	}

	encoded := h.Encode()
	if len(encoded) != HeaderSize {
		t.Fatalf("encoded header length = %d, want %d", len(encoded), HeaderSize)
	}

	decoded, err := DecodeHeader(encoded)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}

	if decoded != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, h)
	}
}

func TestDatagramRoundTrip(t *testing.T) {
	payload := []byte{0xa1, 0x61, 0x64, 0x62, 0x68, 0x69} // {"d":"hi"}

	d := NewRequest(OpWriteRequest, GroupOS, CmdEcho, payload)
	d.Header.Sequence = 42

	encoded := d.Encode()

	decoded, err := DecodeDatagram(encoded)
	if err != nil {
		t.Fatalf("DecodeDatagram: %v", err)
	}

	if decoded.Header != d.Header {
		t.Fatalf("header mismatch: got %+v want %+v", decoded.Header, d.Header)
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Fatalf("payload mismatch: got %x want %x", decoded.Payload, payload)
	}
}

func TestDatagramEmptyPayload(t *testing.T) {
	d := NewRequest(OpReadRequest, GroupOS, CmdOSInfo, nil)
	d.Header.Sequence = 1

	encoded := d.Encode()
	if len(encoded) != HeaderSize {
		t.Fatalf("encoded length = %d, want %d", len(encoded), HeaderSize)
	}

	decoded, err := DecodeDatagram(encoded)
	if err != nil {
		t.Fatalf("DecodeDatagram: %v", err)
	}
	if len(decoded.Payload) != 0 {
		t.Fatalf("payload = %x, want empty", decoded.Payload)
	}
}

func TestDecodeDatagramLengthMismatch(t *testing.T) {
	d := NewRequest(OpWriteRequest, GroupOS, CmdEcho, []byte{1, 2, 3})
	encoded := d.Encode()
	encoded = encoded[:len(encoded)-1] // drop a payload byte

	_, err := DecodeDatagram(encoded)
	if err == nil {
		t.Fatal("expected a header length mismatch error")
	}
}

func TestResponseOp(t *testing.T) {
	cases := map[uint8]uint8{
		OpReadRequest:  OpReadResponse,
		OpWriteRequest: OpWriteResponse,
	}
	for req, want := range cases {
		if got := ResponseOp(req); got != want {
			t.Errorf("ResponseOp(%d) = %d, want %d", req, got, want)
		}
	}
}
