package smp

import (
	"errors"
	"testing"
)

func TestCBORRoundTrip(t *testing.T) {
	in := EchoRequest{D: "ping"}

	encoded, err := EncodeCBOR(in)
	if err != nil {
		t.Fatalf("EncodeCBOR: %v", err)
	}

	var out EchoRequest
	if err := DecodeCBOR(encoded, &out); err != nil {
		t.Fatalf("DecodeCBOR: %v", err)
	}

	if out != in {
		t.Fatalf("out = %+v, want %+v", out, in)
	}
}

func TestDecodeCBORWrapsErrCBORDecode(t *testing.T) {
	var out EchoRequest
	err := DecodeCBOR([]byte{0xff, 0xff, 0xff}, &out)
	if !errors.Is(err, ErrCBORDecode) {
		t.Fatalf("err = %v, want wrapped ErrCBORDecode", err)
	}
}
