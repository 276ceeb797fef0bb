package smp

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// EncodeCBOR encodes v as CBOR, the SMP payload encoding (§3.1, §6.2), using
// the library's default encoding options (struct fields are written in
// declaration order, not canonical key order).
func EncodeCBOR(v interface{}) ([]byte, error) {
	encoded, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("smp: encode cbor: %w", err)
	}
	return encoded, nil
}

// DecodeCBOR decodes an SMP response payload into v.
func DecodeCBOR(data []byte, v interface{}) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s", ErrCBORDecode, err)
	}
	return nil
}
