package smp

import "fmt"

// Datagram is a complete SMP message: header plus CBOR-encoded payload.
type Datagram struct {
	Header  Header
	Payload []byte
}

// Encode serializes d to its wire form (header || payload).
//
// The header's Length field is recomputed from len(Payload) so callers never
// have to keep the two in sync by hand.
func (d Datagram) Encode() []byte {
	d.Header.Length = uint16(len(d.Payload))

	out := make([]byte, 0, HeaderSize+len(d.Payload))
	out = append(out, d.Header.Encode()...)
	out = append(out, d.Payload...)

	return out
}

// DecodeDatagram parses a complete wire datagram (header + payload).
func DecodeDatagram(b []byte) (Datagram, error) {
	header, err := DecodeHeader(b)
	if err != nil {
		return Datagram{}, err
	}

	payload := b[HeaderSize:]
	if int(header.Length) != len(payload) {
		return Datagram{}, &HeaderLengthMismatchError{Declared: header.Length, Actual: len(payload)}
	}

	return Datagram{Header: header, Payload: payload}, nil
}

// NewRequest builds a request datagram for the given group/command with an
// already-encoded CBOR payload. Sequence is left at zero; callers normally
// rely on the Client (via Do or RequestAll) to assign one.
func NewRequest(op uint8, group uint16, command uint8, payload []byte) Datagram {
	return Datagram{
		Header: Header{
			Op:      op,
			Version: Version2,
			Group:   group,
			Command: command,
			Length:  uint16(len(payload)),
		},
		Payload: payload,
	}
}

func (d Datagram) String() string {
	return fmt.Sprintf("smp.Datagram{op=%d group=%d cmd=%d seq=%d len=%d}",
		d.Header.Op, d.Header.Group, d.Header.Command, d.Header.Sequence, len(d.Payload))
}
