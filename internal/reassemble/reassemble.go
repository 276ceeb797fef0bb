// Package reassemble implements the per-transport fragment reassembly buffer
// described in §3.3: accumulate datagram bytes until the header's declared
// length is satisfied, then emit the complete datagram and reset.
package reassemble

import "github.com/go-smp/smp"

// Buffer accumulates fragments of a single in-flight SMP datagram.
//
// Not safe for concurrent use; each transport owns one buffer for its
// inbound stream and feeds it from a single reader goroutine.
type Buffer struct {
	acc    []byte
	expect int // total bytes expected (header + payload), 0 until known
}

// Feed appends chunk to the buffer. It returns the complete datagram bytes
// (header + payload) once enough bytes have accumulated, resetting the
// buffer for the next datagram. ok is false while more fragments are needed.
func (b *Buffer) Feed(chunk []byte) (datagram []byte, ok bool) {
	b.acc = append(b.acc, chunk...)

	if b.expect == 0 && len(b.acc) >= smp.HeaderSize {
		header, err := smp.DecodeHeader(b.acc)
		if err == nil {
			b.expect = smp.HeaderSize + int(header.Length)
		}
	}

	if b.expect == 0 || len(b.acc) < b.expect {
		return nil, false
	}

	out := b.acc[:b.expect]
	b.acc = append([]byte(nil), b.acc[b.expect:]...)
	b.expect = 0

	return out, true
}

// Reset discards any partially accumulated datagram, e.g. after a framing
// error forces the transport to resynchronize on the next start marker.
func (b *Buffer) Reset() {
	b.acc = nil
	b.expect = 0
}
