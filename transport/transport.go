// Package transport defines the capability set every SMP transport
// implements (serial, BLE, UDP): connect/disconnect lifecycle, a FIFO send
// of complete datagram bytes, and a stream of reassembled inbound datagrams.
package transport

import "context"

// Received is one reassembled SMP datagram surfaced from Transport.Receive,
// or a terminal decode/read error for that attempt.
type Received struct {
	Datagram []byte
	Err      error
}

// Transport is the capability set the SMP client engine depends on. Every
// concrete transport (serial, BLE, UDP) implements it identically so the
// engine never branches on transport kind.
type Transport interface {
	// Connect establishes the underlying link.
	Connect(ctx context.Context) error

	// Disconnect releases the link. Idempotent.
	Disconnect() error

	// Initialize runs transport-specific negotiation after Connect (e.g.
	// requesting the remote MTU). Transports with nothing to negotiate
	// return nil.
	Initialize(ctx context.Context) error

	// Send accepts one complete SMP datagram and blocks until it has been
	// handed to the wire, fragmenting internally as needed.
	Send(ctx context.Context, datagram []byte) error

	// Receive returns a channel of reassembled datagrams. The channel is
	// closed when the transport disconnects.
	Receive() <-chan Received

	// MTU is the largest on-the-wire chunk this transport will emit per
	// physical write.
	MTU() int

	// MaxUnencodedSize is the largest complete SMP datagram the remote will
	// accept in one logical message. May change at runtime (e.g. after an
	// MTU probe); the engine re-reads it per request.
	MaxUnencodedSize() int
}
