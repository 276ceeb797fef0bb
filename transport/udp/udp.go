// Package udp implements the UDP SMP transport (§4.4): one SMP datagram per
// UDP datagram, no transport-level fragmentation.
package udp

import (
	"context"
	"fmt"
	"net"

	"github.com/go-smp/smp"
	"github.com/go-smp/smp/transport"
)

// DefaultMaxUnencodedSize is a safe, under-MTU default (§4.4).
const DefaultMaxUnencodedSize = 1472

// Config addresses the remote SMP server.
type Config struct {
	// Addr is "host:port" of the remote SMP UDP listener.
	Addr string
	// MaxUnencodedSize defaults to DefaultMaxUnencodedSize.
	MaxUnencodedSize int
}

func (c Config) withDefaults() Config {
	if c.MaxUnencodedSize == 0 {
		c.MaxUnencodedSize = DefaultMaxUnencodedSize
	}
	return c
}

var _ transport.Transport = (*Transport)(nil)

// Transport is the UDP SMP transport: one net.UDPConn, one datagram per
// logical message, no reassembly.
type Transport struct {
	cfg  Config
	conn *net.UDPConn
	recv chan transport.Received
	done chan struct{}
}

// New creates a UDP transport. Call Connect before Send/Receive.
func New(cfg Config) *Transport {
	return &Transport{
		cfg:  cfg.withDefaults(),
		recv: make(chan transport.Received, 8),
	}
}

func (t *Transport) Connect(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", t.cfg.Addr)
	if err != nil {
		return &connectError{cause: err}
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return &connectError{cause: err}
	}

	t.conn = conn
	t.done = make(chan struct{})

	go t.readLoop()

	return nil
}

type connectError struct{ cause error }

func (e *connectError) Error() string { return fmt.Sprintf("udp connect: %s", e.cause) }
func (e *connectError) Unwrap() error { return smp.ErrTransportConnectionFailed }

func (t *Transport) Disconnect() error {
	if t.conn == nil {
		return nil
	}

	conn := t.conn
	t.conn = nil

	select {
	case <-t.done:
	default:
		close(t.done)
	}

	return conn.Close()
}

// Initialize has nothing to negotiate: UDP has no MTU handshake in this
// protocol, so the configured default stands.
func (t *Transport) Initialize(ctx context.Context) error { return nil }

func (t *Transport) readLoop() {
	defer close(t.recv)

	buf := make([]byte, 64*1024)
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			t.recv <- transport.Received{Err: &readError{cause: err}}
			return
		}

		datagram, decErr := smp.DecodeDatagram(buf[:n])
		if decErr != nil {
			t.recv <- transport.Received{Err: decErr}
			continue
		}

		t.recv <- transport.Received{Datagram: append([]byte(nil), datagram.Encode()...)}
	}
}

type readError struct{ cause error }

func (e *readError) Error() string { return fmt.Sprintf("udp read: %s", e.cause) }
func (e *readError) Unwrap() error { return smp.ErrTransportReadFailed }

// Send writes datagram as a single UDP packet. A datagram exceeding the UDP
// MTU fails with a TransportWriteFailedError rather than being fragmented.
func (t *Transport) Send(ctx context.Context, datagram []byte) error {
	if t.conn == nil {
		return smp.ErrTransportNotConnected
	}

	if len(datagram) > t.cfg.MaxUnencodedSize {
		return &writeError{cause: fmt.Errorf("datagram of %d bytes exceeds max_unencoded_size %d", len(datagram), t.cfg.MaxUnencodedSize)}
	}

	if _, err := t.conn.Write(datagram); err != nil {
		return &writeError{cause: err}
	}

	return nil
}

type writeError struct{ cause error }

func (e *writeError) Error() string { return fmt.Sprintf("udp write: %s", e.cause) }
func (e *writeError) Unwrap() error { return smp.ErrTransportWriteFailed }

func (t *Transport) Receive() <-chan transport.Received { return t.recv }

func (t *Transport) MTU() int             { return t.cfg.MaxUnencodedSize }
func (t *Transport) MaxUnencodedSize() int { return t.cfg.MaxUnencodedSize }
