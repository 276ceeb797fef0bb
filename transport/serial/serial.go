// Package serial implements the line-framed, CRC-protected SMP transport
// over a UART/USB-CDC link (§4.2).
//
// Each physical line begins with a 2-byte start marker (0x06 0x09 for the
// first chunk of a datagram, 0x04 0x14 for continuations), carries a
// base64-encoded payload, and ends with a newline. The first chunk's decoded
// payload is a 2-byte big-endian total length (datagram length + 2 for the
// trailing CRC), the SMP datagram bytes, then a 2-byte big-endian
// CRC-16/XMODEM of the datagram.
package serial

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"

	goserial "go.bug.st/serial"

	"github.com/go-smp/smp"
	"github.com/go-smp/smp/internal/crc"
	"github.com/go-smp/smp/transport"
)

const (
	markerFirst        = "\x06\x09"
	markerContinuation = "\x04\x14"

	// DefaultLineLength is the default on-wire chunk size, matching common
	// mcumgr serial transports (§4.2).
	DefaultLineLength = 128

	// DefaultMaxUnencodedSize is the default cap on complete SMP datagram
	// size (§4.2). The transport never changes the configured cap after
	// construction.
	DefaultMaxUnencodedSize = 8192
)

// Config configures the serial transport.
type Config struct {
	// Port is the OS device path, e.g. "/dev/ttyACM0" or "COM3".
	Port string
	// BaudRate defaults to 115200 when zero.
	BaudRate int
	// LineLength caps the length of each on-wire chunk (marker + base64 +
	// newline). Defaults to DefaultLineLength.
	LineLength int
	// MaxUnencodedSize is the initial cap on a complete SMP datagram.
	// Defaults to DefaultMaxUnencodedSize.
	MaxUnencodedSize int
}

func (c Config) withDefaults() Config {
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.LineLength == 0 {
		c.LineLength = DefaultLineLength
	}
	if c.MaxUnencodedSize == 0 {
		c.MaxUnencodedSize = DefaultMaxUnencodedSize
	}
	return c
}

var _ transport.Transport = (*Transport)(nil)

// Transport is the serial/UART/USB-CDC SMP transport.
type Transport struct {
	cfg Config

	// open, when set, replaces go.bug.st/serial.Open for testing against an
	// in-memory io.ReadWriteCloser.
	open func(cfg Config) (io.ReadWriteCloser, error)

	mu   sync.Mutex // serializes Send so fragments never interleave
	port io.ReadWriteCloser

	recv chan transport.Received
}

// New creates a serial transport. Call Connect before Send/Receive.
func New(cfg Config) *Transport {
	return &Transport{
		cfg:  cfg.withDefaults(),
		recv: make(chan transport.Received, 8),
	}
}

// WithOpener overrides how the underlying byte connection is opened, for
// testing against an in-memory io.ReadWriteCloser instead of a real port.
func (t *Transport) WithOpener(open func(cfg Config) (io.ReadWriteCloser, error)) *Transport {
	t.open = open
	return t
}

func (t *Transport) Connect(ctx context.Context) error {
	openFn := t.open
	if openFn == nil {
		openFn = openRealPort
	}

	port, err := openFn(t.cfg)
	if err != nil {
		return &connectError{cause: err}
	}

	t.port = port

	go t.readLoop()

	return nil
}

func openRealPort(cfg Config) (io.ReadWriteCloser, error) {
	mode := &goserial.Mode{BaudRate: cfg.BaudRate}
	port, err := goserial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	return port, nil
}

type connectError struct{ cause error }

func (e *connectError) Error() string { return fmt.Sprintf("serial connect: %s", e.cause) }
func (e *connectError) Unwrap() error { return smp.ErrTransportConnectionFailed }

func (t *Transport) Disconnect() error {
	if t.port == nil {
		return nil
	}

	port := t.port
	t.port = nil

	return port.Close()
}

// Initialize has nothing to negotiate for the serial transport; the line
// length and default MaxUnencodedSize are fixed at construction time.
func (t *Transport) Initialize(ctx context.Context) error { return nil }

func (t *Transport) MTU() int             { return t.cfg.LineLength }
func (t *Transport) MaxUnencodedSize() int { return t.cfg.MaxUnencodedSize }

func (t *Transport) Receive() <-chan transport.Received { return t.recv }

func (t *Transport) readLoop() {
	defer close(t.recv)

	scanner := bufio.NewScanner(t.port)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var frame bytes.Buffer

	resync := func() {
		frame.Reset()
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) < 2 {
			continue
		}

		marker := string(line[:2])
		body := line[2:]

		switch marker {
		case markerFirst:
			frame.Reset()
			frame.Write(body)
		case markerContinuation:
			if frame.Len() == 0 {
				// continuation with no open frame: resync on next marker.
				continue
			}
			frame.Write(body)
		default:
			continue
		}

		datagram, complete, err := tryDecodeFrame(frame.Bytes())
		if err != nil {
			slog.Debug("serial: discarding corrupt frame", "err", err)
			resync()
			continue
		}
		if !complete {
			continue
		}

		resync()
		t.recv <- transport.Received{Datagram: datagram}
	}

	if err := scanner.Err(); err != nil {
		t.recv <- transport.Received{Err: &readError{cause: err}}
	}
}

type readError struct{ cause error }

func (e *readError) Error() string { return fmt.Sprintf("serial read: %s", e.cause) }
func (e *readError) Unwrap() error { return smp.ErrTransportReadFailed }

// tryDecodeFrame base64-decodes the accumulated chunk body. It returns
// complete=false while fewer bytes than the announced length have arrived,
// and a FramingError when the CRC does not match once the frame is
// complete.
func tryDecodeFrame(b64 []byte) (datagram []byte, complete bool, err error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(b64)))
	n, decErr := base64.StdEncoding.Decode(raw, b64)
	if decErr != nil {
		// Likely still missing trailing base64 chunk bytes; wait for more.
		return nil, false, nil
	}
	raw = raw[:n]

	if len(raw) < 2 {
		return nil, false, nil
	}

	announced := int(binary.BigEndian.Uint16(raw[:2]))
	body := raw[2:]
	if len(body) < announced {
		return nil, false, nil
	}

	datagramAndCRC := body[:announced]
	if len(datagramAndCRC) < 2 {
		return nil, false, smp.NewFramingError("frame shorter than crc trailer")
	}

	payload := datagramAndCRC[:len(datagramAndCRC)-2]
	wantCRC := binary.BigEndian.Uint16(datagramAndCRC[len(datagramAndCRC)-2:])
	gotCRC := crc.XMODEM(payload)

	if wantCRC != gotCRC {
		return nil, false, smp.NewFramingError(fmt.Sprintf("crc mismatch: want=%04x got=%04x", wantCRC, gotCRC))
	}

	return payload, true, nil
}

// Send fragments a complete SMP datagram into base64 lines and writes them
// sequentially so concurrent callers never interleave their chunks.
func (t *Transport) Send(ctx context.Context, datagram []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return smp.ErrTransportNotConnected
	}

	sum := crc.XMODEM(datagram)

	withLen := make([]byte, 0, 2+len(datagram)+2)
	lenField := make([]byte, 2)
	binary.BigEndian.PutUint16(lenField, uint16(len(datagram)+2))
	withLen = append(withLen, lenField...)
	withLen = append(withLen, datagram...)
	crcField := make([]byte, 2)
	binary.BigEndian.PutUint16(crcField, sum)
	withLen = append(withLen, crcField...)

	encoded := base64.StdEncoding.EncodeToString(withLen)

	for i, chunk := range splitLines(encoded, t.cfg.LineLength) {
		marker := markerContinuation
		if i == 0 {
			marker = markerFirst
		}

		line := marker + chunk + "\n"
		if _, err := t.port.Write([]byte(line)); err != nil {
			return &writeError{cause: err}
		}
	}

	return nil
}

type writeError struct{ cause error }

func (e *writeError) Error() string { return fmt.Sprintf("serial write: %s", e.cause) }
func (e *writeError) Unwrap() error { return smp.ErrTransportWriteFailed }

// splitLines splits s into chunks such that marker(2) + chunk + "\n"(1) does
// not exceed lineLength bytes.
func splitLines(s string, lineLength int) []string {
	maxChunk := lineLength - 3
	if maxChunk <= 0 {
		maxChunk = lineLength
	}

	var chunks []string
	for len(s) > 0 {
		n := maxChunk
		if n > len(s) {
			n = len(s)
		}
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	if len(chunks) == 0 {
		chunks = append(chunks, "")
	}
	return chunks
}
