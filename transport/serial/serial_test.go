package serial

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/go-smp/smp/internal/crc"
)

func pairedTransport(t *testing.T) (*Transport, net.Conn) {
	t.Helper()

	clientSide, deviceSide := net.Pipe()

	tr := New(Config{Port: "fake", LineLength: DefaultLineLength}).WithOpener(
		func(cfg Config) (io.ReadWriteCloser, error) { return clientSide, nil },
	)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = tr.Disconnect(); _ = deviceSide.Close() })

	return tr, deviceSide
}

// encodeFrame builds one length-prefixed, CRC-trailed, base64, marker-and-
// newline-framed line the way the device side of the wire would.
func encodeFrame(datagram []byte) string {
	sum := crc.XMODEM(datagram)

	withLen := make([]byte, 0, 2+len(datagram)+2)
	lenField := make([]byte, 2)
	binary.BigEndian.PutUint16(lenField, uint16(len(datagram)+2))
	withLen = append(withLen, lenField...)
	withLen = append(withLen, datagram...)
	crcField := make([]byte, 2)
	binary.BigEndian.PutUint16(crcField, sum)
	withLen = append(withLen, crcField...)

	return markerFirst + base64.StdEncoding.EncodeToString(withLen) + "\n"
}

func TestSendFramesWithMarkerAndCRC(t *testing.T) {
	tr, deviceSide := pairedTransport(t)

	datagram := []byte{0x02, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0xa1, 0x62, 0x68, 0x69}

	errCh := make(chan error, 1)
	go func() { errCh <- tr.Send(context.Background(), datagram) }()

	reader := bufio.NewReader(deviceSide)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(line) < 2 || line[:2] != markerFirst {
		t.Fatalf("line does not start with markerFirst: %q", line)
	}

	b64 := line[2 : len(line)-1]
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("base64 decode: %v", err)
	}

	announced := binary.BigEndian.Uint16(raw[:2])
	if int(announced) != len(datagram)+2 {
		t.Fatalf("announced length = %d, want %d", announced, len(datagram)+2)
	}

	body := raw[2:]
	payload := body[:len(body)-2]
	wantCRC := binary.BigEndian.Uint16(body[len(body)-2:])
	if got := crc.XMODEM(payload); got != wantCRC {
		t.Fatalf("crc = %04x, want %04x", got, wantCRC)
	}
}

func TestReceiveRoundTrip(t *testing.T) {
	tr, deviceSide := pairedTransport(t)

	datagram := []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x07, 0xa0}

	go func() {
		_, _ = deviceSide.Write([]byte(encodeFrame(datagram)))
	}()

	select {
	case received := <-tr.Receive():
		if received.Err != nil {
			t.Fatalf("received.Err = %v", received.Err)
		}
		if string(received.Datagram) != string(datagram) {
			t.Fatalf("datagram = %x, want %x", received.Datagram, datagram)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a decoded datagram")
	}
}

func TestReceiveDiscardsCorruptedCRC(t *testing.T) {
	tr, deviceSide := pairedTransport(t)

	good := []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x07, 0xa0}

	line := encodeFrame(good)
	corrupted := []byte(line)
	// Flip a bit inside the base64 body (past the 2-byte marker) so the
	// decoded CRC trailer no longer matches the datagram bytes.
	corrupted[5] ^= 0x02

	go func() {
		_, _ = deviceSide.Write(corrupted)
		_, _ = deviceSide.Write([]byte(encodeFrame(good)))
	}()

	select {
	case received := <-tr.Receive():
		if received.Err != nil {
			t.Fatalf("received.Err = %v", received.Err)
		}
		if string(received.Datagram) != string(good) {
			t.Fatalf("datagram = %x, want %x (the corrupted frame should have been silently dropped)", received.Datagram, good)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the valid frame that follows the corrupted one")
	}
}

func TestSplitLinesRespectsLineLength(t *testing.T) {
	s := "0123456789abcdef"
	chunks := splitLines(s, 8) // marker(2) + chunk + newline(1) <= 8 => chunk <= 5

	var rebuilt string
	for _, c := range chunks {
		if len(c)+3 > 8 {
			t.Fatalf("chunk %q exceeds line length budget", c)
		}
		rebuilt += c
	}
	if rebuilt != s {
		t.Fatalf("rebuilt = %q, want %q", rebuilt, s)
	}
}
