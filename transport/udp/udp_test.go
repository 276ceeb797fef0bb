package udp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-smp/smp"
)

func loopbackServer(t *testing.T) *net.UDPConn {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestSendReceiveRoundTrip(t *testing.T) {
	server := loopbackServer(t)

	tr := New(Config{Addr: server.LocalAddr().String()})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = tr.Disconnect() })

	datagram := smp.NewRequest(smp.OpWriteRequest, smp.GroupOS, smp.CmdEcho, []byte{0xa1, 0x61, 0x64, 0x62, 0x68, 0x69}).Encode()

	if err := tr.Send(context.Background(), datagram); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 2048)
	n, clientAddr, err := server.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("server ReadFromUDP: %v", err)
	}
	if string(buf[:n]) != string(datagram) {
		t.Fatalf("server received %x, want %x", buf[:n], datagram)
	}

	// Echo the same datagram back as the "response".
	if _, err := server.WriteToUDP(datagram, clientAddr); err != nil {
		t.Fatalf("server WriteToUDP: %v", err)
	}

	select {
	case received := <-tr.Receive():
		if received.Err != nil {
			t.Fatalf("received.Err = %v", received.Err)
		}
		if string(received.Datagram) != string(datagram) {
			t.Fatalf("received.Datagram = %x, want %x", received.Datagram, datagram)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the echoed datagram")
	}
}

func TestSendRejectsOversizedDatagram(t *testing.T) {
	server := loopbackServer(t)

	tr := New(Config{Addr: server.LocalAddr().String(), MaxUnencodedSize: 16})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = tr.Disconnect() })

	oversized := make([]byte, 32)
	if err := tr.Send(context.Background(), oversized); err == nil {
		t.Fatal("expected Send to reject a datagram larger than MaxUnencodedSize")
	}
}

func TestDisconnectClosesReceiveChannel(t *testing.T) {
	server := loopbackServer(t)

	tr := New(Config{Addr: server.LocalAddr().String()})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := tr.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case _, ok := <-tr.Receive():
		if ok {
			t.Fatal("expected the receive channel to be closed after Disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the receive channel to close")
	}
}
