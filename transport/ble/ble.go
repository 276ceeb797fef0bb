// Package ble implements the SMP transport over a device's SMP GATT service
// (§4.3): write-without-response outbound fragments sized to the negotiated
// ATT MTU, inbound notifications reassembled by the shared header-length-driven
// buffer.
package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/go-smp/smp"
	"github.com/go-smp/smp/internal/reassemble"
	"github.com/go-smp/smp/transport"
)

// ServiceUUID and CharacteristicUUID identify the SMP GATT service (§6.1).
var (
	ServiceUUID, _        = bluetooth.ParseUUID("8d53dc1d-1db7-4cd3-868b-8a527460aa84")
	CharacteristicUUID, _ = bluetooth.ParseUUID("da2e7828-fbce-4e01-ae9e-261174997c48")
)

// DefaultMaxUnencodedSize is used until Initialize reads a negotiated ATT MTU
// from the Bluetooth stack, or NoteLargerMTUAccepted raises it (§4.3).
const DefaultMaxUnencodedSize = 256

// attHeaderOverhead is subtracted from the negotiated ATT MTU to get the
// usable write-without-response payload size.
const attHeaderOverhead = 3

// DefaultATTMTU is assumed until the stack reports the negotiated value.
const DefaultATTMTU = 23

// Config selects the target device by advertised name or address.
type Config struct {
	Name    string
	Address string

	// ConnectTimeout bounds the scan+connect sequence. Defaults to 10s.
	ConnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

var _ transport.Transport = (*Transport)(nil)

// Transport is the BLE GATT SMP transport.
type Transport struct {
	cfg Config

	adapter   *bluetooth.Adapter
	device    bluetooth.Device
	char      bluetooth.DeviceCharacteristic
	connected bool

	attMTU            int
	maxUnencodedSize  int
	maxUnencodedSizeMu sync.Mutex

	sendMu sync.Mutex

	recv chan transport.Received
	buf  reassemble.Buffer
}

// New creates a BLE transport against tinygo.org/x/bluetooth's default
// adapter. Call Connect before Send/Receive.
func New(cfg Config) *Transport {
	return &Transport{
		cfg:              cfg.withDefaults(),
		adapter:          bluetooth.DefaultAdapter,
		attMTU:           DefaultATTMTU,
		maxUnencodedSize: DefaultMaxUnencodedSize,
		recv:             make(chan transport.Received, 16),
	}
}

func (t *Transport) Connect(ctx context.Context) error {
	if err := t.adapter.Enable(); err != nil {
		return &connectError{cause: fmt.Errorf("enable adapter: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	var found bool
	var addr bluetooth.Address

	err := t.adapter.Scan(func(a *bluetooth.Adapter, sr bluetooth.ScanResult) {
		nameMatch := t.cfg.Name != "" && sr.LocalName() == t.cfg.Name
		addrMatch := t.cfg.Address != "" && sr.Address.String() == t.cfg.Address
		if !nameMatch && !addrMatch {
			return
		}

		addr = sr.Address
		found = true
		cancel()
		_ = a.StopScan()
	})
	if err != nil {
		return &connectError{cause: fmt.Errorf("start scan: %w", err)}
	}

	<-ctx.Done()
	_ = t.adapter.StopScan()

	if !found {
		return &connectError{cause: errors.New("device not found")}
	}

	dev, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(t.cfg.ConnectTimeout),
		Timeout:           bluetooth.NewDuration(t.cfg.ConnectTimeout),
	})
	if err != nil {
		return &connectError{cause: fmt.Errorf("connect: %w", err)}
	}
	t.device = dev

	if err := t.discoverCharacteristic(); err != nil {
		return &connectError{cause: err}
	}

	if err := t.subscribe(); err != nil {
		return &connectError{cause: err}
	}

	t.connected = true
	return nil
}

type connectError struct{ cause error }

func (e *connectError) Error() string { return fmt.Sprintf("ble connect: %s", e.cause) }
func (e *connectError) Unwrap() error { return smp.ErrTransportConnectionFailed }

func (t *Transport) discoverCharacteristic() error {
	services, err := t.device.DiscoverServices([]bluetooth.UUID{ServiceUUID})
	if err != nil {
		return fmt.Errorf("discover services: %w", err)
	}
	if len(services) != 1 {
		return errors.New("smp gatt service not found")
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{CharacteristicUUID})
	if err != nil {
		return fmt.Errorf("discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return errors.New("smp characteristic not found")
	}

	t.char = chars[0]
	return nil
}

func (t *Transport) subscribe() error {
	return t.char.EnableNotifications(func(chunk []byte) {
		datagram, ok := t.buf.Feed(chunk)
		if !ok {
			return
		}

		t.recv <- transport.Received{Datagram: datagram}
	})
}

// Disconnect is a no-op past the first call (§4.1, §8).
func (t *Transport) Disconnect() error {
	if !t.connected {
		return nil
	}
	t.connected = false

	if err := t.device.Disconnect(); err != nil {
		return fmt.Errorf("ble disconnect: %w", err)
	}
	return nil
}

// Initialize sets the ATT MTU and MaxUnencodedSize (ATT MTU - 3) from the MTU
// the Bluetooth stack reports for the connected device (§4.3). It issues no
// SMP request; when the stack reports no MTU, the defaults stay in place.
func (t *Transport) Initialize(ctx context.Context) error {
	if mtu := t.negotiatedATTMTU(); mtu > 0 {
		t.attMTU = mtu
		t.setMaxUnencodedSize(mtu - attHeaderOverhead)
	}
	return nil
}

// negotiatedATTMTU returns 0 when the underlying stack does not expose the
// negotiated MTU (not all tinygo.org/x/bluetooth backends do).
func (t *Transport) negotiatedATTMTU() int {
	type mtuReporter interface{ MTU() uint16 }
	if r, ok := any(t.device).(mtuReporter); ok {
		return int(r.MTU())
	}
	return 0
}

func (t *Transport) setMaxUnencodedSize(n int) {
	t.maxUnencodedSizeMu.Lock()
	defer t.maxUnencodedSizeMu.Unlock()
	t.maxUnencodedSize = n
}

// Send writes a complete datagram in ATT_MTU-3 sized fragments using
// write-without-response, serialized so concurrent callers never interleave.
func (t *Transport) Send(ctx context.Context, datagram []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	chunkSize := t.MTU()
	if chunkSize <= 0 {
		chunkSize = DefaultATTMTU - attHeaderOverhead
	}

	for off := 0; off < len(datagram); off += chunkSize {
		end := off + chunkSize
		if end > len(datagram) {
			end = len(datagram)
		}

		if _, err := t.char.WriteWithoutResponse(datagram[off:end]); err != nil {
			return &writeError{cause: err}
		}
	}

	return nil
}

type writeError struct{ cause error }

func (e *writeError) Error() string { return fmt.Sprintf("ble write: %s", e.cause) }
func (e *writeError) Unwrap() error { return smp.ErrTransportWriteFailed }

func (t *Transport) Receive() <-chan transport.Received { return t.recv }

func (t *Transport) MTU() int { return t.attMTU - attHeaderOverhead }

func (t *Transport) MaxUnencodedSize() int {
	t.maxUnencodedSizeMu.Lock()
	defer t.maxUnencodedSizeMu.Unlock()
	return t.maxUnencodedSize
}

// NoteLargerMTUAccepted lets a caller widen MaxUnencodedSize once it
// observes a successful exchange at a larger payload size than previously
// assumed; a smaller n leaves it unchanged. The engine does not call it.
func (t *Transport) NoteLargerMTUAccepted(n int) {
	t.maxUnencodedSizeMu.Lock()
	defer t.maxUnencodedSizeMu.Unlock()
	if n > t.maxUnencodedSize {
		t.maxUnencodedSize = n
	}
}
