package upgrade

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-smp/smp"
	"github.com/go-smp/smp/transport"
)

// fakeDevice models just enough device-side state for the orchestrator's
// state machine: the bytes received so far for the staged slot, whether it
// has rebooted (severing the first transport), and whether the image has
// been confirmed.
type fakeDevice struct {
	mu        sync.Mutex
	received  []byte
	rebooted  bool
	confirmed bool
	sha       [32]byte
}

// fakeUpgradeTransport is a one-shot in-process transport.Transport backed
// by a shared fakeDevice. Each reconnect in the test dials a fresh instance,
// mirroring how a real link is torn down and re-established across os/reset.
type fakeUpgradeTransport struct {
	dev            *fakeDevice
	maxUnencoded   int
	recv           chan transport.Received
	severed        bool // os/reset on this instance never answers
}

func newFakeUpgradeTransport(dev *fakeDevice, severed bool) *fakeUpgradeTransport {
	return &fakeUpgradeTransport{
		dev:          dev,
		maxUnencoded: 256,
		recv:         make(chan transport.Received, 8),
		severed:      severed,
	}
}

func (f *fakeUpgradeTransport) Connect(ctx context.Context) error    { return nil }
func (f *fakeUpgradeTransport) Disconnect() error                    { return nil }
func (f *fakeUpgradeTransport) Initialize(ctx context.Context) error { return nil }
func (f *fakeUpgradeTransport) MTU() int                             { return f.maxUnencoded }
func (f *fakeUpgradeTransport) MaxUnencodedSize() int                { return f.maxUnencoded }
func (f *fakeUpgradeTransport) Receive() <-chan transport.Received   { return f.recv }

func (f *fakeUpgradeTransport) Send(ctx context.Context, datagram []byte) error {
	req, err := smp.DecodeDatagram(datagram)
	if err != nil {
		return err
	}

	resp := req
	resp.Header.Op = smp.ResponseOp(req.Header.Op)

	switch {
	case req.Header.Group == smp.GroupImage && req.Header.Command == smp.CmdImageState && req.Header.Op == smp.OpReadRequest:
		f.dev.mu.Lock()
		img := smp.ImageInfo{Slot: 1}
		if f.dev.rebooted {
			active := true
			img.Active = &active
			img.Hash = f.dev.sha[:]
		}
		f.dev.mu.Unlock()
		payload, _ := smp.EncodeCBOR(smp.ImageStateResponse{Images: []smp.ImageInfo{img}})
		resp.Payload = payload

	case req.Header.Group == smp.GroupImage && req.Header.Command == smp.CmdImageUpload && req.Header.Op == smp.OpWriteRequest:
		var up smp.FirmwareUploadRequest
		_ = smp.DecodeCBOR(req.Payload, &up)

		f.dev.mu.Lock()
		if int(up.Off) == len(f.dev.received) {
			f.dev.received = append(f.dev.received, up.Data...)
		}
		off := uint32(len(f.dev.received))
		f.dev.mu.Unlock()

		payload, _ := smp.EncodeCBOR(smp.FirmwareUploadResponse{Off: &off})
		resp.Payload = payload

	case req.Header.Group == smp.GroupImage && req.Header.Command == smp.CmdImageState && req.Header.Op == smp.OpWriteRequest:
		var w smp.ImageStateWriteRequest
		_ = smp.DecodeCBOR(req.Payload, &w)
		f.dev.mu.Lock()
		copy(f.dev.sha[:], w.Hash)
		if w.Confirm {
			f.dev.confirmed = true
		}
		f.dev.mu.Unlock()
		payload, _ := smp.EncodeCBOR(smp.ImageStateResponse{})
		resp.Payload = payload

	case req.Header.Group == smp.GroupOS && req.Header.Command == smp.CmdReset && req.Header.Op == smp.OpWriteRequest:
		f.dev.mu.Lock()
		f.dev.rebooted = true
		f.dev.mu.Unlock()
		if f.severed {
			return nil // simulate the device going away before it can reply
		}
		payload, _ := smp.EncodeCBOR(smp.ResetResponse{})
		resp.Payload = payload

	default:
		return nil
	}

	f.recv <- transport.Received{Datagram: resp.Encode()}
	return nil
}

func TestUpgraderRunHappyPath(t *testing.T) {
	dev := &fakeDevice{}
	image := append([]byte{0x3d, 0xb8, 0xf3, 0x96}, make([]byte, 60)...) // mcuboot magic + padding

	var dialCount int
	dial := func(ctx context.Context) (transport.Transport, error) {
		dialCount++
		severed := dialCount == 1 // only the initial connection's reset goes unanswered
		return newFakeUpgradeTransport(dev, severed), nil
	}

	u := New(dial,
		WithParser(stubParser{}),
		WithConfig(Config{
			ReconnectInitialBackoff: 10 * time.Millisecond,
			ReconnectMaxBackoff:     20 * time.Millisecond,
			ReconnectDeadline:       time.Second,
			RequestTimeout:          100 * time.Millisecond,
		}),
	)

	var events []Event
	done := make(chan error, 1)
	go func() { done <- u.Run(context.Background(), image) }()

	for ev := range u.Events() {
		events = append(events, ev)
	}

	require.NoError(t, <-done)
	require.NotEmpty(t, events)
	require.Equal(t, PhaseDone, events[len(events)-1].Phase)

	dev.mu.Lock()
	defer dev.mu.Unlock()
	require.Len(t, dev.received, len(image))
	require.Equal(t, sha256.Sum256(image), dev.sha)
	require.True(t, dev.confirmed)
}

// stubParser accepts any image without inspecting MCUboot's fixed header, so
// the happy-path test can use a short synthetic payload.
type stubParser struct{}

func (stubParser) Parse(image []byte) (ImageHeader, error) {
	return ImageHeader{Version: "0.0.1", Size: uint32(len(image))}, nil
}
