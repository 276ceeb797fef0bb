// Package upgrade implements the firmware upgrade orchestrator (component
// D, §4.6): upload → mark-for-test → reset → reconnect → confirm, with
// chunk retry/back-off and resume-by-offset on interrupted uploads.
package upgrade

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-smp/smp"
	"github.com/go-smp/smp/metrics"
	"github.com/go-smp/smp/transport"
)

// Dialer connects and initializes a fresh transport, used both for the
// initial connection (if the caller doesn't hand the Upgrader an
// already-connected Client) and for reconnecting after os/reset.
type Dialer func(ctx context.Context) (transport.Transport, error)

// minChunkSize is the floor the upload loop refuses to halve below; a
// device that rejects even this as "too large" is treated as a hard
// failure rather than retried forever.
const minChunkSize = 32

// headerOverhead is the fixed SMP header size subtracted from
// MaxUnencodedSize when sizing a chunk (§4.6 step 2).
const headerOverhead = smp.HeaderSize

// cborEnvelopeOverhead is a conservative estimate of the CBOR map/key
// overhead around the "data" bytes field in a FirmwareUploadRequest (map
// header + 6 short text keys + a handful of small integers + the 32 SHA
// bytes + byte-string length prefix for data: about 77 bytes for the
// first chunk). Estimating generously here means the first real "too large"
// rejection is rare, not absent.
const cborEnvelopeOverhead = 96

// Config holds the orchestrator's timing knobs (§4.6, §6.3).
type Config struct {
	// Slot is the flash slot index to flash; defaults to 1.
	Slot uint32
	// ReconnectInitialBackoff defaults to 1s.
	ReconnectInitialBackoff time.Duration
	// ReconnectMaxBackoff defaults to 30s.
	ReconnectMaxBackoff time.Duration
	// ReconnectDeadline bounds the whole reconnecting phase; defaults to 60s.
	ReconnectDeadline time.Duration
	// RequestTimeout overrides the per-request timeout the orchestrator's
	// Client uses for every round trip (initial and post-reconnect). Zero
	// leaves the engine's own per-transport default in place.
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Slot == 0 {
		// Slot 0 is always the running image; uploads always target the
		// staged slot, so a zero-value Config means "use the typical slot".
		c.Slot = 1
	}
	if c.ReconnectInitialBackoff == 0 {
		c.ReconnectInitialBackoff = time.Second
	}
	if c.ReconnectMaxBackoff == 0 {
		c.ReconnectMaxBackoff = 30 * time.Second
	}
	if c.ReconnectDeadline == 0 {
		c.ReconnectDeadline = 60 * time.Second
	}
	return c
}

// Upgrader drives the upgrade state machine over a Client it may rebuild
// mid-flight (after the device disconnects for os/reset).
type Upgrader struct {
	dial   Dialer
	client *smp.Client

	parser  ImageHeaderParser
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector

	events chan Event
}

// Option configures an Upgrader built with New.
type Option func(*Upgrader)

func WithParser(p ImageHeaderParser) Option   { return func(u *Upgrader) { u.parser = p } }
func WithConfig(cfg Config) Option            { return func(u *Upgrader) { u.cfg = cfg } }
func WithLogger(l *slog.Logger) Option        { return func(u *Upgrader) { u.logger = l } }
func WithMetrics(m *metrics.Collector) Option { return func(u *Upgrader) { u.metrics = m } }

// WithClient seeds the Upgrader with an already-connected Client, so Run
// skips the initial dial.
func WithClient(c *smp.Client) Option { return func(u *Upgrader) { u.client = c } }

// New creates an Upgrader. dial is used to (re)connect a transport whenever
// the device disconnects (os/reset, mid-upload transport error).
func New(dial Dialer, opts ...Option) *Upgrader {
	u := &Upgrader{
		dial:   dial,
		parser: DefaultImageHeaderParser{},
		cfg:    Config{}.withDefaults(),
		logger: slog.Default(),
		events: make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.cfg = u.cfg.withDefaults()
	return u
}

// Events returns the progress/phase channel. Closed when Run returns.
func (u *Upgrader) Events() <-chan Event { return u.events }

func (u *Upgrader) emit(ctx context.Context, ev Event) {
	if u.metrics != nil {
		u.metrics.UpgradePhase.Reset()
		u.metrics.UpgradePhase.WithLabelValues(string(ev.Phase)).Set(1)
	}
	select {
	case u.events <- ev:
	case <-ctx.Done():
	}
}

// Run drives the full upload → test → reset → confirm workflow for image.
// It blocks until the upgrade reaches PhaseDone or a terminal error.
func (u *Upgrader) Run(ctx context.Context, image []byte) (err error) {
	defer close(u.events)
	defer func() {
		if err != nil {
			u.emit(context.Background(), Event{Phase: PhaseFailed})
		}
	}()

	if u.client == nil {
		if err := u.connect(ctx); err != nil {
			return &smp.TransportConnectionFailedError{Cause: err}
		}
	}

	header, err := u.parser.Parse(image)
	if err != nil {
		return fmt.Errorf("upgrade: validate image: %w", err)
	}
	u.logger.Info("upgrade: validated image", "version", header.Version, "size", header.Size)

	sha := sha256.Sum256(image)

	u.emit(ctx, Event{Phase: PhaseProbingMTU})
	if _, err := smp.Do[smp.ImageStateResponse](ctx, u.client, smp.OpReadRequest, smp.GroupImage, smp.CmdImageState, smp.ImageStateRequest{}); err != nil {
		return &smp.UpgradeUploadFailedError{Cause: fmt.Errorf("read initial image state: %w", err)}
	}

	u.emit(ctx, Event{Phase: PhaseUploading, TotalBytes: uint32(len(image))})
	if err := u.uploadLoop(ctx, image, sha); err != nil {
		return &smp.UpgradeUploadFailedError{Cause: err}
	}

	u.emit(ctx, Event{Phase: PhaseWaitingSwap, BytesUploaded: uint32(len(image)), TotalBytes: uint32(len(image))})
	if err := u.markForTestAndReset(ctx, sha); err != nil {
		return err
	}

	u.emit(ctx, Event{Phase: PhaseReconnecting})
	if err := u.reconnectWithBackoff(ctx); err != nil {
		return err
	}

	u.emit(ctx, Event{Phase: PhaseConfirming})
	if err := u.confirm(ctx, sha); err != nil {
		return err
	}

	u.emit(ctx, Event{Phase: PhaseDone, BytesUploaded: uint32(len(image)), TotalBytes: uint32(len(image))})
	return nil
}

func (u *Upgrader) connect(ctx context.Context) error {
	t, err := u.dial(ctx)
	if err != nil {
		return err
	}
	u.client = u.newClient(t)
	return nil
}

// newClient builds a Client over t carrying the orchestrator's own logger,
// metrics, and request timeout, so a client rebuilt after a reconnect (§4.6
// step 4) behaves identically to the one Run started with.
func (u *Upgrader) newClient(t transport.Transport) *smp.Client {
	opts := []smp.Option{smp.WithLogger(u.logger)}
	if u.metrics != nil {
		opts = append(opts, smp.WithMetrics(u.metrics))
	}
	if u.cfg.RequestTimeout != 0 {
		opts = append(opts, smp.WithTimeout(u.cfg.RequestTimeout))
	}
	return smp.NewClient(t, opts...)
}

// markForTestAndReset issues image/state/write{confirm:false} then os/reset.
// The reset response is intentionally best-effort: the device may
// disconnect before replying, which the engine surfaces as a TimeoutError
// that this method treats as success (§4.6 step 3, §9 "reset response
// loss").
func (u *Upgrader) markForTestAndReset(ctx context.Context, sha [32]byte) error {
	if _, err := smp.Do[smp.ImageStateResponse](ctx, u.client, smp.OpWriteRequest, smp.GroupImage, smp.CmdImageState,
		smp.ImageStateWriteRequest{Hash: sha[:], Confirm: false}); err != nil {
		return &smp.UpgradeUploadFailedError{Cause: fmt.Errorf("mark for test: %w", err)}
	}

	_, err := smp.Do[smp.ResetResponse](ctx, u.client, smp.OpWriteRequest, smp.GroupOS, smp.CmdReset, smp.ResetRequest{})
	if err == nil {
		return nil
	}

	var timeoutErr *smp.TimeoutError
	if errors.As(err, &timeoutErr) {
		u.logger.Debug("upgrade: no response to os/reset, treating as success")
		return nil
	}

	return &smp.UpgradeResetFailedError{Cause: err}
}

func (u *Upgrader) confirm(ctx context.Context, sha [32]byte) error {
	state, err := smp.Do[smp.ImageStateResponse](ctx, u.client, smp.OpReadRequest, smp.GroupImage, smp.CmdImageState, smp.ImageStateRequest{})
	if err != nil {
		return &smp.UpgradeConfirmFailedError{Cause: fmt.Errorf("read post-reset image state: %w", err)}
	}

	active := activeImage(state.Images)
	if active == nil {
		return &smp.UpgradeConfirmFailedError{Cause: fmt.Errorf("no active image reported after reset")}
	}
	if len(active.Hash) > 0 && !bytes.Equal(active.Hash, sha[:]) {
		return &smp.UpgradeHashMismatchError{Want: sha[:], Got: active.Hash}
	}

	if active.Confirmed != nil && *active.Confirmed {
		// Already confirmed (e.g. the device auto-confirms); nothing to do.
		return nil
	}

	if _, err := smp.Do[smp.ImageStateResponse](ctx, u.client, smp.OpWriteRequest, smp.GroupImage, smp.CmdImageState,
		smp.ImageStateWriteRequest{Hash: sha[:], Confirm: true}); err != nil {
		return &smp.UpgradeConfirmFailedError{Cause: err}
	}

	return nil
}

func activeImage(images []smp.ImageInfo) *smp.ImageInfo {
	for i := range images {
		if images[i].Active != nil && *images[i].Active {
			return &images[i]
		}
	}
	return nil
}
