package smp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-smp/smp/metrics"
	"github.com/go-smp/smp/transport"
)

// Per-transport default timeouts (§4.5).
const (
	DefaultTimeoutUDP    = 2500 * time.Millisecond
	DefaultTimeoutSerial = 20 * time.Second
	DefaultTimeoutBLE    = 40 * time.Second
)

// pending is the in-flight request record of §3.2: sequence, expected
// group/command/op, and a single-shot completion sink.
type pending struct {
	group   uint16
	command uint8
	op      uint8
	done    chan pendingResult
}

type pendingResult struct {
	datagram Datagram
	err      error
}

// Client is the transport-agnostic SMP request/response engine (component
// C): it assigns sequence numbers, fragments via the transport, correlates
// responses, and validates them against the request that produced them.
type Client struct {
	transport transport.Transport
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Collector

	startOnce sync.Once

	mu       sync.Mutex
	inFlight map[uint8]*pending
	nextSeq  uint8
	seqFree  chan struct{} // signaled whenever a sequence slot frees up
}

// Option configures a Client constructed with NewClient.
type Option func(*Client)

// WithTimeout overrides the per-request timeout. Without it, every request
// uses DefaultTimeoutSerial whatever the transport; DefaultTimeoutUDP and
// DefaultTimeoutBLE are not applied automatically.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger attaches a structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics attaches a Prometheus collector. Unset by default: the engine
// imposes no observability overhead unless a caller opts in.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient constructs an engine over the given transport. The transport
// must already have had Connect (and, if desired, Initialize) called.
func NewClient(t transport.Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		logger:    slog.Default(),
		inFlight:  make(map[uint8]*pending),
		seqFree:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ensureReceiveLoop() {
	c.startOnce.Do(func() {
		go c.receiveLoop()
	})
}

// receiveLoop is the engine's single background receive task (§4.5): it
// drains transport.Receive(), looks up the in-flight record by sequence,
// and delivers the response. Unmatched datagrams are dropped with a debug
// log line — a late response after a timeout is not a fatal condition.
func (c *Client) receiveLoop() {
	for received := range c.transport.Receive() {
		if received.Err != nil {
			c.logger.Debug("smp: transport read error", "err", received.Err)
			continue
		}

		datagram, err := DecodeDatagram(received.Datagram)
		if err != nil {
			c.logger.Debug("smp: dropping undecodable datagram", "err", err)
			continue
		}

		c.mu.Lock()
		req, ok := c.inFlight[datagram.Header.Sequence]
		if ok {
			delete(c.inFlight, datagram.Header.Sequence)
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Debug("smp: dropping response for unknown/expired sequence",
				"sequence", datagram.Header.Sequence)
			continue
		}

		c.signalSeqFree()
		req.done <- pendingResult{datagram: datagram}
	}
}

func (c *Client) signalSeqFree() {
	select {
	case c.seqFree <- struct{}{}:
	default:
	}
}

// allocateSequence assigns the next free sequence number, advancing past any
// currently in-flight slot, and blocks if all 256 are occupied (§4.5).
func (c *Client) allocateSequence(ctx context.Context) (uint8, error) {
	for {
		c.mu.Lock()
		if len(c.inFlight) < 256 {
			seq := c.nextSeq
			for {
				if _, busy := c.inFlight[seq]; !busy {
					break
				}
				seq++
			}
			c.nextSeq = seq + 1
			c.mu.Unlock()
			return seq, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-c.seqFree:
		}
	}
}

// timeoutFor returns the WithTimeout value, or DefaultTimeoutSerial when none
// was supplied. It does not look at the attached transport's kind.
func (c *Client) timeoutFor() time.Duration {
	if c.timeout != 0 {
		return c.timeout
	}
	return DefaultTimeoutSerial
}

// roundTrip encodes op/group/command/payload, sends it, and waits for the
// matching, validated response (§4.5 steps 1-4). Callers extract the
// payload-level return code (step 5) themselves via Do.
func (c *Client) roundTrip(ctx context.Context, op uint8, group uint16, command uint8, payload []byte) (Datagram, error) {
	c.ensureReceiveLoop()

	seq, err := c.allocateSequence(ctx)
	if err != nil {
		return Datagram{}, err
	}

	req := NewRequest(op, group, command, payload)
	req.Header.Sequence = seq

	rec := &pending{group: group, command: command, op: op, done: make(chan pendingResult, 1)}

	c.mu.Lock()
	c.inFlight[seq] = rec
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.inFlight, seq)
		c.mu.Unlock()
		c.signalSeqFree()
	}

	if err := c.sendFragmented(ctx, req); err != nil {
		cleanup()
		return Datagram{}, err
	}

	timeout := c.timeoutFor()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if c.metrics != nil {
		c.metrics.RequestsTotal.WithLabelValues(groupLabel(group), commandLabel(command)).Inc()
	}
	start := time.Now()

	select {
	case <-ctx.Done():
		cleanup()
		return Datagram{}, ctx.Err()
	case <-timer.C:
		cleanup()
		if c.metrics != nil {
			c.metrics.TimeoutsTotal.WithLabelValues(groupLabel(group), commandLabel(command)).Inc()
		}
		return Datagram{}, &TimeoutError{Sequence: seq}
	case result := <-rec.done:
		if c.metrics != nil {
			c.metrics.RequestDuration.WithLabelValues(groupLabel(group), commandLabel(command)).Observe(time.Since(start).Seconds())
		}
		if result.err != nil {
			return Datagram{}, result.err
		}
		return c.validate(req.Header, result.datagram)
	}
}

// validate enforces the strict, ordered checks of §4.5 steps 1-4. Step 5
// (payload rc) is enforced by the generic Do helper, which knows the
// response's concrete Go type.
func (c *Client) validate(reqHeader Header, resp Datagram) (Datagram, error) {
	h := resp.Header

	switch {
	case h.Sequence != reqHeader.Sequence:
		c.countValidationError("sequence")
		return Datagram{}, &SMPBadSequenceError{Want: reqHeader.Sequence, Got: h.Sequence}
	case h.Group != reqHeader.Group:
		c.countValidationError("group")
		return Datagram{}, &SMPBadGroupError{Want: reqHeader.Group, Got: h.Group}
	case h.Command != reqHeader.Command:
		c.countValidationError("command")
		return Datagram{}, &SMPBadCommandError{Want: reqHeader.Command, Got: h.Command}
	case h.Op != ResponseOp(reqHeader.Op):
		c.countValidationError("op")
		return Datagram{}, &SMPBadOperationError{Want: ResponseOp(reqHeader.Op), Got: h.Op}
	}

	return resp, nil
}

func (c *Client) countValidationError(reason string) {
	if c.metrics != nil {
		c.metrics.ValidationErrors.WithLabelValues(reason).Inc()
	}
}

// sendFragmented hands datagram.Encode() to the transport in a single Send
// call; it does no splitting itself. Serial and BLE fragment inside Send;
// UDP's Send rejects an over-MTU datagram outright, matching §4.4.
func (c *Client) sendFragmented(ctx context.Context, req Datagram) error {
	return c.transport.Send(ctx, req.Encode())
}

// TransportMaxUnencodedSize exposes the attached transport's current
// MaxUnencodedSize so callers sizing chunked payloads (the upgrade
// orchestrator) read it fresh per request, as the property may be dynamic
// (§4.1).
func (c *Client) TransportMaxUnencodedSize() int {
	return c.transport.MaxUnencodedSize()
}

// TransportMTU exposes the attached transport's current MTU.
func (c *Client) TransportMTU() int {
	return c.transport.MTU()
}

func groupLabel(g uint16) string   { return fmt.Sprintf("%d", g) }
func commandLabel(cmd uint8) string { return fmt.Sprintf("%d", cmd) }

// Do issues one request/response round trip and decodes the response into
// Resp, returning SMPBadReturnCodeError if the payload reports a failure.
//
// Example:
//
//	resp, err := smp.Do[smp.EchoResponse](ctx, client, smp.OpWriteRequest, smp.GroupOS, smp.CmdEcho, smp.EchoRequest{D: "hi"})
func Do[Resp rcHolder](ctx context.Context, c *Client, op uint8, group uint16, command uint8, req any) (Resp, error) {
	var zero Resp

	payload, err := EncodeCBOR(req)
	if err != nil {
		return zero, err
	}

	respDatagram, err := c.roundTrip(ctx, op, group, command, payload)
	if err != nil {
		return zero, err
	}

	var resp Resp
	if err := DecodeCBOR(respDatagram.Payload, &resp); err != nil {
		return zero, err
	}

	if rc, errGroup, present := resp.returnCode(); present {
		c.countValidationError("rc")
		return zero, &SMPBadReturnCodeError{RC: rc, Group: errGroup}
	}

	return resp, nil
}

// NextRequest produces the next request in a RequestAll pipeline from the
// previous response, or ok=false to stop (upload complete).
type NextRequest[Req any, Resp any] func(prev Resp, isFirst bool) (req Req, ok bool)

// RequestAll issues a pipelined sequence of requests where each subsequent
// request may depend on the previous response (§4.5) — the shape the
// firmware upload state machine uses to drive image/upload one chunk at a
// time, advancing by whatever offset the device acknowledges.
func RequestAll[Req any, Resp rcHolder](ctx context.Context, c *Client, op uint8, group uint16, command uint8, next NextRequest[Req, Resp]) ([]Resp, error) {
	var responses []Resp
	var prev Resp
	first := true

	for {
		req, ok := next(prev, first)
		if !ok {
			return responses, nil
		}
		first = false

		resp, err := Do[Resp](ctx, c, op, group, command, req)
		if err != nil {
			return responses, err
		}

		responses = append(responses, resp)
		prev = resp
	}
}
