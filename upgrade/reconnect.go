package upgrade

import (
	"context"
	"fmt"
	"time"

	"github.com/go-smp/smp"
)

// reconnectWithBackoff polls the dialer with exponential back-off (initial
// 1s, doubling, capped at 30s) until the configured deadline (§4.6 step 4).
func (u *Upgrader) reconnectWithBackoff(ctx context.Context) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, u.cfg.ReconnectDeadline)
	defer cancel()

	backoff := u.cfg.ReconnectInitialBackoff

	for {
		t, err := u.dial(deadlineCtx)
		if err == nil {
			u.client = u.newClient(t)
			return nil
		}

		u.logger.Debug("upgrade: reconnect attempt failed", "err", err, "backoff", backoff)

		select {
		case <-deadlineCtx.Done():
			return &smp.UpgradeDeadlineExceededError{Phase: string(PhaseReconnecting)}
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > u.cfg.ReconnectMaxBackoff {
			backoff = u.cfg.ReconnectMaxBackoff
		}
	}
}

// resumeAfterDisconnect reconnects mid-upload and re-reads image state to
// discover the device's actual offset in the staged slot, so uploadLoop can
// resume from there instead of restarting (§4.6 step 2, scenario 5).
func (u *Upgrader) resumeAfterDisconnect(ctx context.Context) (uint32, error) {
	if err := u.reconnectWithBackoff(ctx); err != nil {
		return 0, err
	}

	state, err := smp.Do[smp.ImageStateResponse](ctx, u.client, smp.OpReadRequest, smp.GroupImage, smp.CmdImageState, smp.ImageStateRequest{})
	if err != nil {
		return 0, fmt.Errorf("read image state after reconnect: %w", err)
	}

	for _, img := range state.Images {
		if img.Slot == u.cfg.Slot && img.Offset != nil {
			return *img.Offset, nil
		}
	}

	// No richer signal available: restart this slot's upload from zero.
	return 0, nil
}
