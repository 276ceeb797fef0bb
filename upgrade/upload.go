package upgrade

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-smp/smp"
)

// uploadLoop drives image/upload via the engine's RequestAll pipeline (§4.5's
// request_all operation), one attempt per chunk size/offset starting point.
// Within an attempt, each chunk's offset comes from the previous response,
// per §4.6 step 2. On a "too large" rejection it halves the chunk size and
// starts a fresh attempt from the last acknowledged offset; on a transient
// transport error it reconnects, resumes from the device's reported offset,
// and starts a fresh attempt from there (§4.6 step 2's reconnect-and-resume
// note).
func (u *Upgrader) uploadLoop(ctx context.Context, image []byte, sha [32]byte) error {
	total := uint32(len(image))
	chunkSize := u.initialChunkSize()

	var offset uint32
	for offset < total {
		before := offset

		responses, err := u.uploadAttempt(ctx, image, sha, total, chunkSize, &offset)
		u.reportUploadProgress(ctx, before, responses, total)

		if err == nil {
			continue
		}

		var rcErr *smp.SMPBadReturnCodeError
		if errors.As(err, &rcErr) && rcErr.TooLarge() {
			if chunkSize <= minChunkSize {
				return fmt.Errorf("device rejects even the minimum chunk size %d as too large", minChunkSize)
			}
			chunkSize /= 2
			if chunkSize < minChunkSize {
				chunkSize = minChunkSize
			}
			u.countRetry()
			continue
		}

		if isTransientTransportErr(err) {
			u.countRetry()
			newOffset, rerr := u.resumeAfterDisconnect(ctx)
			if rerr != nil {
				return fmt.Errorf("resume after disconnect: %w", rerr)
			}
			offset = newOffset
			continue
		}

		return err
	}

	return nil
}

// uploadAttempt issues one RequestAll run of image/upload chunks starting at
// *offset, advancing *offset after every acknowledged chunk so a caller that
// aborts partway through (too-large, transient error) resumes from the right
// place on the next attempt.
func (u *Upgrader) uploadAttempt(ctx context.Context, image []byte, sha [32]byte, total, chunkSize uint32, offset *uint32) ([]smp.FirmwareUploadResponse, error) {
	var missingOff bool

	next := func(prev smp.FirmwareUploadResponse, isFirst bool) (smp.FirmwareUploadRequest, bool) {
		if !isFirst {
			if prev.Off == nil {
				missingOff = true
				return smp.FirmwareUploadRequest{}, false
			}
			*offset = *prev.Off
		}
		if *offset >= total {
			return smp.FirmwareUploadRequest{}, false
		}

		end := *offset + chunkSize
		if end > total {
			end = total
		}

		req := smp.FirmwareUploadRequest{Off: *offset, Data: image[*offset:end]}
		if *offset == 0 {
			req.Image = u.cfg.Slot
			req.Len = total
			req.SHA = sha[:]
			req.Upgrade = true
		}
		return req, true
	}

	responses, err := smp.RequestAll[smp.FirmwareUploadRequest, smp.FirmwareUploadResponse](
		ctx, u.client, smp.OpWriteRequest, smp.GroupImage, smp.CmdImageUpload, next)
	if err == nil && missingOff {
		return responses, fmt.Errorf("image/upload response missing off")
	}
	return responses, err
}

// reportUploadProgress emits a progress event and, when metrics are
// attached, the bytes-acknowledged delta for every response collected
// during one uploadAttempt, walking forward from the offset the attempt
// started at.
func (u *Upgrader) reportUploadProgress(ctx context.Context, startOffset uint32, responses []smp.FirmwareUploadResponse, total uint32) {
	prev := startOffset
	for _, resp := range responses {
		if resp.Off == nil {
			continue
		}
		if u.metrics != nil && *resp.Off > prev {
			u.metrics.UploadBytesTotal.Add(float64(*resp.Off - prev))
		}
		prev = *resp.Off
		u.emit(ctx, Event{Phase: PhaseUploading, BytesUploaded: *resp.Off, TotalBytes: total})
	}
}

func (u *Upgrader) countRetry() {
	if u.metrics != nil {
		u.metrics.UploadRetriesTotal.Inc()
	}
}

// initialChunkSize sizes the first upload chunk conservatively from the
// transport's advertised MaxUnencodedSize, trusting the transport default
// rather than actively probing (Open Question, §9).
func (u *Upgrader) initialChunkSize() uint32 {
	const fallback = 512

	max := u.client.TransportMaxUnencodedSize()
	if max <= 0 {
		return fallback
	}

	size := max - headerOverhead - cborEnvelopeOverhead
	if size < minChunkSize {
		size = minChunkSize
	}

	return uint32(size)
}

// isTransientTransportErr reports whether err looks like a link-level
// failure (as opposed to a protocol-level rejection), warranting a
// reconnect-and-resume rather than a hard failure.
func isTransientTransportErr(err error) bool {
	return errors.Is(err, smp.ErrTransportWriteFailed) ||
		errors.Is(err, smp.ErrTransportReadFailed) ||
		errors.Is(err, smp.ErrTransportNotConnected) ||
		errors.Is(err, smp.ErrTimeout)
}
