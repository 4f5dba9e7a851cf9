package jobs

import (
	"context"
	"errors"
)

// Handle is the worker's view of one job. It is the only writer of the
// record's counters; stop requests arrive through the tracker.
type Handle struct {
	t *Tracker
	e *entry
}

// ID returns the job id.
func (h *Handle) ID() string {
	return h.e.rec.ID
}

// Context is cancelled when a stop is requested.
func (h *Handle) Context() context.Context {
	return h.e.ctx
}

// StopRequested reports whether the job has been asked to stop.
func (h *Handle) StopRequested() bool {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	return h.e.stopRequested
}

// Advance moves the job forward to status. Backward or terminal moves are
// ignored and reported as false.
func (h *Handle) Advance(to Status) bool {
	if to.Terminal() {
		return false
	}
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	if !canMove(h.e.rec.Status, to) {
		return false
	}
	h.e.rec.Status = to
	return true
}

// RecordOutcome counts one attempted contact and updates progress.
func (h *Handle) RecordOutcome(sent bool) Record {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	if h.e.rec.Status.Terminal() || h.e.rec.Processed() >= h.e.rec.Total {
		return h.e.rec
	}
	if sent {
		h.e.rec.Sent++
	} else {
		h.e.rec.Failed++
	}
	h.e.rec.Progress = progressOf(h.e.rec.Processed(), h.e.rec.Total)
	return h.e.rec
}

// Finish moves the job to its terminal state: stopped if a stop was
// requested, failed if err is non-nil, completed otherwise. Calling Finish on
// a terminal job is a no-op. The stop context is released.
func (h *Handle) Finish(err error) Record {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	defer h.e.cancel()

	if h.e.rec.Status.Terminal() {
		return h.e.rec
	}

	var to Status
	switch {
	case h.e.stopRequested:
		to = StatusStopped
	case err != nil:
		to = StatusFailed
	default:
		to = StatusCompleted
	}
	if to == StatusStopped && h.e.rec.Status != StatusStopping {
		h.e.rec.Status = StatusStopping
	}
	if to == StatusCompleted && h.e.rec.Status != StatusProcessing {
		// Jobs that never reached processing (e.g. zero contacts) still pass
		// through it so the transition stays forward-only.
		h.e.rec.Status = StatusProcessing
	}
	if !canMove(h.e.rec.Status, to) {
		to = StatusFailed
	}

	now := h.t.now()
	h.e.rec.Status = to
	h.e.rec.CompletedAt = &now
	h.e.rec.Progress = 100
	if err != nil && !errors.Is(err, context.Canceled) {
		msg := err.Error()
		if len(msg) > 500 {
			msg = msg[:500]
		}
		h.e.rec.Error = msg
	}
	return h.e.rec
}

// Snapshot returns a copy of the current record.
func (h *Handle) Snapshot() Record {
	return h.e.snapshot()
}
