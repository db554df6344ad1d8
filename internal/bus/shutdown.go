package bus

import (
	"context"
	"slices"

	"github.com/webitel/agent-event-bus/internal/domain/event"
	"go.uber.org/multierr"
)

// ShutdownReport lists events left pending for later recovery.
type ShutdownReport struct {
	// Retrying events were waiting on a retry backoff.
	Retrying []string `json:"retrying"`
	// Failed events had deliveries queued or still running.
	Failed []string `json:"failed"`
}

// Shutdown stops accepting publishes, cancels retry timers and lets running
// handlers drain until ctx is done. Whatever is still pending is recorded
// as retrying or failed and reported. The store is not closed.
func (b *Bus) Shutdown(ctx context.Context) (ShutdownReport, error) {
	report := ShutdownReport{Retrying: []string{}, Failed: []string{}}

	b.publishMu.Lock()
	already := b.closed.Swap(true)
	b.publishMu.Unlock()
	if already {
		return report, ErrClosed
	}

	for _, tr := range b.snapshotTrackers() {
		tr.mu.Lock()
		for _, r := range tr.routes {
			if r.timer != nil {
				r.timer.Stop()
				r.timer = nil
			}
		}
		tr.mu.Unlock()
	}

	var err error
	if _, drainErr := b.hub.Shutdown(ctx); drainErr != nil {
		err = multierr.Append(err, drainErr)
	}

	for _, tr := range b.snapshotTrackers() {
		tr.mu.Lock()
		if _, final := tr.aggregate(); final {
			// Settled while the cells drained.
			tr.mu.Unlock()
			continue
		}
		status := event.StatusFailed
		for _, r := range tr.routes {
			if r.status == event.StatusRetrying {
				status = event.StatusRetrying
			}
		}
		if tr.ev.Status != status && !walk(&tr.ev, status) {
			tr.ev.Status = status
		}
		b.writeBack(tr.ev)
		tr.abandoned = true
		id := tr.ev.ID
		tr.mu.Unlock()

		b.untrack(tr)
		if status == event.StatusRetrying {
			report.Retrying = append(report.Retrying, id)
		} else {
			report.Failed = append(report.Failed, id)
		}
	}
	slices.Sort(report.Retrying)
	slices.Sort(report.Failed)

	b.logger.Info("BUS_SHUTDOWN",
		"retrying", len(report.Retrying),
		"failed", len(report.Failed),
	)
	return report, err
}

func (b *Bus) snapshotTrackers() []*tracker {
	b.trackMu.Lock()
	defer b.trackMu.Unlock()

	out := make([]*tracker, 0, len(b.trackers))
	for _, tr := range b.trackers {
		out = append(out, tr)
	}
	return out
}
