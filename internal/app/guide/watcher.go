package guide

import (
	"context"

	"github.com/yamatt/walking-tour/internal/app/player"
	"github.com/yamatt/walking-tour/internal/observability"
	"github.com/yamatt/walking-tour/internal/speech"
)

// Watcher adapts the liveness monitor to the player's contract and counts
// stall verdicts.
type Watcher struct {
	monitor *speech.Monitor
	metrics *observability.Metrics
}

// NewWatcher creates a Watcher. metrics may be nil.
func NewWatcher(monitor *speech.Monitor, metrics *observability.Metrics) *Watcher {
	return &Watcher{monitor: monitor, metrics: metrics}
}

// Watch relays the monitor's stuck verdict, incrementing the stall counter
// when it fires.
func (w *Watcher) Watch(ctx context.Context, text string, n player.Narrator) <-chan struct{} {
	inner := w.monitor.Watch(ctx, text, n)
	out := make(chan struct{})
	go func() {
		select {
		case <-inner:
			if w.metrics != nil {
				w.metrics.LivenessStalls.Inc()
			}
			close(out)
		case <-ctx.Done():
		}
	}()
	return out
}

// Nudge forwards a recheck request to the monitor. Wired to the companion
// page returning to the foreground.
func (w *Watcher) Nudge() {
	w.monitor.Nudge()
}
