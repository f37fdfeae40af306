package speech

import (
	"context"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// MonitorConfig tunes the liveness heuristics. Zero values select the
// defaults noted per field.
type MonitorConfig struct {
	Poll           time.Duration // poll interval (2s)
	Grace          time.Duration // slack past the duration estimate (5s)
	ChunkCooldown  time.Duration // quiet window after a chunk start (1500ms)
	WordsPerMinute int           // assumed nominal speaking rate (150)
	Rate           float64       // speech rate multiplier (0.9)

	// Engine, when set, lets the monitor cross-check the engine's own
	// status: an in-flight session whose engine reports idle is declared
	// finished without waiting out the estimate, and a paused engine is
	// resumed. Nil limits the monitor to the timeout heuristic.
	Engine Engine
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.Poll <= 0 {
		c.Poll = 2 * time.Second
	}
	if c.Grace <= 0 {
		c.Grace = 5 * time.Second
	}
	if c.ChunkCooldown <= 0 {
		c.ChunkCooldown = 1500 * time.Millisecond
	}
	if c.WordsPerMinute <= 0 {
		c.WordsPerMinute = 150
	}
	if c.Rate <= 0 {
		c.Rate = 0.9
	}
	return c
}

// Narrating is the slice of the session the monitor observes.
type Narrating interface {
	LastChunkAt() time.Time
	InFlight() bool
}

// Monitor detects narrations that hang without delivering callbacks. This
// happens when the page holding the speech engine is suspended in the
// background: the engine stops producing audio but never signals completion.
type Monitor struct {
	cfg   MonitorConfig
	nudge chan struct{}
}

// NewMonitor creates a monitor with the given configuration.
func NewMonitor(cfg MonitorConfig) *Monitor {
	return &Monitor{
		cfg:   cfg.withDefaults(),
		nudge: make(chan struct{}, 1),
	}
}

// Nudge requests an immediate out-of-cycle check on the active watch. Used
// when the companion page returns to the foreground, so a narration that
// died while backgrounded is detected promptly rather than on the next poll.
func (m *Monitor) Nudge() {
	select {
	case m.nudge <- struct{}{}:
	default:
	}
}

// Estimate returns the expected narration duration for text: word count at
// the assumed speaking rate, adjusted by the speech rate multiplier.
func (m *Monitor) Estimate(text string) time.Duration {
	words := len(strings.Fields(text))
	wordsPerSecond := float64(m.cfg.WordsPerMinute) / 60 * m.cfg.Rate
	if wordsPerSecond <= 0 || words == 0 {
		return 0
	}
	return time.Duration(float64(words) / wordsPerSecond * float64(time.Second))
}

// Watch polls the narration and closes the returned channel when it is
// declared stuck. Two conditions declare it, both suppressed while a chunk
// started within the cool-down window (a fresh chunk proves the engine
// alive): the session is in flight but the engine reports it is not
// producing speech, or the elapsed time passed the duration estimate plus
// grace. An engine reporting paused gets a resume instead, with the
// timeout as the backstop when the resume never takes. Cancel ctx to stop
// watching; the channel is then never closed.
func (m *Monitor) Watch(ctx context.Context, text string, n Narrating) <-chan struct{} {
	stuck := make(chan struct{})
	expected := m.Estimate(text)
	deadline := time.Now().Add(expected + m.cfg.Grace)

	go func() {
		ticker := time.NewTicker(m.cfg.Poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-m.nudge:
			}

			if !n.InFlight() {
				continue
			}
			if last := n.LastChunkAt(); !last.IsZero() && time.Since(last) < m.cfg.ChunkCooldown {
				continue
			}

			if m.cfg.Engine != nil {
				if m.cfg.Engine.Paused() {
					zlog.Warn().Msg("speech: engine reports paused mid-narration, resuming")
					m.cfg.Engine.Resume()
				} else if !m.cfg.Engine.Speaking() {
					zlog.Warn().Msg("speech: session in flight but engine reports idle, declaring finished")
					close(stuck)
					return
				}
			}

			if time.Now().Before(deadline) {
				continue
			}

			zlog.Warn().Msgf("speech: narration stuck past estimate %v + grace %v, declaring finished", expected, m.cfg.Grace)
			close(stuck)
			return
		}
	}()

	return stuck
}
