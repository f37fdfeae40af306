package player

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/yamatt/walking-tour/internal/audio"
	"github.com/yamatt/walking-tour/internal/domain/tour"
	"github.com/yamatt/walking-tour/internal/speech"
)

// Errors
var (
	ErrEmptyQueue = errors.New("queue is empty")
	ErrNoText     = errors.New("track has no narration text")
)

// Fetcher resolves a track's narration text. Tracks with inline text
// short-circuit; article-backed tracks go through the content client. The
// fetcher owns its own timeout; the player imposes none.
type Fetcher interface {
	FetchText(ctx context.Context, t tour.Track) (string, error)
}

// Narrator is what a speech session provides to the player.
type Narrator interface {
	Speak(ctx context.Context, text string) error
	Cancel()
	LastChunkAt() time.Time
	InFlight() bool
}

// Watcher is the liveness monitor contract: the returned channel closes
// when the narration is declared stuck, and never closes after ctx ends.
type Watcher interface {
	Watch(ctx context.Context, text string, n Narrator) <-chan struct{}
}

// Options holds player configuration.
type Options struct {
	InterTrackPause   time.Duration // pause between tracks (default 2s)
	CompletionMessage string        // spoken and emitted when the tour finishes
	EventBuffer       int           // event channel capacity (default 16)
}

// Player is the narration transport state machine. One mutex guards all
// fields; every asynchronous continuation re-enters through the lock and
// re-checks the attempt counter before touching anything.
type Player struct {
	mu sync.Mutex

	fetcher   Fetcher
	narrator  Narrator
	watcher   Watcher
	keepalive audio.Keepalive
	opts      Options

	queue           tour.Queue
	index           int
	state           State
	manuallyStopped bool

	// attempt is the playback generation counter. Every operation that
	// starts or stops narration increments it; callbacks carrying a stale
	// value are dropped.
	attempt uint64

	cancelAdvance func()
	cancelWatch   context.CancelFunc

	events chan Event
	closed bool
}

// New creates a player. A nil keepalive gets the no-op implementation.
func New(fetcher Fetcher, narrator Narrator, watcher Watcher, keepalive audio.Keepalive, opts Options) *Player {
	if opts.InterTrackPause <= 0 {
		opts.InterTrackPause = 2 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 16
	}
	if keepalive == nil {
		keepalive = audio.NopKeepalive{}
	}
	return &Player{
		fetcher:   fetcher,
		narrator:  narrator,
		watcher:   watcher,
		keepalive: keepalive,
		opts:      opts,
		state:     StateIdle,
		events:    make(chan Event, opts.EventBuffer),
	}
}

// Events returns the notification channel. Emission never blocks; events
// are dropped with a warning when the buffer is full.
func (p *Player) Events() <-chan Event {
	return p.events
}

// LoadQueue replaces the queue and resets the cursor to 0. Playback is not
// started, and narration already in progress is not interrupted: the
// running track finishes and auto-advance continues within the new queue.
func (p *Player) LoadQueue(q tour.Queue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.queue = q
	p.index = 0
	p.manuallyStopped = false
	if !p.state.IsPlaying() {
		p.setStateLocked(StateIdle)
	}
	zlog.Info().Msgf("player: queue loaded: tracks=%d", q.Len())
	p.emitLocked(Event{Type: EventQueueLoaded})
}

// UpdateQueue replaces the queue keeping the current track: the cursor
// follows the current track's id into the new queue, or clamps when the
// track is gone. Never interrupts narration. Used when the caller reorders
// the tour (distances recalculated) mid-playback.
func (p *Player) UpdateQueue(q tour.Queue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	cur, ok := p.queue.At(p.index)
	p.queue = q
	if ok {
		if pos := q.IndexOf(cur.ID); pos >= 0 {
			p.index = pos
		} else {
			p.index = q.ClampIndex(p.index)
		}
	} else {
		p.index = q.ClampIndex(p.index)
	}
	zlog.Info().Msgf("player: queue updated: tracks=%d index=%d", q.Len(), p.index)
	p.emitLocked(Event{Type: EventQueueLoaded})
}

// Play resumes or starts playback at the current cursor. A no-op while
// already playing.
func (p *Player) Play() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if p.state.IsPlaying() {
		p.mu.Unlock()
		return nil
	}
	if p.queue.Len() == 0 {
		p.mu.Unlock()
		zlog.Warn().Msg("player: play requested with an empty queue")
		return ErrEmptyQueue
	}
	i := p.queue.ClampIndex(p.index)
	p.mu.Unlock()

	return p.PlayTrack(i)
}

// PlayTrack starts narration of the track at index i. Out-of-range indexes
// are ignored with a warning; no state changes and no events fire.
func (p *Player) PlayTrack(i int) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if p.queue.Len() == 0 {
		p.setStateLocked(StateIdle)
		p.mu.Unlock()
		zlog.Warn().Msg("player: play requested with an empty queue")
		return ErrEmptyQueue
	}
	trk, ok := p.queue.At(i)
	if !ok {
		queueLen := p.queue.Len()
		// An advancing player must not stay wedged on a queue that
		// shrank under it.
		if p.state == StateAdvancing {
			p.setStateLocked(StateIdle)
		}
		p.mu.Unlock()
		zlog.Warn().Msgf("player: ignoring play for out-of-range index %d (queue length %d)", i, queueLen)
		return nil
	}

	p.index = i
	p.attempt++
	a := p.attempt
	p.cancelTimersLocked()
	// An explicit play always defeats a prior manual stop.
	p.manuallyStopped = false
	p.setStateLocked(StateLoading)
	p.emitLocked(Event{Type: EventTrackChanged, Track: &trk})
	p.mu.Unlock()

	zlog.Info().Msgf("player: playing track: index=%d id=%s title=%s", i, trk.ID, trk.Title)

	// Cancel is idempotent; a superseded narration returns quietly.
	p.narrator.Cancel()
	go p.narrate(a, trk)
	return nil
}

// Next moves one track forward. A no-op at the end of the queue.
func (p *Player) Next() error {
	return p.step(1)
}

// Previous moves one track back. A no-op at the start of the queue.
func (p *Player) Previous() error {
	return p.step(-1)
}

func (p *Player) step(delta int) error {
	p.mu.Lock()
	i := p.index + delta
	inRange := i >= 0 && i < p.queue.Len()
	p.mu.Unlock()

	if !inRange {
		zlog.Warn().Msgf("player: ignoring step to out-of-range index %d", i)
		return nil
	}
	return p.PlayTrack(i)
}

// Stop cancels narration and suppresses auto-advance until the next
// explicit play. Quiet: the canceled narration emits no error event.
func (p *Player) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.attempt++
	p.manuallyStopped = true
	p.cancelTimersLocked()
	p.setStateLocked(StateStopped)
	p.mu.Unlock()

	zlog.Info().Msg("player: stopped")
	p.narrator.Cancel()
	p.keepalive.Stop()
}

// Current returns the cursor index and track.
func (p *Player) Current() (int, tour.Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	trk, ok := p.queue.At(p.index)
	return p.index, trk, ok
}

// State returns the current state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsPlaying reports whether playback is live (loading, speaking or
// advancing).
func (p *Player) IsPlaying() bool {
	return p.State().IsPlaying()
}

// Queue returns the current queue value.
func (p *Player) Queue() tour.Queue {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue
}

// Close stops playback and releases the event channel.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.attempt++
	p.cancelTimersLocked()
	p.closed = true
	p.state = StateIdle
	p.mu.Unlock()

	p.narrator.Cancel()
	p.keepalive.Stop()
	close(p.events)
}

// narrate runs one playback attempt: fetch, speak, decide what happens
// next. Runs on its own goroutine; every re-entry checks the attempt.
func (p *Player) narrate(a uint64, trk tour.Track) {
	text, err := p.fetcher.FetchText(context.Background(), trk)

	p.mu.Lock()
	if p.attempt != a || p.closed {
		p.mu.Unlock()
		return
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrNoText
	}
	if err != nil {
		p.completeLocked(a, trk, errors.Wrapf(err, "fetch narration for %q", trk.Title))
		p.mu.Unlock()
		return
	}

	spoken := spokenText(trk, text)
	p.setStateLocked(StateSpeaking)

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	p.cancelWatch = cancelWatch
	stuck := p.watcher.Watch(watchCtx, spoken, p.narrator)
	if kerr := p.keepalive.Start(); kerr != nil {
		zlog.Warn().Msgf("player: keepalive start failed: %v", kerr)
	}
	p.mu.Unlock()

	// A stuck narration is indistinguishable from one that completed while
	// the companion page was backgrounded, so it is treated as a normal
	// completion, not an error.
	go func() {
		select {
		case <-stuck:
			zlog.Info().Msgf("player: liveness recovery: track=%s", trk.Title)
			p.narrator.Cancel()
			p.finish(a, trk, nil)
		case <-watchCtx.Done():
		}
	}()

	err = p.narrator.Speak(context.Background(), spoken)
	p.finish(a, trk, err)
}

// finish handles a narration outcome exactly once per attempt: the attempt
// counter drops stale callers, the Speaking state latch drops duplicates
// (liveness recovery racing the engine's own late end).
func (p *Player) finish(a uint64, trk tour.Track, err error) {
	if errors.Is(err, speech.ErrCanceled) || errors.Is(err, speech.ErrSuperseded) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attempt != a || p.closed {
		return
	}
	if p.state != StateSpeaking {
		return
	}
	p.completeLocked(a, trk, err)
}

// completeLocked applies the advance-or-finish decision shared by content
// errors, engine errors and natural completion.
func (p *Player) completeLocked(a uint64, trk tour.Track, narrErr error) {
	p.stopWatchLocked()

	if narrErr != nil {
		zlog.Warn().Msgf("player: track failed: id=%s title=%s error=%v", trk.ID, trk.Title, narrErr)
		p.emitLocked(Event{Type: EventTrackError, Track: &trk, Err: narrErr})
	}
	if p.manuallyStopped {
		return
	}

	if p.nextIndexLocked(trk) >= p.queue.Len() {
		p.finishTourLocked(a, trk)
		return
	}

	p.setStateLocked(StateAdvancing)
	p.cancelAdvance = startWallClockTimer(p.opts.InterTrackPause, func() {
		p.advance(a, trk)
	})
}

// advance runs when the inter-track pause elapses. The queue may have been
// replaced during the pause, so the target is resolved against whatever
// queue is current now, never the one at completion time.
func (p *Player) advance(a uint64, finished tour.Track) {
	p.mu.Lock()
	p.cancelAdvance = nil
	if p.attempt != a || p.closed {
		p.mu.Unlock()
		return
	}
	next := p.nextIndexLocked(finished)
	if next >= p.queue.Len() {
		p.finishTourLocked(a, finished)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	_ = p.PlayTrack(next)
}

// nextIndexLocked locates the finished track in the current queue and
// returns the index after it, or the clamped cursor when the track is gone.
func (p *Player) nextIndexLocked(finished tour.Track) int {
	if pos := p.queue.IndexOf(finished.ID); pos >= 0 {
		return pos + 1
	}
	return p.queue.ClampIndex(p.index)
}

// finishTourLocked ends the tour: completion event, best-effort spoken
// completion message, keepalive off.
func (p *Player) finishTourLocked(a uint64, trk tour.Track) {
	msg := p.opts.CompletionMessage
	p.setStateLocked(StateIdle)
	p.emitLocked(Event{Type: EventTourCompleted, Track: &trk, Message: msg})
	zlog.Info().Msgf("player: tour completed: tracks=%d", p.queue.Len())

	if msg == "" {
		p.keepalive.Stop()
		return
	}
	go func() {
		// Best effort; any new play or stop supersedes it.
		if err := p.narrator.Speak(context.Background(), msg); err != nil {
			zlog.Debug().Msgf("player: completion message not narrated: %v", err)
		}
		p.mu.Lock()
		if p.attempt == a && !p.closed {
			p.keepalive.Stop()
		}
		p.mu.Unlock()
	}()
}

func (p *Player) cancelTimersLocked() {
	if p.cancelAdvance != nil {
		p.cancelAdvance()
		p.cancelAdvance = nil
	}
	p.stopWatchLocked()
}

func (p *Player) stopWatchLocked() {
	if p.cancelWatch != nil {
		p.cancelWatch()
		p.cancelWatch = nil
	}
}

func (p *Player) setStateLocked(s State) {
	if p.state == s {
		return
	}
	p.state = s
	p.emitLocked(Event{Type: EventStateChanged})
}

// emitLocked sends an event without blocking. Must be called with the lock
// held; the player's current state rides along on every event.
func (p *Player) emitLocked(e Event) {
	if p.closed {
		return
	}
	e.State = p.state
	e.Index = p.index
	e.QueueLength = p.queue.Len()
	e.Timestamp = time.Now()

	select {
	case p.events <- e:
	default:
		zlog.Warn().Msgf("player: event buffer full, dropping %s", e.Type)
	}
}

// spokenText builds the narration: location context first when present,
// then the title as its own sentence, then the body.
func spokenText(trk tour.Track, text string) string {
	var b strings.Builder
	if trk.LocationContext != "" {
		b.WriteString(trk.LocationContext)
		b.WriteString(" ")
	}
	if trk.Title != "" {
		b.WriteString(trk.Title)
		b.WriteString(". ")
	}
	b.WriteString(text)
	return b.String()
}

// startWallClockTimer triggers callback after duration measured on the wall
// clock, returning a cancel function. The monotonic clock pauses while a
// device sleeps; narration pauses must not, or a backgrounded tour would
// stall between tracks.
func startWallClockTimer(duration time.Duration, callback func()) func() {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		endTime := toWallTime(time.Now()).Add(duration)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if toWallTime(time.Now()).After(endTime) {
					callback()
					return
				}
			}
		}
	}()

	return cancel
}

// toWallTime strips the monotonic clock reading so differences use wall
// time.
func toWallTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), int64(t.Nanosecond()))
}
