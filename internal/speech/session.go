package speech

import (
	"strings"
	"sync"
	"time"

	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Session errors.
var (
	ErrCanceled     = errors.New("narration canceled")
	ErrSuperseded   = errors.New("narration superseded by a newer one")
	ErrStartTimeout = errors.New("engine failed to start speaking")
	ErrNoText       = errors.New("no narration text")
)

// errStartMissed is internal to the start-check retry loop.
var errStartMissed = errors.New("start signal missed")

// Options configures a Session.
type Options struct {
	VoiceName  string  // explicit voice; wins over Lang matching
	Lang       string  // language prefix for voice selection, e.g. "en"
	Rate       float64 // speech rate multiplier
	ChunkChars int     // max characters per utterance; <=0 selects the default

	// SettleDelay is slept before the first chunk. Some engines clip or
	// drop an utterance submitted immediately after cancel.
	SettleDelay time.Duration
	// StartCheck is how long to wait for the engine's start callback on
	// chunk 0 before canceling and resubmitting once.
	StartCheck time.Duration
	// TolerateEndAfterCancel downgrades the log level for end callbacks
	// arriving for utterances the session no longer tracks. Some engines
	// deliver OnEnd for canceled utterances.
	TolerateEndAfterCancel bool
}

const (
	defaultSettleDelay = 250 * time.Millisecond
	defaultStartCheck  = time.Second
)

// attempt is one Speak call. Cancel and supersede settle it exactly once.
type attempt struct {
	mu   sync.Mutex
	err  error
	done chan struct{}
}

func (a *attempt) settle(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return
	}
	a.err = err
	close(a.done)
}

func (a *attempt) settledErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Session narrates one text at a time through an Engine as an ordered chunk
// sequence. A second Speak while one is in flight supersedes the first.
type Session struct {
	engine Engine
	opts   Options

	mu          sync.Mutex
	cur         *attempt
	pending     map[string]bool // utterance ids with live callbacks
	lastChunkAt time.Time
	onChunk     func(i, total int)
	voiceName   string
	voicePicked bool
}

// NewSession creates a session over the given engine.
func NewSession(engine Engine, opts Options) *Session {
	if opts.SettleDelay == 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.StartCheck == 0 {
		opts.StartCheck = defaultStartCheck
	}
	return &Session{
		engine:  engine,
		opts:    opts,
		pending: make(map[string]bool),
	}
}

// OnChunk registers an observer called at each chunk start with the chunk
// index and total count. Used by the liveness monitor.
func (s *Session) OnChunk(fn func(i, total int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChunk = fn
}

// LastChunkAt returns the start time of the most recent chunk, or the zero
// time when nothing has started yet.
func (s *Session) LastChunkAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChunkAt
}

// InFlight reports whether a Speak is currently active.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// Cancel aborts the in-flight Speak, which returns ErrCanceled. Cancel when
// idle is a no-op.
func (s *Session) Cancel() {
	s.mu.Lock()
	a := s.cur
	s.pending = make(map[string]bool)
	s.mu.Unlock()

	if a != nil {
		a.settle(ErrCanceled)
	}
	s.engine.Cancel()
}

// Speak narrates text, blocking until all chunks finished, the session was
// canceled or superseded, or the engine failed. Cancellation surfaces as
// ErrCanceled, supersession as ErrSuperseded; both are quiet outcomes, not
// failures.
func (s *Session) Speak(ctx context.Context, text string) error {
	chunks := ChunkText(text, s.opts.ChunkChars)
	if len(chunks) == 0 {
		return ErrNoText
	}

	s.mu.Lock()
	if prev := s.cur; prev != nil {
		prev.settle(ErrSuperseded)
	}
	a := &attempt{done: make(chan struct{})}
	s.cur = a
	s.pending = make(map[string]bool)
	voice := s.voiceLocked()
	s.mu.Unlock()

	defer s.release(a)

	// Settle the engine before the first utterance.
	s.engine.Cancel()
	if err := s.sleep(ctx, a, s.opts.SettleDelay); err != nil {
		return err
	}

	for i, chunk := range chunks {
		if err := s.speakChunk(ctx, a, voice, chunk, i, len(chunks)); err != nil {
			return err
		}
	}
	return nil
}

// speakChunk submits one chunk and waits for its terminal callback. Chunk 0
// gets the start check: a missed start cancels and resubmits once.
func (s *Session) speakChunk(ctx context.Context, a *attempt, voice, text string, i, total int) error {
	tries := 1
	if i == 0 {
		tries = 2
	}

	for try := 0; try < tries; try++ {
		err := s.runChunk(ctx, a, voice, text, i, total, i == 0)
		if !errors.Is(err, errStartMissed) {
			return err
		}
		zlog.Warn().Msgf("speech: no start signal within %v, canceling and resubmitting", s.opts.StartCheck)
		s.engine.Cancel()
	}
	return ErrStartTimeout
}

// runChunk submits one utterance and waits for it to end, error out, be
// canceled/superseded, or (when checkStart) miss its start window.
func (s *Session) runChunk(ctx context.Context, a *attempt, voice, text string, i, total int, checkStart bool) error {
	id := uuid.New().String()
	started := make(chan struct{}, 1)
	terminal := make(chan error, 1)

	u := Utterance{
		ID:        id,
		Text:      text,
		VoiceName: voice,
		Rate:      s.opts.Rate,
		OnStart: func() {
			if !s.tracks(id) {
				return
			}
			s.noteChunkStart(i, total)
			select {
			case started <- struct{}{}:
			default:
			}
		},
		OnEnd: func() {
			if !s.untrack(id) {
				s.logStale("end", id)
				return
			}
			terminal <- nil
		},
		OnError: func(code string) {
			if !s.untrack(id) {
				s.logStale("error", id)
				return
			}
			if IsCancelCode(code) {
				terminal <- ErrCanceled
				return
			}
			terminal <- &EngineError{Code: code}
		},
	}

	s.track(id)
	if err := s.engine.Speak(u); err != nil {
		s.untrack(id)
		return errors.Wrap(err, "engine speak")
	}

	if checkStart {
		timer := time.NewTimer(s.opts.StartCheck)
		select {
		case <-started:
			timer.Stop()
		case err := <-terminal:
			timer.Stop()
			return err
		case <-timer.C:
			s.untrack(id)
			return errStartMissed
		case <-a.done:
			timer.Stop()
			s.untrack(id)
			return a.settledErr()
		case <-ctx.Done():
			timer.Stop()
			s.untrack(id)
			s.engine.Cancel()
			return ErrCanceled
		}
	}

	select {
	case err := <-terminal:
		return err
	case <-a.done:
		s.untrack(id)
		return a.settledErr()
	case <-ctx.Done():
		s.untrack(id)
		s.engine.Cancel()
		return ErrCanceled
	}
}

// sleep waits for d unless the attempt settles or the context ends first.
func (s *Session) sleep(ctx context.Context, a *attempt, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-a.done:
		return a.settledErr()
	case <-ctx.Done():
		return ErrCanceled
	}
}

// release clears the current attempt if it is still ours.
func (s *Session) release(a *attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == a {
		s.cur = nil
	}
}

func (s *Session) noteChunkStart(i, total int) {
	s.mu.Lock()
	s.lastChunkAt = time.Now()
	fn := s.onChunk
	s.mu.Unlock()
	if fn != nil {
		fn(i, total)
	}
}

func (s *Session) track(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = true
}

// untrack removes id and reports whether it was still tracked. Callbacks
// for untracked ids belong to a canceled or superseded narration.
func (s *Session) untrack(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending[id] {
		return false
	}
	delete(s.pending, id)
	return true
}

func (s *Session) tracks(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[id]
}

func (s *Session) logStale(kind, id string) {
	if s.opts.TolerateEndAfterCancel {
		zlog.Debug().Msgf("speech: dropping stale %s callback: utterance=%s", kind, id)
		return
	}
	zlog.Warn().Msgf("speech: dropping stale %s callback: utterance=%s", kind, id)
}

// voiceLocked resolves the voice name once: explicit name, then the first
// voice matching the language prefix, then the engine default, then the
// first voice, then none (the engine picks).
func (s *Session) voiceLocked() string {
	if s.opts.VoiceName != "" {
		return s.opts.VoiceName
	}
	if s.voicePicked {
		return s.voiceName
	}

	voices, err := s.engine.Voices()
	if err != nil || len(voices) == 0 {
		// Voice lists often arrive late on real engines; retry next Speak.
		return ""
	}

	picked := ""
	if s.opts.Lang != "" {
		for _, v := range voices {
			if strings.HasPrefix(v.Lang, s.opts.Lang) {
				picked = v.Name
				break
			}
		}
	}
	if picked == "" {
		for _, v := range voices {
			if v.Default {
				picked = v.Name
				break
			}
		}
	}
	if picked == "" {
		picked = voices[0].Name
	}

	s.voiceName = picked
	s.voicePicked = true
	zlog.Debug().Msgf("speech: selected voice: %s", picked)
	return picked
}
