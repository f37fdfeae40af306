package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamatt/walking-tour/internal/domain/tour"
	"github.com/yamatt/walking-tour/internal/speech"
)

// fakeFetcher serves scripted narration text per track id.
type fakeFetcher struct {
	mu    sync.Mutex
	texts map[string]string
	errs  map[string]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{texts: make(map[string]string), errs: make(map[string]error)}
}

func (f *fakeFetcher) FetchText(ctx context.Context, t tour.Track) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[t.ID]; err != nil {
		return "", err
	}
	return f.texts[t.ID], nil
}

// fakeNarrator blocks each Speak until the test releases it, unless auto is
// set, in which case narration completes instantly.
type fakeNarrator struct {
	mu     sync.Mutex
	auto   bool
	spoken []string
	cur    chan error
	last   time.Time
}

func (n *fakeNarrator) Speak(ctx context.Context, text string) error {
	n.mu.Lock()
	n.spoken = append(n.spoken, text)
	n.last = time.Now()
	if n.auto {
		n.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	n.cur = ch
	n.mu.Unlock()

	err := <-ch

	n.mu.Lock()
	if n.cur == ch {
		n.cur = nil
	}
	n.mu.Unlock()
	return err
}

func (n *fakeNarrator) Cancel() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cur != nil {
		select {
		case n.cur <- speech.ErrCanceled:
		default:
		}
		n.cur = nil
	}
}

func (n *fakeNarrator) LastChunkAt() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

func (n *fakeNarrator) InFlight() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cur != nil
}

// finish completes the in-flight narration with err.
func (n *fakeNarrator) finish(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cur != nil {
		select {
		case n.cur <- err:
		default:
		}
		n.cur = nil
	}
}

func (n *fakeNarrator) spokenTexts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.spoken))
	copy(out, n.spoken)
	return out
}

// fakeWatcher hands out a fresh stuck channel per watch and exposes the
// latest one for the test to fire.
type fakeWatcher struct {
	mu   sync.Mutex
	last chan struct{}
}

func (w *fakeWatcher) Watch(ctx context.Context, text string, n Narrator) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = make(chan struct{})
	return w.last
}

func (w *fakeWatcher) fire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last != nil {
		close(w.last)
		w.last = nil
	}
}

// countingKeepalive records start/stop calls.
type countingKeepalive struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (k *countingKeepalive) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.starts++
	return nil
}

func (k *countingKeepalive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stops++
}

func threeTracks() tour.Queue {
	return tour.NewQueue([]tour.Track{
		{ID: "a", Title: "Alpha"},
		{ID: "b", Title: "Beta"},
		{ID: "c", Title: "Gamma"},
	})
}

func testOptions() Options {
	return Options{
		InterTrackPause:   10 * time.Millisecond,
		CompletionMessage: "Completed tour of all places.",
		EventBuffer:       64,
	}
}

// nextEvent drains events until one of the wanted type arrives.
func nextEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			require.True(t, ok, "event channel closed while waiting for %s", want)
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

// noEvent asserts nothing arrives within the window.
func noEvent(t *testing.T, ch <-chan Event, window time.Duration) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %s in state %s", e.Type, e.State)
	case <-time.After(window):
	}
}

func TestPlayer_HappyPath(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.texts["a"] = "Hello world."
	fetcher.texts["b"] = "Second stop."
	fetcher.texts["c"] = "Final stop."
	narrator := &fakeNarrator{auto: true}
	ka := &countingKeepalive{}

	p := New(fetcher, narrator, &fakeWatcher{}, ka, testOptions())
	defer p.Close()

	p.LoadQueue(threeTracks())
	require.NoError(t, p.Play())

	for i, wantID := range []string{"a", "b", "c"} {
		e := nextEvent(t, p.Events(), EventTrackChanged)
		require.NotNil(t, e.Track)
		assert.Equal(t, wantID, e.Track.ID)
		assert.Equal(t, i, e.Index)
		assert.Equal(t, 3, e.QueueLength)
	}

	done := nextEvent(t, p.Events(), EventTourCompleted)
	assert.Equal(t, "Completed tour of all places.", done.Message)
	assert.Equal(t, StateIdle, done.State)

	// Title rides ahead of the body; the completion message is narrated too.
	assert.Eventually(t, func() bool {
		spoken := narrator.spokenTexts()
		return len(spoken) == 4 &&
			spoken[0] == "Alpha. Hello world." &&
			spoken[3] == "Completed tour of all places."
	}, time.Second, 5*time.Millisecond)
}

func TestPlayer_ContentErrorAdvances(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.texts["a"] = "Text a."
	fetcher.errs["b"] = errors.New("wiki unreachable")
	fetcher.texts["c"] = "Text c."
	narrator := &fakeNarrator{auto: true}

	p := New(fetcher, narrator, &fakeWatcher{}, nil, testOptions())
	defer p.Close()

	p.LoadQueue(threeTracks())
	require.NoError(t, p.Play())

	errEvent := nextEvent(t, p.Events(), EventTrackError)
	require.NotNil(t, errEvent.Track)
	assert.Equal(t, "b", errEvent.Track.ID)
	assert.ErrorContains(t, errEvent.Err, "wiki unreachable")

	// The failed track advances exactly like a finished one.
	e := nextEvent(t, p.Events(), EventTrackChanged)
	for e.Track.ID != "c" {
		e = nextEvent(t, p.Events(), EventTrackChanged)
	}
	nextEvent(t, p.Events(), EventTourCompleted)
}

func TestPlayer_SingleTrackContentErrorCompletesTour(t *testing.T) {
	fetcher := newFakeFetcher() // empty text counts as a content error
	narrator := &fakeNarrator{auto: true}

	p := New(fetcher, narrator, &fakeWatcher{}, nil, testOptions())
	defer p.Close()

	p.LoadQueue(tour.NewQueue([]tour.Track{{ID: "solo", Title: "Solo"}}))
	require.NoError(t, p.Play())

	errEvent := nextEvent(t, p.Events(), EventTrackError)
	assert.ErrorIs(t, errEvent.Err, ErrNoText)

	done := nextEvent(t, p.Events(), EventTourCompleted)
	assert.Equal(t, "Completed tour of all places.", done.Message)
}

func TestPlayer_PlayTrackOutOfRange(t *testing.T) {
	fetcher := newFakeFetcher()
	narrator := &fakeNarrator{auto: true}

	p := New(fetcher, narrator, &fakeWatcher{}, nil, testOptions())
	defer p.Close()

	p.LoadQueue(threeTracks())
	nextEvent(t, p.Events(), EventQueueLoaded)

	require.NoError(t, p.PlayTrack(5))
	require.NoError(t, p.PlayTrack(-1))

	noEvent(t, p.Events(), 50*time.Millisecond)
	index, trk, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, 0, index)
	assert.Equal(t, "a", trk.ID)
	assert.Equal(t, StateIdle, p.State())
}

func TestPlayer_EmptyQueue(t *testing.T) {
	p := New(newFakeFetcher(), &fakeNarrator{auto: true}, &fakeWatcher{}, nil, testOptions())
	defer p.Close()

	assert.ErrorIs(t, p.Play(), ErrEmptyQueue)
	assert.ErrorIs(t, p.PlayTrack(0), ErrEmptyQueue)
}

func TestPlayer_SkipWhileSpeaking(t *testing.T) {
	fetcher := newFakeFetcher()
	for id, text := range map[string]string{"a": "ta.", "b": "tb.", "c": "tc."} {
		fetcher.texts[id] = text
	}
	narrator := &fakeNarrator{}

	p := New(fetcher, narrator, &fakeWatcher{}, nil, testOptions())
	defer p.Close()

	p.LoadQueue(threeTracks())
	require.NoError(t, p.Play())
	require.Eventually(t, narrator.InFlight, time.Second, time.Millisecond, "track 0 narration should start")

	// Jump to track 2 mid-narration.
	require.NoError(t, p.PlayTrack(2))
	e := nextEvent(t, p.Events(), EventTrackChanged)
	for e.Track.ID != "c" {
		e = nextEvent(t, p.Events(), EventTrackChanged)
	}
	assert.Equal(t, 2, e.Index)

	require.Eventually(t, narrator.InFlight, time.Second, time.Millisecond, "track 2 narration should start")
	narrator.finish(nil)

	done := nextEvent(t, p.Events(), EventTourCompleted)
	assert.Equal(t, StateIdle, done.State)
}

func TestPlayer_StopSuppressesAdvance(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.texts["a"] = "ta."
	fetcher.texts["b"] = "tb."
	fetcher.texts["c"] = "tc."
	narrator := &fakeNarrator{}
	ka := &countingKeepalive{}

	p := New(fetcher, narrator, &fakeWatcher{}, ka, testOptions())
	defer p.Close()

	p.LoadQueue(threeTracks())
	require.NoError(t, p.Play())
	require.Eventually(t, narrator.InFlight, time.Second, time.Millisecond)

	p.Stop()
	assert.Equal(t, StateStopped, p.State())
	assert.False(t, p.IsPlaying())

	// A late completion callback for the canceled narration must be a no-op.
	narrator.finish(nil)
	for {
		select {
		case e := <-p.Events():
			require.NotEqual(t, EventTrackError, e.Type)
			require.NotEqual(t, EventTrackChanged, e.Type, "stop must suppress auto-advance")
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}
	assert.Equal(t, StateStopped, p.State())

	// An explicit play defeats the manual stop.
	require.NoError(t, p.Play())
	require.Eventually(t, narrator.InFlight, time.Second, time.Millisecond)
}

func TestPlayer_LivenessRecoveryCompletesOnce(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.texts["solo"] = "Some long narration."
	narrator := &fakeNarrator{}
	watcher := &fakeWatcher{}

	opts := testOptions()
	opts.CompletionMessage = "" // keep the narrator idle after completion
	p := New(fetcher, narrator, watcher, nil, opts)
	defer p.Close()

	p.LoadQueue(tour.NewQueue([]tour.Track{{ID: "solo", Title: "Solo"}}))
	require.NoError(t, p.Play())
	require.Eventually(t, narrator.InFlight, time.Second, time.Millisecond)

	// The engine hangs; the monitor declares the narration finished.
	watcher.fire()

	done := nextEvent(t, p.Events(), EventTourCompleted)
	assert.Equal(t, StateIdle, done.State)

	// A stale natural end arriving afterwards must not complete again.
	narrator.finish(nil)
	noEvent(t, p.Events(), 100*time.Millisecond)
}

func TestPlayer_UpdateQueueFollowsCurrentTrack(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.texts["a"] = "ta."
	fetcher.texts["b"] = "tb."
	fetcher.texts["c"] = "tc."
	narrator := &fakeNarrator{}

	p := New(fetcher, narrator, &fakeWatcher{}, nil, testOptions())
	defer p.Close()

	p.LoadQueue(threeTracks())
	require.NoError(t, p.PlayTrack(1)) // narrating "b"
	require.Eventually(t, narrator.InFlight, time.Second, time.Millisecond)

	// Reorder: "b" moves to the end.
	p.UpdateQueue(tour.NewQueue([]tour.Track{
		{ID: "c", Title: "Gamma"},
		{ID: "a", Title: "Alpha"},
		{ID: "b", Title: "Beta"},
	}))
	index, trk, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, 2, index)
	assert.Equal(t, "b", trk.ID)

	// Current track gone: the cursor clamps.
	p.UpdateQueue(tour.NewQueue([]tour.Track{{ID: "x", Title: "X"}}))
	index, trk, ok = p.Current()
	require.True(t, ok)
	assert.Equal(t, 0, index)
	assert.Equal(t, "x", trk.ID)

	// Empty queue clamps to zero.
	p.UpdateQueue(tour.Queue{})
	index, _, ok = p.Current()
	assert.False(t, ok)
	assert.Equal(t, 0, index)
}

func TestPlayer_LoadQueueDoesNotInterrupt(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.texts["a"] = "ta."
	fetcher.texts["n1"] = "new one."
	fetcher.texts["n2"] = "new two."
	narrator := &fakeNarrator{}

	p := New(fetcher, narrator, &fakeWatcher{}, nil, testOptions())
	defer p.Close()

	p.LoadQueue(tour.NewQueue([]tour.Track{{ID: "a", Title: "Alpha"}, {ID: "b", Title: "Beta"}}))
	require.NoError(t, p.Play())
	require.Eventually(t, narrator.InFlight, time.Second, time.Millisecond)

	// Replace the queue mid-narration; the running track keeps going.
	p.LoadQueue(tour.NewQueue([]tour.Track{{ID: "n1", Title: "New One"}, {ID: "n2", Title: "New Two"}}))
	assert.True(t, narrator.InFlight())

	// On completion the player advances within the new queue.
	narrator.finish(nil)
	e := nextEvent(t, p.Events(), EventTrackChanged)
	for e.Track.ID == "a" {
		e = nextEvent(t, p.Events(), EventTrackChanged)
	}
	assert.Equal(t, "n1", e.Track.ID)
	assert.Equal(t, 0, e.Index)
}

func TestPlayer_QueueShrinksDuringAdvancePause(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.texts["a"] = "ta."
	fetcher.texts["x"] = "tx."
	narrator := &fakeNarrator{}
	opts := testOptions()
	opts.InterTrackPause = 200 * time.Millisecond

	p := New(fetcher, narrator, &fakeWatcher{}, nil, opts)
	defer p.Close()

	p.LoadQueue(threeTracks())
	require.NoError(t, p.Play())
	require.Eventually(t, narrator.InFlight, time.Second, time.Millisecond)
	narrator.finish(nil)

	// Catch the inter-track pause, then shrink the queue under it.
	for e := nextEvent(t, p.Events(), EventStateChanged); e.State != StateAdvancing; {
		e = nextEvent(t, p.Events(), EventStateChanged)
	}
	p.LoadQueue(tour.NewQueue([]tour.Track{{ID: "x", Title: "Xi"}}))

	// The pause elapses against the new queue, not the old index.
	e := nextEvent(t, p.Events(), EventTrackChanged)
	for e.Track.ID == "a" {
		e = nextEvent(t, p.Events(), EventTrackChanged)
	}
	require.NotNil(t, e.Track)
	assert.Equal(t, "x", e.Track.ID)
	assert.Equal(t, 0, e.Index)
	assert.True(t, p.IsPlaying())
}

func TestPlayer_OutOfRangePlayUnwedgesAdvancing(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.texts["a"] = "ta."
	narrator := &fakeNarrator{}
	opts := testOptions()
	opts.InterTrackPause = time.Minute

	p := New(fetcher, narrator, &fakeWatcher{}, nil, opts)
	defer p.Close()

	p.LoadQueue(threeTracks())
	require.NoError(t, p.Play())
	require.Eventually(t, narrator.InFlight, time.Second, time.Millisecond)
	narrator.finish(nil)

	for e := nextEvent(t, p.Events(), EventStateChanged); e.State != StateAdvancing; {
		e = nextEvent(t, p.Events(), EventStateChanged)
	}

	// A play that resolves nowhere must not leave the player advancing
	// forever; it drops back to idle where Play works again.
	require.NoError(t, p.PlayTrack(99))
	assert.Equal(t, StateIdle, p.State())
	assert.False(t, p.IsPlaying())
}

func TestPlayer_TrackChangedCarriesLoadingState(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.texts["a"] = "ta."
	narrator := &fakeNarrator{}

	p := New(fetcher, narrator, &fakeWatcher{}, nil, testOptions())
	defer p.Close()

	p.LoadQueue(threeTracks())
	require.NoError(t, p.Play())

	e := nextEvent(t, p.Events(), EventTrackChanged)
	assert.Equal(t, StateLoading, e.State)
}

func TestPlayer_NextPreviousBounds(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.texts["a"] = "ta."
	narrator := &fakeNarrator{}

	p := New(fetcher, narrator, &fakeWatcher{}, nil, testOptions())
	defer p.Close()

	p.LoadQueue(threeTracks())
	nextEvent(t, p.Events(), EventQueueLoaded)

	// Previous at index 0 is a no-op.
	require.NoError(t, p.Previous())
	noEvent(t, p.Events(), 50*time.Millisecond)

	require.NoError(t, p.Next())
	e := nextEvent(t, p.Events(), EventTrackChanged)
	assert.Equal(t, 1, e.Index)
}

func TestPlayer_KeepaliveLifecycle(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.texts["a"] = "ta."
	narrator := &fakeNarrator{auto: true}
	ka := &countingKeepalive{}

	opts := testOptions()
	opts.CompletionMessage = ""
	p := New(fetcher, narrator, &fakeWatcher{}, ka, opts)
	defer p.Close()

	p.LoadQueue(tour.NewQueue([]tour.Track{{ID: "a", Title: "Alpha"}}))
	require.NoError(t, p.Play())
	nextEvent(t, p.Events(), EventTourCompleted)

	assert.Eventually(t, func() bool {
		ka.mu.Lock()
		defer ka.mu.Unlock()
		return ka.starts >= 1 && ka.stops >= 1
	}, time.Second, 5*time.Millisecond)
}
