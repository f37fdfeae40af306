package speech

import (
	"sync"
	"time"
)

// MockEngine is a scriptable Engine for tests and headless runs. Timing and
// failure behavior are configured per instance; utterances play out on
// background goroutines the way a real engine's callbacks would.
type MockEngine struct {
	VoiceList      []Voice
	StartDelay     time.Duration // delay before OnStart fires
	SpeakDuration  time.Duration // delay between OnStart and OnEnd
	FailCode       string        // when set, OnError(FailCode) replaces OnEnd
	SuppressStart  bool          // never deliver OnStart (start-check testing)
	Hang           bool          // deliver OnStart but never a terminal callback
	EndAfterCancel bool          // quirk: deliver OnEnd even for canceled utterances
	VoicesErr      error         // returned by Voices when set
	ReportIdle     bool          // Speaking reports false even mid-utterance
	StartPaused    bool          // Paused reports true until Resume is called

	mu       sync.Mutex
	gen      int
	spoken   []Utterance
	canceled int
	active   bool
	resumed  int
}

// Voices returns the scripted voice list.
func (e *MockEngine) Voices() ([]Voice, error) {
	if e.VoicesErr != nil {
		return nil, e.VoicesErr
	}
	return e.VoiceList, nil
}

// Speak plays the utterance out asynchronously.
func (e *MockEngine) Speak(u Utterance) error {
	e.mu.Lock()
	e.spoken = append(e.spoken, u)
	e.active = true
	gen := e.gen
	e.mu.Unlock()

	settle := func() {
		e.mu.Lock()
		e.active = false
		e.mu.Unlock()
	}

	go func() {
		time.Sleep(e.StartDelay)
		if e.stale(gen) {
			return
		}
		if !e.SuppressStart && u.OnStart != nil {
			u.OnStart()
		}
		if e.Hang {
			return
		}
		time.Sleep(e.SpeakDuration)
		if e.stale(gen) && !e.EndAfterCancel {
			return
		}
		settle()
		if e.FailCode != "" {
			if u.OnError != nil {
				u.OnError(e.FailCode)
			}
			return
		}
		if u.OnEnd != nil {
			u.OnEnd()
		}
	}()
	return nil
}

// Cancel drops all in-flight scripted utterances.
func (e *MockEngine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	e.canceled++
	e.active = false
}

// Speaking reports whether a scripted utterance is playing out. ReportIdle
// overrides it to false, simulating an engine that died mid-utterance.
func (e *MockEngine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active && !e.ReportIdle
}

// Paused reports the scripted paused state; Resume clears it.
func (e *MockEngine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.StartPaused && e.resumed == 0
}

// Resume clears a scripted paused state.
func (e *MockEngine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumed++
}

// ResumeCount returns how many times Resume was called.
func (e *MockEngine) ResumeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resumed
}

// Spoken returns the utterances submitted so far.
func (e *MockEngine) Spoken() []Utterance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Utterance, len(e.spoken))
	copy(out, e.spoken)
	return out
}

// CancelCount returns how many times Cancel was called.
func (e *MockEngine) CancelCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canceled
}

func (e *MockEngine) stale(gen int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen != e.gen
}
