// Package speech provides the narration pipeline: the speech engine
// contract, text chunking, the narration session and the liveness monitor.
package speech

import "fmt"

// Voice describes one voice offered by a speech engine.
type Voice struct {
	Name    string
	Lang    string // BCP-47 language tag, e.g. "en-GB"
	Default bool
}

// Utterance is one unit of text handed to an engine. The callbacks are
// optional; an engine must invoke at most one of OnEnd/OnError, after
// OnStart. OnStart may be skipped when the engine errors before starting.
type Utterance struct {
	ID        string
	Text      string
	VoiceName string
	Rate      float64

	OnStart func()
	OnEnd   func()
	OnError func(code string)
}

// Engine is the contract a speech synthesis backend implements. Speak
// enqueues an utterance and must not block on playback. Cancel drops the
// queued and current utterances; callbacks for them must not fire afterwards
// (engines with the end-after-cancel quirk still deliver a late OnEnd, which
// the session tolerates).
//
// Speaking and Paused expose the engine's own view of synthesis so the
// liveness monitor can cross-check the session: a session awaiting a
// callback while the engine reports idle is a dead narration. Remote
// engines report the last known status and err on the side of Speaking
// while an utterance is pending but unconfirmed. Resume unsticks an engine
// stuck in a paused state, a known browser quirk after OS audio
// interruptions; engines without the quirk treat it as a no-op.
type Engine interface {
	Voices() ([]Voice, error)
	Speak(u Utterance) error
	Cancel()
	Speaking() bool
	Paused() bool
	Resume()
}

// Engine error codes carried by Utterance.OnError.
const (
	CodeCanceled        = "canceled"
	CodeInterrupted     = "interrupted"
	CodeSynthesisFailed = "synthesis-failed"
	CodeAudioBusy       = "audio-busy"
	CodeNetwork         = "network"
)

// IsCancelCode reports whether code belongs to the cancellation family,
// which is never an error from the caller's point of view.
func IsCancelCode(code string) bool {
	return code == CodeCanceled || code == CodeInterrupted
}

// EngineError wraps a non-cancellation engine error code.
type EngineError struct {
	Code string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("speech engine error: %s", e.Code)
}
