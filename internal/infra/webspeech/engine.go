// Package webspeech drives a browser companion page over WebSocket. The
// page owns the actual speech synthesis; this side sends speak/cancel
// commands and receives per-utterance lifecycle events. It implements both
// the speech engine contract and the audio keepalive.
package webspeech

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/yamatt/walking-tour/internal/speech"
)

// ErrNoClient indicates no companion page is currently attached.
var ErrNoClient = errors.New("no speech client connected")

const (
	outboundQueueSize = 64
	writeTimeout      = 10 * time.Second
	readLimit         = 1 << 20
)

// Command is one outbound message to the companion page.
type Command struct {
	Cmd   string  `json:"cmd"`
	ID    string  `json:"id,omitempty"`
	Text  string  `json:"text,omitempty"`
	Voice string  `json:"voice,omitempty"`
	Rate  float64 `json:"rate,omitempty"`

	// keepalive
	On   *bool  `json:"on,omitempty"`
	Clip string `json:"clip,omitempty"`

	// media-session metadata
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
}

// clientEvent is one inbound message from the companion page.
type clientEvent struct {
	Event    string `json:"event"`
	ID       string `json:"id,omitempty"`
	Code     string `json:"code,omitempty"`
	Hidden   bool   `json:"hidden,omitempty"`
	Action   string `json:"action,omitempty"`
	Speaking bool   `json:"speaking,omitempty"`
	Paused   bool   `json:"paused,omitempty"`
	Voices   []struct {
		Name    string `json:"name"`
		Lang    string `json:"lang"`
		Default bool   `json:"default"`
	} `json:"voices,omitempty"`
}

// client owns one WebSocket connection. A dedicated writer goroutine is
// the only writer on the conn.
type client struct {
	conn     *websocket.Conn
	outbound chan Command
	done     chan struct{}
	closeOne sync.Once
}

func (c *client) close() {
	c.closeOne.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// send enqueues a command, dropping it if the outbound queue is saturated
// or the client is gone.
func (c *client) send(cmd Command) error {
	select {
	case <-c.done:
		return ErrNoClient
	case c.outbound <- cmd:
		return nil
	default:
		return errors.Newf("speech client outbound queue full, dropped %s", cmd.Cmd)
	}
}

// Engine relays narration to the attached companion page. One client at a
// time: a newly attached page replaces (and closes) the previous one.
type Engine struct {
	mu     sync.Mutex
	client *client

	// Callback registry keyed by utterance id. Events for unknown ids are
	// dropped; the session layer owns the end-after-cancel quirk.
	pending map[string]speech.Utterance

	voices []speech.Voice

	// Synthesis status as last reported by the page. The page pushes a
	// status event on every synthesis state change, on visibility changes
	// and in answer to a status command; utterance lifecycle events keep
	// it roughly current in between. Unknown until the first report.
	statusKnown bool
	speaking    bool
	paused      bool

	onVisibility func(hidden bool)
	onAction     func(action string)

	// Keepalive survives reconnects: resent to every new client.
	keepaliveOn   bool
	keepaliveClip string
}

// NewEngine creates an Engine with no client attached.
func NewEngine() *Engine {
	return &Engine{
		pending: make(map[string]speech.Utterance),
	}
}

// OnVisibility registers the handler for page visibility changes.
func (e *Engine) OnVisibility(fn func(hidden bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onVisibility = fn
}

// OnAction registers the handler for media-session transport actions.
func (e *Engine) OnAction(fn func(action string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onAction = fn
}

// Connected reports whether a companion page is attached.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client != nil
}

// Voices returns the voice list reported by the current client. Before the
// first voices event it synthesizes a single engine-default entry so voice
// selection can proceed.
func (e *Engine) Voices() ([]speech.Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.voices) == 0 {
		return []speech.Voice{{Name: "", Lang: "", Default: true}}, nil
	}
	out := make([]speech.Voice, len(e.voices))
	copy(out, e.voices)
	return out, nil
}

// Speak sends the utterance to the client. Its callbacks fire from the
// read loop when the matching start/end/error events arrive.
func (e *Engine) Speak(u speech.Utterance) error {
	e.mu.Lock()
	c := e.client
	if c == nil {
		e.mu.Unlock()
		return ErrNoClient
	}
	e.pending[u.ID] = u
	e.mu.Unlock()

	err := c.send(Command{Cmd: "speak", ID: u.ID, Text: u.Text, Voice: u.VoiceName, Rate: u.Rate})
	if err != nil {
		e.mu.Lock()
		delete(e.pending, u.ID)
		e.mu.Unlock()
		return err
	}
	return nil
}

// Speaking reports the engine's own view of synthesis. While an utterance
// is pending but the page has not reported yet, it errs on the side of
// speaking so the liveness monitor relies on its timeout instead.
func (e *Engine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return false
	}
	if !e.statusKnown {
		return len(e.pending) > 0
	}
	return e.speaking
}

// Paused reports whether the page's synthesis sits paused. Browsers park
// speech in this state after an OS audio interruption and never finish the
// utterance until resumed.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusKnown && e.paused
}

// Resume asks the page to resume a paused synthesis.
func (e *Engine) Resume() {
	e.mu.Lock()
	c := e.client
	e.mu.Unlock()
	if c == nil {
		return
	}
	if err := c.send(Command{Cmd: "resume"}); err != nil {
		zlog.Debug().Msgf("webspeech: resume not delivered: %v", err)
	}
}

// Cancel drops all pending utterances and tells the client to stop
// speaking. Callbacks for dropped utterances never fire.
func (e *Engine) Cancel() {
	e.mu.Lock()
	c := e.client
	e.pending = make(map[string]speech.Utterance)
	e.speaking = false
	e.mu.Unlock()

	if c != nil {
		if err := c.send(Command{Cmd: "cancel"}); err != nil {
			zlog.Debug().Msgf("webspeech: cancel not delivered: %v", err)
		}
	}
}

// Start turns the silent keepalive loop on. Idempotent; the clip is resent
// to any client that attaches later.
func (e *Engine) Start() error {
	e.mu.Lock()
	e.keepaliveOn = true
	clip := e.keepaliveClip
	c := e.client
	e.mu.Unlock()

	if c == nil {
		return nil
	}
	on := true
	return c.send(Command{Cmd: "keepalive", On: &on, Clip: clip})
}

// Stop turns the silent keepalive loop off.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.keepaliveOn = false
	c := e.client
	e.mu.Unlock()

	if c == nil {
		return
	}
	on := false
	if err := c.send(Command{Cmd: "keepalive", On: &on}); err != nil {
		zlog.Debug().Msgf("webspeech: keepalive stop not delivered: %v", err)
	}
}

// SetKeepaliveClip sets the silent clip sent with keepalive commands.
func (e *Engine) SetKeepaliveClip(dataURL string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keepaliveClip = dataURL
}

// SetMedia pushes media-session metadata so the phone's lock screen shows
// the current stop.
func (e *Engine) SetMedia(title, artist string) {
	e.mu.Lock()
	c := e.client
	e.mu.Unlock()
	if c == nil {
		return
	}
	if err := c.send(Command{Cmd: "media", Title: title, Artist: artist}); err != nil {
		zlog.Debug().Msgf("webspeech: media metadata not delivered: %v", err)
	}
}

// Attach takes ownership of an upgraded connection and blocks until it
// closes. The newest client wins: any previously attached client is
// closed and its pending utterances are failed with an interruption code
// so the session can retry on the new client.
func (e *Engine) Attach(conn *websocket.Conn) {
	c := &client{
		conn:     conn,
		outbound: make(chan Command, outboundQueueSize),
		done:     make(chan struct{}),
	}

	e.mu.Lock()
	prev := e.client
	e.client = c
	orphaned := e.pending
	e.pending = make(map[string]speech.Utterance)
	e.statusKnown = false
	e.speaking = false
	e.paused = false
	keepaliveOn := e.keepaliveOn
	clip := e.keepaliveClip
	e.mu.Unlock()

	if prev != nil {
		zlog.Info().Msg("webspeech: new client attached, closing previous")
		prev.close()
	}
	for _, u := range orphaned {
		if u.OnError != nil {
			u.OnError(speech.CodeInterrupted)
		}
	}

	go c.writeLoop()

	// Ask the new page for its voice list and synthesis status, and
	// restore keepalive state.
	_ = c.send(Command{Cmd: "voices"})
	_ = c.send(Command{Cmd: "status"})
	if keepaliveOn {
		on := true
		_ = c.send(Command{Cmd: "keepalive", On: &on, Clip: clip})
	}

	e.readLoop(c)

	c.close()
	e.mu.Lock()
	if e.client == c {
		e.client = nil
	}
	failed := make([]speech.Utterance, 0, len(e.pending))
	for _, u := range e.pending {
		failed = append(failed, u)
	}
	e.pending = make(map[string]speech.Utterance)
	e.mu.Unlock()

	// The page disappeared mid-utterance; report as network failures.
	for _, u := range failed {
		if u.OnError != nil {
			u.OnError(speech.CodeNetwork)
		}
	}
	zlog.Info().Msg("webspeech: client detached")
}

// writeLoop is the single writer on the connection.
func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case cmd := <-c.outbound:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(cmd); err != nil {
				zlog.Warn().Msgf("webspeech: write failed: %v", err)
				c.close()
				return
			}
		}
	}
}

// readLoop dispatches inbound events until the connection drops.
func (e *Engine) readLoop(c *client) {
	c.conn.SetReadLimit(readLimit)
	for {
		var evt clientEvent
		if err := c.conn.ReadJSON(&evt); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zlog.Warn().Msgf("webspeech: read failed: %v", err)
			}
			return
		}
		e.dispatch(evt)
	}
}

func (e *Engine) dispatch(evt clientEvent) {
	switch evt.Event {
	case "start", "end", "error":
		e.dispatchUtterance(evt)

	case "voices":
		voices := make([]speech.Voice, 0, len(evt.Voices))
		for _, v := range evt.Voices {
			voices = append(voices, speech.Voice{Name: v.Name, Lang: v.Lang, Default: v.Default})
		}
		e.mu.Lock()
		e.voices = voices
		e.mu.Unlock()
		zlog.Info().Msgf("webspeech: client reported %d voices", len(voices))

	case "status":
		e.mu.Lock()
		e.statusKnown = true
		e.speaking = evt.Speaking
		e.paused = evt.Paused
		e.mu.Unlock()
		zlog.Debug().Msgf("webspeech: status: speaking=%v paused=%v", evt.Speaking, evt.Paused)

	case "visibility":
		e.mu.Lock()
		fn := e.onVisibility
		e.mu.Unlock()
		zlog.Debug().Msgf("webspeech: visibility changed: hidden=%v", evt.Hidden)
		if fn != nil {
			fn(evt.Hidden)
		}

	case "action":
		e.mu.Lock()
		fn := e.onAction
		e.mu.Unlock()
		zlog.Debug().Msgf("webspeech: media action: %s", evt.Action)
		if fn != nil {
			fn(evt.Action)
		}

	default:
		zlog.Debug().Msgf("webspeech: unknown event: %s", evt.Event)
	}
}

func (e *Engine) dispatchUtterance(evt clientEvent) {
	e.mu.Lock()
	u, ok := e.pending[evt.ID]
	if ok && evt.Event != "start" {
		// Utterance settled; start keeps it registered for its end.
		delete(e.pending, evt.ID)
	}
	// Lifecycle events keep the status current between explicit reports.
	if ok {
		e.statusKnown = true
		e.speaking = evt.Event == "start" || len(e.pending) > 0
	}
	e.mu.Unlock()

	if !ok {
		zlog.Debug().Msgf("webspeech: event for unknown utterance: event=%s id=%s", evt.Event, evt.ID)
		return
	}

	switch evt.Event {
	case "start":
		if u.OnStart != nil {
			u.OnStart()
		}
	case "end":
		if u.OnEnd != nil {
			u.OnEnd()
		}
	case "error":
		code := evt.Code
		if code == "" {
			code = speech.CodeSynthesisFailed
		}
		if u.OnError != nil {
			u.OnError(code)
		}
	}
}
