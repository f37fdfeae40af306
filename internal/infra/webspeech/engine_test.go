package webspeech

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamatt/walking-tour/internal/speech"
)

// testHarness runs an Engine behind an httptest server and dials it with a
// real websocket client playing the companion page.
type testHarness struct {
	engine *Engine
	conn   *websocket.Conn
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	engine := NewEngine()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		engine.Attach(conn)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &testHarness{engine: engine, conn: conn}
}

// readCommand reads outbound commands until one with the wanted cmd
// arrives, skipping others (the engine sends a voices request on attach).
func (h *testHarness) readCommand(t *testing.T, want string) Command {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, h.conn.SetReadDeadline(deadline))
		var cmd Command
		require.NoError(t, h.conn.ReadJSON(&cmd))
		if cmd.Cmd == want {
			return cmd
		}
	}
}

func (h *testHarness) sendEvent(t *testing.T, evt map[string]any) {
	t.Helper()
	require.NoError(t, h.conn.WriteJSON(evt))
}

func waitConnected(t *testing.T, e *Engine) {
	t.Helper()
	require.Eventually(t, e.Connected, time.Second, 5*time.Millisecond)
}

func TestEngine_SpeakLifecycle(t *testing.T) {
	h := newHarness(t)
	waitConnected(t, h.engine)

	started := make(chan struct{}, 1)
	ended := make(chan struct{}, 1)
	err := h.engine.Speak(speech.Utterance{
		ID:        "u1",
		Text:      "Hello there.",
		VoiceName: "Daniel",
		Rate:      0.9,
		OnStart:   func() { started <- struct{}{} },
		OnEnd:     func() { ended <- struct{}{} },
	})
	require.NoError(t, err)

	cmd := h.readCommand(t, "speak")
	assert.Equal(t, "u1", cmd.ID)
	assert.Equal(t, "Hello there.", cmd.Text)
	assert.Equal(t, "Daniel", cmd.Voice)
	assert.InDelta(t, 0.9, cmd.Rate, 0.0001)

	h.sendEvent(t, map[string]any{"event": "start", "id": "u1"})
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("OnStart not called")
	}

	h.sendEvent(t, map[string]any{"event": "end", "id": "u1"})
	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("OnEnd not called")
	}
}

func TestEngine_ErrorEvent(t *testing.T) {
	h := newHarness(t)
	waitConnected(t, h.engine)

	codes := make(chan string, 1)
	require.NoError(t, h.engine.Speak(speech.Utterance{
		ID:      "u1",
		Text:    "x",
		OnError: func(code string) { codes <- code },
	}))
	h.readCommand(t, "speak")

	h.sendEvent(t, map[string]any{"event": "error", "id": "u1", "code": "audio-busy"})
	select {
	case code := <-codes:
		assert.Equal(t, speech.CodeAudioBusy, code)
	case <-time.After(time.Second):
		t.Fatal("OnError not called")
	}
}

func TestEngine_CancelDropsPendingCallbacks(t *testing.T) {
	h := newHarness(t)
	waitConnected(t, h.engine)

	ended := make(chan struct{}, 1)
	require.NoError(t, h.engine.Speak(speech.Utterance{
		ID:    "u1",
		Text:  "x",
		OnEnd: func() { ended <- struct{}{} },
	}))
	h.readCommand(t, "speak")

	h.engine.Cancel()
	h.readCommand(t, "cancel")

	// A late end for the canceled utterance must not reach the callback.
	h.sendEvent(t, map[string]any{"event": "end", "id": "u1"})
	select {
	case <-ended:
		t.Fatal("OnEnd fired after Cancel")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngine_NoClient(t *testing.T) {
	engine := NewEngine()

	err := engine.Speak(speech.Utterance{ID: "u1", Text: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoClient)

	// Cancel and keepalive are safe with no client.
	engine.Cancel()
	require.NoError(t, engine.Start())
	engine.Stop()
}

func TestEngine_VoicesCachedFromEvent(t *testing.T) {
	h := newHarness(t)
	waitConnected(t, h.engine)

	// Before any voices event, a synthetic default is offered.
	voices, err := h.engine.Voices()
	require.NoError(t, err)
	require.Len(t, voices, 1)
	assert.True(t, voices[0].Default)

	h.sendEvent(t, map[string]any{"event": "voices", "voices": []map[string]any{
		{"name": "Daniel", "lang": "en-GB", "default": true},
		{"name": "Moira", "lang": "en-IE"},
	}})

	require.Eventually(t, func() bool {
		voices, _ = h.engine.Voices()
		return len(voices) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Daniel", voices[0].Name)
	assert.Equal(t, "en-GB", voices[0].Lang)
	assert.True(t, voices[0].Default)
}

func TestEngine_KeepaliveResentOnAttach(t *testing.T) {
	engine := NewEngine()
	engine.SetKeepaliveClip("data:audio/wav;base64,AAAA")
	require.NoError(t, engine.Start())

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		engine.Attach(conn)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	h := &testHarness{engine: engine, conn: conn}
	cmd := h.readCommand(t, "keepalive")
	require.NotNil(t, cmd.On)
	assert.True(t, *cmd.On)
	assert.Equal(t, "data:audio/wav;base64,AAAA", cmd.Clip)
}

func TestEngine_VisibilityAndActionHooks(t *testing.T) {
	h := newHarness(t)
	waitConnected(t, h.engine)

	hiddenCh := make(chan bool, 1)
	actionCh := make(chan string, 1)
	h.engine.OnVisibility(func(hidden bool) { hiddenCh <- hidden })
	h.engine.OnAction(func(action string) { actionCh <- action })

	h.sendEvent(t, map[string]any{"event": "visibility", "hidden": true})
	select {
	case hidden := <-hiddenCh:
		assert.True(t, hidden)
	case <-time.After(time.Second):
		t.Fatal("visibility hook not called")
	}

	h.sendEvent(t, map[string]any{"event": "action", "action": "next"})
	select {
	case action := <-actionCh:
		assert.Equal(t, "next", action)
	case <-time.After(time.Second):
		t.Fatal("action hook not called")
	}
}

func TestEngine_StatusReported(t *testing.T) {
	h := newHarness(t)
	waitConnected(t, h.engine)

	// A status request goes out on attach; until the page answers, the
	// engine errs on the side of speaking only while something is pending.
	h.readCommand(t, "status")
	assert.False(t, h.engine.Speaking())
	assert.False(t, h.engine.Paused())

	h.sendEvent(t, map[string]any{"event": "status", "speaking": true})
	require.Eventually(t, h.engine.Speaking, time.Second, 5*time.Millisecond)
	assert.False(t, h.engine.Paused())

	h.sendEvent(t, map[string]any{"event": "status", "speaking": false, "paused": true})
	require.Eventually(t, h.engine.Paused, time.Second, 5*time.Millisecond)
	assert.False(t, h.engine.Speaking())

	h.engine.Resume()
	h.readCommand(t, "resume")
}

func TestEngine_StatusFollowsUtteranceLifecycle(t *testing.T) {
	h := newHarness(t)
	waitConnected(t, h.engine)

	require.NoError(t, h.engine.Speak(speech.Utterance{ID: "u1", Text: "Hi."}))
	h.readCommand(t, "speak")

	// No report yet, but an utterance is pending: assume speaking.
	assert.True(t, h.engine.Speaking())

	h.sendEvent(t, map[string]any{"event": "start", "id": "u1"})
	require.Eventually(t, h.engine.Speaking, time.Second, 5*time.Millisecond)

	h.sendEvent(t, map[string]any{"event": "end", "id": "u1"})
	require.Eventually(t, func() bool { return !h.engine.Speaking() }, time.Second, 5*time.Millisecond)
}

func TestEngine_NewestClientWins(t *testing.T) {
	engine := NewEngine()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		engine.Attach(conn)
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer first.Close()
	waitConnected(t, engine)

	// An in-flight utterance on the first client fails as interrupted when
	// the second client takes over.
	codes := make(chan string, 1)
	require.NoError(t, engine.Speak(speech.Utterance{
		ID:      "u1",
		Text:    "x",
		OnError: func(code string) { codes <- code },
	}))

	second, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer second.Close()

	select {
	case code := <-codes:
		assert.Equal(t, speech.CodeInterrupted, code)
	case <-time.After(2 * time.Second):
		t.Fatal("orphaned utterance not failed")
	}

	// The first connection gets closed by the engine.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// The new client is live and receives commands.
	h := &testHarness{engine: engine, conn: second}
	require.NoError(t, engine.Speak(speech.Utterance{ID: "u2", Text: "y"}))
	cmd := h.readCommand(t, "speak")
	assert.Equal(t, "u2", cmd.ID)
}
