package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/yamatt/walking-tour/internal/app/guide"
	"github.com/yamatt/walking-tour/internal/app/player"
	"github.com/yamatt/walking-tour/internal/domain/geo"
	"github.com/yamatt/walking-tour/internal/observability"
)

// Guide is the orchestration surface the API exposes.
type Guide interface {
	GetStatus() *guide.Status
	SetPosition(ctx context.Context, p geo.Point) error
	BuildTour(ctx context.Context) error
	Play() error
	PlayTrack(i int) error
	Next() error
	Previous() error
	Stop()
}

// SpeechAttacher accepts an upgraded companion-page connection and blocks
// until it closes.
type SpeechAttacher interface {
	Attach(conn *websocket.Conn)
}

// Server is the HTTP API server.
type Server struct {
	guide    Guide
	speech   SpeechAttacher
	hub      *Hub
	upgrader websocket.Upgrader
}

// New creates a Server.
func New(g Guide, speech SpeechAttacher, hub *Hub) *Server {
	return &Server{
		guide:  g,
		speech: speech,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The companion page is served from anywhere (often a phone
			// pointed at a LAN address), so origins are not restricted.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", observability.MetricsHandler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/position", s.handlePosition)
		r.Post("/play", s.transportOp(func() error { return s.guide.Play() }))
		r.Post("/stop", s.transportOp(func() error { s.guide.Stop(); return nil }))
		r.Post("/next", s.transportOp(func() error { return s.guide.Next() }))
		r.Post("/previous", s.transportOp(func() error { return s.guide.Previous() }))
		r.Post("/tracks/{index}/play", s.handlePlayTrack)
		r.Post("/tour/rebuild", s.handleRebuild)
	})

	r.Get("/ws/speech", s.handleSpeechWS)
	r.Get("/ws/events", s.handleEventsWS)

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.guide.GetStatus())
}

type positionRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid position payload")
		return
	}
	if err := s.guide.SetPosition(r.Context(), geo.Point{Lat: req.Lat, Lon: req.Lon}); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) transportOp(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (s *Server) handlePlayTrack(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		respondError(w, http.StatusBadRequest, "index must be a non-negative integer")
		return
	}
	if err := s.guide.PlayTrack(index); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.guide.BuildTour(r.Context()); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSpeechWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	zlog.Info().Msgf("speech client connected: remote=%s", r.RemoteAddr)
	s.speech.Attach(conn)
}

// wireEvent is the JSON shape of one player event on /ws/events.
type wireEvent struct {
	Seq         uint64    `json:"seq"`
	Type        string    `json:"type"`
	State       string    `json:"state"`
	Index       int       `json:"index"`
	QueueLength int       `json:"queue_length"`
	TrackID     string    `json:"track_id,omitempty"`
	TrackTitle  string    `json:"track_title,omitempty"`
	Error       string    `json:"error,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func toWireEvent(evt player.Event) wireEvent {
	we := wireEvent{
		Seq:         evt.SequenceNo,
		Type:        evt.Type.String(),
		State:       evt.State.String(),
		Index:       evt.Index,
		QueueLength: evt.QueueLength,
		Message:     evt.Message,
		Timestamp:   evt.Timestamp,
	}
	if evt.Track != nil {
		we.TrackID = evt.Track.ID
		we.TrackTitle = evt.Track.Title
	}
	if evt.Err != nil {
		we.Error = evt.Err.Error()
	}
	return we
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)
	zlog.Info().Msgf("event subscriber connected: id=%s remote=%s", id, r.RemoteAddr)

	// Reader goroutine only notices the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(toWireEvent(evt)); err != nil {
				return
			}
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"ok": false, "error": message})
}
