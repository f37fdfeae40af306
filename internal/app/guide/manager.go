// Package guide orchestrates the tour: position fixes in, tour builds
// through providers and filters, transport commands down to the player,
// player events out to subscribers and metrics.
package guide

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/yamatt/walking-tour/internal/app/filter"
	"github.com/yamatt/walking-tour/internal/app/places"
	"github.com/yamatt/walking-tour/internal/app/player"
	"github.com/yamatt/walking-tour/internal/domain/geo"
	"github.com/yamatt/walking-tour/internal/domain/tour"
	"github.com/yamatt/walking-tour/internal/infra/config"
	"github.com/yamatt/walking-tour/internal/observability"
)

// ErrNoPosition indicates no position fix has arrived yet.
var ErrNoPosition = errors.New("no position fix yet")

// Transport is the player surface the guide drives.
type Transport interface {
	LoadQueue(q tour.Queue)
	UpdateQueue(q tour.Queue)
	Play() error
	PlayTrack(i int) error
	Next() error
	Previous() error
	Stop()
	Current() (int, tour.Track, bool)
	State() player.State
	Queue() tour.Queue
	Events() <-chan player.Event
	Close()
}

// CandidateSource is the provider surface the guide builds tours from.
type CandidateSource interface {
	GetCandidates(ctx context.Context, origin geo.Point, count int, excludeIDs map[string]bool) ([]places.Candidate, error)
}

// Broadcaster fans player events out to API subscribers.
type Broadcaster interface {
	Broadcast(evt player.Event)
}

// MediaSink receives lock-screen metadata for the current stop.
type MediaSink interface {
	SetMedia(title, artist string)
}

// Deps carries the manager's collaborators. Hub, Metrics and Media may be
// nil.
type Deps struct {
	Player    Transport
	Providers CandidateSource
	Filters   *filter.Chain
	Hub       Broadcaster
	Metrics   *observability.Metrics
	Media     MediaSink
}

// Manager manages the walking tour session.
type Manager struct {
	mu sync.RWMutex

	config *config.Config

	player    Transport
	providers CandidateSource
	filters   *filter.Chain
	hub       Broadcaster
	metrics   *observability.Metrics
	media     MediaSink

	position    geo.Point
	built       bool
	buildOrigin geo.Point

	// narration timing for the per-track histogram
	trackStartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager and starts its event pump.
func NewManager(cfg *config.Config, deps Deps) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:    cfg,
		player:    deps.Player,
		providers: deps.Providers,
		filters:   deps.Filters,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		media:     deps.Media,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go m.eventLoop()
	return m
}

// Close stops the event pump and the player.
func (m *Manager) Close() {
	m.cancel()
	m.player.Close()
	<-m.done
}

// SetPosition records a position fix. The first fix builds the tour;
// later fixes rebuild only after drifting rebuild_metres from the last
// build origin. Rebuilds never interrupt narration.
func (m *Manager) SetPosition(ctx context.Context, p geo.Point) error {
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return errors.Newf("position out of range: %.4f,%.4f", p.Lat, p.Lon)
	}

	m.mu.Lock()
	m.position = p
	built := m.built
	origin := m.buildOrigin
	m.mu.Unlock()

	if !built {
		return m.BuildTour(ctx)
	}

	drift := geo.Distance(origin, p)
	if drift > float64(m.config.Tour.RebuildMetres) {
		zlog.Info().Msgf("guide: drifted %.0fm from tour origin, rebuilding", drift)
		return m.BuildTour(ctx)
	}
	return nil
}

// BuildTour queries the providers around the current position, runs the
// filter chain, orders the survivors and hands the queue to the player.
// Curated stops keep their file order ahead of discovered places, which
// are visited nearest first.
func (m *Manager) BuildTour(ctx context.Context) error {
	m.mu.RLock()
	origin := m.position
	rebuild := m.built
	m.mu.RUnlock()

	if origin.IsZero() {
		return ErrNoPosition
	}

	count := m.config.Tour.Count
	// Over-fetch so the filters have something to reject.
	candidates, err := m.providers.GetCandidates(ctx, origin, count*3, nil)
	if err != nil {
		return errors.Wrap(err, "failed to gather place candidates")
	}

	ordered := orderCandidates(candidates)

	req := filter.PlaceRequest{Origin: origin}
	accepted := make([]places.Candidate, 0, count)
	for _, c := range ordered {
		if len(accepted) >= count {
			break
		}
		result := m.filters.Execute(ctx, req, c)
		if !result.Accepted {
			zlog.Debug().Msgf("guide: candidate rejected: id=%s code=%s", c.Track.ID, result.Code)
			continue
		}
		accepted = append(accepted, c)
		req.Accepted = accepted
	}

	if len(accepted) == 0 {
		return errors.New("no places survived filtering")
	}

	tracks := make([]tour.Track, 0, len(accepted))
	for _, c := range accepted {
		trk := c.Track
		if trk.LocationContext == "" && !trk.Location.IsZero() {
			trk.LocationContext = geo.DescribeFrom(origin, trk.Location)
		}
		tracks = append(tracks, trk)
	}
	queue := tour.NewQueue(tracks)

	if rebuild {
		m.player.UpdateQueue(queue)
	} else {
		m.player.LoadQueue(queue)
	}

	m.mu.Lock()
	m.built = true
	m.buildOrigin = origin
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ToursBuilt.Inc()
	}
	zlog.Info().Msgf("guide: tour built: origin=%.4f,%.4f stops=%d rebuild=%v",
		origin.Lat, origin.Lon, queue.Len(), rebuild)
	return nil
}

// orderCandidates puts curated and inline stops first in their given
// order, then discovered places by distance.
func orderCandidates(candidates []places.Candidate) []places.Candidate {
	ordered := make([]places.Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		di := ordered[i].Track.Source == tour.SourceDiscovered
		dj := ordered[j].Track.Source == tour.SourceDiscovered
		if di != dj {
			return !di
		}
		if di {
			return ordered[i].Distance < ordered[j].Distance
		}
		return false
	})
	return ordered
}

// Transport pass-throughs for the HTTP API and media-session actions.

func (m *Manager) Play() error { return m.player.Play() }

func (m *Manager) PlayTrack(i int) error { return m.player.PlayTrack(i) }

func (m *Manager) Next() error { return m.player.Next() }

func (m *Manager) Previous() error { return m.player.Previous() }

func (m *Manager) Stop() { m.player.Stop() }

// HandleAction maps a media-session action from the companion page onto a
// transport operation.
func (m *Manager) HandleAction(action string) {
	var err error
	switch action {
	case "play":
		err = m.player.Play()
	case "stop", "pause":
		m.player.Stop()
	case "next":
		err = m.player.Next()
	case "previous":
		err = m.player.Previous()
	default:
		zlog.Debug().Msgf("guide: ignoring unknown media action: %s", action)
		return
	}
	if err != nil {
		zlog.Warn().Msgf("guide: media action %s failed: %v", action, err)
	}
}

// TrackStatus is one queue entry in a status snapshot.
type TrackStatus struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Source   string  `json:"source"`
	Distance float64 `json:"distance_metres,omitempty"`
}

// Status is the guide's snapshot for the HTTP API.
type Status struct {
	State        string        `json:"state"`
	Index        int           `json:"index"`
	QueueLength  int           `json:"queue_length"`
	CurrentTrack *TrackStatus  `json:"current_track,omitempty"`
	Tracks       []TrackStatus `json:"tracks"`
	Position     *geo.Point    `json:"position,omitempty"`
	TourOrigin   *geo.Point    `json:"tour_origin,omitempty"`
}

// GetStatus returns the current snapshot.
func (m *Manager) GetStatus() *Status {
	m.mu.RLock()
	position := m.position
	built := m.built
	origin := m.buildOrigin
	m.mu.RUnlock()

	queue := m.player.Queue()
	index, cur, ok := m.player.Current()

	status := &Status{
		State:       m.player.State().String(),
		Index:       index,
		QueueLength: queue.Len(),
		Tracks:      make([]TrackStatus, 0, queue.Len()),
	}
	for _, trk := range queue.Tracks() {
		ts := TrackStatus{ID: trk.ID, Title: trk.Title, Source: string(trk.Source)}
		if !position.IsZero() && !trk.Location.IsZero() {
			ts.Distance = geo.Distance(position, trk.Location)
		}
		status.Tracks = append(status.Tracks, ts)
	}
	if ok {
		status.CurrentTrack = &TrackStatus{ID: cur.ID, Title: cur.Title, Source: string(cur.Source)}
	}
	if !position.IsZero() {
		p := position
		status.Position = &p
	}
	if built {
		o := origin
		status.TourOrigin = &o
	}
	return status
}

// eventLoop pumps player events to the log, metrics and subscribers.
func (m *Manager) eventLoop() {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("event loop panicked: %v", r)
			// Restart loop to keep the tour alive
			zlog.Info().Msg("restarting event loop")
			go m.eventLoop()
			return
		}
		close(m.done)
	}()

	for {
		select {
		case <-m.ctx.Done():
			return
		case evt, ok := <-m.player.Events():
			if !ok {
				return
			}
			m.handleEvent(evt)
		}
	}
}

func (m *Manager) handleEvent(evt player.Event) {
	zlog.Info().Msgf("player event: type=%s state=%s index=%d", evt.Type, evt.State, evt.Index)

	switch evt.Type {
	case player.EventTrackChanged:
		m.mu.Lock()
		m.trackStartedAt = evt.Timestamp
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.TracksStarted.Inc()
		}
		if m.media != nil && evt.Track != nil {
			artist := evt.Track.LocationContext
			if artist == "" {
				artist = "Walking tour"
			}
			m.media.SetMedia(evt.Track.Title, artist)
		}

	case player.EventTrackError:
		if m.metrics != nil {
			m.metrics.TrackErrors.WithLabelValues(errorReason(evt.Err)).Inc()
		}

	case player.EventStateChanged:
		if m.metrics != nil {
			m.metrics.PlayerState.Set(float64(evt.State))
			if evt.State == player.StateAdvancing || evt.State == player.StateIdle {
				m.observeNarrationEnd(evt.Timestamp)
			}
			if evt.State == player.StateAdvancing {
				m.metrics.TracksCompleted.Inc()
			}
		}

	case player.EventTourCompleted:
		if m.metrics != nil {
			m.metrics.TracksCompleted.Inc()
		}

	case player.EventQueueLoaded:
		if m.metrics != nil {
			m.metrics.QueueLength.Set(float64(evt.QueueLength))
		}
	}

	if m.hub != nil {
		m.hub.Broadcast(evt)
	}
}

func (m *Manager) observeNarrationEnd(at time.Time) {
	m.mu.Lock()
	started := m.trackStartedAt
	m.trackStartedAt = time.Time{}
	m.mu.Unlock()
	if started.IsZero() {
		return
	}
	m.metrics.ObserveNarration(at.Sub(started))
}

func errorReason(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, player.ErrNoText):
		return "no_text"
	default:
		return "fetch_or_engine"
	}
}
