package player

import (
	"time"

	"github.com/yamatt/walking-tour/internal/domain/tour"
)

// EventType represents a player event type.
type EventType int

const (
	EventStateChanged  EventType = iota // Player state transition
	EventTrackChanged                   // A new track became current
	EventTrackError                     // Content or engine failure on a track
	EventQueueLoaded                    // Queue replaced via LoadQueue/UpdateQueue
	EventTourCompleted                  // Last track finished naturally
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStateChanged:
		return "state_changed"
	case EventTrackChanged:
		return "track_changed"
	case EventTrackError:
		return "track_error"
	case EventQueueLoaded:
		return "queue_loaded"
	case EventTourCompleted:
		return "tour_completed"
	default:
		return "unknown"
	}
}

// Event represents a player notification.
type Event struct {
	Type        EventType
	State       State
	Index       int         // Current track index
	QueueLength int         // Queue length at emission time
	Track       *tour.Track // Current track (nil for some events)
	Err         error       // Set for EventTrackError
	Message     string      // Spoken/displayed message (EventTourCompleted)
	Timestamp   time.Time
	SequenceNo  uint64 // Assigned by the broadcast hub, 0 until broadcast
}
