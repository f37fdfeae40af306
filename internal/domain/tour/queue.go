package tour

// Queue is an ordered, immutable set of tracks. Updates replace the whole
// value; the zero Queue is empty and usable.
type Queue struct {
	tracks []Track
}

// NewQueue builds a queue from tracks. The slice is copied.
func NewQueue(tracks []Track) Queue {
	cp := make([]Track, len(tracks))
	copy(cp, tracks)
	return Queue{tracks: cp}
}

// Len returns the number of tracks.
func (q Queue) Len() int {
	return len(q.tracks)
}

// At returns the track at index i and whether it exists.
func (q Queue) At(i int) (Track, bool) {
	if i < 0 || i >= len(q.tracks) {
		return Track{}, false
	}
	return q.tracks[i], true
}

// Tracks returns a copy of the track list.
func (q Queue) Tracks() []Track {
	cp := make([]Track, len(q.tracks))
	copy(cp, q.tracks)
	return cp
}

// ClampIndex clamps i into the queue's valid range. An empty queue clamps
// everything to 0.
func (q Queue) ClampIndex(i int) int {
	if len(q.tracks) == 0 {
		return 0
	}
	if i < 0 {
		return 0
	}
	if i >= len(q.tracks) {
		return len(q.tracks) - 1
	}
	return i
}

// IndexOf returns the index of the track with the given id, or -1.
func (q Queue) IndexOf(id string) int {
	for i, t := range q.tracks {
		if t.ID == id {
			return i
		}
	}
	return -1
}
