// Package tour provides the narration track and queue domain entities.
package tour

import "github.com/yamatt/walking-tour/internal/domain/geo"

// Source represents which kind of provider produced a track.
type Source string

const (
	SourceDiscovered Source = "DISCOVERED" // Found by geosearch around the listener
	SourceCurated    Source = "CURATED"    // Loaded from a curated route file
	SourceInline     Source = "INLINE"     // Narration text supplied directly
)

// Track represents one narration stop on a tour.
type Track struct {
	ID              string    // Stable identifier (article title or route slug)
	Title           string    // Spoken/display title
	Text            string    // Inline narration text (set for SourceInline, optional otherwise)
	Article         string    // Article title to fetch narration text from
	Location        geo.Point // Place position (zero when unknown)
	LocationContext string    // Optional phrase locating the place relative to the listener
	Source          Source    // Provider kind that produced this track
}

// Resolved reports whether the narration text is already present, so no
// fetch is needed.
func (t *Track) Resolved() bool {
	return t.Text != ""
}
