// Package places provides place-candidate provision strategies for tour
// building.
package places

import (
	"context"

	"github.com/yamatt/walking-tour/internal/domain/geo"
	"github.com/yamatt/walking-tour/internal/domain/tour"
	"github.com/yamatt/walking-tour/internal/infra/wikipedia"
)

// Candidate represents one place suggested by a provider, with its distance
// from the listener at the time of the query.
type Candidate struct {
	Track    tour.Track
	Distance float64 // metres from the tour origin
}

// Provider is the interface for place providers. Different implementations
// can supply places through various strategies (geosearch around the
// listener, curated route files, etc.).
type Provider interface {
	// GetCandidates retrieves place candidates around origin.
	// count: the number of candidates to retrieve
	// excludeIDs: tracks already accepted (for duplicate avoidance)
	GetCandidates(ctx context.Context, origin geo.Point, count int, excludeIDs map[string]bool) ([]Candidate, error)

	// Name returns the provider name (used in config).
	Name() string
}

// GeoSearcher defines the geosearch operation needed by discovery providers.
type GeoSearcher interface {
	GeoSearch(ctx context.Context, p geo.Point, radiusMetres, limit int) ([]wikipedia.GeoResult, error)
}
