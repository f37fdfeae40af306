// Package filter provides the filter chain for place-candidate validation
// during tour building.
package filter

import (
	"context"

	"github.com/yamatt/walking-tour/internal/app/places"
	"github.com/yamatt/walking-tour/internal/domain/geo"
	"github.com/yamatt/walking-tour/internal/domain/tour"
)

// PlaceRequest carries the tour-build context a filter can consult: the
// listener's position and the candidates accepted so far.
type PlaceRequest struct {
	Origin   geo.Point
	Accepted []places.Candidate
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "too_close", "no_content", "blocklisted"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for place filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates the filter configuration.
	ValidateConfig(settings map[string]any) error
	// AppliesTo returns true if this filter should be applied to candidates
	// from the given source.
	AppliesTo(source tour.Source) bool
	// Check performs the filter check.
	Check(ctx context.Context, req PlaceRequest, c places.Candidate) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}
