package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/yamatt/walking-tour/internal/app/places"
	"github.com/yamatt/walking-tour/internal/domain/geo"
	"github.com/yamatt/walking-tour/internal/domain/tour"
)

// MinSpacingConfig represents the configuration for MinSpacingFilter.
type MinSpacingConfig struct {
	MinMetres float64 `yaml:"min_metres" mapstructure:"min_metres" default:"100" validate:"gte=0"`
}

// MinSpacingFilter rejects discovered candidates that sit too close to an
// already-accepted stop, so the tour does not narrate three plaques on the
// same corner.
type MinSpacingFilter struct {
	config *MinSpacingConfig
}

// NewMinSpacingFilter creates a new minimum spacing filter.
func NewMinSpacingFilter() *MinSpacingFilter {
	return &MinSpacingFilter{}
}

func (f *MinSpacingFilter) Name() string {
	return "min_spacing_filter"
}

func (f *MinSpacingFilter) Description() string {
	return "Rejects candidates too close to an already-accepted stop"
}

func (f *MinSpacingFilter) ReturnCodes() []string {
	return []string{"too_close"}
}

func (f *MinSpacingFilter) ValidateConfig(settings map[string]any) error {
	var config MinSpacingConfig

	if err := mapstructure.Decode(settings, &config); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}

	f.config = &config
	zlog.Info().Msgf("min spacing filter config: %+v", config)
	return nil
}

func (f *MinSpacingFilter) AppliesTo(source tour.Source) bool {
	// Curated routes space their own stops
	return source == tour.SourceDiscovered
}

func (f *MinSpacingFilter) Check(ctx context.Context, req PlaceRequest, c places.Candidate) Result {
	// If config is not set, accept all candidates
	if f.config == nil || f.config.MinMetres <= 0 {
		return Accept()
	}

	for _, accepted := range req.Accepted {
		if geo.Distance(c.Track.Location, accepted.Track.Location) < f.config.MinMetres {
			return Reject("too_close")
		}
	}
	return Accept()
}

func init() {
	Register("min_spacing_filter", func() Filter {
		return &MinSpacingFilter{}
	})
}
