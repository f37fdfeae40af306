package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/yamatt/walking-tour/internal/app/places"
	"github.com/yamatt/walking-tour/internal/domain/tour"
)

// MaxDistanceConfig represents the configuration for MaxDistanceFilter.
type MaxDistanceConfig struct {
	MaxMetres float64 `yaml:"max_metres" mapstructure:"max_metres" default:"2000" validate:"gte=0"`
}

// MaxDistanceFilter rejects discovered candidates beyond walking range of
// the listener. The geosearch radius bounds the query; this bounds the
// tour after re-ranking.
type MaxDistanceFilter struct {
	config *MaxDistanceConfig
}

// NewMaxDistanceFilter creates a new maximum distance filter.
func NewMaxDistanceFilter() *MaxDistanceFilter {
	return &MaxDistanceFilter{}
}

func (f *MaxDistanceFilter) Name() string {
	return "max_distance_filter"
}

func (f *MaxDistanceFilter) Description() string {
	return "Rejects candidates beyond walking range of the listener"
}

func (f *MaxDistanceFilter) ReturnCodes() []string {
	return []string{"too_far"}
}

func (f *MaxDistanceFilter) ValidateConfig(settings map[string]any) error {
	var config MaxDistanceConfig

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
	zlog.Info().Msgf("max distance filter config: %+v", config)
	return nil
}

func (f *MaxDistanceFilter) AppliesTo(source tour.Source) bool {
	// Curated stops are deliberate regardless of distance
	return source == tour.SourceDiscovered
}

func (f *MaxDistanceFilter) Check(ctx context.Context, req PlaceRequest, c places.Candidate) Result {
	// If config is not set, accept all candidates
	if f.config == nil || f.config.MaxMetres <= 0 {
		return Accept()
	}

	if c.Distance > f.config.MaxMetres {
		return Reject("too_far")
	}
	return Accept()
}

func init() {
	Register("max_distance_filter", func() Filter {
		return &MaxDistanceFilter{}
	})
}
