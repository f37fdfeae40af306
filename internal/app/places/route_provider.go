package places

import (
	"os"
	"strings"

	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/yamatt/walking-tour/internal/domain/geo"
	"github.com/yamatt/walking-tour/internal/domain/tour"
)

type RouteProviderConfig struct {
	Path            string `yaml:"path" mapstructure:"path" validate:"required"`
	MaxOriginMetres int    `yaml:"max_origin_metres" mapstructure:"max_origin_metres" default:"0" validate:"gte=0"`
}

// routeFile is the on-disk shape of a curated route.
type routeFile struct {
	Title string      `yaml:"title"`
	Stops []routeStop `yaml:"stops" validate:"required,min=1,dive"`
}

type routeStop struct {
	Title   string  `yaml:"title" validate:"required"`
	Article string  `yaml:"article"`
	Text    string  `yaml:"text"`
	Lat     float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon     float64 `yaml:"lon" validate:"gte=-180,lte=180"`
	Context string  `yaml:"context"`
}

// RouteProvider serves stops from a curated route file, preserving the
// author's ordering. Every stop needs either inline text or an article to
// fetch narration from.
type RouteProvider struct {
	tracks []tour.Track
	config *RouteProviderConfig
}

// NewRouteProvider creates a new RouteProvider, loading and validating the
// route file eagerly so a broken route fails at startup rather than
// mid-walk.
func NewRouteProvider(settings map[string]any) (*RouteProvider, error) {
	if len(settings) == 0 {
		return nil, errors.New("settings are required")
	}

	var config RouteProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	data, err := os.ReadFile(config.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read route file: %s", config.Path)
	}

	var route routeFile
	if err := yaml.Unmarshal(data, &route); err != nil {
		return nil, errors.Wrapf(err, "failed to parse route file: %s", config.Path)
	}
	if err := validator.New().Struct(route); err != nil {
		return nil, errors.Wrapf(err, "invalid route file: %s", config.Path)
	}

	tracks := make([]tour.Track, 0, len(route.Stops))
	for i, stop := range route.Stops {
		if stop.Text == "" && stop.Article == "" {
			return nil, errors.Newf("route stop %d (%s) has neither text nor article", i+1, stop.Title)
		}
		src := tour.SourceCurated
		if stop.Text != "" {
			src = tour.SourceInline
		}
		tracks = append(tracks, tour.Track{
			ID:              routeStopID(stop.Title),
			Title:           stop.Title,
			Text:            stop.Text,
			Article:         stop.Article,
			Location:        geo.Point{Lat: stop.Lat, Lon: stop.Lon},
			LocationContext: stop.Context,
			Source:          src,
		})
	}

	zlog.Info().Msgf("loaded route: path=%s title=%s stops=%d", config.Path, route.Title, len(tracks))

	return &RouteProvider{
		tracks: tracks,
		config: &config,
	}, nil
}

// GetCandidates returns the route stops in file order. When
// max_origin_metres is set, the route is skipped entirely if the listener
// is too far from its first stop.
func (p *RouteProvider) GetCandidates(ctx context.Context, origin geo.Point, count int, excludeIDs map[string]bool) ([]Candidate, error) {
	if count <= 0 || len(p.tracks) == 0 {
		return []Candidate{}, nil
	}

	if p.config.MaxOriginMetres > 0 {
		d := geo.Distance(origin, p.tracks[0].Location)
		if d > float64(p.config.MaxOriginMetres) {
			zlog.Debug().Msgf("route provider: listener %.0fm from route start, skipping (max %dm)",
				d, p.config.MaxOriginMetres)
			return []Candidate{}, nil
		}
	}

	result := make([]Candidate, 0, count)
	for _, trk := range p.tracks {
		if excludeIDs[trk.ID] {
			continue
		}
		result = append(result, Candidate{
			Track:    trk,
			Distance: geo.Distance(origin, trk.Location),
		})
		if len(result) >= count {
			break
		}
	}
	return result, nil
}

// Name returns the provider name.
func (p *RouteProvider) Name() string {
	return "route"
}

// routeStopID derives a stable track id from a stop title.
func routeStopID(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = strings.Join(strings.Fields(slug), "-")
	return "route:" + slug
}
