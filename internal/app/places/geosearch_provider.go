package places

import (
	"fmt"
	"sync"

	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/yamatt/walking-tour/internal/domain/geo"
	"github.com/yamatt/walking-tour/internal/domain/tour"
)

type GeosearchProviderConfig struct {
	RadiusMetres int `yaml:"radius_metres" mapstructure:"radius_metres" default:"1000" validate:"gte=100,lte=10000"`
	SearchLimit  int `yaml:"search_limit" mapstructure:"search_limit" default:"50" validate:"gte=1,lte=500"`
}

// GeosearchProvider discovers places around the listener via the content
// backend's geosearch endpoint.
type GeosearchProvider struct {
	searcher GeoSearcher

	// Cache for candidates, keyed by rounded origin cell
	candidateCache map[string][]Candidate
	cacheMutex     sync.RWMutex

	config *GeosearchProviderConfig
}

// NewGeosearchProvider creates a new GeosearchProvider.
func NewGeosearchProvider(searcher GeoSearcher, settings map[string]any) (*GeosearchProvider, error) {
	if searcher == nil {
		return nil, errors.New("geosearch client is required")
	}

	var config GeosearchProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	return &GeosearchProvider{
		searcher:       searcher,
		candidateCache: make(map[string][]Candidate),
		config:         &config,
	}, nil
}

// GetCandidates retrieves nearby places, nearest first.
func (p *GeosearchProvider) GetCandidates(ctx context.Context, origin geo.Point, count int, excludeIDs map[string]bool) ([]Candidate, error) {
	if count <= 0 {
		return []Candidate{}, nil
	}

	hits, err := p.lookup(ctx, origin)
	if err != nil {
		return nil, err
	}

	result := make([]Candidate, 0, count)
	for _, c := range hits {
		if excludeIDs[c.Track.ID] {
			continue
		}
		result = append(result, c)
		if len(result) >= count {
			break
		}
	}
	return result, nil
}

// Name returns the provider name.
func (p *GeosearchProvider) Name() string {
	return "geosearch"
}

// lookup queries the backend, caching per rounded origin cell so a
// listener drifting within the same block reuses the previous answer.
func (p *GeosearchProvider) lookup(ctx context.Context, origin geo.Point) ([]Candidate, error) {
	key := fmt.Sprintf("%.4f,%.4f", origin.Lat, origin.Lon)

	p.cacheMutex.RLock()
	if cached, ok := p.candidateCache[key]; ok {
		p.cacheMutex.RUnlock()
		return cached, nil
	}
	p.cacheMutex.RUnlock()

	hits, err := p.searcher.GeoSearch(ctx, origin, p.config.RadiusMetres, p.config.SearchLimit)
	if err != nil {
		return nil, errors.Wrap(err, "geosearch failed")
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		candidates = append(candidates, Candidate{
			Track: tour.Track{
				ID:       hit.Title,
				Title:    hit.Title,
				Article:  hit.Title,
				Location: hit.Location,
				Source:   tour.SourceDiscovered,
			},
			Distance: hit.Distance,
		})
	}

	p.cacheMutex.Lock()
	p.candidateCache[key] = candidates
	p.cacheMutex.Unlock()

	zlog.Debug().Msgf("geosearch provider: origin=%s radius=%dm candidates=%d",
		key, p.config.RadiusMetres, len(candidates))
	return candidates, nil
}
