package places

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/yamatt/walking-tour/internal/infra/config"
)

// NewProviderChainFromConfig creates a provider chain from configuration.
func NewProviderChainFromConfig(cfg *config.Config, searcher GeoSearcher) (*ProviderChain, error) {
	if len(cfg.Providers) == 0 {
		return nil, errors.New("no place providers configured")
	}

	var providers []Provider

	for i, pcfg := range cfg.Providers {
		var provider Provider
		var err error
		zlog.Debug().Msgf("creating place provider: index=%d type=%s settings=%+v", i+1, pcfg.Type, pcfg.Settings)
		switch pcfg.Type {
		case "geosearch":
			provider, err = NewGeosearchProvider(searcher, pcfg.Settings)

		case "route":
			provider, err = NewRouteProvider(pcfg.Settings)

		default:
			return nil, errors.Newf("unsupported provider type: %s (provider index %d)", pcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create provider (index %d, type %s)", i, pcfg.Type)
		}

		providers = append(providers, provider)

		zlog.Info().Msgf("registered place provider: index=%d type=%s", i+1, pcfg.Type)
	}

	return NewProviderChain(providers), nil
}
