package places

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/yamatt/walking-tour/internal/domain/geo"
)

// ProviderChain queries all configured providers and accumulates their
// candidates. All providers are tried to maximize the pool for filtering;
// a failed provider is skipped rather than aborting the tour build.
type ProviderChain struct {
	providers []Provider
}

// NewProviderChain creates a new provider chain.
func NewProviderChain(providers []Provider) *ProviderChain {
	return &ProviderChain{
		providers: providers,
	}
}

// GetCandidates retrieves candidates from all providers.
func (c *ProviderChain) GetCandidates(ctx context.Context, origin geo.Point, count int, excludeIDs map[string]bool) ([]Candidate, error) {
	var allCandidates []Candidate
	currentExcludeIDs := make(map[string]bool)
	for k, v := range excludeIDs {
		currentExcludeIDs[k] = v
	}

	for i, p := range c.providers {
		zlog.Debug().Msgf("trying provider: index=%d total=%d type=%s", i+1, len(c.providers), p.Name())

		candidates, err := p.GetCandidates(ctx, origin, count, currentExcludeIDs)
		if err != nil {
			zlog.Warn().Msgf("provider failed, trying next: provider=%s error=%v", p.Name(), err)
			continue
		}
		if len(candidates) == 0 {
			zlog.Debug().Msgf("provider returned no candidates: provider=%s", p.Name())
			continue
		}

		for _, cand := range candidates {
			if currentExcludeIDs[cand.Track.ID] {
				continue
			}
			allCandidates = append(allCandidates, cand)
			// Update exclude set to avoid duplicates from next provider
			currentExcludeIDs[cand.Track.ID] = true
		}

		zlog.Info().Msgf("provider returned candidates: provider=%s count=%d total_so_far=%d",
			p.Name(), len(candidates), len(allCandidates))
	}

	if len(allCandidates) == 0 {
		return nil, errors.New("all providers failed to return candidates")
	}

	return allCandidates, nil
}

// Name returns the chain name.
func (c *ProviderChain) Name() string {
	return "provider_chain"
}
