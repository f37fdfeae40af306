package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/yamatt/walking-tour/internal/app/places"
	"github.com/yamatt/walking-tour/internal/infra/config"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// NewChainFromConfig creates a filter chain from configuration. Each entry
// must name a registered filter; its settings are validated eagerly.
func NewChainFromConfig(cfgs []config.FilterConfig) (*Chain, error) {
	chain := NewChain()

	for i, fcfg := range cfgs {
		factory, ok := registry[fcfg.Name]
		if !ok {
			return nil, errors.Newf("unknown filter: %s (filter index %d)", fcfg.Name, i)
		}

		f := factory()
		if err := f.ValidateConfig(fcfg.Settings); err != nil {
			return nil, errors.Wrapf(err, "invalid settings for filter %s", fcfg.Name)
		}

		chain.Add(f)
		zlog.Info().Msgf("registered place filter: index=%d name=%s", i+1, fcfg.Name)
	}

	return chain, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the candidate.
// Filters are only applied if they declare they apply to the candidate's
// source.
func (c *Chain) Execute(ctx context.Context, req PlaceRequest, cand places.Candidate) Result {
	for _, f := range c.filters {
		// Skip filters that don't apply to this candidate source
		if !f.AppliesTo(cand.Track.Source) {
			continue
		}

		result := f.Check(ctx, req, cand)
		if !result.Accepted {
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
