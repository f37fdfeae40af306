package filter

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/yamatt/walking-tour/internal/app/places"
	"github.com/yamatt/walking-tour/internal/domain/tour"
)

// BlocklistConfig represents the configuration for BlocklistFilter.
type BlocklistConfig struct {
	Titles []string `yaml:"titles" mapstructure:"titles"`
}

// BlocklistFilter rejects candidates whose title contains a blocked
// substring. Matching is case-insensitive. Useful for skipping
// disambiguation pages and over-narrated landmarks.
type BlocklistFilter struct {
	// lowercased substrings to match against
	blocked []string
}

// NewBlocklistFilter creates a new blocklist filter.
func NewBlocklistFilter() *BlocklistFilter {
	return &BlocklistFilter{}
}

func (f *BlocklistFilter) Name() string {
	return "blocklist_filter"
}

func (f *BlocklistFilter) Description() string {
	return "Rejects candidates whose title matches a blocked substring"
}

func (f *BlocklistFilter) ReturnCodes() []string {
	return []string{"blocklisted"}
}

func (f *BlocklistFilter) ValidateConfig(settings map[string]any) error {
	var config BlocklistConfig

	if err := mapstructure.Decode(settings, &config); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if len(config.Titles) == 0 {
		return errors.New("titles is required")
	}

	f.blocked = make([]string, 0, len(config.Titles))
	for _, t := range config.Titles {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			f.blocked = append(f.blocked, t)
		}
	}
	if len(f.blocked) == 0 {
		return errors.New("titles contains no usable entries")
	}

	zlog.Info().Msgf("blocklist filter config: %d entries", len(f.blocked))
	return nil
}

func (f *BlocklistFilter) AppliesTo(source tour.Source) bool {
	return true
}

func (f *BlocklistFilter) Check(ctx context.Context, req PlaceRequest, c places.Candidate) Result {
	title := strings.ToLower(c.Track.Title)
	for _, blocked := range f.blocked {
		if strings.Contains(title, blocked) {
			return Reject("blocklisted")
		}
	}
	return Accept()
}

func init() {
	Register("blocklist_filter", func() Filter {
		return &BlocklistFilter{}
	})
}
