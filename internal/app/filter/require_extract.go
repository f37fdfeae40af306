package filter

import (
	"context"

	"github.com/yamatt/walking-tour/internal/app/places"
	"github.com/yamatt/walking-tour/internal/domain/tour"
)

// RequireExtractFilter rejects candidates with nothing to narrate: no
// inline text and no article to fetch an extract from.
type RequireExtractFilter struct{}

func (f *RequireExtractFilter) Name() string {
	return "require_extract_filter"
}

func (f *RequireExtractFilter) Description() string {
	return "Rejects candidates with no narration text and no article"
}

func (f *RequireExtractFilter) ReturnCodes() []string {
	return []string{"no_content"}
}

func (f *RequireExtractFilter) ValidateConfig(settings map[string]any) error {
	// No configuration needed
	return nil
}

func (f *RequireExtractFilter) AppliesTo(source tour.Source) bool {
	return true
}

func (f *RequireExtractFilter) Check(ctx context.Context, req PlaceRequest, c places.Candidate) Result {
	if c.Track.Text == "" && c.Track.Article == "" {
		return Reject("no_content")
	}
	return Accept()
}

func init() {
	Register("require_extract_filter", func() Filter {
		return &RequireExtractFilter{}
	})
}
