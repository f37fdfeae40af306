package guide

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/yamatt/walking-tour/internal/domain/tour"
)

// Extractor is the content lookup a fetcher needs.
type Extractor interface {
	Extract(ctx context.Context, title string) (string, error)
}

// Fetcher resolves narration text for a track: inline text short-circuits,
// article-backed tracks go to the content client. The location context is
// not prefixed here; the player owns sentence assembly.
type Fetcher struct {
	extractor Extractor
}

// NewFetcher creates a Fetcher.
func NewFetcher(extractor Extractor) *Fetcher {
	return &Fetcher{extractor: extractor}
}

// FetchText returns the narration body for a track.
func (f *Fetcher) FetchText(ctx context.Context, t tour.Track) (string, error) {
	if t.Resolved() {
		return t.Text, nil
	}
	if t.Article == "" {
		return "", errors.Newf("track %q has no text and no article", t.ID)
	}
	text, err := f.extractor.Extract(ctx, t.Article)
	if err != nil {
		return "", errors.Wrapf(err, "fetch extract for %q", t.Article)
	}
	return text, nil
}
