// Package wikipedia provides a client for the MediaWiki API: geosearch for
// places around a position and plain-text article extracts for narration.
package wikipedia

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/yamatt/walking-tour/internal/domain/geo"
)

// ErrNotFound indicates the requested page does not exist.
var ErrNotFound = errors.New("wikipedia page not found")

// Config represents Wikipedia client configuration.
type Config struct {
	Lang      string        // article language, default "en"
	BaseURL   string        // override for tests and mirrors
	Timeout   time.Duration // HTTP timeout, default 15s
	UserAgent string        // etiquette header for the Wikimedia API
}

// GeoResult represents one geosearch hit.
type GeoResult struct {
	PageID   int
	Title    string
	Location geo.Point
	Distance float64 // metres from the search origin
}

// Client is a MediaWiki API client with in-memory response caches.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client

	// Cache for article extracts, keyed by title
	extractCache map[string]string
	// Cache for geosearch results, keyed by rounded origin cell
	geoCache map[string][]GeoResult

	// Mutex for cache access
	cacheMu sync.RWMutex
}

// New creates a new Wikipedia client.
func New(cfg Config) *Client {
	lang := cfg.Lang
	if lang == "" {
		lang = "en"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.wikipedia.org/w/api.php", lang)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:      baseURL,
		userAgent:    cfg.UserAgent,
		httpClient:   &http.Client{Timeout: timeout},
		extractCache: make(map[string]string),
		geoCache:     make(map[string][]GeoResult),
	}
}

type geoSearchResponse struct {
	Query struct {
		GeoSearch []struct {
			PageID int     `json:"pageid"`
			Title  string  `json:"title"`
			Lat    float64 `json:"lat"`
			Lon    float64 `json:"lon"`
			Dist   float64 `json:"dist"`
		} `json:"geosearch"`
	} `json:"query"`
}

type extractResponse struct {
	Query struct {
		Pages []struct {
			PageID  int    `json:"pageid"`
			Title   string `json:"title"`
			Extract string `json:"extract"`
			Missing bool   `json:"missing"`
		} `json:"pages"`
	} `json:"query"`
}

type apiError struct {
	Error struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// GeoSearch returns pages around p within radiusMetres, nearest first.
// Results are cached per rounded origin cell so a drifting listener does
// not re-query on every fix.
// Reference: https://www.mediawiki.org/wiki/API:Geosearch
func (c *Client) GeoSearch(ctx context.Context, p geo.Point, radiusMetres, limit int) ([]GeoResult, error) {
	if radiusMetres <= 0 {
		radiusMetres = 1000
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}

	cacheKey := fmt.Sprintf("%.4f,%.4f,%d", p.Lat, p.Lon, radiusMetres)
	c.cacheMu.RLock()
	if cached, ok := c.geoCache[cacheKey]; ok {
		c.cacheMu.RUnlock()
		zlog.Debug().Msgf("wikipedia: geosearch cache hit: key=%s", cacheKey)
		return cached, nil
	}
	c.cacheMu.RUnlock()

	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "geosearch")
	params.Set("gscoord", fmt.Sprintf("%f|%f", p.Lat, p.Lon))
	params.Set("gsradius", fmt.Sprintf("%d", radiusMetres))
	params.Set("gslimit", fmt.Sprintf("%d", limit))
	params.Set("format", "json")
	params.Set("formatversion", "2")

	var parsed geoSearchResponse
	if err := c.get(ctx, params, &parsed); err != nil {
		return nil, errors.Wrap(err, "geosearch request failed")
	}

	results := make([]GeoResult, 0, len(parsed.Query.GeoSearch))
	for _, hit := range parsed.Query.GeoSearch {
		results = append(results, GeoResult{
			PageID:   hit.PageID,
			Title:    hit.Title,
			Location: geo.Point{Lat: hit.Lat, Lon: hit.Lon},
			Distance: hit.Dist,
		})
	}

	c.cacheMu.Lock()
	c.geoCache[cacheKey] = results
	c.cacheMu.Unlock()

	zlog.Debug().Msgf("wikipedia: geosearch: origin=%.4f,%.4f radius=%dm hits=%d",
		p.Lat, p.Lon, radiusMetres, len(results))
	return results, nil
}

// Extract returns the plain-text intro extract for a page title. Missing
// pages yield ErrNotFound.
// Reference: https://www.mediawiki.org/wiki/Extension:TextExtracts
func (c *Client) Extract(ctx context.Context, title string) (string, error) {
	if title == "" {
		return "", errors.New("title is required")
	}

	c.cacheMu.RLock()
	if cached, ok := c.extractCache[title]; ok {
		c.cacheMu.RUnlock()
		zlog.Debug().Msgf("wikipedia: extract cache hit: title=%s", title)
		return cached, nil
	}
	c.cacheMu.RUnlock()

	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "extracts")
	params.Set("explaintext", "1")
	params.Set("exintro", "1")
	params.Set("redirects", "1")
	params.Set("titles", title)
	params.Set("format", "json")
	params.Set("formatversion", "2")

	var parsed extractResponse
	if err := c.get(ctx, params, &parsed); err != nil {
		return "", errors.Wrapf(err, "extract request failed for %q", title)
	}

	if len(parsed.Query.Pages) == 0 {
		return "", errors.Wrapf(ErrNotFound, "no page for %q", title)
	}
	page := parsed.Query.Pages[0]
	if page.Missing || page.Extract == "" {
		return "", errors.Wrapf(ErrNotFound, "no extract for %q", title)
	}

	c.cacheMu.Lock()
	c.extractCache[title] = page.Extract
	c.cacheMu.Unlock()

	return page.Extract, nil
}

// get performs one API call and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	// MediaWiki reports API-level errors with a 200 status.
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Code != "" {
		return errors.Newf("api error %s: %s", apiErr.Error.Code, apiErr.Error.Info)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}
