package wikipedia

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamatt/walking-tour/internal/domain/geo"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, UserAgent: "walking-tour-test/1.0"}), &calls
}

func TestClient_GeoSearch(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "query", q.Get("action"))
		assert.Equal(t, "geosearch", q.Get("list"))
		assert.Equal(t, "2500", q.Get("gsradius"))
		assert.Equal(t, "walking-tour-test/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte(`{"query":{"geosearch":[
			{"pageid":101,"title":"Tower Bridge","lat":51.5055,"lon":-0.0754,"dist":120.5},
			{"pageid":102,"title":"The Shard","lat":51.5045,"lon":-0.0865,"dist":640.2}
		]}}`))
	})

	results, err := client.GeoSearch(context.Background(), geo.Point{Lat: 51.505, Lon: -0.08}, 2500, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Tower Bridge", results[0].Title)
	assert.Equal(t, 101, results[0].PageID)
	assert.InDelta(t, 120.5, results[0].Distance, 0.001)
	assert.InDelta(t, 51.5055, results[0].Location.Lat, 0.0001)

	// Second query from the same cell hits the cache.
	again, err := client.GeoSearch(context.Background(), geo.Point{Lat: 51.505, Lon: -0.08}, 2500, 10)
	require.NoError(t, err)
	assert.Equal(t, results, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestClient_GeoSearch_Empty(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"query":{"geosearch":[]}}`))
	})

	results, err := client.GeoSearch(context.Background(), geo.Point{Lat: 0, Lon: 0}, 1000, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestClient_Extract(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "extracts", q.Get("prop"))
		assert.Equal(t, "Tower Bridge", q.Get("titles"))
		w.Write([]byte(`{"query":{"pages":[
			{"pageid":101,"title":"Tower Bridge","extract":"Tower Bridge is a Grade I listed bridge in London."}
		]}}`))
	})

	text, err := client.Extract(context.Background(), "Tower Bridge")
	require.NoError(t, err)
	assert.Equal(t, "Tower Bridge is a Grade I listed bridge in London.", text)

	// Cached on the second call.
	_, err = client.Extract(context.Background(), "Tower Bridge")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestClient_Extract_Missing(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"query":{"pages":[{"title":"No Such Place","missing":true}]}}`))
	})

	_, err := client.Extract(context.Background(), "No Such Place")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestClient_Extract_EmptyTitle(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := client.Extract(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestClient_APIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"code":"invalidparammix","info":"bad params"}}`))
	})

	_, err := client.GeoSearch(context.Background(), geo.Point{Lat: 1, Lon: 1}, 1000, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalidparammix")
}

func TestClient_HTTPError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Extract(context.Background(), "Anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
