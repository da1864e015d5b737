package geocode

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGeocoder(baseURL string) *HTTPGeocoder {
	return New(Config{
		BaseURL:           baseURL,
		RequestsPerSecond: 1000, // no throttling in tests
		Timeout:           2 * time.Second,
	}, nil)
}

func TestResolve(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "san diego, ca", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`[{"lat":"32.7157","lon":"-117.1611"}]`))
	}))
	defer srv.Close()

	g := newTestGeocoder(srv.URL)

	coord, err := g.Resolve(context.Background(), "San Diego, CA")
	require.NoError(t, err)
	require.NotNil(t, coord)
	assert.InDelta(t, 32.7157, coord.Latitude, 1e-9)
	assert.InDelta(t, -117.1611, coord.Longitude, 1e-9)

	// Same normalized address must be served from cache.
	_, err = g.Resolve(context.Background(), "  san   DIEGO, ca ")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, g.CacheSize())
}

func TestResolveMissIsCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := newTestGeocoder(srv.URL)

	coord, err := g.Resolve(context.Background(), "Nowhere At All")
	require.NoError(t, err)
	assert.Nil(t, coord)

	coord, err = g.Resolve(context.Background(), "Nowhere At All")
	require.NoError(t, err)
	assert.Nil(t, coord)
	assert.Equal(t, int32(1), calls.Load(), "miss must not be re-queried within a run")
}

func TestResolveProviderErrorNeverFailsCaller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := newTestGeocoder(srv.URL)

	coord, err := g.Resolve(context.Background(), "100 Main St, Austin, TX")
	require.NoError(t, err, "provider errors must not propagate")
	assert.Nil(t, coord)
}

func TestResolveRejectsZeroZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"lat":"0","lon":"0"}]`))
	}))
	defer srv.Close()

	g := newTestGeocoder(srv.URL)
	coord, err := g.Resolve(context.Background(), "Null Island")
	require.NoError(t, err)
	assert.Nil(t, coord)
}

func TestResolveEmptyAddress(t *testing.T) {
	g := newTestGeocoder("http://unused")
	coord, err := g.Resolve(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, coord)
	assert.Equal(t, 0, g.CacheSize())
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"San Diego, CA", "san diego, ca"},
		{"  100   Main St  ", "100 main st"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, NormalizeAddress(tt.in))
	}
}

func TestCoordinateValid(t *testing.T) {
	assert.True(t, Coordinate{Latitude: 32.7, Longitude: -117.1}.Valid())
	assert.False(t, Coordinate{Latitude: 0, Longitude: 0}.Valid())
	assert.False(t, Coordinate{Latitude: 91, Longitude: 0}.Valid())
	assert.False(t, Coordinate{Latitude: 0, Longitude: -181}.Valid())
	assert.False(t, Coordinate{Latitude: math.NaN(), Longitude: -117.1}.Valid())
	assert.False(t, Coordinate{Latitude: 32.7, Longitude: math.NaN()}.Valid())
}
