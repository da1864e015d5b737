// Package geocode resolves address text to coordinates through an
// external geocoding provider.
//
// The resolver never fails its caller: provider errors and timeouts
// come back as a nil coordinate with a warning logged, and the pipeline
// proceeds without coordinates. Outbound requests are rate limited to
// respect the provider's acceptable-use policy, and identical
// normalized addresses are answered from an in-run memo cache.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrProvider indicates the geocoding provider failed or returned an
// unusable response. Callers treat this as "no coordinates", never as a
// pipeline failure.
var ErrProvider = errors.New("geocode provider error")

// Coordinate is a resolved WGS84 point.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid rejects NaN and out-of-range points and the 0,0 ocean default
// some providers emit for unknown addresses.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return false
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return false
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return false
	}
	if c.Latitude == 0 && c.Longitude == 0 {
		return false
	}
	return true
}

// Resolver resolves an address string to a coordinate.
//
// A nil coordinate with a nil error means the address could not be
// resolved; that is the normal miss path, not a failure.
type Resolver interface {
	Resolve(ctx context.Context, address string) (*Coordinate, error)
}

// Config configures the HTTP geocoder.
type Config struct {
	// BaseURL is the provider's search endpoint.
	BaseURL string

	// RequestsPerSecond throttles outbound requests. Default: 1, the
	// common acceptable-use ceiling for public providers.
	RequestsPerSecond float64

	// Timeout bounds one provider request. Default: 10s.
	Timeout time.Duration

	// UserAgent identifies the client; public providers require one.
	UserAgent string
}

// HTTPGeocoder resolves addresses against a Nominatim-style search
// endpoint, with in-memory memoization and rate limiting.
type HTTPGeocoder struct {
	client    *http.Client
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]*Coordinate
}

var _ Resolver = (*HTTPGeocoder)(nil)

// New creates an HTTP geocoder. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *HTTPGeocoder {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "meeting-scraper/1.0"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPGeocoder{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:    logger,
		cache:     make(map[string]*Coordinate),
	}
}

// Resolve implements Resolver.
//
// The returned error is always nil except for context cancellation;
// provider faults are logged and reported as a nil coordinate. Cache
// entries include misses so a bad address is only asked once per run.
func (g *HTTPGeocoder) Resolve(ctx context.Context, address string) (*Coordinate, error) {
	key := NormalizeAddress(address)
	if key == "" {
		return nil, nil
	}

	g.mu.Lock()
	cached, ok := g.cache[key]
	g.mu.Unlock()
	if ok {
		return cached, nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	coord, err := g.query(ctx, key)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		g.logger.Warn("geocode lookup failed",
			zap.String("address", key),
			zap.Error(err))
		coord = nil
	}

	g.mu.Lock()
	g.cache[key] = coord
	g.mu.Unlock()

	return coord, nil
}

// CacheSize reports how many normalized addresses have been memoized,
// hits and misses alike.
func (g *HTTPGeocoder) CacheSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cache)
}

// searchResult is one row of the provider's response.
type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (g *HTTPGeocoder) query(ctx context.Context, address string) (*Coordinate, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}

	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrProvider, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad latitude %q", ErrProvider, results[0].Lat)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad longitude %q", ErrProvider, results[0].Lon)
	}

	coord := Coordinate{Latitude: lat, Longitude: lon}
	if !coord.Valid() {
		return nil, nil
	}
	return &coord, nil
}

// NormalizeAddress canonicalizes an address for cache identity:
// collapsed whitespace, lowercase. Two spellings of the same address
// that differ only in spacing or case hit the same cache entry.
func NormalizeAddress(address string) string {
	fields := strings.Fields(address)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Join(fields, " "))
}
