package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"
)

// FetcherConfig configures HTTP behavior toward feed sources.
type FetcherConfig struct {
	// Timeout bounds a single HTTP request. Default: 60s.
	Timeout time.Duration

	// MaxRetries is the retry budget per request for transient
	// failures (network errors, 5xx, 429). Default: 3.
	MaxRetries int

	// BaseDelay and MaxDelay shape the exponential backoff between
	// retries. Defaults: 500ms and 10s.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// UserAgent is sent on every request. Feed operators ask for an
	// identifiable agent.
	UserAgent string

	// Transport overrides the HTTP transport. Nil means the default.
	Transport http.RoundTripper
}

// DefaultFetcherConfig returns the default fetcher configuration.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:    60 * time.Second,
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		UserAgent:  "meeting-scraper/1.0",
	}
}

// Fetcher retrieves feed payloads over HTTP and runs them through the
// feed's format adapter.
//
// Transient failures are retried with exponential backoff; a 4xx is
// terminal for the feed. Either way a failed feed surfaces as
// ErrFeedUnreachable and never aborts the whole run; that policy
// belongs to the orchestrator.
type Fetcher struct {
	client *http.Client
	config FetcherConfig
	retry  retrypolicy.RetryPolicy[*http.Response]
	logger *zap.Logger
}

// NewFetcher creates a fetcher. A nil logger disables logging.
func NewFetcher(cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	def := DefaultFetcherConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ *http.Response, err error) bool {
			return err != nil
		}).
		Build()

	return &Fetcher{
		client: &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		config: cfg,
		retry:  retry,
		logger: logger,
	}
}

// Fetch retrieves a feed's full payload set and parses it.
//
// For the flat JSON format this is a single request. For the REST
// format the root endpoint enumerates service bodies and each body's
// meetings are fetched with a follow-up request; a single body's
// failure is recorded in ParseResult.Dropped and the rest continue.
func (ft *Fetcher) Fetch(ctx context.Context, f Feed) (*ParseResult, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	adapter, err := AdapterFor(f.Format)
	if err != nil {
		return nil, err
	}

	switch f.Format {
	case FormatBMLT:
		return ft.fetchBMLT(ctx, f, adapter)
	default:
		payload, err := ft.get(ctx, f.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrFeedUnreachable, f.Name, err)
		}
		return adapter.Parse(payload, f)
	}
}

// bmltServiceBody is the slice of a service-body row the fetcher needs.
type bmltServiceBody struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (ft *Fetcher) fetchBMLT(ctx context.Context, f Feed, adapter Adapter) (*ParseResult, error) {
	bodiesPayload, err := ft.get(ctx, bmltQueryURL(f.URL, "GetServiceBodies", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: service bodies: %v", ErrFeedUnreachable, f.Name, err)
	}

	var bodies []bmltServiceBody
	if err := json.Unmarshal(bodiesPayload, &bodies); err != nil {
		return nil, fmt.Errorf("%w: feed %s: service bodies: %v", ErrParse, f.Name, err)
	}
	if len(bodies) == 0 {
		return &ParseResult{}, nil
	}

	merged := &ParseResult{}
	fetched := 0
	for _, body := range bodies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload, err := ft.get(ctx, bmltQueryURL(f.URL, "GetSearchResults", body.ID))
		if err != nil {
			ft.logger.Warn("service body fetch failed",
				zap.String("feed", f.Name),
				zap.String("service_body", body.ID),
				zap.Error(err))
			merged.Dropped = append(merged.Dropped, ItemError{
				Index:  -1,
				Detail: fmt.Sprintf("service body %s (%s) unreachable: %v", body.ID, body.Name, err),
			})
			continue
		}

		result, err := adapter.Parse(payload, f)
		if err != nil {
			merged.Dropped = append(merged.Dropped, ItemError{
				Index:  -1,
				Detail: fmt.Sprintf("service body %s: %v", body.ID, err),
			})
			continue
		}

		merged.Drafts = append(merged.Drafts, result.Drafts...)
		merged.Dropped = append(merged.Dropped, result.Dropped...)
		fetched++
	}

	if fetched == 0 {
		return nil, fmt.Errorf("%w: %s: all %d service bodies failed", ErrFeedUnreachable, f.Name, len(bodies))
	}

	return merged, nil
}

// bmltQueryURL builds a client-interface query URL against a server base.
func bmltQueryURL(base, switcher, services string) string {
	base = strings.TrimSuffix(base, "/")
	q := url.Values{}
	q.Set("switcher", switcher)
	if services != "" {
		q.Set("services", services)
	}
	return base + "/client_interface/json/?" + q.Encode()
}

// get performs one GET with the retry policy, returning the body.
//
// A transient status (5xx, 429) becomes an error inside the attempt so
// the policy retries it; its body is drained and closed here, never
// carried across attempts.
func (ft *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := failsafe.With(ft.retry).WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", ft.config.UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := ft.client.Do(req)
		if err != nil {
			return nil, err
		}
		if transientStatus(resp.StatusCode) {
			drainAndClose(resp)
			return nil, fmt.Errorf("transient status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
