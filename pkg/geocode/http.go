package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/coalition-geo/internal/resilience"
)

// HTTPOption configures the public HTTP providers.
type HTTPOption func(*httpBackend)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(b *httpBackend) {
		if hc != nil {
			b.client = hc
		}
	}
}

// WithRateLimit caps requests per second. Zero or less disables limiting.
func WithRateLimit(rps float64) HTTPOption {
	return func(b *httpBackend) {
		if rps <= 0 {
			b.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBaseURL points the provider at a different endpoint.
func WithBaseURL(u string) HTTPOption {
	return func(b *httpBackend) {
		if u != "" {
			b.baseURL = u
		}
	}
}

// WithAmbiguityMeters sets the candidate spread treated as ambiguous.
func WithAmbiguityMeters(m float64) HTTPOption {
	return func(b *httpBackend) {
		if m > 0 {
			b.ambiguityMeters = m
		}
	}
}

type httpBackend struct {
	source          string
	baseURL         string
	client          *http.Client
	limiter         *rate.Limiter
	ambiguityMeters float64
}

func newHTTPBackend(source, baseURL string, rps float64, opts []HTTPOption) httpBackend {
	b := httpBackend{
		source:          source,
		baseURL:         baseURL,
		client:          &http.Client{Timeout: 30 * time.Second},
		ambiguityMeters: DefaultAmbiguityMeters,
	}
	WithRateLimit(rps)(&b)
	for _, o := range opts {
		o(&b)
	}
	return b
}

// getJSON performs a rate-limited GET and decodes a 200 body into out. A
// non-nil *Result means the call ended in a transient or rejected outcome.
func (b *httpBackend) getJSON(ctx context.Context, reqURL string, out any) *Result {
	if err := b.limiter.Wait(ctx); err != nil {
		return transient(b.source, eris.Wrapf(err, "%s: rate limit wait", b.source))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return rejected(b.source, eris.Wrapf(err, "%s: build request", b.source))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return transient(b.source, eris.Wrapf(err, "%s: request", b.source))
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return transient(b.source, eris.Wrapf(err, "%s: read body", b.source))
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("%s: returned status %d", b.source, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return transient(b.source, resilience.NewTransientError(err, resp.StatusCode))
		}
		return rejected(b.source, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		// Truncated or HTML error pages from an overloaded upstream.
		return transient(b.source, eris.Wrapf(err, "%s: parse response", b.source))
	}
	return nil
}
