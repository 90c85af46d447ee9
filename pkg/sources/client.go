package sources

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/paulbellamy/ratecounter"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/helvethink/dora-exporter/pkg/ratelimit"
)

const (
	userAgent  = "dora-exporter"
	tracerName = "dora-exporter"

	defaultTimeout = 30 * time.Second
)

// ClientConfig holds the transport settings shared by every source.
type ClientConfig struct {
	URL              string            // Base URL of the upstream API
	DisableTLSVerify bool              // Whether to skip TLS verification (e.g., for self-signed certs)
	Timeout          time.Duration     // Per request timeout
	RateLimiter      ratelimit.Limiter // Optional limiter pacing the requests
	UserAgentVersion string            // Appended to the user agent
}

// Client is the HTTP plumbing shared by the sources: TLS settings, rate limiting, tracing,
// and request accounting.
type Client struct {
	BaseURL    *url.URL
	HTTPClient *http.Client
	UserAgent  string

	RateCounter       *ratecounter.RateCounter // Requests sent over the last second
	RequestsCounter   atomic.Uint64            // Total requests sent
	requestsLimit     int                      // Upstream quota, as advertised by the last response
	requestsRemaining int                      // Requests left in the upstream quota, as advertised by the last response
	mutex             sync.RWMutex
}

// NewHTTPTransport clones the default transport, preserving proxy settings, and optionally disables TLS verification.
func NewHTTPTransport(disableTLSVerify bool) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: disableTLSVerify}

	return transport
}

// NewClient creates a Client. wrap, when set, decorates the rate limited transport, for instance to add authentication.
func NewClient(cfg ClientConfig, wrap func(http.RoundTripper) http.RoundTripper) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", cfg.URL, err)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &Client{
		BaseURL:     u,
		UserAgent:   userAgent,
		RateCounter: ratecounter.NewRateCounter(time.Second),
	}

	if cfg.UserAgentVersion != "" {
		c.UserAgent = fmt.Sprintf("%s-%s", userAgent, cfg.UserAgentVersion)
	}

	var rt http.RoundTripper = NewHTTPTransport(cfg.DisableTLSVerify)
	if cfg.RateLimiter != nil {
		rt = ratelimit.NewThrottledTransport(cfg.RateLimiter, rt)
	}

	rt = &accountingTransport{next: rt, client: c}

	if wrap != nil {
		rt = wrap(rt)
	}

	c.HTTPClient = &http.Client{
		Transport: otelhttp.NewTransport(rt),
		Timeout:   cfg.Timeout,
	}

	return c, nil
}

// accountingTransport counts outgoing requests and records the quota advertised by upstream.
type accountingTransport struct {
	next   http.RoundTripper
	client *Client
}

func (t *accountingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.client.RateCounter.Incr(1)
	t.client.RequestsCounter.Add(1)

	resp, err := t.next.RoundTrip(req)
	if err == nil {
		t.client.recordQuota(resp.Header)
	}

	return resp, err
}

// recordQuota parses the rate limit headers used by GitHub and GitLab.
func (c *Client) recordQuota(h http.Header) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, name := range []string{"X-RateLimit-Remaining", "RateLimit-Remaining"} {
		if v := h.Get(name); v != "" {
			c.requestsRemaining, _ = strconv.Atoi(v)
			break
		}
	}

	for _, name := range []string{"X-RateLimit-Limit", "RateLimit-Limit"} {
		if v := h.Get(name); v != "" {
			c.requestsLimit, _ = strconv.Atoi(v)
			break
		}
	}
}

// Quota returns the upstream request limit and the remaining requests, as advertised by the last response.
func (c *Client) Quota() (limit, remaining int) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.requestsLimit, c.requestsRemaining
}

// Usage summarizes the requests sent by a source.
type Usage struct {
	RequestsCount     uint64
	RequestsPerSecond int64
	RequestsLimit     int
	RequestsRemaining int
}

// Usage returns the request accounting of the client.
func (c *Client) Usage() Usage {
	limit, remaining := c.Quota()

	return Usage{
		RequestsCount:     c.RequestsCounter.Load(),
		RequestsPerSecond: c.RateCounter.Rate(),
		RequestsLimit:     limit,
		RequestsRemaining: remaining,
	}
}

// endpoint resolves path against the base URL.
func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.BaseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path

	if query != nil {
		u.RawQuery = query.Encode()
	}

	return u.String()
}

// getJSON performs a GET request and decodes the JSON response body into out.
// Failures are returned as *FetchError tagged with the source name.
func (c *Client) getJSON(ctx context.Context, source, path string, query url.Values, header http.Header, out interface{}) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "sources:getJSON")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, query), nil)
	if err != nil {
		return &FetchError{Source: source, Kind: ErrorKindUpstream, Err: err}
	}

	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return newNetworkError(source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return newStatusError(source, resp.StatusCode, fmt.Errorf("%s %s: %s", req.Method, path, strings.TrimSpace(string(body))))
	}

	if out == nil {
		return nil
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{Source: source, Kind: ErrorKindUpstream, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}

	return nil
}

// ReadinessCheck wraps a source health check into a healthcheck.Check.
func ReadinessCheck(ctx context.Context, name string, healthy func(ctx context.Context) bool) healthcheck.Check {
	return func() error {
		if !healthy(ctx) {
			return fmt.Errorf("%s is not reachable", name)
		}

		return nil
	}
}
