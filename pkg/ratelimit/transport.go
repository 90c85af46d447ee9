package ratelimit

import (
	"net/http"
)

// ThrottledTransport is an HTTP transport waiting on a Limiter before every request.
type ThrottledTransport struct {
	roundTripper http.RoundTripper
	limiter      Limiter
}

// RoundTrip implements the RoundTripper interface for ThrottledTransport.
func (t *ThrottledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if _, err := t.limiter.Take(req.Context()); err != nil {
		return nil, err
	}

	return t.roundTripper.RoundTrip(req)
}

// NewThrottledTransport wraps transportWrap so that requests are paced by l.
// A nil transportWrap defaults to http.DefaultTransport.
func NewThrottledTransport(l Limiter, transportWrap http.RoundTripper) http.RoundTripper {
	if transportWrap == nil {
		transportWrap = http.DefaultTransport
	}

	return &ThrottledTransport{
		roundTripper: transportWrap,
		limiter:      l,
	}
}
