package httpclient

import (
	"net/http"
	"time"

	"opsbot/internal/shared/logging"
	"opsbot/internal/shared/utils/id"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "opsbot/1.0"
)

// New returns an http.Client for calls to chat platforms, image backends
// and artifact hosts. Proxy settings come from the environment.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &taggingTransport{base: Transport(), logger: logging.OrNop(logger)},
	}
}

// Transport returns a clone of the default transport with bounded idle
// connections per host.
func Transport() *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{Proxy: http.ProxyFromEnvironment, MaxIdleConnsPerHost: 8}
	}
	transport := base.Clone()
	transport.MaxIdleConnsPerHost = 8
	return transport
}

// taggingTransport sets the user agent, forwards the turn's log id and logs
// slow or failed requests.
type taggingTransport struct {
	base   http.RoundTripper
	logger logging.Logger
}

func (t *taggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	logID := id.LogIDFromContext(req.Context())
	if req.Header.Get("User-Agent") == "" || logID != "" {
		req = req.Clone(req.Context())
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", userAgent)
		}
		if logID != "" {
			req.Header.Set("X-Log-Id", logID)
		}
	}

	logger := logging.FromContext(req.Context(), t.logger)
	started := time.Now()
	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(started)
	switch {
	case err != nil:
		logger.Warn("%s %s failed after %s: %v", req.Method, req.URL.Host, elapsed, err)
	case resp.StatusCode >= http.StatusInternalServerError:
		logger.Warn("%s %s returned %d after %s", req.Method, req.URL.Host, resp.StatusCode, elapsed)
	case elapsed > 10*time.Second:
		logger.Info("%s %s slow: %s", req.Method, req.URL.Host, elapsed)
	}
	return resp, err
}
