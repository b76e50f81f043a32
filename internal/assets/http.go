package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxFileSize caps a single resource when no limit is configured (64MB).
const DefaultMaxFileSize = 64 << 20

// HTTPSource fetches resources with GET requests relative to a base URL.
type HTTPSource struct {
	base    *url.URL
	client  *http.Client
	headers map[string]string
	maxSize int64
	logger  *zap.Logger
}

// HTTPOption is a functional option for configuring an HTTPSource.
type HTTPOption func(*httpConfig)

type httpConfig struct {
	transport    http.RoundTripper
	headers      map[string]string
	timeout      time.Duration
	maxRedirects int
	maxSize      int64
}

func defaultHTTPConfig() httpConfig {
	return httpConfig{
		timeout:      30 * time.Second,
		maxRedirects: 10,
		maxSize:      DefaultMaxFileSize,
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *httpConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRedirects sets the maximum number of redirects to follow.
func WithMaxRedirects(n int) HTTPOption {
	return func(c *httpConfig) {
		if n >= 0 {
			c.maxRedirects = n
		}
	}
}

// WithMaxSize sets the maximum response body size.
func WithMaxSize(size int64) HTTPOption {
	return func(c *httpConfig) {
		if size > 0 {
			c.maxSize = size
		}
	}
}

// WithHeaders adds headers to every request.
func WithHeaders(headers map[string]string) HTTPOption {
	return func(c *httpConfig) {
		c.headers = headers
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) HTTPOption {
	return func(c *httpConfig) {
		c.transport = rt
	}
}

// NewHTTPSource creates a source rooted at baseURL, which must be an absolute
// http or https URL. A missing trailing slash is added so relative paths
// resolve below the base path.
func NewHTTPSource(baseURL string, logger *zap.Logger, opts ...HTTPOption) (*HTTPSource, error) {
	cfg := defaultHTTPConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL '%s': %w", baseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL '%s': scheme must be http or https", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	return &HTTPSource{
		base:    base,
		client:  newHTTPClient(cfg),
		headers: cfg.headers,
		maxSize: cfg.maxSize,
		logger:  logger.With(zap.String("component", "assets-http")),
	}, nil
}

func newHTTPClient(cfg httpConfig) *http.Client {
	transport := cfg.transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	maxRedirects := cfg.maxRedirects
	return &http.Client{
		Timeout:   cfg.timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// Name returns the base URL.
func (s *HTTPSource) Name() string {
	return s.base.String()
}

// Resolve returns the absolute URL for path.
func (s *HTTPSource) Resolve(path string) (*url.URL, error) {
	if path == "" {
		return nil, &InvalidPathError{Path: path, Reason: "empty path"}
	}

	ref, err := url.Parse(path)
	if err != nil {
		return nil, &InvalidPathError{Path: path, Reason: err.Error()}
	}

	if ref.IsAbs() {
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return nil, &InvalidPathError{Path: path, Reason: "unsupported scheme " + ref.Scheme}
		}
		return ref, nil
	}

	return s.base.ResolveReference(ref), nil
}

// Load performs one GET request. Only status 200 is a success.
func (s *HTTPSource) Load(ctx context.Context, path string) ([]byte, error) {
	target, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &InvalidPathError{Path: path, Reason: err.Error()}
	}

	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, &StatusError{URL: target.String(), StatusCode: resp.StatusCode}
	}

	if resp.ContentLength > s.maxSize {
		return nil, &TooLargeError{Path: path, Size: resp.ContentLength, Limit: s.maxSize}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", target, err)
	}

	if int64(len(data)) > s.maxSize {
		return nil, &TooLargeError{Path: path, Size: -1, Limit: s.maxSize}
	}

	s.logger.Debug("Fetched resource",
		zap.String("url", target.String()),
		zap.Int("size", len(data)),
		zap.Duration("latency", time.Since(start)),
	)

	return data, nil
}
