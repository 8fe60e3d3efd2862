// Package client provides the NVD CVE API client: one rate-limited,
// validated request per call, with bounded retry on transient failures.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/cve-sync/pkg/record"
)

// DefaultBaseURL is the NVD CVE API 2.0 endpoint.
const DefaultBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

// APIKeyHeader carries the NVD credential token.
const APIKeyHeader = "apiKey"

// Prometheus metrics for NVD client operations.
var (
	nvdRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvd_requests_total",
		Help: "Total NVD requests by status",
	}, []string{"status"})

	nvdRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nvd_request_duration_seconds",
		Help:    "NVD request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	nvdErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvd_errors_total",
		Help: "Total NVD errors by class",
	}, []string{"class"})
)

// Limiter gates every outgoing request.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the CVE listing endpoint.
	BaseURL string

	// APIKey is sent in the apiKey header when non-empty.
	APIKey string

	// UserAgent header value.
	UserAgent string

	// EnvelopeKey wraps each record in the vulnerabilities array.
	EnvelopeKey string

	// Timeout per HTTP attempt.
	Timeout time.Duration

	// Retry: RetryLimit extra attempts for transient errors, starting at
	// RetryDelay and doubling up to MaxRetryDelay.
	RetryLimit    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		UserAgent:     "cve-sync/0.1.0",
		EnvelopeKey:   record.DefaultEnvelopeKey,
		Timeout:       60 * time.Second,
		RetryLimit:    3,
		RetryDelay:    10 * time.Second,
		MaxRetryDelay: 60 * time.Second,
	}
}

// Params are the inputs of one page request. LastModStart/LastModEnd are
// sent only when non-empty.
type Params struct {
	ResultsPerPage int
	StartIndex     int
	LastModStart   string
	LastModEnd     string
}

// Values encodes the params as query values.
func (p Params) Values() url.Values {
	v := url.Values{}
	v.Set("resultsPerPage", strconv.Itoa(p.ResultsPerPage))
	v.Set("startIndex", strconv.Itoa(p.StartIndex))
	if p.LastModStart != "" {
		v.Set("lastModStartDate", p.LastModStart)
	}
	if p.LastModEnd != "" {
		v.Set("lastModEndDate", p.LastModEnd)
	}
	return v
}

// Client is the NVD client.
type Client struct {
	httpClient *http.Client
	limiter    Limiter
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a new NVD client. Every request acquires limiter first.
func New(cfg Config, limiter Limiter, logger zerolog.Logger) (*Client, error) {
	if limiter == nil {
		return nil, fmt.Errorf("%w: rate limiter is required", ErrInvalidConfig)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", ErrInvalidConfig, cfg.BaseURL)
	}

	if cfg.RetryLimit < 0 {
		return nil, fmt.Errorf("%w: retry_limit must be >= 0 (got %d)", ErrInvalidConfig, cfg.RetryLimit)
	}

	if cfg.EnvelopeKey == "" {
		cfg.EnvelopeKey = record.DefaultEnvelopeKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		baseURL: base,
		config:  cfg,
		logger:  logger,
	}, nil
}

// BuildURL returns the full request URL for params. Query keys are sorted,
// so the same params always yield the same URL.
func (c *Client) BuildURL(params Params) string {
	u := *c.baseURL
	q := u.Query()
	for key, values := range params.Values() {
		q[key] = values
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetch retrieves one result page. Non-200 responses fail with *HTTPError,
// malformed bodies with *ParseError. Transient failures are retried up to
// the configured limit, each attempt passing through the rate limiter.
func (c *Client) Fetch(ctx context.Context, params Params) (*Page, error) {
	fullURL := c.BuildURL(params)
	retryConfig := RetryConfigFromLimit(c.config.RetryLimit, c.config.RetryDelay, c.config.MaxRetryDelay)

	var page *Page
	retryLog := c.logger.With().Str("url", fullURL).Logger()
	err := retryWithBackoff(ctx, retryConfig, retryLog, func() error {
		var fetchErr error
		page, fetchErr = c.fetchOnce(ctx, fullURL)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// fetchOnce performs a single attempt.
func (c *Client) fetchOnce(ctx context.Context, fullURL string) (*Page, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquire rate limit: %w", err)
	}

	startTime := time.Now()
	defer func() {
		nvdRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set(APIKeyHeader, c.config.APIKey)
	}

	c.logger.Debug().Str("url", fullURL).Msg("Executing NVD request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("url", fullURL).Msg("HTTP request failed")
		nvdErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		nvdRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, &HTTPError{URL: fullURL, ErrorClass: ErrorClassNetwork, Err: err}
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	nvdRequestsTotal.WithLabelValues(status).Inc()

	if resp.StatusCode != http.StatusOK {
		errClass := classifyStatus(resp.StatusCode)
		nvdErrorsTotal.WithLabelValues(string(errClass)).Inc()
		c.logger.Warn().
			Str("url", fullURL).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("NVD request error")
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: fullURL, ErrorClass: errClass}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		nvdErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &HTTPError{URL: fullURL, ErrorClass: ErrorClassNetwork, Err: fmt.Errorf("read body: %w", err)}
	}

	page, err := decodePage(body, c.config.EnvelopeKey)
	if err != nil {
		nvdErrorsTotal.WithLabelValues(string(ErrorClassParse)).Inc()
		c.logger.Error().Err(err).Str("url", fullURL).Msg("Malformed NVD response")
		return nil, &ParseError{URL: fullURL, Err: err}
	}

	c.logger.Debug().
		Str("url", fullURL).
		Int("total_results", page.TotalResults).
		Int("records", len(page.Records)).
		Msg("NVD page received")

	return page, nil
}
