// Package lookup provides the CNPJ registry client. Each call issues exactly one
// HTTP GET and converts every transport or protocol failure into an Absent result,
// so callers never have to handle errors on the lookup path.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/cnpj-batch-client/pkg/logging"
	"github.com/Sternrassler/cnpj-batch-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public ReceitaWS endpoint.
const DefaultBaseURL = "https://www.receitaws.com.br"

// maxBodyBytes bounds how much of a response body is decoded.
const maxBodyBytes = 1 << 20

// Prometheus metrics for lookup operations.
var (
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cnpj_lookups_total",
		Help: "Total CNPJ lookups by outcome",
	}, []string{"outcome"})

	lookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cnpj_lookup_duration_seconds",
		Help:    "CNPJ lookup duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	lookupErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cnpj_lookup_errors_total",
		Help: "Total failed CNPJ lookups by error class",
	}, []string{"class"})
)

// Client resolves a single CNPJ.
type Client interface {
	Lookup(ctx context.Context, cnpj string) Result
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, cnpj string) Result

// Lookup implements Client.
func (f ClientFunc) Lookup(ctx context.Context, cnpj string) Result {
	return f(ctx, cnpj)
}

// Notifier receives a diagnostic for every failed lookup. It is called
// synchronously on the lookup path and must return quickly.
type Notifier func(cnpj string, err error)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the registry. Requests go to {BaseURL}/v1/cnpj/{cnpj}.
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout bounds a single request, including reading the body.
	Timeout time.Duration

	// RequestsPerMinute caps outbound requests client-side. 0 disables the cap.
	RequestsPerMinute int

	// Throttle, when set, holds requests while the registry reports its window exhausted.
	Throttle *ratelimit.Tracker

	// Notifier is optional.
	Notifier Notifier
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: "cnpj-batch-client/0.1.0",
		Timeout:   10 * time.Second,
	}
}

// HTTPClient is the Client backed by the registry's HTTP API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	config     Config
	logger     zerolog.Logger
}

// New creates a new HTTP lookup client.
func New(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	if cfg.RequestsPerMinute < 0 {
		return nil, fmt.Errorf("requests_per_minute must be >= 0 (got %d)", cfg.RequestsPerMinute)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		limiter: limiter,
		config:  cfg,
		logger:  logging.NewLogger(logging.ComponentLookup),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *HTTPClient) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetLogger replaces the component logger.
func (c *HTTPClient) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// URL returns the registry URL queried for cnpj.
func (c *HTTPClient) URL(cnpj string) string {
	return c.baseURL + "/v1/cnpj/" + url.PathEscape(cnpj)
}

// Lookup implements Client.
func (c *HTTPClient) Lookup(ctx context.Context, cnpj string) Result {
	startTime := time.Now()
	defer func() {
		lookupDuration.Observe(time.Since(startTime).Seconds())
	}()

	if cnpj == "" {
		return c.fail(&Error{CNPJ: cnpj, Class: ErrorClassClient, Message: "no request sent", Err: ErrEmptyIdentifier})
	}

	// Pacing happens before the request deadline starts.
	if c.config.Throttle != nil {
		if err := c.config.Throttle.Wait(ctx); err != nil {
			return c.fail(&Error{CNPJ: cnpj, Class: ErrorClassCancelled, Message: "throttle wait interrupted", Err: err})
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return c.fail(&Error{CNPJ: cnpj, Class: ErrorClassCancelled, Message: "request pacing interrupted", Err: err})
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.URL(cnpj), nil)
	if err != nil {
		return c.fail(&Error{CNPJ: cnpj, Class: ErrorClassClient, Message: "create request", Err: err})
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("cnpj", cnpj).
		Str("url", req.URL.String()).
		Msg("Executing registry request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(&Error{CNPJ: cnpj, Class: c.classifyError(ctx, nil, err), Message: "request failed", Err: err})
	}
	defer resp.Body.Close()

	if c.config.Throttle != nil {
		if err := c.config.Throttle.UpdateFromResponse(ctx, resp.StatusCode, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update throttle state from headers")
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return c.fail(&Error{
			CNPJ:       cnpj,
			StatusCode: resp.StatusCode,
			Class:      c.classifyError(ctx, resp, nil),
			Message:    resp.Status,
		})
	}

	data, err := decodeObject(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		class := ErrorClassDecode
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
			class = c.classifyError(ctx, nil, err)
		}
		return c.fail(&Error{CNPJ: cnpj, StatusCode: resp.StatusCode, Class: class, Message: "decode body", Err: err})
	}

	lookupsTotal.WithLabelValues("present").Inc()
	c.logger.Debug().
		Str("cnpj", cnpj).
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(startTime)).
		Int("fields", len(data)).
		Msg("Registry lookup succeeded")

	return Present(data)
}

// fail records a failed lookup and converts it to an Absent result.
func (c *HTTPClient) fail(lookupErr *Error) Result {
	lookupsTotal.WithLabelValues("absent").Inc()
	lookupErrorsTotal.WithLabelValues(string(lookupErr.Class)).Inc()

	c.logger.Warn().
		Str("cnpj", lookupErr.CNPJ).
		Int("status_code", lookupErr.StatusCode).
		Str("error_class", string(lookupErr.Class)).
		Err(lookupErr.Err).
		Msg("Registry lookup failed")

	if c.config.Notifier != nil {
		c.config.Notifier(lookupErr.CNPJ, lookupErr)
	}

	return Absent(lookupErr)
}

// classifyError categorizes a failure for observability.
// parent is the caller's context, used to tell run cancellation from request timeouts.
func (c *HTTPClient) classifyError(parent context.Context, resp *http.Response, err error) ErrorClass {
	if err != nil {
		if parent != nil && errors.Is(parent.Err(), context.Canceled) {
			return ErrorClassCancelled
		}
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return ErrorClassTimeout
		}
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// decodeObject decodes a body holding exactly one JSON object, keeping numbers
// in their literal form. Anything but whitespace after the object is rejected.
func decodeObject(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	data, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrNotJSONObject
	}

	var extra any
	err := dec.Decode(&extra)
	if err == io.EOF {
		return data, nil
	}
	var syntaxErr *json.SyntaxError
	if err == nil || errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, ErrTrailingData
	}
	return nil, err
}
