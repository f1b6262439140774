package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/tracing"
)

var (
	// ErrNotHTML is returned with a complete Response whose body is not a page
	ErrNotHTML = errors.New("upstream: response is not HTML")
	// ErrTooLarge is returned when the body exceeds Config.MaxBodyBytes
	ErrTooLarge = errors.New("upstream: response body too large")
)

// StatusError reports an origin server failure. It counts against the
// breaker but the response is still handed to the caller.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return "upstream: status " + strconv.Itoa(e.Status)
}

// Config configures the origin client
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	Retries           int
	RetryWaitMin      time.Duration
	RetryWaitMax      time.Duration
	RequestsPerSecond int
	MaxBodyBytes      int64
	BreakerFailures   uint32
	BreakerTimeout    time.Duration
	UserAgent         string
}

// DefaultConfig returns the client defaults
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8081",
		Timeout:         15 * time.Second,
		Retries:         2,
		RetryWaitMin:    100 * time.Millisecond,
		RetryWaitMax:    2 * time.Second,
		MaxBodyBytes:    10 << 20,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
		UserAgent:       "recaptcha-defer/1.0",
	}
}

// Request is an outgoing origin request
type Request struct {
	Method string
	// URI is the path and query, relative to the base URL
	URI    string
	Header http.Header
	Body   io.Reader
	// ClientIP and Host are forwarded as X-Forwarded-For and X-Forwarded-Host
	ClientIP string
	Host     string
	Scheme   string
}

// RequestFrom builds a Request from an inbound proxy request
func RequestFrom(r *http.Request) Request {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	clientIP := r.RemoteAddr
	if i := strings.LastIndexByte(clientIP, ':'); i > 0 {
		clientIP = clientIP[:i]
	}
	return Request{
		Method:   r.Method,
		URI:      r.URL.RequestURI(),
		Header:   r.Header,
		Body:     r.Body,
		ClientIP: clientIP,
		Host:     r.Host,
		Scheme:   scheme,
	}
}

// Response is a decoded origin response
type Response struct {
	Status int
	Header http.Header
	// Body is decompressed, and transcoded to UTF-8 for HTML
	Body []byte
	// MediaType is the declared or sniffed media type without parameters
	MediaType string
	// Charset is the charset the origin used before transcoding
	Charset string
}

// IsHTML reports whether the body is a page the optimizer can rewrite
func (r *Response) IsHTML() bool {
	return isHTML(r.MediaType)
}

// Client fetches pages from the origin with retries, rate limiting and a
// circuit breaker per host
type Client struct {
	base     *url.URL
	resty    *resty.Client
	limiter  *rate.Limiter
	breakers *resilience.Group
	maxBody  int64
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// New creates an origin client
func New(cfg Config, opts ...Option) (*Client, error) {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = def.RetryWaitMin
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = def.RetryWaitMax
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" || base.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: need http(s)://host", cfg.BaseURL)
	}

	c := &Client{
		base:    base,
		limiter: rate.NewLimiter(rate.Inf, 0),
		maxBody: cfg.MaxBodyBytes,
		logger:  zap.NewNop(),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond)
	}
	for _, opt := range opts {
		opt(c)
	}

	// Retries happen in the transport so retried bodies are drained there
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.CheckRetry = checkRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = retryLogger{c.logger.Sugar()}

	c.resty = resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(strings.TrimRight(base.String(), "/")).
		SetTimeout(cfg.Timeout).
		SetDoNotParseResponse(true).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})).
		SetHeader("User-Agent", cfg.UserAgent)

	c.breakers = resilience.NewGroup(resilience.Settings{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: resilience.Trips(cfg.BreakerFailures),
		OnStateChange: func(name string, from, to resilience.State) {
			c.logger.Warn("Upstream breaker state changed",
				zap.String("host", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return c, nil
}

// Option configures a Client
type Option func(*Client)

// WithMetrics records upstream calls
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// WithLogger sets the client's logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// BaseURL returns the origin URL
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Breakers returns the state of each origin host's breaker
func (c *Client) Breakers() map[string]string {
	return c.breakers.States()
}

// Fetch sends req to the origin and decodes the response. For non-HTML
// bodies the decoded response is returned together with ErrNotHTML.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.URI = originURI(req.URI)

	if err := c.limiter.Wait(ctx); err != nil {
		c.recordError("rate_limit")
		return nil, fmt.Errorf("upstream rate limit: %w", err)
	}

	if !idempotent(req.Method) {
		ctx = context.WithValue(ctx, noRetryKey{}, true)
	}

	var timer *monitoring.Timer
	if c.metrics != nil {
		timer = monitoring.NewTimer(c.metrics)
	}

	var raw *resty.Response
	err := c.breakers.For(c.base.Host).Execute(ctx, func(ctx context.Context) error {
		var err error
		raw, err = c.newRequest(ctx, req).Execute(req.Method, req.URI)
		if err != nil {
			return err
		}
		if raw.StatusCode() >= 500 {
			return &StatusError{Status: raw.StatusCode()}
		}
		return nil
	})

	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		c.recordError("breaker_open")
		if timer != nil {
			timer.Stop("breaker")
		}
		return nil, fmt.Errorf("upstream %s unavailable: %w", c.base.Host, err)
	case err != nil:
		c.recordError("transport")
		if timer != nil {
			timer.Stop("error")
		}
		return nil, fmt.Errorf("upstream %s %s: %w", req.Method, req.URI, err)
	}

	body := raw.RawBody()
	defer body.Close()
	if timer != nil {
		timer.Stop(strconv.Itoa(raw.StatusCode()))
	}

	resp, err := c.decode(raw.StatusCode(), raw.Header(), body)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			c.recordError("too_large")
		} else {
			c.recordError("decode")
		}
		return nil, err
	}

	c.logger.Debug("Upstream fetched",
		zap.String("method", req.Method),
		zap.String("uri", req.URI),
		zap.Int("status", resp.Status),
		zap.String("media_type", resp.MediaType),
		zap.String("charset", resp.Charset),
		zap.Int("bytes", len(resp.Body)),
	)

	if !resp.IsHTML() {
		return resp, ErrNotHTML
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, req Request) *resty.Request {
	r := c.resty.R().SetContext(ctx)

	for key, values := range req.Header {
		if skipRequestHeader(key) {
			continue
		}
		for _, v := range values {
			r.Header.Add(key, v)
		}
	}
	r.SetHeader("Accept-Encoding", acceptEncoding)

	if req.ClientIP != "" {
		prior := req.Header.Get("X-Forwarded-For")
		if prior != "" {
			r.SetHeader("X-Forwarded-For", prior+", "+req.ClientIP)
		} else {
			r.SetHeader("X-Forwarded-For", req.ClientIP)
		}
	}
	if req.Host != "" {
		r.SetHeader("X-Forwarded-Host", req.Host)
	}
	if req.Scheme != "" {
		r.SetHeader("X-Forwarded-Proto", req.Scheme)
	}
	tracing.InjectTraceContext(ctx, r.Header)

	if req.Body != nil && req.Body != http.NoBody {
		r.SetBody(req.Body)
	}
	return r
}

func (c *Client) recordError(kind string) {
	if c.metrics != nil {
		c.metrics.RecordUpstreamError(kind)
	}
}

// hopHeaders are connection-scoped and never forwarded
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func skipRequestHeader(key string) bool {
	key = http.CanonicalHeaderKey(key)
	switch key {
	case "Host", "Content-Length", "Accept-Encoding", "X-Forwarded-For",
		"X-Forwarded-Host", "X-Forwarded-Proto", tracing.HeaderTraceID, tracing.HeaderSpanID:
		return true
	}
	return hopHeaders[key]
}

// ResponseHeader returns the origin headers that may be copied to the
// client once the body has been decoded
func ResponseHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for key, values := range h {
		key = http.CanonicalHeaderKey(key)
		if hopHeaders[key] || key == "Content-Length" || key == "Content-Encoding" {
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	return out
}

// originURI keeps the path and query of uri so an absolute-form request
// target cannot redirect the fetch to another host
func originURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "/"
	}
	if u.IsAbs() || u.Host != "" || !strings.HasPrefix(uri, "/") {
		return u.RequestURI()
	}
	return uri
}

func idempotent(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

type noRetryKey struct{}

// checkRetry applies the default policy to idempotent requests only
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if noRetry, _ := ctx.Value(noRetryKey{}).(bool); noRetry {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
