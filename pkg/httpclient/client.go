// Package httpclient provides the rate limited, retrying HTTP client used for
// every Platform and DataHub API call.
package httpclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/telemetry"
)

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultMinInterval = 120 * time.Millisecond
	DefaultTimeout     = 60 * time.Second
)

// DefaultBackoff is the wait before each retry. Its length is the retry count.
var DefaultBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// DefaultRetryableStatuses are retried with backoff.
var DefaultRetryableStatuses = []int{http.StatusTooManyRequests, http.StatusServiceUnavailable}

// Options configures a Client.
type Options struct {
	// Authorization is sent verbatim as the Authorization header, if set.
	Authorization string

	// MinInterval is the minimum spacing between two attempts.
	MinInterval time.Duration

	// Backoff is the wait before each retry of a retryable status.
	Backoff []time.Duration

	// RetryableStatuses are the statuses worth retrying.
	RetryableStatuses []int

	// AuthRejectStatus fails immediately as an authentication error. Default 401.
	AuthRejectStatus int

	// Timeout bounds a single attempt when HTTPClient is nil.
	Timeout time.Duration

	HTTPClient *http.Client
	Logger     *telemetry.Logger
	Metrics    *telemetry.Metrics
	Tracer     *telemetry.Tracer
}

// Client sends requests with a minimum spacing between attempts and retries
// rate limited and overloaded responses on a fixed schedule.
type Client struct {
	authorization    string
	limiter          *rate.Limiter
	backoff          []time.Duration
	retryable        map[int]bool
	authRejectStatus int
	http             *http.Client
	logger           *telemetry.Logger
	metrics          *telemetry.Metrics
	tracer           *telemetry.Tracer
}

// New creates a client, filling unset options with defaults.
func New(opts Options) *Client {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.Backoff == nil {
		opts.Backoff = DefaultBackoff
	}
	if opts.RetryableStatuses == nil {
		opts.RetryableStatuses = DefaultRetryableStatuses
	}
	if opts.AuthRejectStatus == 0 {
		opts.AuthRejectStatus = http.StatusUnauthorized
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NopLogger()
	}

	retryable := make(map[int]bool, len(opts.RetryableStatuses))
	for _, code := range opts.RetryableStatuses {
		retryable[code] = true
	}

	return &Client{
		authorization:    opts.Authorization,
		limiter:          rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		backoff:          append([]time.Duration(nil), opts.Backoff...),
		retryable:        retryable,
		authRejectStatus: opts.AuthRejectStatus,
		http:             opts.HTTPClient,
		logger:           opts.Logger.NewComponentLogger("httpclient"),
		metrics:          opts.Metrics,
		tracer:           opts.Tracer,
	}
}

// BasicAuth returns a Basic Authorization header value for user and secret.
func BasicAuth(user, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+secret))
}

// NewBoomiToken returns the Authorization header for a platform API token.
func NewBoomiToken(user, token string) string {
	return BasicAuth("BOOMI_TOKEN."+user, token)
}

// Authorization returns the Authorization header the client sends.
func (c *Client) Authorization() string {
	return c.authorization
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, opts...)
}

// Post sends a POST request.
func (c *Client) Post(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, url, opts...)
}

// Put sends a PUT request.
func (c *Client) Put(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, url, opts...)
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, url, opts...)
}

// Do sends a request, retrying retryable statuses on the backoff schedule.
//
// Authentication rejections and other failures are returned immediately as
// classified engine errors. Network failures are not retried.
func (c *Client) Do(ctx context.Context, method, url string, opts ...RequestOption) (*Response, error) {
	req := requestConfig{accept: "application/json", headers: make(map[string]string)}
	for _, opt := range opts {
		opt(&req)
	}
	if req.err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("invalid request body for %s %s", method, url), req.err)
	}

	ctx, span := c.tracer.StartHTTPSpan(ctx, method, url)
	defer span.End()

	logger := c.logger.WithFields(map[string]interface{}{"method": method, "url": url})
	attempt := 0

	operation := func() (*Response, error) {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		start := time.Now()
		resp, err := c.send(ctx, method, url, &req)
		if err != nil {
			c.metrics.RecordHTTPRequest(method, 0, time.Since(start))
			return nil, backoff.Permanent(
				engine.NewRemoteRequestError(fmt.Sprintf("%s %s failed", method, url), err).
					WithResponse(0, "", url),
			)
		}
		c.metrics.RecordHTTPRequest(method, resp.StatusCode, time.Since(start))
		logger.WithFields(map[string]interface{}{
			"attempt": attempt,
			"status":  resp.StatusCode,
		}).Debug("HTTP response")

		return c.classify(method, url, resp)
	}

	notify := func(err error, wait time.Duration) {
		status := engine.StatusCode(err)
		c.metrics.RecordHTTPRetry(status)
		logger.WithFields(map[string]interface{}{
			"attempt": attempt,
			"status":  status,
			"wait":    wait.String(),
		}).Warn("Retryable response, backing off")
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(newScheduleBackOff(c.backoff)),
		backoff.WithNotify(notify),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		telemetry.RecordError(span, err)
		if e, ok := asEngineError(err); ok {
			c.metrics.RecordError(string(e.Kind))
		}
		return nil, err
	}
	span.SetAttributes(telemetry.AttrHTTPStatus.Int(resp.StatusCode))
	telemetry.RecordSuccess(span)
	return resp, nil
}

// classify maps a response to a result. Only retryable statuses return a
// non-permanent error.
func (c *Client) classify(method, url string, resp *Response) (*Response, error) {
	body := resp.Text()
	switch {
	case resp.StatusCode == c.authRejectStatus:
		return nil, backoff.Permanent(
			engine.NewAuthenticationError(fmt.Sprintf("%s %s: credentials rejected", method, url), nil).
				WithCode(engine.ErrCodeUnauthorized).
				WithResponse(resp.StatusCode, body, url),
		)
	case c.retryable[resp.StatusCode]:
		return nil, engine.NewTransientRemoteError(
			fmt.Sprintf("%s %s: still failing after %d retries", method, url, len(c.backoff)), nil,
		).WithCode(engine.ErrCodeRateLimited).WithResponse(resp.StatusCode, body, url)
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(
			engine.NewRemoteRequestError(fmt.Sprintf("%s %s failed", method, url), nil).
				WithResponse(resp.StatusCode, body, url),
		)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, url string, req *requestConfig) (*Response, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Accept", req.accept)
	if req.body != nil && req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if c.authorization != "" {
		httpReq.Header.Set("Authorization", c.authorization)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode:  httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
		Body:        data,
		acceptXML:   req.acceptXML,
	}, nil
}

// scheduleBackOff waits the given durations in order, then stops.
type scheduleBackOff struct {
	schedule []time.Duration
	next     int
}

func newScheduleBackOff(schedule []time.Duration) *scheduleBackOff {
	return &scheduleBackOff{schedule: schedule}
}

// NextBackOff implements backoff.BackOff.
func (s *scheduleBackOff) NextBackOff() time.Duration {
	if s.next >= len(s.schedule) {
		return backoff.Stop
	}
	d := s.schedule[s.next]
	s.next++
	return d
}

// Reset implements backoff.BackOff.
func (s *scheduleBackOff) Reset() {
	s.next = 0
}
