// Package httpclient is the outbound HTTP client used to reach the main API.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	randv2 "math/rand/v2"
	stdhttp "net/http"
	"net/url"
	"strconv"
	"time"

	"medportal/pkg/retry"
)

// Client wraps http.Client with request logging and retries of idempotent requests.
type Client struct {
	hc            *stdhttp.Client
	log           *slog.Logger
	retries       int
	baseBackoff   time.Duration
	maxBackoff    time.Duration
	headers       map[string]string
	retryMethods  map[string]struct{}
	maxReplayBody int64
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) {
		if t > 0 {
			c.hc.Timeout = t
		}
	}
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRetries sets the number of retries after the first attempt.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = max(n, 0)
		if backoff > 0 {
			c.baseBackoff = backoff
		}
	}
}

// WithMaxBackoff limits exponential backoff growth.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) { c.maxBackoff = d }
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

// WithTransport sets custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// WithRetryMethods adds methods allowed for retries.
func WithRetryMethods(methods ...string) Option {
	return func(c *Client) {
		for _, m := range methods {
			c.retryMethods[m] = struct{}{}
		}
	}
}

// ErrReplayBodyTooLarge indicates request body exceeds replay limit.
var ErrReplayBodyTooLarge = errors.New("http: body too large for replay")

// New creates configured Client.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConnsPerHost = 32
	tr.IdleConnTimeout = 90 * time.Second
	tr.ResponseHeaderTimeout = 10 * time.Second

	c := &Client{
		hc:            &stdhttp.Client{Timeout: 15 * time.Second, Transport: tr},
		log:           slog.Default(),
		baseBackoff:   200 * time.Millisecond,
		maxBackoff:    5 * time.Second,
		headers:       map[string]string{"Accept": "application/json"},
		maxReplayBody: 1 << 20,
		retryMethods: map[string]struct{}{
			stdhttp.MethodGet:     {},
			stdhttp.MethodHead:    {},
			stdhttp.MethodOptions: {},
			stdhttp.MethodPut:     {},
			stdhttp.MethodDelete:  {},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// retryAfter parses Retry-After header value.
func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if t, err := stdhttp.ParseTime(h); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}

func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, b, 512<<10)
	_ = b.Close()
}

// shouldRetry reports whether the outcome of an attempt is transient.
// Only gateway errors and throttling are retried; other statuses carry
// an answer of the main API and are returned to the caller.
func shouldRetry(resp *stdhttp.Response, err error) (time.Duration, bool) {
	if err != nil {
		return 0, retry.DefaultRetryable(err)
	}
	switch resp.StatusCode {
	case stdhttp.StatusTooManyRequests, stdhttp.StatusServiceUnavailable:
		return retryAfter(resp.Header.Get("Retry-After")), true
	case stdhttp.StatusBadGateway, stdhttp.StatusGatewayTimeout:
		return 0, true
	}
	return 0, false
}

func (c *Client) bufferBody(req *stdhttp.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(io.LimitReader(req.Body, c.maxReplayBody+1))
	if err != nil {
		return err
	}
	if int64(len(body)) > c.maxReplayBody {
		return ErrReplayBodyTooLarge
	}
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	req.Body, _ = req.GetBody()
	return nil
}

// Do sends the request. Idempotent requests are retried on transient
// failures; the final response is always returned undrained.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	if err := c.bufferBody(req); err != nil {
		return nil, err
	}
	retries := c.retries
	if _, ok := c.retryMethods[req.Method]; !ok && req.Header.Get("Idempotency-Key") == "" {
		retries = 0
	}

	for attempt := 1; ; attempt++ {
		r := req.Clone(ctx)
		for k, v := range c.headers {
			if r.Header.Get(k) == "" {
				r.Header.Set(k, v)
			}
		}
		if r.GetBody != nil {
			rc, err := r.GetBody()
			if err != nil {
				return nil, err
			}
			r.Body = rc
		}

		u := redact(r.URL)
		st := time.Now()
		resp, err := c.hc.Do(r)
		dur := time.Since(st)

		delay, again := shouldRetry(resp, err)
		if !again || attempt > retries {
			if err != nil {
				c.log.WarnContext(ctx, "http request error", slog.String("method", r.Method), slog.String("url", u), slog.Int("attempt", attempt), slog.Any("error", err))
				return nil, err
			}
			c.log.DebugContext(ctx, "http request", slog.String("method", r.Method), slog.String("url", u), slog.Int("status", resp.StatusCode), slog.Duration("dur", dur), slog.Int("attempt", attempt))
			return resp, nil
		}

		wait := delay
		if wait <= 0 {
			wait = c.baseBackoff << (attempt - 1)
			wait += time.Duration(randv2.Int64N(int64(wait)/2 + 1))
		}
		if c.maxBackoff > 0 && wait > c.maxBackoff {
			wait = c.maxBackoff
		}
		attrs := []any{slog.String("method", r.Method), slog.String("url", u), slog.Int("attempt", attempt), slog.Duration("wait", wait)}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		} else {
			attrs = append(attrs, slog.Int("status", resp.StatusCode))
			drainAndClose(resp.Body)
		}
		c.log.WarnContext(ctx, "http request retry", attrs...)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

func redact(u *url.URL) string {
	cp := *u
	cp.RawQuery = ""
	return cp.Redacted()
}
