package models

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Transient upstream statuses. The model client retries them before giving up.
var (
	ErrRateLimit      = errors.New("rate limit exceeded (429)")
	ErrServerBusy     = errors.New("server busy (503)")
	ErrBadGateway     = errors.New("bad gateway (502)")
	ErrGatewayTimeout = errors.New("gateway timeout (504)")
)

var transientStatus = map[int]error{
	http.StatusTooManyRequests:    ErrRateLimit,
	http.StatusBadGateway:         ErrBadGateway,
	http.StatusServiceUnavailable: ErrServerBusy,
	http.StatusGatewayTimeout:     ErrGatewayTimeout,
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryableClient is an http.Client that replays idempotent model requests
// on transient failures with exponential backoff.
type RetryableClient struct {
	client *http.Client
	config RetryConfig
}

// NewRetryableClient builds the client. There is no overall client timeout;
// deadlines come from the request context so callers can cancel mid-flight.
func NewRetryableClient(config RetryConfig) *RetryableClient {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.MaxDelay < config.BaseDelay {
		config.MaxDelay = config.BaseDelay
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &RetryableClient{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
			},
		},
		config: config,
	}
}

// DoWithRetry sends req until it gets a non-transient answer or runs out of
// attempts. req must come from NewRequestWithBody (or otherwise set GetBody)
// when it has a body.
func (c *RetryableClient) DoWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var wait time.Duration

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
		wait = c.backoff(attempt)

		try, err := replay(ctx, req)
		if err != nil {
			return nil, err
		}

		resp, err := c.client.Do(try)
		if err != nil {
			if !transient(err) {
				return nil, err
			}
			lastErr = err
			continue
		}

		statusErr, retry := transientStatus[resp.StatusCode]
		if !retry {
			return resp, nil
		}
		if after, ok := retryAfter(resp.Header.Get("Retry-After"), c.config.MaxDelay); ok {
			wait = after
		}
		resp.Body.Close()
		lastErr = statusErr
	}

	return nil, fmt.Errorf("after %d attempts: %w", c.config.MaxAttempts, lastErr)
}

// backoff is the pause after the given attempt: BaseDelay doubled per
// attempt, capped at MaxDelay.
func (c *RetryableClient) backoff(attempt int) time.Duration {
	d := c.config.BaseDelay
	for i := 1; i < attempt && d < c.config.MaxDelay; i++ {
		d *= 2
	}
	return min(d, c.config.MaxDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func replay(ctx context.Context, req *http.Request) (*http.Request, error) {
	clone := req.Clone(ctx)
	if req.GetBody == nil {
		return clone, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string, limit time.Duration) (time.Duration, bool) {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return min(time.Duration(secs)*time.Second, limit), true
}

// transient reports whether a transport error is worth another attempt.
// Cancellation and deadlines never are.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// NewRequestWithBody builds a request whose body can be replayed on retry.
func NewRequestWithBody(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Body, _ = req.GetBody()
	req.ContentLength = int64(len(body))
	return req, nil
}
