// Package proxy contains clients for third-party lookups the API passes through.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultAttempts   = 3
	defaultRetryDelay = 200 * time.Millisecond
	maxResponseSize   = 4 << 20
)

var (
	ErrStatus = errors.New("unexpected upstream status")
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *zerolog.Logger

	// Attempts defaults to 3, set 1 to disable retries.
	Attempts uint
}

// client performs upstream requests, retrying network failures, 429 and 5xx.
type client struct {
	http     *http.Client
	attempts uint
	delay    time.Duration
	logger   zerolog.Logger
}

func newClient(cfg Config, component string) client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = defaultAttempts
	}
	return client{
		http:     &http.Client{Timeout: timeout},
		attempts: attempts,
		delay:    defaultRetryDelay,
		logger:   cfg.Logger.With().Str("component", component).Logger(),
	}
}

func (c *client) do(ctx context.Context, newReq func(context.Context) (*http.Request, error)) ([]byte, error) {
	var body []byte
	err := retry.Do(
		func() error {
			req, err := newReq(ctx)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			body, err = c.roundTrip(req)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug().Err(err).Uint("attempt", n+1).Msg("upstream request failed, retrying")
		}),
	)
	return body, err
}

func (c *client) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, retry.Unrecoverable(fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode))
	}
	return body, nil
}
