// Package errorrecovery retries ESME connection attempts with exponential
// backoff.
package errorrecovery

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"syscall"
	"time"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

// RetryConfig defines the configuration for retry logic
type RetryConfig struct {
	MaxRetries    int           // retries after the first attempt
	InitialDelay  time.Duration // delay before the first retry
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFactor  float64 // 0.0 to 1.0
	// Retryable overrides IsRetryable when set.
	Retryable func(error) bool
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// FromClientConfig derives a retry policy from the client's reconnect
// settings.
func FromClientConfig(cfg smpp.ClientConfig) RetryConfig {
	rc := DefaultRetryConfig()
	rc.MaxRetries = cfg.MaxReconnectAttempts
	if cfg.ReconnectInterval > 0 {
		rc.InitialDelay = cfg.ReconnectInterval
	}
	return rc
}

// IsRetryable reports whether a failed connect or bind may succeed on a
// later attempt. Transport failures and transient SMSC statuses are
// retryable; credential and protocol rejections are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *smpp.StatusError
	if errors.As(err, &se) {
		switch se.Status {
		case smpp.StatusBindFail, smpp.StatusMsgQFul, smpp.StatusThrottled, smpp.StatusSysErr:
			return true
		}
		return false
	}

	if errors.Is(err, smpp.ErrSessionClosed) || errors.Is(err, smpp.ErrResponseTimeout) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func (c *RetryConfig) retryable(err error) bool {
	if c.Retryable != nil {
		return c.Retryable(err)
	}
	return IsRetryable(err)
}

// RetryableFunc represents a function that can be retried
type RetryableFunc func(ctx context.Context) error

// RetryResult contains the result of a retry operation
type RetryResult struct {
	Attempts int
	Duration time.Duration
	Error    error
}

// Retry runs fn until it succeeds, fails with a non-retryable error, runs
// out of attempts or ctx ends.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) RetryResult {
	start := time.Now()
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return RetryResult{Attempts: attempts, Duration: time.Since(start), Error: err}
		}

		attempts++
		err := fn(ctx)
		if err == nil {
			return RetryResult{Attempts: attempts, Duration: time.Since(start)}
		}
		lastErr = err

		if attempt == config.MaxRetries || !config.retryable(err) {
			break
		}

		timer := time.NewTimer(calculateDelay(config, attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return RetryResult{Attempts: attempts, Duration: time.Since(start), Error: ctx.Err()}
		}
	}

	return RetryResult{Attempts: attempts, Duration: time.Since(start), Error: lastErr}
}

// DialClient connects and binds an ESME, retrying per config.
func DialClient(ctx context.Context, cfg smpp.ClientConfig, deps smpp.ClientDependencies, config RetryConfig) (*smpp.Client, RetryResult) {
	var client *smpp.Client
	res := Retry(ctx, config, func(ctx context.Context) error {
		c, err := smpp.Dial(ctx, cfg, deps)
		if err != nil {
			if deps.Logger != nil {
				deps.Logger.Warn("Connect attempt failed", "host", cfg.Host, "port", cfg.Port, "error", err)
			}
			return err
		}
		client = c
		return nil
	})
	return client, res
}

// calculateDelay returns InitialDelay * BackoffFactor^attempt, capped at
// MaxDelay, with up to JitterFactor of random spread.
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	factor := config.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := float64(config.InitialDelay) * math.Pow(factor, float64(attempt))
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.JitterFactor > 0 {
		jitterRange := delay * config.JitterFactor
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
