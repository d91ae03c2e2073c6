package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/catalogsync/internal/metrics"
)

// RetryConfig bounds the retries of page fetches, bulk writes and embedding
// calls. MaxAttempts of 1 disables retrying.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}
}

func (c RetryConfig) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		b.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		b.MaxInterval = c.MaxInterval
	}
	if c.Multiplier >= 1 {
		b.Multiplier = c.Multiplier
	}
	return b
}

// retryable marks errors that carry their own verdict, such as Elasticsearch
// status errors. Errors without one are retried.
type retryable interface {
	Retryable() bool
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryablePgCode(pgErr.Code)
	}
	return true
}

// retryablePgCode reports whether a Postgres error is transient. Connection,
// transaction rollback, resource and system classes are; so are the restart
// codes of class 57.
func retryablePgCode(code string) bool {
	switch code {
	case "57P01", "57P02", "57P03": // admin_shutdown, crash_shutdown, cannot_connect_now
		return true
	}
	for _, class := range []string{"08", "40", "53", "58"} {
		if strings.HasPrefix(code, class) {
			return true
		}
	}
	return false
}

// withRetry runs op under cfg. The returned error is the last one op produced.
func withRetry[T any](ctx context.Context, cfg RetryConfig, logger *slog.Logger, operation string, op func() (T, error)) (T, error) {
	attempts := max(cfg.MaxAttempts, 1)

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !isRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(cfg.newBackOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.RetryAttempts.WithLabelValues(operation).Inc()
			logger.WarnContext(ctx, "retrying after transient failure",
				slog.String("operation", operation),
				slog.Duration("backoff", next),
				slog.String("error", err.Error()),
			)
		}),
	)
}
