package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/yuru-sha/fuji-calendar-sub001/log"
)

// Postgres SQLSTATE classes that are worth retrying in place.
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateTooManyConnections   = "53300"
	sqlstateCannotConnectNow     = "57P03"
	sqlstateQueryCanceledByAdmin = "57014"
)

// isTransient classifies an error as a retryable backend hiccup. Serialization
// conflicts, deadlocks, connection saturation and network timeouts retry;
// anything else surfaces immediately.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateSerializationFailure,
			sqlstateDeadlockDetected,
			sqlstateTooManyConnections,
			sqlstateCannotConnectNow,
			sqlstateQueryCanceledByAdmin:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// withRetry runs op, retrying transient failures with exponential backoff.
// Non-transient errors and context cancellation pass through untouched. A
// transient error that survives all retries is wrapped with ErrTransient so
// the queue layer can count it as a retryable attempt.
func withRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ExponentialBackOff{
		InitialInterval:     200 * time.Millisecond,
		RandomizationFactor: 0.3,
		Multiplier:          2,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      30 * time.Second,
		Clock:               backoff.SystemClock,
		Stop:                backoff.Stop,
	}, 4), ctx)
	policy.Reset()

	var attempt int
	err := backoff.Retry(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		log.Logger().Warn("transient store failure, retrying",
			"op", name, "attempt", attempt, "error", err)
		return err
	}, policy)
	if err == nil {
		return nil
	}
	if isTransient(err) && !errors.Is(err, ErrTransient) {
		return fmt.Errorf("%s: %w: %v", name, ErrTransient, err)
	}
	return err
}
