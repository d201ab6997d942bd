// Package retry wraps transient failures of state backends in exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// Policy describes how often and how long an operation is retried
type Policy struct {
	MaxRetries    uint64
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

// ConnectPolicy is used while a state backend is being reached at startup
func ConnectPolicy() Policy {
	return Policy{
		MaxRetries:    10,
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		JitterPercent: 15,
	}
}

// StatePolicy is used for reading and writing sync state between runs
func StatePolicy() Policy {
	return Policy{
		MaxRetries:    3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		JitterPercent: 10,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, returns a Permanent error, retries are
// exhausted or ctx is done
func Do(ctx context.Context, p Policy, name string, op func(context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, p.Backoff(), func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		logrus.WithError(err).
			WithFields(logrus.Fields{"operation": name, "attempt": attempt}).
			Warn("Operation failed, retrying...")
		return retry.RetryableError(err)
	})
}

// Backoff builds the go-retry strategy for the policy
func (p Policy) Backoff() retry.Backoff {
	b := retry.NewExponential(p.BaseDelay)
	b = retry.WithMaxRetries(p.MaxRetries, b)
	b = retry.WithCappedDuration(p.MaxDelay, b)
	b = retry.WithJitterPercent(p.JitterPercent, b)
	return b
}
