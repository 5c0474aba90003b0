// Package polling retries an operation until a condition clears or a deadline passes.
package polling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrTimeout is returned when the condition is still set after the timeout elapsed
	ErrTimeout = errors.New("waiting timed out")
	// ErrInvalidTimeout is returned for a negative timeout
	ErrInvalidTimeout = errors.New("timeout cannot be less than zero")
)

const (
	// DefaultInterval is the pause between attempts of the blocking form
	DefaultInterval = 500 * time.Millisecond
	// DefaultContextInterval is the pause between attempts of the context-aware forms
	DefaultContextInterval = time.Second
)

// Option configures a poll
type Option func(*options)

type options struct {
	interval time.Duration
	now      func() time.Time
}

// WithInterval overrides the pause between attempts
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.interval = d
		}
	}
}

// WithClock overrides the wall clock used for the deadline check
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(interval time.Duration, opts []Option) *options {
	o := &options{
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Poll calls next while keepPolling reports true, blocking the calling goroutine
// between attempts. It returns the last produced value.
func Poll[T any](value T, keepPolling func(T) bool, next func() T, timeout time.Duration, logger zerolog.Logger, opts ...Option) (T, error) {
	var produce func(context.Context, T) (T, error)
	if next != nil {
		produce = func(context.Context, T) (T, error) {
			return next(), nil
		}
	}
	return poll(context.Background(), value, keepPolling, produce, timeout, logger, newOptions(DefaultInterval, opts))
}

// PollContext is the context-aware form of Poll for producers that ignore the current value.
// A producer error stops polling and is returned.
func PollContext[T any](ctx context.Context, value T, keepPolling func(T) bool, next func(context.Context) (T, error), timeout time.Duration, logger zerolog.Logger, opts ...Option) (T, error) {
	var produce func(context.Context, T) (T, error)
	if next != nil {
		produce = func(ctx context.Context, _ T) (T, error) {
			return next(ctx)
		}
	}
	return poll(ctx, value, keepPolling, produce, timeout, logger, newOptions(DefaultContextInterval, opts))
}

// PollContextWith is the context-aware form of Poll for producers that derive the next
// value from the current one.
func PollContextWith[T any](ctx context.Context, value T, keepPolling func(T) bool, next func(context.Context, T) (T, error), timeout time.Duration, logger zerolog.Logger, opts ...Option) (T, error) {
	return poll(ctx, value, keepPolling, next, timeout, logger, newOptions(DefaultContextInterval, opts))
}

func poll[T any](ctx context.Context, value T, keepPolling func(T) bool, produce func(context.Context, T) (T, error), timeout time.Duration, logger zerolog.Logger, o *options) (T, error) {
	if err := validateTimeout(timeout, logger); err != nil {
		return value, err
	}

	start := o.now()
	for keepPolling(value) {
		if produce != nil {
			next, err := produce(ctx, value)
			if err != nil {
				return value, fmt.Errorf("failed to produce next value: %w", err)
			}
			value = next
		}

		// The attempt that crosses the deadline is allowed to finish first.
		if err := checkTimedOut(start, timeout, logger, o.now); err != nil {
			return value, err
		}

		if err := pause(ctx, o.interval); err != nil {
			return value, err
		}
	}

	return value, nil
}

func checkTimedOut(start time.Time, timeout time.Duration, logger zerolog.Logger, now func() time.Time) error {
	if now().Sub(start) > timeout {
		logger.Debug().Msg(fmt.Sprintf("Timeout duration was set to %d", timeout.Milliseconds()))
		logger.Debug().Msg("Make sure the function & property you're using is supported by TestEngine.")
		logger.Error().Msg("Waiting timed out.")
		return ErrTimeout
	}
	return nil
}

func validateTimeout(timeout time.Duration, logger zerolog.Logger) error {
	if timeout < 0 {
		logger.Error().Msg("The timeout TestSetting cannot be less than zero.")
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, timeout)
	}
	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
