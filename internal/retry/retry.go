// Package retry wraps a fallible operation and reports its progress as a
// stream of events: one retrying event per failed attempt, then a terminal
// success or error event carrying the outcome.
package retry

import (
	"context"
	"log/slog"
	"time"
)

type Status int

const (
	StatusRetrying Status = iota
	StatusSuccess
	StatusError
)

type Config struct {
	MaxAttempts int           // default 3
	BaseDelay   time.Duration // default 1s, doubled each attempt
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	return c
}

// Event is one entry of the retry progress stream. Value is set on the
// terminal success event, Err on the terminal error event.
type Event[T any] struct {
	Status  Status
	Attempt int
	Value   T
	Err     error
}

// Run executes op up to MaxAttempts times with pure exponential backoff
// (BaseDelay * 2^(attempt-1), no jitter) and returns the progress stream.
// The channel is closed after the terminal event. Cancellation is
// cooperative: when ctx is done, no further attempts are made and the
// producer goroutine exits even if the consumer stopped reading.
func Run[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) <-chan Event[T] {
	cfg = cfg.withDefaults()
	events := make(chan Event[T])

	go func() {
		defer close(events)

		var lastErr error
		for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
			value, err := op(ctx)
			if err == nil {
				send(ctx, events, Event[T]{Status: StatusSuccess, Attempt: attempt, Value: value})
				return
			}
			lastErr = err

			if ctx.Err() != nil {
				return
			}

			if attempt < cfg.MaxAttempts {
				slog.Warn("operation failed, retrying",
					"attempt", attempt,
					"error", err,
				)
				if !send(ctx, events, Event[T]{Status: StatusRetrying, Attempt: attempt}) {
					return
				}
				if !sleep(ctx, backoffDelay(attempt, cfg.BaseDelay)) {
					return
				}
			}
		}

		slog.Error("operation failed after all retries",
			"attempts", cfg.MaxAttempts,
			"error", lastErr,
		)
		send(ctx, events, Event[T]{Status: StatusError, Attempt: cfg.MaxAttempts, Err: lastErr})
	}()

	return events
}

func backoffDelay(attempt int, base time.Duration) time.Duration {
	return base * (1 << (attempt - 1))
}

func send[T any](ctx context.Context, ch chan<- Event[T], ev Event[T]) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
