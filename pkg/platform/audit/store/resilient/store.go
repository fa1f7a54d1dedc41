// Package resilient routes audit events around an unavailable primary sink.
package resilient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	audit "postage/pkg/platform/audit"
	"postage/pkg/platform/circuit"
)

// DefaultPrimaryTimeout bounds one append to the primary sink.
const DefaultPrimaryTimeout = 2 * time.Second

// Store appends to primary while its circuit is closed and to fallback while
// it is open, letting one trial event through per breaker cooldown. A failed
// or timed-out primary append is retried on the fallback so the event is not
// lost.
type Store struct {
	primary  audit.Store
	fallback audit.Store
	breaker  *circuit.Breaker
	logger   *slog.Logger
	timeout  time.Duration
}

type Option func(*Store)

// WithPrimaryTimeout overrides DefaultPrimaryTimeout.
func WithPrimaryTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(primary, fallback audit.Store, breaker *circuit.Breaker, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		primary:  primary,
		fallback: fallback,
		breaker:  breaker,
		logger:   logger,
		timeout:  DefaultPrimaryTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if !s.breaker.AllowTrial() {
		return s.fallback.Append(ctx, event)
	}

	err := s.appendPrimary(ctx, event)
	if err == nil {
		if _, change := s.breaker.RecordSuccess(); change.Closed {
			s.log(ctx, slog.LevelInfo, "audit primary recovered")
		}
		return nil
	}
	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.log(ctx, slog.LevelWarn, "audit primary circuit opened", "error", err)
	}
	return s.fallback.Append(ctx, event)
}

// appendPrimary returns once the primary finishes or the timeout passes,
// whichever is first. A primary that ignores its context keeps running in
// the background until it returns on its own.
func (s *Store) appendPrimary(ctx context.Context, event audit.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.primary.Append(ctx, event)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("audit primary append: %w", ctx.Err())
	}
}

// ListBySubject delegates to the fallback when it can be queried.
func (s *Store) ListBySubject(ctx context.Context, subject string) ([]audit.Event, error) {
	if lister, ok := s.fallback.(audit.Lister); ok {
		return lister.ListBySubject(ctx, subject)
	}
	return nil, nil
}

func (s *Store) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Log(ctx, level, msg, append(args, "breaker", s.breaker.Name())...)
}
