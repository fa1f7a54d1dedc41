package worker

import (
	"context"
	"log/slog"
	"time"

	audit "postage/pkg/platform/audit"
)

// DefaultAppendTimeout bounds the context of each store append.
const DefaultAppendTimeout = 10 * time.Second

// Worker drains events from a channel into a store. Append failures are
// logged and the event dropped; audit delivery never blocks the caller.
type Worker struct {
	store         audit.Store
	inbox         <-chan audit.Event
	logger        *slog.Logger
	appendTimeout time.Duration
}

type Option func(*Worker)

func WithAppendTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.appendTimeout = d
		}
	}
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{store: store, inbox: inbox, logger: logger, appendTimeout: DefaultAppendTimeout}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes events until ctx is cancelled or the inbox is closed. A
// closed inbox is drained completely before Run returns nil.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.append(ctx, event); err != nil && w.logger != nil {
				w.logger.ErrorContext(ctx, "failed to append audit event",
					"action", event.Action,
					"subject", event.Subject,
					"error", err,
				)
			}
		}
	}
}

func (w *Worker) append(ctx context.Context, event audit.Event) error {
	ctx, cancel := context.WithTimeout(ctx, w.appendTimeout)
	defer cancel()
	return w.store.Append(ctx, event)
}
