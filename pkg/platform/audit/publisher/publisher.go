package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "postage/pkg/platform/audit"
	"postage/pkg/platform/audit/worker"
	"postage/pkg/requestcontext"
)

// ErrListUnsupported is returned by List when the store cannot be queried.
var ErrListUnsupported = errors.New("audit store does not support listing")

// Publisher enriches events and hands them to a store, either inline or
// through a buffered background worker.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	bufferSize    int
	appendTimeout time.Duration
	mu            sync.RWMutex
	closed        bool
	inbox         chan audit.Event
	done          chan struct{}
}

type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous delivery with a buffer of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		p.bufferSize = n
	}
}

// WithAppendTimeout bounds every store append, inline or from the worker.
func WithAppendTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.appendTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, appendTimeout: worker.DefaultAppendTimeout}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.inbox = make(chan audit.Event, p.bufferSize)
		p.done = make(chan struct{})
		w := worker.NewWorker(store, p.inbox, p.logger, worker.WithAppendTimeout(p.appendTimeout))
		go func() {
			defer close(p.done)
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Emit stamps the event with an id, timestamp, category and request id, then
// delivers it. A full async buffer falls back to inline delivery.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.inbox != nil && !p.closed {
		select {
		case p.inbox <- event:
			return nil
		default:
		}
	}
	ctx, cancel := context.WithTimeout(ctx, p.appendTimeout)
	defer cancel()
	return p.store.Append(ctx, event)
}

// List returns events recorded for subject when the store supports queries.
func (p *Publisher) List(ctx context.Context, subject string) ([]audit.Event, error) {
	lister, ok := p.store.(audit.Lister)
	if !ok {
		return nil, ErrListUnsupported
	}
	return lister.ListBySubject(ctx, subject)
}

// Close stops accepting async events and waits for the buffer to drain.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed || p.inbox == nil {
		p.closed = true
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.inbox)
	p.mu.Unlock()
	<-p.done
}
