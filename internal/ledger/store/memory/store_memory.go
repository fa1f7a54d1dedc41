package memory

import (
	"context"
	"sync"
	"time"

	"postage/internal/ledger"
	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
	"postage/pkg/platform/sentinel"
)

// defaultTxTimeout is the maximum duration for a ledger transaction.
const defaultTxTimeout = 5 * time.Second

// InMemory keeps accounts in a map guarded by one store-wide lock. Each
// transaction stages its writes in an overlay that is applied only when the
// callback returns nil.
type InMemory struct {
	mu       sync.Mutex
	accounts map[domain.Address]*ledger.Account
	timeout  time.Duration
}

type Option func(*InMemory)

// WithTimeout overrides the per-transaction deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *InMemory) {
		s.timeout = d
	}
}

func New(opts ...Option) *InMemory {
	s := &InMemory{accounts: make(map[domain.Address]*ledger.Account)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) RunInTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := s.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	tx := &overlay{base: s.accounts, writes: make(map[domain.Address]*ledger.Account)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
	}
	for addr, acct := range tx.writes {
		if acct == nil {
			delete(s.accounts, addr)
			continue
		}
		s.accounts[addr] = acct
	}
	return nil
}

// Len returns the number of stored accounts.
func (s *InMemory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// overlay is the uncommitted view of one transaction. A nil entry in writes
// marks a deletion.
type overlay struct {
	base   map[domain.Address]*ledger.Account
	writes map[domain.Address]*ledger.Account
}

func (o *overlay) Get(_ context.Context, addr domain.Address) (*ledger.Account, error) {
	if acct, staged := o.writes[addr]; staged {
		if acct == nil {
			return nil, sentinel.ErrNotFound
		}
		return acct.Clone(), nil
	}
	if acct, ok := o.base[addr]; ok {
		return acct.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (o *overlay) Put(_ context.Context, acct *ledger.Account) error {
	o.writes[acct.Address] = acct.Clone()
	return nil
}

func (o *overlay) Delete(_ context.Context, addr domain.Address) error {
	o.writes[addr] = nil
	return nil
}
