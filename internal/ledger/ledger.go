// Package ledger models the host state every operation runs against: a set of
// accounts, each holding a transferable balance in minor units and an opaque
// data blob, keyed by address.
//
// All reads and writes happen inside Store.RunInTx. Implementations must apply
// either every write made by fn or none of them, and must serialize
// transactions that touch the same addresses.
package ledger

import (
	"bytes"
	"context"
	"errors"

	"postage/pkg/domain"
	"postage/pkg/platform/sentinel"
)

// Account is one addressable ledger entry.
type Account struct {
	Address domain.Address
	Balance uint64
	Data    []byte
}

// HasData reports whether a record is stored in the account.
func (a *Account) HasData() bool {
	return a != nil && len(a.Data) > 0
}

// Clone returns a deep copy so callers never alias store-owned buffers.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	return &Account{Address: a.Address, Balance: a.Balance, Data: bytes.Clone(a.Data)}
}

// Tx is the transactional view handed to RunInTx callbacks.
type Tx interface {
	// Get returns the account at addr or sentinel.ErrNotFound.
	Get(ctx context.Context, addr domain.Address) (*Account, error)
	// Put creates or replaces the account.
	Put(ctx context.Context, acct *Account) error
	// Delete removes the account. Deleting a missing account is a no-op.
	Delete(ctx context.Context, addr domain.Address) error
}

// Store provides the transactional boundary.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// GetOrEmpty returns the account at addr, or a zero-balance account without
// data when none exists yet.
func GetOrEmpty(ctx context.Context, tx Tx, addr domain.Address) (*Account, error) {
	acct, err := tx.Get(ctx, addr)
	if errors.Is(err, sentinel.ErrNotFound) {
		return &Account{Address: addr}, nil
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}
