// Package records persists typed records in the data of ledger accounts.
//
// Every function runs inside a caller-provided ledger transaction; nothing here
// opens its own. Errors are sentinel facts (sentinel.ErrNotFound,
// sentinel.ErrAlreadyExists) or codec failures (ErrTypeMismatch and friends),
// left for services to translate.
package records

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"postage/internal/ledger"
	"postage/pkg/domain"
	"postage/pkg/platform/sentinel"
)

// ErrBalanceOverflow is returned when closing a record would overflow the
// beneficiary balance.
var ErrBalanceOverflow = errors.New("beneficiary balance overflow")

// Create stores rec at addr. It fails with sentinel.ErrAlreadyExists when the
// account already holds a record. Any existing balance is preserved.
func Create(ctx context.Context, tx ledger.Tx, addr domain.Address, rec Record) error {
	acct, err := ledger.GetOrEmpty(ctx, tx, addr)
	if err != nil {
		return err
	}
	if acct.HasData() {
		return fmt.Errorf("%s at %s: %w", rec.Kind(), addr, sentinel.ErrAlreadyExists)
	}
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	acct.Data = data
	return tx.Put(ctx, acct)
}

// Read decodes the record at addr into rec.
func Read(ctx context.Context, tx ledger.Tx, addr domain.Address, rec Record) error {
	_, err := load(ctx, tx, addr, rec)
	return err
}

// Exists reports whether addr holds any record.
func Exists(ctx context.Context, tx ledger.Tx, addr domain.Address) (bool, error) {
	acct, err := ledger.GetOrEmpty(ctx, tx, addr)
	if err != nil {
		return false, err
	}
	return acct.HasData(), nil
}

// Mutate reads the record at addr into rec, applies fn and writes the result
// back. When fn fails nothing is written.
func Mutate(ctx context.Context, tx ledger.Tx, addr domain.Address, rec Record, fn func() error) error {
	acct, err := load(ctx, tx, addr, rec)
	if err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	acct.Data = data
	return tx.Put(ctx, acct)
}

// Destroy deletes the record at addr and credits its entire balance to
// beneficiary. It returns the amount moved.
func Destroy(ctx context.Context, tx ledger.Tx, addr, beneficiary domain.Address) (uint64, error) {
	acct, err := tx.Get(ctx, addr)
	if err != nil {
		return 0, err
	}
	if !acct.HasData() {
		return 0, sentinel.ErrNotFound
	}
	if addr == beneficiary {
		return 0, fmt.Errorf("close %s into itself: %w", addr, sentinel.ErrConflict)
	}

	if acct.Balance > 0 {
		dest, err := ledger.GetOrEmpty(ctx, tx, beneficiary)
		if err != nil {
			return 0, err
		}
		sum, carry := bits.Add64(dest.Balance, acct.Balance, 0)
		if carry != 0 {
			return 0, ErrBalanceOverflow
		}
		dest.Balance = sum
		if err := tx.Put(ctx, dest); err != nil {
			return 0, err
		}
	}
	if err := tx.Delete(ctx, addr); err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func load(ctx context.Context, tx ledger.Tx, addr domain.Address, rec Record) (*ledger.Account, error) {
	acct, err := tx.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !acct.HasData() {
		return nil, sentinel.ErrNotFound
	}
	if err := Decode(acct.Data, rec); err != nil {
		return nil, err
	}
	return acct, nil
}
