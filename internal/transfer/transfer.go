// Package transfer moves balances between ledger accounts after checking that
// the source is authorized to pay.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/bits"

	"postage/internal/address"
	"postage/internal/ledger"
	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
	"postage/pkg/platform/sentinel"
	"postage/pkg/requestcontext"
)

// ErrBalanceOverflow is returned when a credit would overflow the destination.
var ErrBalanceOverflow = errors.New("destination balance overflow")

// Primitive performs the raw balance move inside a ledger transaction.
type Primitive interface {
	Move(ctx context.Context, tx ledger.Tx, from, to domain.Address, amount uint64) error
}

// LedgerPrimitive debits and credits accounts in the ledger transaction with
// checked arithmetic.
type LedgerPrimitive struct{}

func (LedgerPrimitive) Move(ctx context.Context, tx ledger.Tx, from, to domain.Address, amount uint64) error {
	src, err := ledger.GetOrEmpty(ctx, tx, from)
	if err != nil {
		return err
	}
	if src.Balance < amount {
		return fmt.Errorf("debit %d from %s holding %d: %w", amount, from, src.Balance, sentinel.ErrInsufficientBalance)
	}
	if from == to {
		return nil
	}
	dst, err := ledger.GetOrEmpty(ctx, tx, to)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(dst.Balance, amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	src.Balance -= amount
	dst.Balance = sum
	if err := tx.Put(ctx, src); err != nil {
		return err
	}
	return tx.Put(ctx, dst)
}

// Engine checks authority and delegates the move to a Primitive.
type Engine struct {
	deriver   *address.Deriver
	primitive Primitive
	logger    *slog.Logger
}

type Option func(*Engine)

// WithPrimitive replaces the default ledger primitive.
func WithPrimitive(p Primitive) Option {
	return func(e *Engine) {
		e.primitive = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func New(deriver *address.Deriver, opts ...Option) *Engine {
	e := &Engine{
		deriver:   deriver,
		primitive: LedgerPrimitive{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transfer moves amount from one account to another. Every failure, including
// a rejected authority, is reported as CodeTransferFailed.
func (e *Engine) Transfer(ctx context.Context, tx ledger.Tx, from, to domain.Address, amount uint64, auth Authority) error {
	if err := e.authorize(ctx, from, auth); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransferFailed, "transfer not authorized")
	}
	if amount == 0 {
		return nil
	}
	if err := e.primitive.Move(ctx, tx, from, to, amount); err != nil {
		e.logger.WarnContext(ctx, "transfer rejected",
			"from", from.String(),
			"to", to.String(),
			"amount", amount,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeTransferFailed, "transfer failed")
	}
	return nil
}

func (e *Engine) authorize(ctx context.Context, from domain.Address, auth Authority) error {
	switch auth.kind {
	case authoritySigner:
		if auth.signer.Address() != from {
			return errors.New("signer does not own the source account")
		}
		caller, ok := requestcontext.Caller(ctx)
		if !ok || caller != auth.signer {
			return errors.New("signer is not the request caller")
		}
		return nil
	case authorityDerived:
		derived, err := e.deriver.Create(auth.bump, auth.namespace, auth.seeds...)
		if err != nil {
			return fmt.Errorf("rederive source: %w", err)
		}
		if derived != from {
			return errors.New("derivation does not match the source account")
		}
		return nil
	default:
		return errors.New("missing transfer authority")
	}
}

// Airdrop credits amount to an account out of thin air. It exists for
// development funding only.
func (e *Engine) Airdrop(ctx context.Context, tx ledger.Tx, to domain.Address, amount uint64) (uint64, error) {
	acct, err := ledger.GetOrEmpty(ctx, tx, to)
	if err != nil {
		return 0, err
	}
	sum, carry := bits.Add64(acct.Balance, amount, 0)
	if carry != 0 {
		return 0, dErrors.New(dErrors.CodeArithmeticOverflow, "airdrop overflows balance")
	}
	acct.Balance = sum
	if err := tx.Put(ctx, acct); err != nil {
		return 0, err
	}
	return sum, nil
}

// Balance returns the balance at addr, zero when the account does not exist.
func Balance(ctx context.Context, tx ledger.Tx, addr domain.Address) (uint64, error) {
	acct, err := ledger.GetOrEmpty(ctx, tx, addr)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}
