package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Ledger stores and the record layer
// return these (optionally wrapped) so services can translate them into domain
// errors.
//
// These represent factual states about accounts, not validation failures:
// - ErrNotFound: no account or record at the address
// - ErrAlreadyExists: a record is already stored at the address
// - ErrConflict: a concurrent transaction touched the same accounts
// - ErrInsufficientBalance: the source balance cannot cover a debit
// - ErrUnavailable: backend temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnavailable         = errors.New("unavailable")
)
