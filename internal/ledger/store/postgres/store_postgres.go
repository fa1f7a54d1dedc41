package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"postage/internal/ledger"
	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
	"postage/pkg/platform/sentinel"
)

const (
	defaultTxTimeout = 5 * time.Second
	defaultRetries   = 3
)

// Schema creates the accounts table. Balances are NUMERIC so the full u64
// range survives the round trip.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_accounts (
	address BYTEA PRIMARY KEY,
	balance NUMERIC(20,0) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	data    BYTEA NOT NULL DEFAULT ''::bytea
)`

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

// PostgresStore runs each ledger transaction as a SERIALIZABLE database
// transaction and re-runs it when Postgres reports a serialization failure.
type PostgresStore struct {
	db         *sql.DB
	timeout    time.Duration
	maxRetries int
}

type Option func(*PostgresStore)

func WithTimeout(d time.Duration) Option {
	return func(s *PostgresStore) {
		s.timeout = d
	}
}

func WithMaxRetries(n int) Option {
	return func(s *PostgresStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func New(db *sql.DB, opts ...Option) *PostgresStore {
	s := &PostgresStore{db: db, timeout: defaultTxTimeout, maxRetries: defaultRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			ledger.TxRetries.WithLabelValues("postgres").Inc()
		}
		err = s.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) {
			break
		}
	}
	if err != nil && isRetryable(err) {
		return fmt.Errorf("ledger transaction: %w: %w", sentinel.ErrConflict, err)
	}
	var domainErr *dErrors.Error
	if err != nil && ctx.Err() != nil && !errors.As(err, &domainErr) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: deadline exceeded")
	}
	return err
}

func (s *PostgresStore) runOnce(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// isRetryable recognises serialization failures, deadlocks and unique
// violations from either driver.
func isRetryable(err error) bool {
	var code string
	var pqErr *pq.Error
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	case errors.As(err, &pgErr):
		code = pgErr.Code
	default:
		return false
	}
	switch code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) Get(ctx context.Context, addr domain.Address) (*ledger.Account, error) {
	query := `
		SELECT balance::text, data
		FROM ledger_accounts
		WHERE address = $1
		FOR UPDATE
	`
	var balance string
	var data []byte
	err := t.tx.QueryRowContext(ctx, query, addr.Bytes()).Scan(&balance, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger account: %w", err)
	}
	parsed, err := strconv.ParseUint(balance, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse ledger balance %q: %w", balance, err)
	}
	return &ledger.Account{Address: addr, Balance: parsed, Data: data}, nil
}

func (t *postgresTx) Put(ctx context.Context, acct *ledger.Account) error {
	if acct == nil {
		return fmt.Errorf("ledger account is required")
	}
	data := acct.Data
	if data == nil {
		data = []byte{}
	}
	query := `
		INSERT INTO ledger_accounts (address, balance, data)
		VALUES ($1, $2::numeric, $3)
		ON CONFLICT (address) DO UPDATE SET
			balance = EXCLUDED.balance,
			data = EXCLUDED.data
	`
	_, err := t.tx.ExecContext(ctx, query, acct.Address.Bytes(), strconv.FormatUint(acct.Balance, 10), data)
	if err != nil {
		return fmt.Errorf("put ledger account: %w", err)
	}
	return nil
}

func (t *postgresTx) Delete(ctx context.Context, addr domain.Address) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM ledger_accounts WHERE address = $1`, addr.Bytes())
	if err != nil {
		return fmt.Errorf("delete ledger account: %w", err)
	}
	return nil
}
