package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"postage/internal/ledger"
	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
	"postage/pkg/platform/sentinel"
)

const (
	// Redis key prefix for ledger accounts
	accountKeyPrefix = "postage:acct:"

	fieldBalance = "balance"
	fieldData    = "data"

	defaultTxTimeout = 5 * time.Second
	defaultRetries   = 10
)

// RedisStore keeps each account in a hash and runs transactions optimistically:
// every key read or written is WATCHed, writes are buffered, and the buffer is
// flushed in a MULTI/EXEC block. A concurrent change to a watched key aborts
// EXEC and the callback is run again.
type RedisStore struct {
	client     *redis.Client
	timeout    time.Duration
	maxRetries int
}

type Option func(*RedisStore)

func WithTimeout(d time.Duration) Option {
	return func(s *RedisStore) {
		s.timeout = d
	}
}

func WithMaxRetries(n int) Option {
	return func(s *RedisStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func New(client *redis.Client, opts ...Option) *RedisStore {
	s := &RedisStore{client: client, timeout: defaultTxTimeout, maxRetries: defaultRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func accountKey(addr domain.Address) string {
	return accountKeyPrefix + addr.String()
}

func (s *RedisStore) RunInTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			ledger.TxRetries.WithLabelValues("redis").Inc()
		}
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			view := &watchedTx{rtx: rtx, writes: make(map[domain.Address]*ledger.Account)}
			if err := fn(view); err != nil {
				return err
			}
			return view.flush(ctx)
		})
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var domainErr *dErrors.Error
		if err != nil && ctx.Err() != nil && !errors.As(err, &domainErr) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: deadline exceeded")
		}
		return err
	}
	return fmt.Errorf("ledger transaction: %w: retries exhausted", sentinel.ErrConflict)
}

type watchedTx struct {
	rtx    *redis.Tx
	writes map[domain.Address]*ledger.Account
}

func (t *watchedTx) Get(ctx context.Context, addr domain.Address) (*ledger.Account, error) {
	if acct, staged := t.writes[addr]; staged {
		if acct == nil {
			return nil, sentinel.ErrNotFound
		}
		return acct.Clone(), nil
	}

	key := accountKey(addr)
	if err := t.rtx.Watch(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("watch ledger account: %w", err)
	}
	fields, err := t.rtx.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get ledger account: %w", err)
	}
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}
	balance, err := strconv.ParseUint(fields[fieldBalance], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse ledger balance: %w", err)
	}
	var data []byte
	if raw := fields[fieldData]; raw != "" {
		data = []byte(raw)
	}
	return &ledger.Account{Address: addr, Balance: balance, Data: data}, nil
}

func (t *watchedTx) Put(ctx context.Context, acct *ledger.Account) error {
	if acct == nil {
		return fmt.Errorf("ledger account is required")
	}
	if err := t.rtx.Watch(ctx, accountKey(acct.Address)).Err(); err != nil {
		return fmt.Errorf("watch ledger account: %w", err)
	}
	t.writes[acct.Address] = acct.Clone()
	return nil
}

func (t *watchedTx) Delete(ctx context.Context, addr domain.Address) error {
	if err := t.rtx.Watch(ctx, accountKey(addr)).Err(); err != nil {
		return fmt.Errorf("watch ledger account: %w", err)
	}
	t.writes[addr] = nil
	return nil
}

func (t *watchedTx) flush(ctx context.Context) error {
	if len(t.writes) == 0 {
		return nil
	}
	_, err := t.rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for addr, acct := range t.writes {
			key := accountKey(addr)
			if acct == nil {
				pipe.Del(ctx, key)
				continue
			}
			pipe.HSet(ctx, key,
				fieldBalance, strconv.FormatUint(acct.Balance, 10),
				fieldData, acct.Data,
			)
		}
		return nil
	})
	return err
}
