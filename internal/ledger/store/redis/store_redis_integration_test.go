//go:build integration

package redis_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"postage/internal/ledger"
	ledgerredis "postage/internal/ledger/store/redis"
	"postage/pkg/domain"
	"postage/pkg/testutil/containers"
)

type RedisLedgerIntegrationSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ledgerredis.RedisStore
}

func TestRedisLedgerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLedgerIntegrationSuite))
}

func (s *RedisLedgerIntegrationSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = ledgerredis.New(s.redis.Client, ledgerredis.WithMaxRetries(200))
}

func (s *RedisLedgerIntegrationSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

// Two accounts moved in opposite directions by concurrent transactions keep
// their combined balance.
func (s *RedisLedgerIntegrationSuite) TestConcurrentTransfersConserveBalance() {
	ctx := context.Background()
	a, b := domain.Address{1}, domain.Address{2}
	s.Require().NoError(s.store.RunInTx(ctx, func(tx ledger.Tx) error {
		if err := tx.Put(ctx, &ledger.Account{Address: a, Balance: 1000}); err != nil {
			return err
		}
		return tx.Put(ctx, &ledger.Account{Address: b, Balance: 1000})
	}))

	move := func(from, to domain.Address) error {
		return s.store.RunInTx(ctx, func(tx ledger.Tx) error {
			src, err := tx.Get(ctx, from)
			if err != nil {
				return err
			}
			dst, err := tx.Get(ctx, to)
			if err != nil {
				return err
			}
			src.Balance--
			dst.Balance++
			if err := tx.Put(ctx, src); err != nil {
				return err
			}
			return tx.Put(ctx, dst)
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); s.NoError(move(a, b)) }()
		go func() { defer wg.Done(); s.NoError(move(b, a)) }()
	}
	wg.Wait()

	s.Require().NoError(s.store.RunInTx(ctx, func(tx ledger.Tx) error {
		src, err := tx.Get(ctx, a)
		s.Require().NoError(err)
		dst, err := tx.Get(ctx, b)
		s.Require().NoError(err)
		s.Equal(uint64(2000), src.Balance+dst.Balance)
		s.Equal(uint64(1000), src.Balance)
		return nil
	}))
}
