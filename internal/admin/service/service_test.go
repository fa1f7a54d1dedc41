package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"postage/internal/address"
	"postage/internal/fees"
	"postage/internal/ledger"
	"postage/internal/ledger/store/memory"
	"postage/internal/platform/metrics"
	"postage/internal/records"
	"postage/internal/transfer"
	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
	"postage/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ledger    *memory.InMemory
	addrs     records.Addresses
	metrics   *metrics.Metrics
	service   *Service
	admin     domain.PublicKey
	stranger  domain.PublicKey
	adminCtx  context.Context
	otherCtx  context.Context
	adminAddr domain.Address
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ledger = memory.New()
	s.addrs = records.NewAddresses(address.New(domain.Address{0x09}))
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.service = New(s.ledger, s.addrs, transfer.New(s.addrs.Deriver()), WithMetrics(s.metrics))
	s.admin = domain.PublicKey{0xAD}
	s.stranger = domain.PublicKey{0x5A}
	s.adminCtx = requestcontext.WithCaller(context.Background(), s.admin)
	s.otherCtx = requestcontext.WithCaller(context.Background(), s.stranger)
	s.adminAddr = s.admin.Address()
}

// collect stores fees the way a sent message would: balance in the admin
// vault plus the matching counter on the config.
func (s *ServiceSuite) collect(amount uint64) {
	cfgAddr, _, err := s.addrs.Config()
	s.Require().NoError(err)
	vaultAddr, _, err := s.addrs.AdminVault()
	s.Require().NoError(err)
	ctx := context.Background()
	s.Require().NoError(s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
		var cfg records.Config
		if err := records.Mutate(ctx, tx, cfgAddr, &cfg, func() error {
			return fees.RecordFee(&cfg, amount)
		}); err != nil {
			return err
		}
		_, err := transfer.New(s.addrs.Deriver()).Airdrop(ctx, tx, vaultAddr, amount)
		return err
	}))
}

func (s *ServiceSuite) TestInitializeConfig() {
	s.Run("rate above 100 is rejected", func() {
		_, err := s.service.InitializeConfig(s.adminCtx, s.admin, 101)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidFeeRate))

		_, err = s.service.GetConfig(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("negative rate is rejected", func() {
		_, err := s.service.InitializeConfig(s.adminCtx, s.admin, -1)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidFeeRate))
	})

	s.Run("caller must hold the admin key", func() {
		_, err := s.service.InitializeConfig(s.otherCtx, s.admin, 10)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("creates the config", func() {
		cfg, err := s.service.InitializeConfig(s.adminCtx, s.admin, 100)
		s.Require().NoError(err)
		s.Equal(s.admin, cfg.Admin)
		s.Equal(uint8(100), cfg.FeeRate)
		s.Zero(cfg.TotalFeesCollected)
	})

	s.Run("second initialization fails", func() {
		_, err := s.service.InitializeConfig(s.otherCtx, s.stranger, 5)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))

		cfg, err := s.service.GetConfig(context.Background())
		s.Require().NoError(err)
		s.Equal(s.admin, cfg.Admin)
		s.Equal(uint8(100), cfg.FeeRate)
	})
}

func (s *ServiceSuite) TestUpdateConfig() {
	_, err := s.service.InitializeConfig(s.adminCtx, s.admin, 10)
	s.Require().NoError(err)

	s.Run("admin changes the rate", func() {
		cfg, err := s.service.UpdateConfig(s.adminCtx, s.admin, 25)
		s.Require().NoError(err)
		s.Equal(uint8(25), cfg.FeeRate)
	})

	s.Run("another key is refused", func() {
		_, err := s.service.UpdateConfig(s.otherCtx, s.stranger, 50)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

		cfg, err := s.service.GetConfig(context.Background())
		s.Require().NoError(err)
		s.Equal(uint8(25), cfg.FeeRate)
	})

	s.Run("invalid rate", func() {
		_, err := s.service.UpdateConfig(s.adminCtx, s.admin, 101)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidFeeRate))
	})
}

func (s *ServiceSuite) TestWithdrawAdminFees() {
	_, err := s.service.InitializeConfig(s.adminCtx, s.admin, 10)
	s.Require().NoError(err)
	s.collect(300_000)

	s.Run("admin withdraws part of the fees", func() {
		out, err := s.service.WithdrawAdminFees(s.adminCtx, s.admin, 100_000)
		s.Require().NoError(err)
		s.Equal(uint64(200_000), out.RemainingFees)
		s.Equal(uint64(200_000), out.AdminVaultBalance)

		balance, err := s.service.Balance(context.Background(), s.adminAddr)
		s.Require().NoError(err)
		s.Equal(uint64(100_000), balance)
		s.Equal(float64(100_000), testutil.ToFloat64(s.metrics.FeesWithdrawn))
	})

	s.Run("over-withdrawal leaves state unchanged", func() {
		_, err := s.service.WithdrawAdminFees(s.adminCtx, s.admin, 200_001)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientFunds))

		cfg, err := s.service.GetConfig(context.Background())
		s.Require().NoError(err)
		s.Equal(uint64(200_000), cfg.TotalFeesCollected)

		_, balance, err := s.service.AdminVaultBalance(context.Background())
		s.Require().NoError(err)
		s.Equal(uint64(200_000), balance)
	})

	s.Run("non-admin is refused", func() {
		_, err := s.service.WithdrawAdminFees(s.otherCtx, s.stranger, 1)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("counter and balance disagree", func() {
		vaultAddr, _, err := s.addrs.AdminVault()
		s.Require().NoError(err)
		ctx := context.Background()
		s.Require().NoError(s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
			acct, err := ledger.GetOrEmpty(ctx, tx, vaultAddr)
			if err != nil {
				return err
			}
			acct.Balance = 50_000
			return tx.Put(ctx, acct)
		}))

		_, err = s.service.WithdrawAdminFees(s.adminCtx, s.admin, 60_000)
		s.True(dErrors.HasCode(err, dErrors.CodeTransferFailed))

		cfg, err := s.service.GetConfig(context.Background())
		s.Require().NoError(err)
		s.Equal(uint64(200_000), cfg.TotalFeesCollected)
	})
}

func (s *ServiceSuite) TestGetVault() {
	s.Run("empty before the first deposit", func() {
		vault, err := s.service.GetVault(context.Background())
		s.Require().NoError(err)
		s.Zero(vault.TotalDeposits)
		s.Zero(vault.Balance)
	})

	s.Run("reports totals and balance", func() {
		addr, bump, err := s.addrs.Vault()
		s.Require().NoError(err)
		ctx := context.Background()
		s.Require().NoError(s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
			if err := records.Create(ctx, tx, addr, &records.Vault{TotalDeposits: 900_000, Bump: bump}); err != nil {
				return err
			}
			_, err := transfer.New(s.addrs.Deriver()).Airdrop(ctx, tx, addr, 900_000)
			return err
		}))

		vault, err := s.service.GetVault(context.Background())
		s.Require().NoError(err)
		s.Equal(addr, vault.Address)
		s.Equal(uint64(900_000), vault.TotalDeposits)
		s.Equal(uint64(900_000), vault.Balance)
	})
}

func (s *ServiceSuite) TestAirdrop() {
	balance, err := s.service.Airdrop(context.Background(), s.adminAddr, 42)
	s.Require().NoError(err)
	s.Equal(uint64(42), balance)

	balance, err = s.service.Airdrop(context.Background(), s.adminAddr, 8)
	s.Require().NoError(err)
	s.Equal(uint64(50), balance)

	_, err = s.service.Airdrop(context.Background(), s.adminAddr, 0)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}
