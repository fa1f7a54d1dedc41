package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"postage/internal/address"
	"postage/internal/fees"
	"postage/internal/identity/models"
	"postage/internal/ledger"
	"postage/internal/ledger/store/memory"
	"postage/internal/platform/metrics"
	"postage/internal/records"
	"postage/internal/transfer"
	"postage/internal/transfer/mocks"
	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
	"postage/pkg/platform/audit"
	"postage/pkg/platform/audit/publisher"
	auditmemory "postage/pkg/platform/audit/store/memory"
	"postage/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ledger    *memory.InMemory
	addrs     records.Addresses
	engine    *transfer.Engine
	metrics   *metrics.Metrics
	auditLog  *auditmemory.InMemoryStore
	service   *Service
	admin     domain.PublicKey
	alice     domain.PublicKey
	bob       domain.PublicKey
	aliceCtx  context.Context
	bobCtx    context.Context
	publisher *publisher.Publisher
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ledger = memory.New()
	s.addrs = records.NewAddresses(address.New(domain.Address{0x07}))
	s.engine = transfer.New(s.addrs.Deriver())
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.auditLog = auditmemory.NewInMemoryStore()
	s.publisher = publisher.NewPublisher(s.auditLog)
	s.admin = domain.PublicKey{0xAD}
	s.alice = domain.PublicKey{0xA1}
	s.bob = domain.PublicKey{0xB0}
	s.aliceCtx = requestcontext.WithCaller(context.Background(), s.alice)
	s.bobCtx = requestcontext.WithCaller(context.Background(), s.bob)
	s.service = s.newService(s.engine)
}

func (s *ServiceSuite) newService(engine *transfer.Engine, opts ...Option) *Service {
	opts = append([]Option{WithMetrics(s.metrics), WithAuditPublisher(s.publisher)}, opts...)
	return New(s.ledger, s.addrs, engine, opts...)
}

func (s *ServiceSuite) tx(fn func(ctx context.Context, tx ledger.Tx) error) {
	ctx := context.Background()
	s.Require().NoError(s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
		return fn(ctx, tx)
	}))
}

func (s *ServiceSuite) initConfig(rate int) {
	addr, bump, err := s.addrs.Config()
	s.Require().NoError(err)
	cfg, err := fees.NewConfig(s.admin, rate, bump)
	s.Require().NoError(err)
	s.tx(func(ctx context.Context, tx ledger.Tx) error {
		return records.Create(ctx, tx, addr, cfg)
	})
}

func (s *ServiceSuite) fund(key domain.PublicKey, amount uint64) {
	s.tx(func(ctx context.Context, tx ledger.Tx) error {
		_, err := s.engine.Airdrop(ctx, tx, key.Address(), amount)
		return err
	})
}

func (s *ServiceSuite) balance(addr domain.Address) uint64 {
	var out uint64
	s.tx(func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = transfer.Balance(ctx, tx, addr)
		return err
	})
	return out
}

func (s *ServiceSuite) config() records.Config {
	addr, _, err := s.addrs.Config()
	s.Require().NoError(err)
	var cfg records.Config
	s.tx(func(ctx context.Context, tx ledger.Tx) error {
		return records.Read(ctx, tx, addr, &cfg)
	})
	return cfg
}

func (s *ServiceSuite) exists(addr domain.Address) bool {
	var ok bool
	s.tx(func(ctx context.Context, tx ledger.Tx) error {
		var err error
		ok, err = records.Exists(ctx, tx, addr)
		return err
	})
	return ok
}

func (s *ServiceSuite) TestRegister() {
	s.Run("creates an empty profile", func() {
		profile, err := s.service.Register(s.aliceCtx, s.alice)
		s.Require().NoError(err)
		s.Equal(s.alice, profile.Owner)
		s.Empty(profile.DisplayName)

		expected, bump, err := s.addrs.Profile(s.alice)
		s.Require().NoError(err)
		s.Equal(expected, profile.Address)
		s.Equal(bump, profile.Bump)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.UsersRegistered))
	})

	s.Run("second register fails and keeps the profile", func() {
		_, err := s.service.UpdateDisplayName(s.aliceCtx, s.alice, "Alice")
		s.Require().NoError(err)

		_, err = s.service.Register(s.aliceCtx, s.alice)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))

		profile, err := s.service.GetProfile(context.Background(), s.alice)
		s.Require().NoError(err)
		s.Equal("Alice", profile.DisplayName)
	})

	s.Run("requires the owner's proof", func() {
		_, err := s.service.Register(s.aliceCtx, s.bob)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

		_, err = s.service.Register(context.Background(), s.bob)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestUpdateDisplayName() {
	_, err := s.service.Register(s.aliceCtx, s.alice)
	s.Require().NoError(err)
	_, err = s.service.UpdateDisplayName(s.aliceCtx, s.alice, "Alice")
	s.Require().NoError(err)

	s.Run("another key cannot rename the profile", func() {
		_, err := s.service.UpdateDisplayName(s.bobCtx, s.alice, "Mallory")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

		profile, err := s.service.GetProfile(context.Background(), s.alice)
		s.Require().NoError(err)
		s.Equal("Alice", profile.DisplayName)
	})

	s.Run("missing profile", func() {
		_, err := s.service.UpdateDisplayName(s.bobCtx, s.bob, "Bob")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("name too long", func() {
		_, err := s.service.UpdateDisplayName(s.aliceCtx, s.alice, "abcdefghijklmnopqrstuvwxyz0123456")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("name at the limit", func() {
		profile, err := s.service.UpdateDisplayName(s.aliceCtx, s.alice, "abcdefghijklmnopqrstuvwxyz012345")
		s.Require().NoError(err)
		s.Len(profile.DisplayName, records.MaxDisplayNameLen)
	})
}

func (s *ServiceSuite) TestProfileRoundTrip() {
	_, err := s.service.Register(s.aliceCtx, s.alice)
	s.Require().NoError(err)
	_, err = s.service.UpdateDisplayName(s.aliceCtx, s.alice, "Alice")
	s.Require().NoError(err)

	profile, err := s.service.GetProfile(context.Background(), s.alice)
	s.Require().NoError(err)
	s.Equal("Alice", profile.DisplayName)

	_, err = s.service.Unregister(s.aliceCtx, s.alice)
	s.Require().NoError(err)

	_, err = s.service.GetProfile(context.Background(), s.alice)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.UsersUnregistered))

	events, err := s.auditLog.ListBySubject(context.Background(), s.alice.String())
	s.Require().NoError(err)
	s.Len(events, 3)
	s.Equal(string(audit.EventUserUnregistered), events[2].Action)
}

func (s *ServiceSuite) TestUnregister() {
	s.Run("returns the profile balance to the owner", func() {
		_, err := s.service.Register(s.aliceCtx, s.alice)
		s.Require().NoError(err)
		profileAddr, _, err := s.addrs.Profile(s.alice)
		s.Require().NoError(err)
		s.tx(func(ctx context.Context, tx ledger.Tx) error {
			_, err := s.engine.Airdrop(ctx, tx, profileAddr, 250)
			return err
		})

		refunded, err := s.service.Unregister(s.aliceCtx, s.alice)
		s.Require().NoError(err)
		s.Equal(uint64(250), refunded)
		s.Equal(uint64(250), s.balance(s.alice.Address()))
		s.Equal(uint64(0), s.balance(profileAddr))
	})

	s.Run("missing profile", func() {
		_, err := s.service.Unregister(s.bobCtx, s.bob)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("another key cannot close the profile", func() {
		_, err := s.service.Register(s.bobCtx, s.bob)
		s.Require().NoError(err)
		_, err = s.service.Unregister(s.aliceCtx, s.bob)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

		_, err = s.service.GetProfile(context.Background(), s.bob)
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestSendMessage() {
	s.Run("requires config", func() {
		s.fund(s.alice, fees.DepositAmount)
		_, err := s.service.SendMessage(s.aliceCtx, s.alice)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.initConfig(10)
	vaultAddr, _, err := s.addrs.Vault()
	s.Require().NoError(err)
	adminVaultAddr, _, err := s.addrs.AdminVault()
	s.Require().NoError(err)

	s.Run("splits the deposit between vault and admin vault", func() {
		msg, err := s.service.SendMessage(s.aliceCtx, s.alice)
		s.Require().NoError(err)
		s.Equal(s.alice, msg.Sender)
		s.Equal(uint64(fees.DepositAmount), msg.Deposit)
		s.Equal(uint64(100_000), msg.Fee)
		s.Equal(uint64(900_000), msg.Net())

		s.Equal(uint64(0), s.balance(s.alice.Address()))
		s.Equal(uint64(900_000), s.balance(vaultAddr))
		s.Equal(uint64(100_000), s.balance(adminVaultAddr))
		s.Equal(uint64(100_000), s.config().TotalFeesCollected)

		var vault records.Vault
		s.tx(func(ctx context.Context, tx ledger.Tx) error {
			return records.Read(ctx, tx, vaultAddr, &vault)
		})
		s.Equal(uint64(900_000), vault.TotalDeposits)
		s.Equal(float64(100_000), testutil.ToFloat64(s.metrics.FeesCollected))
	})

	s.Run("second message in single mode", func() {
		s.fund(s.alice, fees.DepositAmount)
		_, err := s.service.SendMessage(s.aliceCtx, s.alice)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
		s.Equal(uint64(fees.DepositAmount), s.balance(s.alice.Address()))
	})

	s.Run("sender cannot cover the deposit", func() {
		_, err := s.service.SendMessage(s.bobCtx, s.bob)
		s.True(dErrors.HasCode(err, dErrors.CodeTransferFailed))

		msgAddr, _, err := s.addrs.Message(s.bob)
		s.Require().NoError(err)
		s.False(s.exists(msgAddr))
	})

	s.Run("requires the sender's proof", func() {
		_, err := s.service.SendMessage(s.bobCtx, s.alice)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestSendMessageRollsBackOnTransferFailure() {
	s.initConfig(10)
	s.fund(s.alice, fees.DepositAmount)

	ctrl := gomock.NewController(s.T())
	primitive := mocks.NewMockPrimitive(ctrl)
	ledgerMove := transfer.LedgerPrimitive{}.Move
	vaultAddr, _, err := s.addrs.Vault()
	s.Require().NoError(err)
	adminVaultAddr, _, err := s.addrs.AdminVault()
	s.Require().NoError(err)

	gomock.InOrder(
		primitive.EXPECT().
			Move(gomock.Any(), gomock.Any(), s.alice.Address(), vaultAddr, uint64(900_000)).
			DoAndReturn(ledgerMove),
		primitive.EXPECT().
			Move(gomock.Any(), gomock.Any(), s.alice.Address(), adminVaultAddr, uint64(100_000)).
			Return(errors.New("host rejected the transfer")),
	)
	svc := s.newService(transfer.New(s.addrs.Deriver(), transfer.WithPrimitive(primitive)))

	_, err = svc.SendMessage(s.aliceCtx, s.alice)
	s.True(dErrors.HasCode(err, dErrors.CodeTransferFailed))

	msgAddr, _, err := s.addrs.Message(s.alice)
	s.Require().NoError(err)
	s.False(s.exists(msgAddr))
	s.False(s.exists(vaultAddr))
	s.Equal(uint64(0), s.balance(vaultAddr))
	s.Equal(uint64(0), s.balance(adminVaultAddr))
	s.Equal(uint64(fees.DepositAmount), s.balance(s.alice.Address()))
	s.Equal(uint64(0), s.config().TotalFeesCollected)
}

func (s *ServiceSuite) TestLogMode() {
	s.initConfig(0)
	s.fund(s.alice, 3*fees.DepositAmount)
	svc := s.newService(s.engine, WithMessageMode(models.MessageModeLog))

	for seq := uint64(0); seq < 3; seq++ {
		msg, err := svc.SendMessage(s.aliceCtx, s.alice)
		s.Require().NoError(err)
		s.Equal(seq, msg.Sequence)
		s.Equal(uint64(0), msg.Fee)
	}

	msg, err := svc.GetMessage(context.Background(), s.alice, 1)
	s.Require().NoError(err)
	s.Equal(uint64(1), msg.Sequence)

	_, err = svc.GetMessage(context.Background(), s.alice, 3)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	s.Run("failed send does not advance the counter", func() {
		_, err := svc.SendMessage(s.aliceCtx, s.alice)
		s.True(dErrors.HasCode(err, dErrors.CodeTransferFailed))

		logAddr, _, err := s.addrs.MessageLog(s.alice)
		s.Require().NoError(err)
		var log records.MessageLog
		s.tx(func(ctx context.Context, tx ledger.Tx) error {
			return records.Read(ctx, tx, logAddr, &log)
		})
		s.Equal(uint64(3), log.Count)
	})
}

func (s *ServiceSuite) TestGetMessageSingleMode() {
	s.initConfig(100)
	s.fund(s.alice, fees.DepositAmount)
	_, err := s.service.SendMessage(s.aliceCtx, s.alice)
	s.Require().NoError(err)

	msg, err := s.service.GetMessage(context.Background(), s.alice, 0)
	s.Require().NoError(err)
	s.Equal(uint64(fees.DepositAmount), msg.Fee)
	s.Equal(uint64(0), msg.Net())

	_, err = s.service.GetMessage(context.Background(), s.alice, 1)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
