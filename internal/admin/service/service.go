// Package service manages the singleton fee configuration and the admin vault.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"postage/internal/admin/models"
	"postage/internal/fees"
	"postage/internal/guard"
	"postage/internal/ledger"
	"postage/internal/platform/metrics"
	"postage/internal/platform/tracing"
	"postage/internal/records"
	"postage/internal/transfer"
	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
	"postage/pkg/platform/audit"
	"postage/pkg/platform/sentinel"
	"postage/pkg/requestcontext"
)

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	ledger         ledger.Store
	addrs          records.Addresses
	transfers      *transfer.Engine
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store ledger.Store, addrs records.Addresses, transfers *transfer.Engine, opts ...Option) *Service {
	s := &Service{
		ledger:    store,
		addrs:     addrs,
		transfers: transfers,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:    tracing.Tracer("postage/admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitializeConfig creates the fee configuration with the caller as admin.
// It can succeed only once.
func (s *Service) InitializeConfig(ctx context.Context, admin domain.PublicKey, rate int) (_ *models.Config, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "admin.InitializeConfig", attribute.Int("fee_rate", rate))
	defer s.finish("initialize_config", span, time.Now(), &err)

	if err := guard.RequireCaller(ctx, admin); err != nil {
		return nil, err
	}
	addr, bump, err := s.addrs.Config()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive config address")
	}
	cfg, err := fees.NewConfig(admin, rate, bump)
	if err != nil {
		return nil, err
	}

	err = s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
		return records.DomainError(records.Create(ctx, tx, addr, cfg), "config")
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, audit.EventConfigInitialized, admin, addr, 0, "fee_rate", cfg.FeeRate)
	return models.NewConfig(addr, cfg), nil
}

// UpdateConfig changes the fee rate. Only the stored admin may call it.
func (s *Service) UpdateConfig(ctx context.Context, admin domain.PublicKey, rate int) (_ *models.Config, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "admin.UpdateConfig", attribute.Int("fee_rate", rate))
	defer s.finish("update_config", span, time.Now(), &err)

	if err := guard.RequireCaller(ctx, admin); err != nil {
		return nil, err
	}
	if _, err := fees.ValidateRate(rate); err != nil {
		return nil, err
	}
	addr, _, err := s.addrs.Config()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive config address")
	}

	var cfg records.Config
	err = s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
		err := records.Mutate(ctx, tx, addr, &cfg, func() error {
			if cfg.Admin != admin {
				return dErrors.New(dErrors.CodeUnauthorized, "caller is not the admin")
			}
			return fees.SetFeeRate(&cfg, rate)
		})
		return records.DomainError(err, "config")
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, audit.EventConfigUpdated, admin, addr, 0, "fee_rate", cfg.FeeRate)
	return models.NewConfig(addr, &cfg), nil
}

// WithdrawAdminFees debits the fee counter and pays amount out of the admin
// vault to the admin in the same transaction.
func (s *Service) WithdrawAdminFees(ctx context.Context, admin domain.PublicKey, amount uint64) (_ *models.Withdrawal, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "admin.WithdrawAdminFees", attribute.Int64("amount", int64(amount)))
	defer s.finish("withdraw_admin_fees", span, time.Now(), &err)

	if err := guard.RequireCaller(ctx, admin); err != nil {
		return nil, err
	}
	cfgAddr, _, err := s.addrs.Config()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive config address")
	}
	vaultAddr, vaultBump, err := s.addrs.AdminVault()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive admin vault address")
	}

	out := &models.Withdrawal{Amount: amount}
	err = s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
		var cfg records.Config
		err := records.Mutate(ctx, tx, cfgAddr, &cfg, func() error {
			if cfg.Admin != admin {
				return dErrors.New(dErrors.CodeUnauthorized, "caller is not the admin")
			}
			return fees.DebitFee(&cfg, amount)
		})
		if err != nil {
			return records.DomainError(err, "config")
		}
		out.RemainingFees = cfg.TotalFeesCollected

		auth := transfer.Derived(vaultBump, records.NamespaceAdminVault)
		if err := s.transfers.Transfer(ctx, tx, vaultAddr, admin.Address(), amount, auth); err != nil {
			return err
		}
		out.AdminVaultBalance, err = transfer.Balance(ctx, tx, vaultAddr)
		return records.DomainError(err, "admin vault")
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordWithdrawal(amount)
	s.logAudit(ctx, audit.EventFeesWithdrawn, admin, vaultAddr, amount, "remaining_fees", out.RemainingFees)
	return out, nil
}

// GetConfig reads the fee configuration.
func (s *Service) GetConfig(ctx context.Context) (*models.Config, error) {
	addr, _, err := s.addrs.Config()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive config address")
	}
	var cfg records.Config
	err = s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
		return records.DomainError(records.Read(ctx, tx, addr, &cfg), "config")
	})
	if err != nil {
		return nil, err
	}
	return models.NewConfig(addr, &cfg), nil
}

// GetVault reports the deposit vault totals and balance.
func (s *Service) GetVault(ctx context.Context) (*models.Vault, error) {
	addr, _, err := s.addrs.Vault()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive vault address")
	}
	out := &models.Vault{Address: addr}
	err = s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
		var err error
		if out.Balance, err = transfer.Balance(ctx, tx, addr); err != nil {
			return records.DomainError(err, "vault")
		}
		var vault records.Vault
		if err := records.Read(ctx, tx, addr, &vault); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil
			}
			return records.DomainError(err, "vault")
		}
		out.TotalDeposits = vault.TotalDeposits
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AdminVaultBalance returns the balance held for fee withdrawals.
func (s *Service) AdminVaultBalance(ctx context.Context) (domain.Address, uint64, error) {
	addr, _, err := s.addrs.AdminVault()
	if err != nil {
		return domain.Address{}, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive admin vault address")
	}
	balance, err := s.Balance(ctx, addr)
	return addr, balance, err
}

// Balance returns the balance of any account, zero when it does not exist.
func (s *Service) Balance(ctx context.Context, addr domain.Address) (uint64, error) {
	var balance uint64
	err := s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
		var err error
		balance, err = transfer.Balance(ctx, tx, addr)
		return records.DomainError(err, "account")
	})
	return balance, err
}

// Airdrop credits an account for local development. Callers gate it.
func (s *Service) Airdrop(ctx context.Context, to domain.Address, amount uint64) (balance uint64, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "admin.Airdrop", attribute.String("to", to.String()))
	defer s.finish("airdrop", span, time.Now(), &err)

	if amount == 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	err = s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
		var err error
		balance, err = s.transfers.Airdrop(ctx, tx, to, amount)
		return records.DomainError(err, "account")
	})
	if err != nil {
		return 0, err
	}
	s.logAudit(ctx, audit.EventAirdrop, domain.PublicKey(to), to, amount)
	return balance, nil
}

func (s *Service) finish(operation string, span trace.Span, start time.Time, errp *error) {
	s.metrics.ObserveOperation(operation, start, *errp)
	tracing.End(span, *errp)
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, subject domain.PublicKey, addr domain.Address, amount uint64, attributes ...any) {
	args := append(attributes,
		"event", string(event),
		"log_type", "audit",
		"subject", subject.String(),
		"address", addr.String(),
	)
	if amount > 0 {
		args = append(args, "amount", amount)
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, string(event), args...)

	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		Subject: subject.String(),
		Action:  string(event),
		Address: addr.String(),
		Amount:  amount,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "event", string(event), "error", err)
	}
}
