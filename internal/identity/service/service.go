// Package service implements the identity registry: profile lifecycle and
// deposit-backed messages.
package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"postage/internal/fees"
	"postage/internal/guard"
	"postage/internal/identity/models"
	"postage/internal/ledger"
	"postage/internal/platform/metrics"
	"postage/internal/platform/tracing"
	"postage/internal/records"
	"postage/internal/transfer"
	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
	"postage/pkg/platform/audit"
	"postage/pkg/requestcontext"
)

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service runs every operation inside one ledger transaction, so a failure at
// any step leaves no partial record, balance or counter change.
type Service struct {
	ledger         ledger.Store
	addrs          records.Addresses
	transfers      *transfer.Engine
	mode           models.MessageMode
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

func WithMessageMode(mode models.MessageMode) Option {
	return func(s *Service) {
		s.mode = mode
	}
}

func New(store ledger.Store, addrs records.Addresses, transfers *transfer.Engine, opts ...Option) *Service {
	s := &Service{
		ledger:    store,
		addrs:     addrs,
		transfers: transfers,
		mode:      models.MessageModeSingle,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:    tracing.Tracer("postage/identity"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates the caller's profile with an empty display name.
func (s *Service) Register(ctx context.Context, owner domain.PublicKey) (_ *models.Profile, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "identity.Register", attribute.String("owner", owner.String()))
	defer s.finish("register_user", span, time.Now(), &err)

	if err := guard.RequireCaller(ctx, owner); err != nil {
		return nil, err
	}
	addr, bump, err := s.addrs.Profile(owner)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive profile address")
	}

	rec := &records.UserProfile{Owner: owner, Bump: bump}
	err = s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
		return records.DomainError(records.Create(ctx, tx, addr, rec), "profile")
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementUsersRegistered()
	s.logAudit(ctx, audit.EventUserRegistered, owner, addr, 0)
	return models.NewProfile(addr, rec), nil
}

// UpdateDisplayName replaces the display name on the caller's profile.
func (s *Service) UpdateDisplayName(ctx context.Context, owner domain.PublicKey, name string) (_ *models.Profile, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "identity.UpdateDisplayName", attribute.String("owner", owner.String()))
	defer s.finish("update_user", span, time.Now(), &err)

	if err := guard.RequireCaller(ctx, owner); err != nil {
		return nil, err
	}
	if err := models.ValidateDisplayName(name); err != nil {
		return nil, err
	}
	addr, _, err := s.addrs.Profile(owner)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive profile address")
	}

	var rec records.UserProfile
	err = s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
		err := records.Mutate(ctx, tx, addr, &rec, func() error {
			if rec.Owner != owner {
				return dErrors.New(dErrors.CodeUnauthorized, "profile belongs to another key")
			}
			rec.DisplayName = name
			return nil
		})
		return records.DomainError(err, "profile")
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, audit.EventUserUpdated, owner, addr, 0)
	return models.NewProfile(addr, &rec), nil
}

// Unregister closes the caller's profile and returns its balance to the owner.
func (s *Service) Unregister(ctx context.Context, owner domain.PublicKey) (refunded uint64, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "identity.Unregister", attribute.String("owner", owner.String()))
	defer s.finish("unregister_user", span, time.Now(), &err)

	if err := guard.RequireCaller(ctx, owner); err != nil {
		return 0, err
	}
	addr, _, err := s.addrs.Profile(owner)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive profile address")
	}

	err = s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
		var rec records.UserProfile
		if err := records.Read(ctx, tx, addr, &rec); err != nil {
			return records.DomainError(err, "profile")
		}
		if rec.Owner != owner {
			return dErrors.New(dErrors.CodeUnauthorized, "profile belongs to another key")
		}
		moved, err := records.Destroy(ctx, tx, addr, owner.Address())
		if err != nil {
			return records.DomainError(err, "profile")
		}
		refunded = moved
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.IncrementUsersUnregistered()
	s.logAudit(ctx, audit.EventUserUnregistered, owner, addr, refunded)
	return refunded, nil
}

// GetProfile reads a profile. It requires no caller proof.
func (s *Service) GetProfile(ctx context.Context, owner domain.PublicKey) (*models.Profile, error) {
	addr, _, err := s.addrs.Profile(owner)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive profile address")
	}
	var rec records.UserProfile
	err = s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
		return records.DomainError(records.Read(ctx, tx, addr, &rec), "profile")
	})
	if err != nil {
		return nil, err
	}
	return models.NewProfile(addr, &rec), nil
}

// SendMessage records a message from the caller and charges the fixed
// deposit: the admin fee goes to the admin vault, the rest to the vault.
func (s *Service) SendMessage(ctx context.Context, sender domain.PublicKey) (_ *models.Message, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "identity.SendMessage",
		attribute.String("sender", sender.String()),
		attribute.String("mode", string(s.mode)),
	)
	defer s.finish("send_message", span, time.Now(), &err)

	if err := guard.RequireCaller(ctx, sender); err != nil {
		return nil, err
	}
	cfgAddr, _, err := s.addrs.Config()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive config address")
	}
	vaultAddr, vaultBump, err := s.addrs.Vault()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive vault address")
	}
	adminVaultAddr, _, err := s.addrs.AdminVault()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive admin vault address")
	}

	var msg *models.Message
	err = s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
		var cfg records.Config
		if err := records.Read(ctx, tx, cfgAddr, &cfg); err != nil {
			return records.DomainError(err, "config")
		}

		msgAddr, rec, err := s.newMessage(ctx, tx, sender)
		if err != nil {
			return err
		}
		fee, net, err := fees.Split(fees.DepositAmount, cfg.FeeRate)
		if err != nil {
			return err
		}
		rec.Deposit = fees.DepositAmount
		rec.Fee = fee
		if err := records.Create(ctx, tx, msgAddr, rec); err != nil {
			return records.DomainError(err, "message")
		}

		exists, err := records.Exists(ctx, tx, vaultAddr)
		if err != nil {
			return records.DomainError(err, "vault")
		}
		if !exists {
			if err := records.Create(ctx, tx, vaultAddr, &records.Vault{Bump: vaultBump}); err != nil {
				return records.DomainError(err, "vault")
			}
		}

		from := sender.Address()
		if err := s.transfers.Transfer(ctx, tx, from, vaultAddr, net, transfer.Signer(sender)); err != nil {
			return err
		}
		if err := s.transfers.Transfer(ctx, tx, from, adminVaultAddr, fee, transfer.Signer(sender)); err != nil {
			return err
		}

		var vault records.Vault
		if err := records.Mutate(ctx, tx, vaultAddr, &vault, func() error {
			return fees.AddDeposit(&vault, net)
		}); err != nil {
			return records.DomainError(err, "vault")
		}
		if err := records.Mutate(ctx, tx, cfgAddr, &cfg, func() error {
			return fees.RecordFee(&cfg, fee)
		}); err != nil {
			return records.DomainError(err, "config")
		}

		msg = models.NewMessage(msgAddr, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordMessage(msg.Fee, msg.Net())
	s.logAudit(ctx, audit.EventMessageSent, sender, msg.Address, msg.Deposit,
		"sequence", msg.Sequence,
		"admin_fee", msg.Fee,
		"net_deposit", msg.Net(),
	)
	return msg, nil
}

// newMessage chooses the address of the next message from sender. In log mode
// it advances the sender's message counter inside tx.
func (s *Service) newMessage(ctx context.Context, tx ledger.Tx, sender domain.PublicKey) (domain.Address, *records.Message, error) {
	if s.mode != models.MessageModeLog {
		addr, bump, err := s.addrs.Message(sender)
		if err != nil {
			return domain.Address{}, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive message address")
		}
		return addr, &records.Message{Sender: sender, Bump: bump}, nil
	}

	logAddr, logBump, err := s.addrs.MessageLog(sender)
	if err != nil {
		return domain.Address{}, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive message log address")
	}
	exists, err := records.Exists(ctx, tx, logAddr)
	if err != nil {
		return domain.Address{}, nil, records.DomainError(err, "message log")
	}
	if !exists {
		if err := records.Create(ctx, tx, logAddr, &records.MessageLog{Sender: sender, Bump: logBump}); err != nil {
			return domain.Address{}, nil, records.DomainError(err, "message log")
		}
	}

	var log records.MessageLog
	var seq uint64
	err = records.Mutate(ctx, tx, logAddr, &log, func() error {
		if log.Count == ^uint64(0) {
			return dErrors.New(dErrors.CodeArithmeticOverflow, "message counter overflowed")
		}
		seq = log.Count
		log.Count++
		return nil
	})
	if err != nil {
		return domain.Address{}, nil, records.DomainError(err, "message log")
	}

	addr, bump, err := s.addrs.MessageAt(sender, seq)
	if err != nil {
		return domain.Address{}, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive message address")
	}
	return addr, &records.Message{Sender: sender, Bump: bump, Sequence: seq}, nil
}

// GetMessage reads a message record. In single mode the sequence must be zero.
func (s *Service) GetMessage(ctx context.Context, sender domain.PublicKey, seq uint64) (*models.Message, error) {
	var addr domain.Address
	var err error
	if s.mode == models.MessageModeLog {
		addr, _, err = s.addrs.MessageAt(sender, seq)
	} else {
		if seq != 0 {
			return nil, dErrors.New(dErrors.CodeNotFound, "message not found")
		}
		addr, _, err = s.addrs.Message(sender)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive message address")
	}

	var rec records.Message
	err = s.ledger.RunInTx(ctx, func(tx ledger.Tx) error {
		return records.DomainError(records.Read(ctx, tx, addr, &rec), "message")
	})
	if err != nil {
		return nil, err
	}
	return models.NewMessage(addr, &rec), nil
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
