package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"postage/internal/admin/models"
	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
	"postage/pkg/platform/httputil"
	"postage/pkg/requestcontext"
)

// Service defines the config, vault and account operations the handler exposes.
type Service interface {
	InitializeConfig(ctx context.Context, admin domain.PublicKey, rate int) (*models.Config, error)
	UpdateConfig(ctx context.Context, admin domain.PublicKey, rate int) (*models.Config, error)
	WithdrawAdminFees(ctx context.Context, admin domain.PublicKey, amount uint64) (*models.Withdrawal, error)
	GetConfig(ctx context.Context) (*models.Config, error)
	GetVault(ctx context.Context) (*models.Vault, error)
	AdminVaultBalance(ctx context.Context) (domain.Address, uint64, error)
	Balance(ctx context.Context, addr domain.Address) (uint64, error)
	Airdrop(ctx context.Context, to domain.Address, amount uint64) (uint64, error)
}

// Handler serves config, withdrawal, vault, balance and dev funding routes.
type Handler struct {
	logger       *slog.Logger
	admin        Service
	requireProof func(http.Handler) http.Handler
	requireToken func(http.Handler) http.Handler
}

// New creates a Handler. requireProof guards signed routes and requireToken
// guards the dev airdrop route.
func New(admin Service, logger *slog.Logger, requireProof, requireToken func(http.Handler) http.Handler) *Handler {
	return &Handler{
		logger:       logger,
		admin:        admin,
		requireProof: requireProof,
		requireToken: requireToken,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/config", h.handleGetConfig)
	r.Get("/v1/vault", h.handleGetVault)
	r.Get("/v1/accounts/{address}", h.handleGetBalance)

	r.Group(func(r chi.Router) {
		r.Use(h.requireProof)
		r.Post("/v1/config", h.handleInitializeConfig)
		r.Put("/v1/config", h.handleUpdateConfig)
		r.Post("/v1/admin/withdrawals", h.handleWithdraw)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireToken)
		r.Post("/v1/dev/airdrop", h.handleAirdrop)
	})
}

func (h *Handler) handleInitializeConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req FeeRateRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg, err := h.admin.InitializeConfig(ctx, caller, *req.FeeRate)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to initialize config", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toConfigResponse(cfg))
}

func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req FeeRateRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg, err := h.admin.UpdateConfig(ctx, caller, *req.FeeRate)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to update config", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toConfigResponse(cfg))
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req WithdrawRequest
	if !h.decode(w, r, &req) {
		return
	}

	out, err := h.admin.WithdrawAdminFees(ctx, caller, req.Amount)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to withdraw admin fees", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, WithdrawalResponse{
		Amount:            out.Amount,
		RemainingFees:     out.RemainingFees,
		AdminVaultBalance: out.AdminVaultBalance,
	})
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := h.admin.GetConfig(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to read config", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toConfigResponse(cfg))
}

func (h *Handler) handleGetVault(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vault, err := h.admin.GetVault(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to read vault", err)
		return
	}
	adminAddr, adminBalance, err := h.admin.AdminVaultBalance(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to read admin vault", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, VaultResponse{
		Address:           vault.Address.String(),
		TotalDeposits:     vault.TotalDeposits,
		Balance:           vault.Balance,
		AdminVault:        adminAddr.String(),
		AdminVaultBalance: adminBalance,
	})
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	addr, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid address"))
		return
	}
	balance, err := h.admin.Balance(ctx, addr)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to read balance", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, BalanceResponse{Address: addr.String(), Balance: balance})
}

func (h *Handler) handleAirdrop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req AirdropRequest
	if !h.decode(w, r, &req) {
		return
	}
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid address"))
		return
	}

	balance, err := h.admin.Airdrop(ctx, addr, req.Amount)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to airdrop", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, BalanceResponse{Address: addr.String(), Balance: balance})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	if err := httputil.DecodeJSON(r, dst); err != nil {
		h.logger.WarnContext(ctx, "invalid request body",
			"request_id", requestcontext.RequestID(ctx),
			"path", r.URL.Path,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return false
	}
	return true
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (domain.PublicKey, bool) {
	ctx := r.Context()
	caller, ok := requestcontext.Caller(ctx)
	if !ok {
		h.logger.ErrorContext(ctx, "caller missing from context despite proof middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return domain.PublicKey{}, false
	}
	return caller, true
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.GetCode(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err.Error())
	} else {
		h.logger.WarnContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err.Error())
	}
	httputil.WriteError(w, err)
}
