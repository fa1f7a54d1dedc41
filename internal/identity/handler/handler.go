package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"postage/internal/identity/models"
	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
	"postage/pkg/platform/httputil"
	"postage/pkg/requestcontext"
)

// Service defines the identity operations the handler exposes.
type Service interface {
	Register(ctx context.Context, owner domain.PublicKey) (*models.Profile, error)
	UpdateDisplayName(ctx context.Context, owner domain.PublicKey, name string) (*models.Profile, error)
	Unregister(ctx context.Context, owner domain.PublicKey) (uint64, error)
	GetProfile(ctx context.Context, owner domain.PublicKey) (*models.Profile, error)
	SendMessage(ctx context.Context, sender domain.PublicKey) (*models.Message, error)
	GetMessage(ctx context.Context, sender domain.PublicKey, seq uint64) (*models.Message, error)
}

// Handler serves profile and message routes.
type Handler struct {
	logger       *slog.Logger
	identity     Service
	requireProof func(http.Handler) http.Handler
}

// New creates a Handler. requireProof guards every mutating route.
func New(identity Service, logger *slog.Logger, requireProof func(http.Handler) http.Handler) *Handler {
	return &Handler{
		logger:       logger,
		identity:     identity,
		requireProof: requireProof,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/users/{key}", h.handleGetProfile)
	r.Get("/v1/messages/{key}/{seq}", h.handleGetMessage)

	r.Group(func(r chi.Router) {
		r.Use(h.requireProof)
		r.Post("/v1/users", h.handleRegister)
		r.Put("/v1/users/me", h.handleUpdateProfile)
		r.Delete("/v1/users/me", h.handleUnregister)
		r.Post("/v1/messages", h.handleSendMessage)
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	profile, err := h.identity.Register(ctx, caller)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to register user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toProfileResponse(profile))
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid update profile request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	profile, err := h.identity.UpdateDisplayName(ctx, caller, req.DisplayName)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to update user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toProfileResponse(profile))
}

func (h *Handler) handleUnregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	refunded, err := h.identity.Unregister(ctx, caller)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to unregister user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, UnregisterResponse{Owner: caller.String(), Refunded: refunded})
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, err := domain.ParsePublicKey(chi.URLParam(r, "key"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid public key"))
		return
	}

	profile, err := h.identity.GetProfile(ctx, owner)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to read profile", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toProfileResponse(profile))
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	msg, err := h.identity.SendMessage(ctx, caller)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to send message", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toMessageResponse(msg))
}

func (h *Handler) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sender, err := domain.ParsePublicKey(chi.URLParam(r, "key"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid public key"))
		return
	}
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid sequence"))
		return
	}

	msg, err := h.identity.GetMessage(ctx, sender, seq)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to read message", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toMessageResponse(msg))
}

// caller returns the key proven by the proof middleware.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (domain.PublicKey, bool) {
	ctx := r.Context()
	caller, ok := requestcontext.Caller(ctx)
	if !ok {
		// RequireProof sets the caller on every guarded route.
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
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	} else {
		h.logger.WarnContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
