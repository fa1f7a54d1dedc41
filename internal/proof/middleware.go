package proof

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
	"postage/pkg/platform/httputil"
	"postage/pkg/requestcontext"
)

const authScheme = "Proof "

// RequestVerifier is the part of Verifier the middleware needs.
type RequestVerifier interface {
	Verify(ctx context.Context, token, method, path string, body []byte) (domain.PublicKey, error)
}

// RequireProof verifies the Authorization: Proof header against the request
// and stores the signing key as the caller. The body is buffered and restored
// for the handler.
func RequireProof(verifier RequestVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), authScheme)
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing proof",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, httputil.MaxBodyBytes+1))
			if err != nil {
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read request body"))
				return
			}
			if len(body) > httputil.MaxBodyBytes {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body too large"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			caller, err := verifier.Verify(ctx, token, r.Method, r.URL.Path, body)
			if err != nil {
				if dErrors.HasCode(err, dErrors.CodeInternal) {
					logger.ErrorContext(ctx, "failed to verify proof",
						"error", err,
						"request_id", requestcontext.RequestID(ctx),
					)
				} else {
					logger.WarnContext(ctx, "unauthorized access - invalid proof",
						"error", err,
						"request_id", requestcontext.RequestID(ctx),
					)
				}
				httputil.WriteError(w, err)
				return
			}

			ctx = requestcontext.WithCaller(ctx, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
