package proof

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
	"postage/pkg/requestcontext"
)

type stubVerifier struct {
	caller domain.PublicKey
	err    error
	body   []byte
	path   string
}

func (v *stubVerifier) Verify(_ context.Context, _, _, path string, body []byte) (domain.PublicKey, error) {
	v.body = body
	v.path = path
	return v.caller, v.err
}

func swapSubject(t *testing.T, token string, key domain.PublicKey) string {
	t.Helper()
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	claims := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &claims))
	claims["sub"] = key.String()
	raw, err = json.Marshal(claims)
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString(raw)
	return strings.Join(parts, ".")
}

func TestRequireProof(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	caller := domain.PublicKey{0x42}

	handler := func(t *testing.T) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := requestcontext.Caller(r.Context())
			assert.True(t, ok)
			assert.Equal(t, caller, got)
			body, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			_, _ = w.Write(body)
		})
	}

	t.Run("missing header", func(t *testing.T) {
		verifier := &stubVerifier{caller: caller}
		req := httptest.NewRequest(http.MethodPost, "/v1/users", nil)
		rr := httptest.NewRecorder()
		RequireProof(verifier, logger)(handler(t)).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), `"unauthorized"`)
	})

	t.Run("bearer scheme is not a proof", func(t *testing.T) {
		verifier := &stubVerifier{caller: caller}
		req := httptest.NewRequest(http.MethodPost, "/v1/users", nil)
		req.Header.Set("Authorization", "Bearer abc")
		rr := httptest.NewRecorder()
		RequireProof(verifier, logger)(handler(t)).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("rejected proof", func(t *testing.T) {
		verifier := &stubVerifier{err: dErrors.New(dErrors.CodeUnauthorized, "proof already used")}
		req := httptest.NewRequest(http.MethodPost, "/v1/users", nil)
		req.Header.Set("Authorization", "Proof abc")
		rr := httptest.NewRecorder()
		RequireProof(verifier, logger)(handler(t)).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "proof already used")
	})

	t.Run("replay cache failure", func(t *testing.T) {
		verifier := &stubVerifier{err: dErrors.New(dErrors.CodeInternal, "redis down")}
		req := httptest.NewRequest(http.MethodPost, "/v1/users", nil)
		req.Header.Set("Authorization", "Proof abc")
		rr := httptest.NewRecorder()
		RequireProof(verifier, logger)(handler(t)).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "redis down")
	})

	t.Run("valid proof passes the body through", func(t *testing.T) {
		verifier := &stubVerifier{caller: caller}
		req := httptest.NewRequest(http.MethodPut, "/v1/users/me", strings.NewReader(`{"display_name":"Alice"}`))
		req.Header.Set("Authorization", "Proof abc")
		rr := httptest.NewRecorder()
		RequireProof(verifier, logger)(handler(t)).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, `{"display_name":"Alice"}`, rr.Body.String())
		assert.Equal(t, `{"display_name":"Alice"}`, string(verifier.body))
		assert.Equal(t, "/v1/users/me", verifier.path)
	})
}
