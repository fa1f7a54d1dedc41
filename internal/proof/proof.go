// Package proof issues and verifies request proofs: short-lived JWTs signed
// with EdDSA by the key a request acts for, bound to the method, path and body.
package proof

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
)

// MaxLifetime bounds exp - iat for every accepted proof.
const MaxLifetime = 5 * time.Minute

// Claims carries the registered claims plus the request binding.
type Claims struct {
	Method   string `json:"htm"`
	Path     string `json:"htu"`
	BodyHash string `json:"bh"`
	jwt.RegisteredClaims
}

// HashBody returns the base64url sha256 digest carried in the bh claim.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Sign issues a proof for one request.
func Sign(key ed25519.PrivateKey, method, path string, body []byte, lifetime time.Duration, now time.Time) (string, error) {
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok || len(pub) != domain.KeySize {
		return "", errors.New("invalid ed25519 key")
	}
	if lifetime <= 0 || lifetime > MaxLifetime {
		lifetime = MaxLifetime
	}
	subject, err := domain.PublicKeyFromBytes(pub)
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, Claims{
		Method:   method,
		Path:     path,
		BodyHash: HashBody(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(key)
}

// ReplayCache remembers proof ids until they expire.
type ReplayCache interface {
	// Claim records jti and reports whether it had not been seen before.
	Claim(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

type Verifier struct {
	replay ReplayCache
	maxAge time.Duration
	leeway time.Duration
	now    func() time.Time
}

type Option func(*Verifier)

// WithMaxAge lowers the accepted lifetime below MaxLifetime.
func WithMaxAge(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 && d < MaxLifetime {
			v.maxAge = d
		}
	}
}

func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) {
		v.leeway = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

func NewVerifier(replay ReplayCache, opts ...Option) *Verifier {
	v := &Verifier{
		replay: replay,
		maxAge: MaxLifetime,
		leeway: 5 * time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the token against the request it arrived with and returns
// the key that signed it. Each token is accepted at most once.
func (v *Verifier) Verify(ctx context.Context, token, method, path string, body []byte) (domain.PublicKey, error) {
	var signer domain.PublicKey
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		sub, err := t.Claims.GetSubject()
		if err != nil {
			return nil, err
		}
		signer, err = domain.ParsePublicKey(sub)
		if err != nil {
			return nil, err
		}
		return ed25519.PublicKey(signer.Bytes()), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.PublicKey{}, dErrors.New(dErrors.CodeUnauthorized, "proof has expired")
		}
		return domain.PublicKey{}, dErrors.New(dErrors.CodeUnauthorized, "invalid proof")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return domain.PublicKey{}, dErrors.New(dErrors.CodeUnauthorized, "invalid proof claims")
	}

	if claims.IssuedAt == nil || claims.ExpiresAt.Sub(claims.IssuedAt.Time) > v.maxAge {
		return domain.PublicKey{}, dErrors.New(dErrors.CodeUnauthorized, "proof lifetime too long")
	}
	if claims.Method != method || claims.Path != path {
		return domain.PublicKey{}, dErrors.New(dErrors.CodeUnauthorized, "proof is bound to another request")
	}
	if claims.BodyHash != HashBody(body) {
		return domain.PublicKey{}, dErrors.New(dErrors.CodeUnauthorized, "proof does not match the request body")
	}
	if claims.ID == "" {
		return domain.PublicKey{}, dErrors.New(dErrors.CodeUnauthorized, "proof id missing")
	}

	if v.replay != nil {
		ttl := claims.ExpiresAt.Sub(v.now()) + v.leeway
		fresh, err := v.replay.Claim(ctx, claims.ID, ttl)
		if err != nil {
			return domain.PublicKey{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check proof replay")
		}
		if !fresh {
			return domain.PublicKey{}, dErrors.New(dErrors.CodeUnauthorized, "proof already used")
		}
	}
	return signer, nil
}
