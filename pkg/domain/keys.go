// Package domain holds the typed identifiers shared by every layer.
//
// PublicKey and Address are both 32-byte values rendered as base58. They are
// distinct types so a derived record address can never be passed where a
// caller's signing key is expected without an explicit conversion.
package domain

import (
	"bytes"

	"github.com/mr-tron/base58"

	dErrors "postage/pkg/domain-errors"
)

// KeySize is the byte length of public keys and addresses.
const KeySize = 32

// maxEncodedLen bounds base58 input before decoding. 32 bytes encode to at most 44 chars.
const maxEncodedLen = 44

// PublicKey is an ed25519 public key that identifies an external actor.
type PublicKey [KeySize]byte

// Address locates an account in the ledger. External actors' accounts live at
// their public key; service-owned records live at derived addresses.
type Address [KeySize]byte

// ParsePublicKey constructs a PublicKey from base58 text.
//
// Errors: returns CodeBadRequest when the text is empty, not base58, the wrong
// length, or the all-zero key.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, err := decode32(s)
	if err != nil {
		return PublicKey{}, err
	}
	return PublicKey(raw), nil
}

// ParseAddress constructs an Address from base58 text.
func ParseAddress(s string) (Address, error) {
	raw, err := decode32(s)
	if err != nil {
		return Address{}, err
	}
	return Address(raw), nil
}

// PublicKeyFromBytes copies b into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != KeySize {
		return PublicKey{}, dErrors.New(dErrors.CodeBadRequest, "public key must be 32 bytes")
	}
	var k PublicKey
	copy(k[:], b)
	return k, nil
}

func decode32(s string) ([KeySize]byte, error) {
	var out [KeySize]byte
	if s == "" {
		return out, dErrors.New(dErrors.CodeBadRequest, "key cannot be empty")
	}
	if len(s) > maxEncodedLen {
		return out, dErrors.New(dErrors.CodeBadRequest, "key is too long")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return out, dErrors.New(dErrors.CodeBadRequest, "key must be base58")
	}
	if len(raw) != KeySize {
		return out, dErrors.New(dErrors.CodeBadRequest, "key must decode to 32 bytes")
	}
	copy(out[:], raw)
	if out == ([KeySize]byte{}) {
		return out, dErrors.New(dErrors.CodeBadRequest, "key cannot be all zeroes")
	}
	return out, nil
}

func (k PublicKey) String() string { return base58.Encode(k[:]) }

// Bytes returns a copy of the key bytes.
func (k PublicKey) Bytes() []byte { return bytes.Clone(k[:]) }

// IsZero reports whether the key is unset.
func (k PublicKey) IsZero() bool { return k == PublicKey{} }

// Address returns the account address owned by this key.
func (k PublicKey) Address() Address { return Address(k) }

func (a Address) String() string { return base58.Encode(a[:]) }

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte { return bytes.Clone(a[:]) }

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == Address{} }

// MarshalText renders the key as base58 for JSON.
func (k PublicKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText parses base58 JSON input.
func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
