// Package address derives deterministic record addresses from a namespace tag
// and seed bytes.
//
// A derived address is sha256(seeds || bump || programID || marker). The bump is
// searched from 255 downwards until the digest is not a valid ed25519 point, so
// no keypair can exist for it and only this service can authorize transfers out
// of it by reproducing the derivation.
package address

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"postage/pkg/domain"
)

const (
	// MaxSeeds bounds the number of seeds including the bump.
	MaxSeeds = 16
	// MaxSeedLen bounds each individual seed.
	MaxSeedLen = 32

	derivationMarker = "ProgramDerivedAddress"
)

var (
	ErrMaxSeedLength = errors.New("seed exceeds maximum length")
	ErrTooManySeeds  = errors.New("too many seeds")
	ErrOnCurve       = errors.New("derived address lies on the ed25519 curve")
	ErrNoViableBump  = errors.New("no viable bump found")
)

// Deriver binds derivations to one program identity. Two services with
// different program IDs never derive the same address from the same seeds.
type Deriver struct {
	programID domain.Address
}

// New constructs a Deriver for programID.
func New(programID domain.Address) *Deriver {
	return &Deriver{programID: programID}
}

// ProgramID returns the identity mixed into every derivation.
func (d *Deriver) ProgramID() domain.Address {
	return d.programID
}

// Find returns the first off-curve address for namespace and seeds together
// with the bump that produced it. Identical inputs always return identical
// results.
func (d *Deriver) Find(namespace string, seeds ...[]byte) (domain.Address, uint8, error) {
	all := withNamespace(namespace, seeds)
	if err := checkSeeds(all, 1); err != nil {
		return domain.Address{}, 0, err
	}
	for bump := 255; bump >= 0; bump-- {
		addr, err := d.create(append(all, []byte{byte(bump)}))
		if errors.Is(err, ErrOnCurve) {
			continue
		}
		if err != nil {
			return domain.Address{}, 0, err
		}
		return addr, uint8(bump), nil
	}
	return domain.Address{}, 0, ErrNoViableBump
}

// Create recomputes the address for an explicit bump. It fails with ErrOnCurve
// when that bump does not produce a valid derived address.
func (d *Deriver) Create(bump uint8, namespace string, seeds ...[]byte) (domain.Address, error) {
	all := withNamespace(namespace, seeds)
	if err := checkSeeds(all, 1); err != nil {
		return domain.Address{}, err
	}
	return d.create(append(all, []byte{bump}))
}

func (d *Deriver) create(seeds [][]byte) (domain.Address, error) {
	h := sha256.New()
	for _, s := range seeds {
		_, _ = h.Write(s)
	}
	_, _ = h.Write(d.programID[:])
	_, _ = h.Write([]byte(derivationMarker))

	var out domain.Address
	copy(out[:], h.Sum(nil))
	if IsOnCurve(out[:]) {
		return domain.Address{}, ErrOnCurve
	}
	return out, nil
}

// IsOnCurve reports whether b decodes to a point on the ed25519 curve, i.e.
// whether it could be an ordinary public key.
func IsOnCurve(b []byte) bool {
	if len(b) != domain.KeySize {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

func withNamespace(namespace string, seeds [][]byte) [][]byte {
	all := make([][]byte, 0, len(seeds)+2)
	all = append(all, []byte(namespace))
	return append(all, seeds...)
}

func checkSeeds(seeds [][]byte, reserved int) error {
	if len(seeds)+reserved > MaxSeeds {
		return fmt.Errorf("%w: %d", ErrTooManySeeds, len(seeds)+reserved)
	}
	for _, s := range seeds {
		if len(s) > MaxSeedLen {
			return fmt.Errorf("%w: %d bytes", ErrMaxSeedLength, len(s))
		}
	}
	return nil
}
