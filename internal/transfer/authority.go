package transfer

import "postage/pkg/domain"

type authorityKind int

const (
	authoritySigner authorityKind = iota + 1
	authorityDerived
)

// Authority is the proof a transfer presents for debiting its source.
type Authority struct {
	kind      authorityKind
	signer    domain.PublicKey
	bump      uint8
	namespace string
	seeds     [][]byte
}

// Signer authorizes debiting the account at key. It is honoured only when key
// is the authenticated caller of the request.
func Signer(key domain.PublicKey) Authority {
	return Authority{kind: authoritySigner, signer: key}
}

// Derived authorizes debiting a derived account by reproducing its derivation.
func Derived(bump uint8, namespace string, seeds ...[]byte) Authority {
	return Authority{kind: authorityDerived, bump: bump, namespace: namespace, seeds: seeds}
}
