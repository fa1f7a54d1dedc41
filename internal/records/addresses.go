package records

import (
	"encoding/binary"

	"postage/internal/address"
	"postage/pkg/domain"
)

// Namespaces of every derived address.
const (
	NamespaceConfig     = "config"
	NamespaceProfile    = "user_profile"
	NamespaceMessage    = "email_account"
	NamespaceMessageLog = "email_log"
	NamespaceVault      = "vault"
	NamespaceAdminVault = "admin_vault"
)

// Addresses derives the location of each record type.
type Addresses struct {
	deriver *address.Deriver
}

func NewAddresses(d *address.Deriver) Addresses {
	return Addresses{deriver: d}
}

func (a Addresses) Deriver() *address.Deriver {
	return a.deriver
}

func (a Addresses) Config() (domain.Address, uint8, error) {
	return a.deriver.Find(NamespaceConfig)
}

func (a Addresses) Profile(owner domain.PublicKey) (domain.Address, uint8, error) {
	return a.deriver.Find(NamespaceProfile, owner[:])
}

// Message is the single-message address of sender.
func (a Addresses) Message(sender domain.PublicKey) (domain.Address, uint8, error) {
	return a.deriver.Find(NamespaceMessage, sender[:])
}

// MessageAt is the address of the sender's message with the given sequence
// number when a log is kept.
func (a Addresses) MessageAt(sender domain.PublicKey, seq uint64) (domain.Address, uint8, error) {
	return a.deriver.Find(NamespaceMessage, sender[:], binary.LittleEndian.AppendUint64(nil, seq))
}

func (a Addresses) MessageLog(sender domain.PublicKey) (domain.Address, uint8, error) {
	return a.deriver.Find(NamespaceMessageLog, sender[:])
}

func (a Addresses) Vault() (domain.Address, uint8, error) {
	return a.deriver.Find(NamespaceVault)
}

func (a Addresses) AdminVault() (domain.Address, uint8, error) {
	return a.deriver.Find(NamespaceAdminVault)
}
