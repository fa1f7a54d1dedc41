package models

import (
	"fmt"
	"unicode/utf8"

	"postage/internal/records"
	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
)

// MessageMode selects how many messages a sender may record.
type MessageMode string

const (
	// MessageModeSingle allows one message per sender at a fixed address.
	MessageModeSingle MessageMode = "single"
	// MessageModeLog allows any number of messages at sequence-derived addresses.
	MessageModeLog MessageMode = "log"
)

// ParseMessageMode accepts "single", "log" or empty (single).
func ParseMessageMode(s string) (MessageMode, error) {
	switch MessageMode(s) {
	case "", MessageModeSingle:
		return MessageModeSingle, nil
	case MessageModeLog:
		return MessageModeLog, nil
	default:
		return "", fmt.Errorf("unknown message mode %q", s)
	}
}

// Profile is a stored user profile together with its location.
type Profile struct {
	Address     domain.Address
	Owner       domain.PublicKey
	Bump        uint8
	DisplayName string
}

func NewProfile(addr domain.Address, rec *records.UserProfile) *Profile {
	return &Profile{Address: addr, Owner: rec.Owner, Bump: rec.Bump, DisplayName: rec.DisplayName}
}

// ValidateDisplayName enforces the byte limit and UTF-8 encoding.
func ValidateDisplayName(name string) error {
	if len(name) > records.MaxDisplayNameLen {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("display name must be at most %d bytes", records.MaxDisplayNameLen))
	}
	if !utf8.ValidString(name) {
		return dErrors.New(dErrors.CodeValidation, "display name must be valid utf-8")
	}
	return nil
}

// Message is a stored message record together with its location.
type Message struct {
	Address  domain.Address
	Sender   domain.PublicKey
	Bump     uint8
	Sequence uint64
	Deposit  uint64
	Fee      uint64
}

// Net is the part of the deposit kept in the vault.
func (m *Message) Net() uint64 {
	return m.Deposit - m.Fee
}

func NewMessage(addr domain.Address, rec *records.Message) *Message {
	return &Message{
		Address:  addr,
		Sender:   rec.Sender,
		Bump:     rec.Bump,
		Sequence: rec.Sequence,
		Deposit:  rec.Deposit,
		Fee:      rec.Fee,
	}
}
