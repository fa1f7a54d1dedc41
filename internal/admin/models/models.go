package models

import (
	"postage/internal/records"
	"postage/pkg/domain"
)

// Config is the singleton fee configuration.
type Config struct {
	Address            domain.Address
	Admin              domain.PublicKey
	FeeRate            uint8
	TotalFeesCollected uint64
	Bump               uint8
}

func NewConfig(addr domain.Address, rec *records.Config) *Config {
	return &Config{
		Address:            addr,
		Admin:              rec.Admin,
		FeeRate:            rec.FeeRate,
		TotalFeesCollected: rec.TotalFeesCollected,
		Bump:               rec.Bump,
	}
}

// Vault summarizes the deposit vault. TotalDeposits is zero and Balance may be
// non-zero before the first message creates the vault record.
type Vault struct {
	Address       domain.Address
	TotalDeposits uint64
	Balance       uint64
}

// Withdrawal is the outcome of an admin fee withdrawal.
type Withdrawal struct {
	Amount            uint64
	RemainingFees     uint64
	AdminVaultBalance uint64
}
