// Package fees holds the fee arithmetic applied to deposits and the running
// fee counter kept in the config record. All arithmetic is checked.
package fees

import (
	"math/bits"

	"postage/internal/records"
	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
)

const (
	// DepositAmount is the fixed deposit charged per message, in minor units.
	DepositAmount uint64 = 1_000_000
	// MaxFeeRate is the highest accepted fee rate in whole percent.
	MaxFeeRate = 100
)

// ValidateRate rejects rates outside [0, 100]. The signed argument lets
// transports pass through whatever they decoded.
func ValidateRate(rate int) (uint8, error) {
	if rate < 0 || rate > MaxFeeRate {
		return 0, dErrors.New(dErrors.CodeInvalidFeeRate, "fee rate must be between 0 and 100")
	}
	return uint8(rate), nil
}

// NewConfig builds a fresh config with an empty fee counter.
func NewConfig(admin domain.PublicKey, rate int, bump uint8) (*records.Config, error) {
	r, err := ValidateRate(rate)
	if err != nil {
		return nil, err
	}
	return &records.Config{Admin: admin, FeeRate: r, Bump: bump}, nil
}

// SetFeeRate replaces the rate. The counter is untouched.
func SetFeeRate(cfg *records.Config, rate int) error {
	r, err := ValidateRate(rate)
	if err != nil {
		return err
	}
	cfg.FeeRate = r
	return nil
}

// Split divides deposit into the admin fee, floor(deposit*rate/100), and the
// net remainder. fee+net always equals deposit.
func Split(deposit uint64, rate uint8) (fee, net uint64, err error) {
	if rate > MaxFeeRate {
		return 0, 0, dErrors.New(dErrors.CodeInvalidFeeRate, "fee rate must be between 0 and 100")
	}
	hi, lo := bits.Mul64(deposit, uint64(rate))
	if hi != 0 {
		return 0, 0, dErrors.New(dErrors.CodeArithmeticOverflow, "fee computation overflowed")
	}
	fee = lo / 100
	net, borrow := bits.Sub64(deposit, fee, 0)
	if borrow != 0 {
		return 0, 0, dErrors.New(dErrors.CodeArithmeticOverflow, "net deposit underflowed")
	}
	return fee, net, nil
}

// RecordFee adds fee to the counter.
func RecordFee(cfg *records.Config, fee uint64) error {
	sum, carry := bits.Add64(cfg.TotalFeesCollected, fee, 0)
	if carry != 0 {
		return dErrors.New(dErrors.CodeArithmeticOverflow, "fee counter overflowed")
	}
	cfg.TotalFeesCollected = sum
	return nil
}

// DebitFee subtracts amount from the counter, failing with
// CodeInsufficientFunds when the counter does not cover it.
func DebitFee(cfg *records.Config, amount uint64) error {
	if amount > cfg.TotalFeesCollected {
		return dErrors.New(dErrors.CodeInsufficientFunds, "withdrawal exceeds collected fees")
	}
	cfg.TotalFeesCollected -= amount
	return nil
}

// AddDeposit accumulates net into the vault total.
func AddDeposit(v *records.Vault, net uint64) error {
	sum, carry := bits.Add64(v.TotalDeposits, net, 0)
	if carry != 0 {
		return dErrors.New(dErrors.CodeArithmeticOverflow, "vault total overflowed")
	}
	v.TotalDeposits = sum
	return nil
}
