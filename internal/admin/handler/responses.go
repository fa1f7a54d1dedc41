package handler

import "postage/internal/admin/models"

// FeeRateRequest carries the rate as a pointer so a missing field fails
// validation while 0 stays a valid rate. The range is checked by the service.
type FeeRateRequest struct {
	FeeRate *int `json:"fee_rate" validate:"required"`
}

type WithdrawRequest struct {
	Amount uint64 `json:"amount" validate:"required"`
}

type AirdropRequest struct {
	Address string `json:"address" validate:"required"`
	Amount  uint64 `json:"amount" validate:"required"`
}

// ConfigResponse is the HTTP response DTO for the fee configuration.
type ConfigResponse struct {
	Address            string `json:"address"`
	Admin              string `json:"admin"`
	FeeRate            uint8  `json:"fee_rate"`
	TotalFeesCollected uint64 `json:"total_fees_collected"`
	Bump               uint8  `json:"bump"`
}

type WithdrawalResponse struct {
	Amount            uint64 `json:"amount"`
	RemainingFees     uint64 `json:"remaining_fees"`
	AdminVaultBalance uint64 `json:"admin_vault_balance"`
}

type VaultResponse struct {
	Address           string `json:"address"`
	TotalDeposits     uint64 `json:"total_deposits"`
	Balance           uint64 `json:"balance"`
	AdminVault        string `json:"admin_vault"`
	AdminVaultBalance uint64 `json:"admin_vault_balance"`
}

type BalanceResponse struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
}

func toConfigResponse(cfg *models.Config) ConfigResponse {
	return ConfigResponse{
		Address:            cfg.Address.String(),
		Admin:              cfg.Admin.String(),
		FeeRate:            cfg.FeeRate,
		TotalFeesCollected: cfg.TotalFeesCollected,
		Bump:               cfg.Bump,
	}
}
