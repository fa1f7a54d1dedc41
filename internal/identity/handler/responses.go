package handler

import "postage/internal/identity/models"

// UpdateProfileRequest is the body of PUT /v1/users/me. Length and encoding
// are checked by the service in bytes.
type UpdateProfileRequest struct {
	DisplayName string `json:"display_name"`
}

type ProfileResponse struct {
	Address     string `json:"address"`
	Owner       string `json:"owner"`
	Bump        uint8  `json:"bump"`
	DisplayName string `json:"display_name"`
}

type UnregisterResponse struct {
	Owner    string `json:"owner"`
	Refunded uint64 `json:"refunded"`
}

type MessageResponse struct {
	Address    string `json:"address"`
	Sender     string `json:"sender"`
	Bump       uint8  `json:"bump"`
	Sequence   uint64 `json:"sequence"`
	Deposit    uint64 `json:"deposit"`
	AdminFee   uint64 `json:"admin_fee"`
	NetDeposit uint64 `json:"net_deposit"`
}

func toProfileResponse(p *models.Profile) ProfileResponse {
	return ProfileResponse{
		Address:     p.Address.String(),
		Owner:       p.Owner.String(),
		Bump:        p.Bump,
		DisplayName: p.DisplayName,
	}
}

func toMessageResponse(m *models.Message) MessageResponse {
	return MessageResponse{
		Address:    m.Address.String(),
		Sender:     m.Sender.String(),
		Bump:       m.Bump,
		Sequence:   m.Sequence,
		Deposit:    m.Deposit,
		AdminFee:   m.Fee,
		NetDeposit: m.Net(),
	}
}
