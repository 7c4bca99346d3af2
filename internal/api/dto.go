package api

import "github.com/radieske/betting-house/internal/market"

type AmountRequest struct {
	Amount int64 `json:"amount"`
}

type WalletResponse struct {
	WalletID string `json:"walletId"`
	Balance  int64  `json:"balance"`
}

type OpenMarketRequest struct {
	MarketID string         `json:"marketId"`
	Fixture  market.Fixture `json:"fixture"`
	Odds     market.Odds    `json:"odds"`
	OpensAt  int64          `json:"opensAt"` // epoch millis
}

// UpdateMarketRequest: campos ausentes ficam como estão
type UpdateMarketRequest struct {
	Odds    *market.Odds `json:"odds,omitempty"`
	OpensAt *int64       `json:"opensAt,omitempty"`
	Result  *int         `json:"result,omitempty"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type OpenBetRequest struct {
	BetID    string  `json:"betId"` // opcional; gerado quando vazio
	WalletID string  `json:"walletId"`
	MarketID string  `json:"marketId"`
	Odds     float64 `json:"odds"`
	Stake    int64   `json:"stake"`
	Result   int     `json:"result"`
}

type SettleRequest struct {
	Result int `json:"result"`
}

type StatusResponse struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
