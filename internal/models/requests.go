package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RegisterRequest is the payload for creating a new account
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TradeRequest is the payload for buy and sell operations.
// AmountUSD is the notional in simulated dollars, not crypto units.
type TradeRequest struct {
	Symbol    CryptoSymbol    `json:"symbol"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
}

// TradeResult is returned after a successful execution
type TradeResult struct {
	TradeID      uuid.UUID       `json:"trade_id"`
	Type         TradeType       `json:"type"`
	Symbol       CryptoSymbol    `json:"symbol"`
	CryptoAmount decimal.Decimal `json:"crypto_amount"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	TotalUSD     decimal.Decimal `json:"total_usd"`
	NewBalance   decimal.Decimal `json:"new_balance"`
	XPGained     int             `json:"xp_gained"`
	LeveledUp    bool            `json:"leveled_up"`
	NewLevel     int             `json:"new_level"`
}

// HoldingWithValue decorates a holding with live market valuation
type HoldingWithValue struct {
	Holding
	CurrentPrice      decimal.Decimal `json:"current_price"`
	CurrentValue      decimal.Decimal `json:"current_value"`
	ProfitLoss        decimal.Decimal `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent"`
}

// PortfolioWithValues is a portfolio valued at a single price snapshot
type PortfolioWithValues struct {
	UserID            uuid.UUID          `json:"user_id"`
	Holdings          []HoldingWithValue `json:"holdings"`
	TotalValue        decimal.Decimal    `json:"total_value"`
	TotalInvested     decimal.Decimal    `json:"total_invested"`
	ProfitLoss        decimal.Decimal    `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal    `json:"profit_loss_percent"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// PortfolioSummary is the headline numbers for the dashboard
type PortfolioSummary struct {
	Balance         decimal.Decimal `json:"balance"`
	PortfolioValue  decimal.Decimal `json:"portfolio_value"`
	NetWorth        decimal.Decimal `json:"net_worth"`
	TodayProfitLoss decimal.Decimal `json:"today_profit_loss"`
	TotalInvested   decimal.Decimal `json:"total_invested"`
	ProfitLoss      decimal.Decimal `json:"profit_loss"`
}

// TradeStats aggregates a user's trading activity
type TradeStats struct {
	TotalTrades  int             `json:"total_trades"`
	BuyCount     int             `json:"buy_count"`
	SellCount    int             `json:"sell_count"`
	TotalVolume  decimal.Decimal `json:"total_volume"`
	MostTraded   CryptoSymbol    `json:"most_traded,omitempty"`
	FirstTradeAt *time.Time      `json:"first_trade_at,omitempty"`
	LastTradeAt  *time.Time      `json:"last_trade_at,omitempty"`
}

// QuestWithProgress pairs a catalog quest with one user's progress toward it
type QuestWithProgress struct {
	Quest
	Progress        decimal.Decimal `json:"progress"`
	ProgressPercent decimal.Decimal `json:"progress_percent"`
	Completed       bool            `json:"completed"`
	Claimed         bool            `json:"claimed"`
}

// ClaimResult reports the outcome of claiming a quest reward
type ClaimResult struct {
	QuestID   uuid.UUID `json:"quest_id"`
	XPAwarded int       `json:"xp_awarded"`
	NewXP     int       `json:"new_xp"`
	NewLevel  int       `json:"new_level"`
	LeveledUp bool      `json:"leveled_up"`
	NewRank   Rank      `json:"new_rank"`
}

// GamificationStats is the progression summary for one user
type GamificationStats struct {
	XP             int  `json:"xp"`
	Level          int  `json:"level"`
	Rank           Rank `json:"rank"`
	XPForNextLevel int  `json:"xp_for_next_level"`
	TotalTrades    int  `json:"total_trades"`
}

// ErrorResponse is the JSON body returned for any failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
