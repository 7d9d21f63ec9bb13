package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CryptoSymbol represents a supported cryptocurrency
type CryptoSymbol string

const (
	SymbolBTC CryptoSymbol = "BTC"
	SymbolETH CryptoSymbol = "ETH"
	SymbolBNB CryptoSymbol = "BNB"
	SymbolSOL CryptoSymbol = "SOL"
	SymbolADA CryptoSymbol = "ADA"
)

// SupportedSymbols lists every tradable symbol in display order
var SupportedSymbols = []CryptoSymbol{SymbolBTC, SymbolETH, SymbolBNB, SymbolSOL, SymbolADA}

// SymbolNames maps symbols to their display names
var SymbolNames = map[CryptoSymbol]string{
	SymbolBTC: "Bitcoin",
	SymbolETH: "Ethereum",
	SymbolBNB: "Binance Coin",
	SymbolSOL: "Solana",
	SymbolADA: "Cardano",
}

// IsValidSymbol reports whether the symbol is tradable
func IsValidSymbol(s CryptoSymbol) bool {
	_, ok := SymbolNames[s]
	return ok
}

// TradeType represents buy or sell
type TradeType string

const (
	TradeTypeBuy  TradeType = "BUY"
	TradeTypeSell TradeType = "SELL"
)

// TradeStatus represents trade lifecycle states
type TradeStatus string

const (
	TradeStatusCompleted TradeStatus = "COMPLETED"
	TradeStatusFailed    TradeStatus = "FAILED"
)

// Rank represents a user's rank band, derived from level
type Rank string

const (
	RankIniciante Rank = "INICIANTE"
	RankBronze    Rank = "BRONZE"
	RankPrata     Rank = "PRATA"
	RankOuro      Rank = "OURO"
	RankDiamante  Rank = "DIAMANTE"
)

// StartingBalance is the simulated cash every new account receives
var StartingBalance = decimal.NewFromInt(10000)

// User represents a registered account and its progression state
type User struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Username      string          `json:"username" db:"username"`
	Email         string          `json:"email" db:"email"`
	PasswordHash  string          `json:"-" db:"password_hash"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	XP            int             `json:"xp" db:"xp"`
	Level         int             `json:"level" db:"level"`
	Rank          Rank            `json:"rank" db:"rank"`
	TotalTrades   int             `json:"total_trades" db:"total_trades"`
	QuestProgress []QuestProgress `json:"quest_progress,omitempty"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// QuestProgressFor returns the stored progress entry for a quest, or nil
func (u *User) QuestProgressFor(questID uuid.UUID) *QuestProgress {
	for i := range u.QuestProgress {
		if u.QuestProgress[i].QuestID == questID {
			return &u.QuestProgress[i]
		}
	}
	return nil
}

// QuestProgress tracks one user's state for one quest.
// completed and claimed each flip false→true at most once;
// claimed requires completed.
type QuestProgress struct {
	QuestID     uuid.UUID       `json:"quest_id" db:"quest_id"`
	Progress    decimal.Decimal `json:"progress" db:"progress"`
	Completed   bool            `json:"completed" db:"completed"`
	Claimed     bool            `json:"claimed" db:"claimed"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty" db:"claimed_at"`
}

// Holding is one symbol position inside a portfolio.
// Invariant: totalInvested == amount * averageBuyPrice (within rounding);
// a holding whose amount reaches zero is removed, never stored.
type Holding struct {
	Symbol          CryptoSymbol    `json:"symbol" db:"symbol"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	AverageBuyPrice decimal.Decimal `json:"average_buy_price" db:"average_buy_price"`
	TotalInvested   decimal.Decimal `json:"total_invested" db:"total_invested"`
}

// Portfolio is the set of holdings for one user, created lazily on first buy
type Portfolio struct {
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Holdings  []Holding `json:"holdings"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Trade is an immutable record of one executed buy or sell
type Trade struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    uuid.UUID       `json:"user_id" db:"user_id"`
	Type      TradeType       `json:"type" db:"type"`
	Symbol    CryptoSymbol    `json:"symbol" db:"symbol"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // crypto units transacted
	Price     decimal.Decimal `json:"price" db:"price"`   // execution price per unit
	Total     decimal.Decimal `json:"total" db:"total"`   // USD notional
	Status    TradeStatus     `json:"status" db:"status"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// PortfolioSnapshot is a once-per-UTC-day record of portfolio valuation
type PortfolioSnapshot struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	UserID            uuid.UUID       `json:"user_id" db:"user_id"`
	Date              time.Time       `json:"date" db:"date"`
	TotalValue        decimal.Decimal `json:"total_value" db:"total_value"`
	TotalInvested     decimal.Decimal `json:"total_invested" db:"total_invested"`
	ProfitLoss        decimal.Decimal `json:"profit_loss" db:"profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent" db:"profit_loss_percent"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// QuestRequirementType enumerates the metrics a quest can be gated on
type QuestRequirementType string

const (
	RequirementTotalTrades        QuestRequirementType = "TOTAL_TRADES"
	RequirementPortfolioDiversity QuestRequirementType = "PORTFOLIO_DIVERSITY"
	RequirementNetWorth           QuestRequirementType = "NET_WORTH"
	RequirementProfitPercentage   QuestRequirementType = "PROFIT_PERCENTAGE"
)

// QuestRequirement is the completion condition for a quest
type QuestRequirement struct {
	Type  QuestRequirementType `json:"type" db:"requirement_type"`
	Value decimal.Decimal      `json:"value" db:"requirement_value"`
}

// QuestReward is the one-time XP grant for claiming a quest
type QuestReward struct {
	XP int `json:"xp" db:"reward_xp"`
}

// Quest is an entry in the static quest catalog
type Quest struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	Title       string           `json:"title" db:"title"`
	Description string           `json:"description" db:"description"`
	Requirement QuestRequirement `json:"requirement"`
	Reward      QuestReward      `json:"reward"`
}
