package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/GobsRuiz/GobsVault/internal/models"
)

// Sentinel errors returned by store implementations. Callers translate
// them into apperr codes at the service boundary.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// TradeFilter narrows trade history queries. Nil fields are unfiltered.
type TradeFilter struct {
	Symbol *models.CryptoSymbol
	Type   *models.TradeType
	Start  *time.Time
	End    *time.Time
	Limit  int
	Offset int
}

// IdempotencyRecord is a cached response keyed by client-supplied key
type IdempotencyRecord struct {
	Key          string
	UserID       uuid.UUID
	RequestHash  string
	StatusCode   int
	ResponseBody []byte
	CreatedAt    time.Time
}

// Store is the persistence boundary for every service. InTx runs the
// callback against a store bound to a single transaction; returning an
// error rolls back every write made inside the callback.
type Store interface {
	InTx(ctx context.Context, fn func(Store) error) error

	// Users. GetUserForUpdate takes a row lock inside a transaction so
	// concurrent trades for the same user serialize on balance checks.
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserForUpdate(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	// Quest progress, keyed (user, quest)
	UpsertQuestProgress(ctx context.Context, userID uuid.UUID, progress models.QuestProgress) error
	ListQuestProgress(ctx context.Context, userID uuid.UUID) ([]models.QuestProgress, error)

	// Holdings, keyed (user, symbol)
	GetHolding(ctx context.Context, userID uuid.UUID, symbol models.CryptoSymbol) (*models.Holding, error)
	UpsertHolding(ctx context.Context, userID uuid.UUID, holding models.Holding) error
	DeleteHolding(ctx context.Context, userID uuid.UUID, symbol models.CryptoSymbol) error
	ListHoldings(ctx context.Context, userID uuid.UUID) ([]models.Holding, error)

	// Trades are append-only
	InsertTrade(ctx context.Context, trade *models.Trade) error
	ListTrades(ctx context.Context, userID uuid.UUID, filter TradeFilter) ([]models.Trade, error)
	GetTradeStats(ctx context.Context, userID uuid.UUID) (*models.TradeStats, error)

	// Snapshots are unique per (user, UTC day); InsertSnapshot returns
	// ErrDuplicate on a second snapshot for the same day.
	InsertSnapshot(ctx context.Context, snapshot *models.PortfolioSnapshot) error
	ListSnapshots(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.PortfolioSnapshot, error)

	// Quest catalog
	UpsertQuestByTitle(ctx context.Context, quest *models.Quest) error
	ListQuests(ctx context.Context) ([]models.Quest, error)
	GetQuest(ctx context.Context, id uuid.UUID) (*models.Quest, error)

	// Idempotency cache for trade submission
	GetIdempotency(ctx context.Context, key string) (*IdempotencyRecord, error)
	PutIdempotency(ctx context.Context, record *IdempotencyRecord) error
}
