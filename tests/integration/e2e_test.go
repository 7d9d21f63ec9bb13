//go:build integration

package integration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/GobsRuiz/GobsVault/internal/apperr"
	"github.com/GobsRuiz/GobsVault/internal/auth"
	"github.com/GobsRuiz/GobsVault/internal/database"
	"github.com/GobsRuiz/GobsVault/internal/gamification"
	"github.com/GobsRuiz/GobsVault/internal/models"
	"github.com/GobsRuiz/GobsVault/internal/prices"
	"github.com/GobsRuiz/GobsVault/internal/quests"
	"github.com/GobsRuiz/GobsVault/internal/rate"
	"github.com/GobsRuiz/GobsVault/internal/trading"
)

type staticOracle struct {
	quotes map[models.CryptoSymbol]decimal.Decimal
}

func (o *staticOracle) GetPrice(ctx context.Context, symbol models.CryptoSymbol) (*prices.PriceQuote, error) {
	price, ok := o.quotes[symbol]
	if !ok {
		return nil, errors.New("no price")
	}
	return &prices.PriceQuote{Symbol: symbol, Price: price, At: time.Now().UTC()}, nil
}

func (o *staticOracle) GetPrices(ctx context.Context, symbols []models.CryptoSymbol) (map[models.CryptoSymbol]*prices.PriceQuote, error) {
	out := make(map[models.CryptoSymbol]*prices.PriceQuote)
	for _, s := range symbols {
		q, err := o.GetPrice(ctx, s)
		if err != nil {
			return nil, err
		}
		out[s] = q
	}
	return out, nil
}

func (o *staticOracle) GetKlines(ctx context.Context, symbol models.CryptoSymbol, interval string, limit int) ([]prices.Candle, error) {
	return nil, errors.New("not implemented")
}

func setupPostgres(t *testing.T) database.Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("gobsvault"),
		tcpostgres.WithUsername("gobsvault"),
		tcpostgres.WithPassword("gobsvault"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(ctx, db))

	store := database.NewPostgresStore(db)
	require.NoError(t, database.SeedQuests(ctx, store))
	return store
}

func TestTradeLifecycleOnPostgres(t *testing.T) {
	ctx := context.Background()
	store := setupPostgres(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	oracle := &staticOracle{quotes: map[models.CryptoSymbol]decimal.Decimal{
		models.SymbolBTC: decimal.NewFromInt(50000),
	}}
	gamify := gamification.NewService(store, logger)
	questSvc := quests.NewService(store, logger)
	tradeSvc := trading.NewService(store, oracle, gamify, questSvc, logger)
	authSvc := auth.NewService(store, logger)

	user, err := authSvc.Register(ctx, models.RegisterRequest{
		Username: "gabriel", Email: "gabriel@example.com", Password: "super-secret",
	})
	require.NoError(t, err)

	// duplicate email is rejected by the unique index
	_, err = authSvc.Register(ctx, models.RegisterRequest{
		Username: "other", Email: "gabriel@example.com", Password: "super-secret",
	})
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	buyResult, err := tradeSvc.ExecuteBuy(ctx, user.ID, models.TradeRequest{
		Symbol: models.SymbolBTC, AmountUSD: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	assert.True(t, buyResult.NewBalance.Equal(decimal.NewFromInt(9000)))
	assert.Equal(t, 11, buyResult.XPGained)

	holding, err := store.GetHolding(ctx, user.ID, models.SymbolBTC)
	require.NoError(t, err)
	assert.True(t, holding.Amount.Equal(decimal.NewFromFloat(0.02)), "got %s", holding.Amount)

	// overspending rolls back cleanly
	_, err = tradeSvc.ExecuteBuy(ctx, user.ID, models.TradeRequest{
		Symbol: models.SymbolBTC, AmountUSD: decimal.NewFromInt(100000),
	})
	assert.Equal(t, apperr.CodeInsufficientFunds, apperr.CodeOf(err))
	stored, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.Balance.Equal(decimal.NewFromInt(9000)))
	assert.Equal(t, 1, stored.TotalTrades)

	sellResult, err := tradeSvc.ExecuteSell(ctx, user.ID, models.TradeRequest{
		Symbol: models.SymbolBTC, AmountUSD: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	assert.True(t, sellResult.NewBalance.Equal(decimal.NewFromInt(10000)))
	_, err = store.GetHolding(ctx, user.ID, models.SymbolBTC)
	assert.ErrorIs(t, err, database.ErrNotFound)

	// the first-trade quest completed along the way and pays exactly once
	questList, err := questSvc.GetQuestsWithProgress(ctx, user.ID)
	require.NoError(t, err)
	var firstTrade models.QuestWithProgress
	for _, q := range questList {
		if q.Title == "Primeiro Trade" {
			firstTrade = q
		}
	}
	require.True(t, firstTrade.Completed)

	claim, err := questSvc.ClaimQuestReward(ctx, user.ID, firstTrade.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, claim.XPAwarded)
	_, err = questSvc.ClaimQuestReward(ctx, user.ID, firstTrade.ID)
	assert.Equal(t, apperr.CodeBadRequest, apperr.CodeOf(err))

	stats, err := store.GetTradeStats(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalTrades)
	assert.True(t, stats.TotalVolume.Equal(decimal.NewFromInt(2000)))
}

func TestRateLimiterOnRedis(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	limiter := rate.NewLimiter(rdb, 3, time.Minute)
	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "client-1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should pass", i+1)
	}
	allowed, err := limiter.Allow(ctx, "client-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	// other clients keep their own budget
	allowed, err = limiter.Allow(ctx, "client-2")
	require.NoError(t, err)
	assert.True(t, allowed)
}
