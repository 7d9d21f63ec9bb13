package portfolio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GobsRuiz/GobsVault/internal/apperr"
	"github.com/GobsRuiz/GobsVault/internal/database"
	"github.com/GobsRuiz/GobsVault/internal/models"
	"github.com/GobsRuiz/GobsVault/internal/prices"
)

type fakeOracle struct {
	prices map[models.CryptoSymbol]decimal.Decimal
	calls  int
}

func (f *fakeOracle) GetPrice(ctx context.Context, symbol models.CryptoSymbol) (*prices.PriceQuote, error) {
	f.calls++
	price, ok := f.prices[symbol]
	if !ok {
		return nil, errors.New("no price")
	}
	return &prices.PriceQuote{Symbol: symbol, Price: price, At: time.Now().UTC()}, nil
}

func (f *fakeOracle) GetPrices(ctx context.Context, symbols []models.CryptoSymbol) (map[models.CryptoSymbol]*prices.PriceQuote, error) {
	out := make(map[models.CryptoSymbol]*prices.PriceQuote)
	for _, s := range symbols {
		q, err := f.GetPrice(ctx, s)
		if err != nil {
			return nil, err
		}
		out[s] = q
	}
	return out, nil
}

func (f *fakeOracle) GetKlines(ctx context.Context, symbol models.CryptoSymbol, interval string, limit int) ([]prices.Candle, error) {
	return nil, errors.New("not implemented")
}

func newFixture(t *testing.T, oracle prices.Oracle) (*Service, database.Store, *models.User) {
	t.Helper()
	store := database.NewMemoryStore()
	svc := NewService(store, oracle, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Now().UTC()
	user := &models.User{
		ID:        uuid.New(),
		Username:  "trader",
		Email:     "trader@example.com",
		Balance:   models.StartingBalance,
		Level:     1,
		Rank:      models.RankIniciante,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return svc, store, user
}

func TestSummaryEmptyPortfolioNeedsNoPrices(t *testing.T) {
	oracle := &fakeOracle{}
	svc, _, user := newFixture(t, oracle)

	summary, err := svc.GetPortfolioSummary(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, summary.Balance.Equal(models.StartingBalance))
	assert.True(t, summary.PortfolioValue.IsZero())
	assert.True(t, summary.NetWorth.Equal(models.StartingBalance))
	assert.True(t, summary.TodayProfitLoss.IsZero())
	assert.Equal(t, 0, oracle.calls)
}

func TestGetPortfolioWithValues(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{prices: map[models.CryptoSymbol]decimal.Decimal{
		models.SymbolBTC: decimal.NewFromInt(60000),
		models.SymbolETH: decimal.NewFromInt(2000),
	}}
	svc, store, user := newFixture(t, oracle)

	// 0.02 BTC bought at 50000, 1 ETH bought at 2500
	require.NoError(t, store.UpsertHolding(ctx, user.ID, models.Holding{
		Symbol: models.SymbolBTC, Amount: decimal.NewFromFloat(0.02),
		AverageBuyPrice: decimal.NewFromInt(50000), TotalInvested: decimal.NewFromInt(1000),
	}))
	require.NoError(t, store.UpsertHolding(ctx, user.ID, models.Holding{
		Symbol: models.SymbolETH, Amount: decimal.NewFromInt(1),
		AverageBuyPrice: decimal.NewFromInt(2500), TotalInvested: decimal.NewFromInt(2500),
	}))

	valued, err := svc.GetPortfolioWithValues(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, valued.Holdings, 2)

	// holdings come back sorted by symbol: BTC then ETH
	btc := valued.Holdings[0]
	assert.True(t, btc.CurrentValue.Equal(decimal.NewFromInt(1200)), "got %s", btc.CurrentValue)
	assert.True(t, btc.ProfitLoss.Equal(decimal.NewFromInt(200)))
	assert.True(t, btc.ProfitLossPercent.Equal(decimal.NewFromInt(20)), "got %s", btc.ProfitLossPercent)

	eth := valued.Holdings[1]
	assert.True(t, eth.CurrentValue.Equal(decimal.NewFromInt(2000)))
	assert.True(t, eth.ProfitLoss.Equal(decimal.NewFromInt(-500)))

	assert.True(t, valued.TotalValue.Equal(decimal.NewFromInt(3200)))
	assert.True(t, valued.TotalInvested.Equal(decimal.NewFromInt(3500)))
	assert.True(t, valued.ProfitLoss.Equal(decimal.NewFromInt(-300)))
}

func TestTodayProfitLossCountsOnlyTodaysBuys(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{prices: map[models.CryptoSymbol]decimal.Decimal{
		models.SymbolBTC: decimal.NewFromInt(55000),
	}}
	svc, store, user := newFixture(t, oracle)

	now := time.Now().UTC()
	mkTrade := func(tradeType models.TradeType, price int64, amount float64, ts time.Time) {
		require.NoError(t, store.InsertTrade(ctx, &models.Trade{
			ID: uuid.New(), UserID: user.ID, Type: tradeType, Symbol: models.SymbolBTC,
			Amount: decimal.NewFromFloat(amount), Price: decimal.NewFromInt(price),
			Total:  decimal.NewFromFloat(amount * float64(price)),
			Status: models.TradeStatusCompleted, Timestamp: ts,
		}))
	}
	// today's buy: (55000-50000)*0.1 = 500
	mkTrade(models.TradeTypeBuy, 50000, 0.1, now)
	// today's sell is excluded
	mkTrade(models.TradeTypeSell, 52000, 0.05, now)
	// a buy from last week is excluded
	mkTrade(models.TradeTypeBuy, 40000, 0.1, now.AddDate(0, 0, -7))

	pl, err := svc.GetTodayProfitLoss(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, pl.Equal(decimal.NewFromInt(500)), "got %s", pl)
}

func TestSnapshotDuplicateDayRejected(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{prices: map[models.CryptoSymbol]decimal.Decimal{
		models.SymbolBTC: decimal.NewFromInt(60000),
	}}
	svc, store, user := newFixture(t, oracle)
	require.NoError(t, store.UpsertHolding(ctx, user.ID, models.Holding{
		Symbol: models.SymbolBTC, Amount: decimal.NewFromFloat(0.01),
		AverageBuyPrice: decimal.NewFromInt(50000), TotalInvested: decimal.NewFromInt(500),
	}))

	snap, err := svc.CreatePortfolioSnapshot(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, snap.TotalValue.Equal(decimal.NewFromInt(600)))

	_, err = svc.CreatePortfolioSnapshot(ctx, user.ID)
	assert.Equal(t, apperr.CodeBadRequest, apperr.CodeOf(err))
}

func TestGetPortfolioHistoryClampsDays(t *testing.T) {
	ctx := context.Background()
	svc, store, user := newFixture(t, &fakeOracle{})

	now := time.Now().UTC()
	for _, daysAgo := range []int{0, 10, 40, 400} {
		date := now.AddDate(0, 0, -daysAgo)
		require.NoError(t, store.InsertSnapshot(ctx, &models.PortfolioSnapshot{
			ID: uuid.New(), UserID: user.ID, Date: date,
			TotalValue: decimal.NewFromInt(100), CreatedAt: date,
		}))
	}

	// default window is 30 days
	snaps, err := svc.GetPortfolioHistory(ctx, user.ID, 0)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	// oversized request clamps to 365, still excluding the 400-day row
	snaps, err = svc.GetPortfolioHistory(ctx, user.ID, 10000)
	require.NoError(t, err)
	assert.Len(t, snaps, 3)

	// oldest first
	assert.True(t, snaps[0].Date.Before(snaps[1].Date))
}

func TestPortfolioUnknownUser(t *testing.T) {
	svc, _, _ := newFixture(t, &fakeOracle{})
	_, err := svc.GetPortfolioSummary(context.Background(), uuid.New())
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}
