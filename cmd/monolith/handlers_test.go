package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GobsRuiz/GobsVault/internal/auth"
	"github.com/GobsRuiz/GobsVault/internal/database"
	"github.com/GobsRuiz/GobsVault/internal/gamification"
	"github.com/GobsRuiz/GobsVault/internal/idempotency"
	"github.com/GobsRuiz/GobsVault/internal/models"
	"github.com/GobsRuiz/GobsVault/internal/portfolio"
	"github.com/GobsRuiz/GobsVault/internal/prices"
	"github.com/GobsRuiz/GobsVault/internal/quests"
	"github.com/GobsRuiz/GobsVault/internal/trading"
)

type fixedFetcher struct {
	quotes map[models.CryptoSymbol]decimal.Decimal
}

func (f *fixedFetcher) GetPrice(ctx context.Context, symbol models.CryptoSymbol) (*prices.PriceQuote, error) {
	price, ok := f.quotes[symbol]
	if !ok {
		return nil, errors.New("no price")
	}
	return &prices.PriceQuote{Symbol: symbol, Price: price, At: time.Now().UTC()}, nil
}

func (f *fixedFetcher) GetKlines(ctx context.Context, symbol models.CryptoSymbol, interval string, limit int) ([]prices.Candle, error) {
	now := time.Now().UTC()
	candles := make([]prices.Candle, 0, limit)
	for i := 0; i < limit; i++ {
		candles = append(candles, prices.Candle{
			OpenTime:  now.Add(time.Duration(i-limit) * time.Hour),
			Open:      decimal.NewFromInt(100),
			High:      decimal.NewFromInt(110),
			Low:       decimal.NewFromInt(90),
			Close:     decimal.NewFromInt(105),
			Volume:    decimal.NewFromInt(1000),
			CloseTime: now.Add(time.Duration(i-limit+1) * time.Hour),
		})
	}
	return candles, nil
}

func newTestServer(t *testing.T) *server {
	t.Helper()
	store := database.NewMemoryStore()
	require.NoError(t, database.SeedQuests(context.Background(), store))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fetcher := &fixedFetcher{quotes: map[models.CryptoSymbol]decimal.Decimal{
		models.SymbolBTC: decimal.NewFromInt(50000),
		models.SymbolETH: decimal.NewFromInt(2500),
		models.SymbolBNB: decimal.NewFromInt(300),
		models.SymbolSOL: decimal.NewFromInt(150),
		models.SymbolADA: decimal.NewFromInt(1),
	}}
	oracle := prices.NewService(fetcher, nil, time.Minute, logger)
	gamify := gamification.NewService(store, logger)
	questSvc := quests.NewService(store, logger)

	return &server{
		auth:      auth.NewService(store, logger),
		trading:   trading.NewService(store, oracle, gamify, questSvc, logger),
		portfolio: portfolio.NewService(store, oracle, logger),
		quests:    questSvc,
		gamify:    gamify,
		prices:    oracle,
		idem:      idempotency.NewService(store, time.Hour),
		logger:    logger,
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func registerUser(t *testing.T, router http.Handler) models.User {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/users", models.RegisterRequest{
		Username: "gabriel", Email: "gabriel@example.com", Password: "super-secret",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[models.User](t, rec)
}

func TestRegisterAndGetUser(t *testing.T) {
	router := newTestServer(t).routes()
	user := registerUser(t, router)
	assert.True(t, user.Balance.Equal(models.StartingBalance))

	rec := doJSON(t, router, http.MethodGet, "/api/users/"+user.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fetched := decode[models.User](t, rec)
	assert.Equal(t, user.ID, fetched.ID)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestBuyFlow(t *testing.T) {
	router := newTestServer(t).routes()
	user := registerUser(t, router)
	base := "/api/users/" + user.ID.String()

	rec := doJSON(t, router, http.MethodPost, base+"/trades/buy", models.TradeRequest{
		Symbol: models.SymbolBTC, AmountUSD: decimal.NewFromInt(1000),
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decode[models.TradeResult](t, rec)
	assert.True(t, result.NewBalance.Equal(decimal.NewFromInt(9000)))
	assert.Equal(t, 11, result.XPGained)

	// portfolio reflects the position
	rec = doJSON(t, router, http.MethodGet, base+"/portfolio/summary", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[models.PortfolioSummary](t, rec)
	assert.True(t, summary.NetWorth.Equal(decimal.NewFromInt(10000)), "got %s", summary.NetWorth)
	assert.True(t, summary.PortfolioValue.Equal(decimal.NewFromInt(1000)))

	// first-trade quest is claimable
	rec = doJSON(t, router, http.MethodGet, base+"/quests", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]models.QuestWithProgress](t, rec)
	var questID string
	for _, q := range list {
		if q.Title == "Primeiro Trade" {
			assert.True(t, q.Completed)
			questID = q.ID.String()
		}
	}
	require.NotEmpty(t, questID)

	rec = doJSON(t, router, http.MethodPost, base+"/quests/"+questID+"/claim", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	claim := decode[models.ClaimResult](t, rec)
	assert.Equal(t, 50, claim.XPAwarded)

	rec = doJSON(t, router, http.MethodPost, base+"/quests/"+questID+"/claim", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuyIdempotencyReplay(t *testing.T) {
	router := newTestServer(t).routes()
	user := registerUser(t, router)
	path := "/api/users/" + user.ID.String() + "/trades/buy"
	body := models.TradeRequest{Symbol: models.SymbolBTC, AmountUSD: decimal.NewFromInt(1000)}
	headers := map[string]string{"Idempotency-Key": "abc-123"}

	rec := doJSON(t, router, http.MethodPost, path, body, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decode[models.TradeResult](t, rec)

	rec = doJSON(t, router, http.MethodPost, path, body, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Idempotency-Replayed"))
	replayed := decode[models.TradeResult](t, rec)
	assert.Equal(t, first.TradeID, replayed.TradeID)

	// only one execution happened
	rec = doJSON(t, router, http.MethodGet, "/api/users/"+user.ID.String()+"/trades", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trades := decode[[]models.Trade](t, rec)
	assert.Len(t, trades, 1)
}

func TestBuyInsufficientFundsStatus(t *testing.T) {
	router := newTestServer(t).routes()
	user := registerUser(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/users/"+user.ID.String()+"/trades/buy", models.TradeRequest{
		Symbol: models.SymbolBTC, AmountUSD: decimal.NewFromInt(999999),
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[models.ErrorResponse](t, rec)
	assert.Equal(t, "INSUFFICIENT_FUNDS", errResp.Code)
}

func TestGetPricesEndpoint(t *testing.T) {
	router := newTestServer(t).routes()
	rec := doJSON(t, router, http.MethodGet, "/api/prices", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	quotes := decode[[]prices.PriceQuote](t, rec)
	require.Len(t, quotes, 5)
	assert.Equal(t, models.SymbolBTC, quotes[0].Symbol)
}

func TestSparklineEndpoint(t *testing.T) {
	router := newTestServer(t).routes()
	rec := doJSON(t, router, http.MethodGet, "/api/prices/BTC/sparkline?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	candles := decode[[]prices.Candle](t, rec)
	assert.Len(t, candles, 10)

	rec = doJSON(t, router, http.MethodGet, "/api/prices/DOGE/sparkline", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownUserIs404(t *testing.T) {
	router := newTestServer(t).routes()
	rec := doJSON(t, router, http.MethodGet, "/api/users/2efc3cbd-4c51-4f6c-bbc2-d5f3f9c7a111/portfolio", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/users/not-a-uuid/portfolio", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	router := newTestServer(t).routes()
	rec := doJSON(t, router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
