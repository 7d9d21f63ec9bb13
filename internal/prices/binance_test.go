package prices

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GobsRuiz/GobsVault/internal/models"
)

func TestGetPriceParsesTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{
			"lastPrice": "64250.10",
			"priceChangePercent": "-1.25",
			"highPrice": "65500.00",
			"lowPrice": "63000.00",
			"volume": "12345.678"
		}`))
	}))
	defer srv.Close()

	client := NewBinanceClient(srv.URL)
	quote, err := client.GetPrice(context.Background(), models.SymbolBTC)
	require.NoError(t, err)
	assert.True(t, quote.Price.Equal(decimal.NewFromFloat(64250.10)))
	assert.True(t, quote.ChangePercent24.Equal(decimal.NewFromFloat(-1.25)))
	assert.True(t, quote.High24.Equal(decimal.NewFromFloat(65500)))
	assert.Equal(t, models.SymbolBTC, quote.Symbol)
	assert.False(t, quote.Stale)
}

func TestGetPriceUnsupportedSymbol(t *testing.T) {
	client := NewBinanceClient("http://unused")
	_, err := client.GetPrice(context.Background(), "DOGE")
	assert.Error(t, err)
}

func TestGetPriceRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewBinanceClient(srv.URL)
	_, err := client.GetPrice(context.Background(), models.SymbolETH)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestGetPriceUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewBinanceClient(srv.URL)
	_, err := client.GetPrice(context.Background(), models.SymbolETH)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestGetPriceTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewBinanceClient(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.GetPrice(ctx, models.SymbolBTC)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestGetKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "SOLUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		w.Write([]byte(`[
			[1700000000000, "150.10", "152.00", "149.50", "151.25", "10000.5", 1700003599999, "0", 0, "0", "0", "0"],
			[1700003600000, "151.25", "153.00", "151.00", "152.80", "9800.1", 1700007199999, "0", 0, "0", "0", "0"]
		]`))
	}))
	defer srv.Close()

	client := NewBinanceClient(srv.URL)
	candles, err := client.GetKlines(context.Background(), models.SymbolSOL, "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].Open.Equal(decimal.NewFromFloat(150.10)))
	assert.True(t, candles[0].Close.Equal(decimal.NewFromFloat(151.25)))
	assert.Equal(t, int64(1700000000000), candles[0].OpenTime.UnixMilli())
	assert.True(t, candles[1].High.Equal(decimal.NewFromFloat(153)))
}

func TestGetKlinesMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1700000000000, "150.10"]]`))
	}))
	defer srv.Close()

	client := NewBinanceClient(srv.URL)
	_, err := client.GetKlines(context.Background(), models.SymbolSOL, "1h", 1)
	assert.Error(t, err)
}
