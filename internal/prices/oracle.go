// Package prices fetches live market data from Binance and serves it
// through a cached oracle with stale fallback and a push feed for
// websocket subscribers.
package prices

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GobsRuiz/GobsVault/internal/models"
)

// Typed upstream failures so callers can distinguish a slow exchange
// from a throttled or broken one.
var (
	ErrTimeout     = errors.New("price feed timed out")
	ErrRateLimited = errors.New("price feed rate limited")
	ErrUpstream    = errors.New("price feed upstream error")
)

// PriceQuote is one symbol's 24h market snapshot
type PriceQuote struct {
	Symbol          models.CryptoSymbol `json:"symbol"`
	Price           decimal.Decimal     `json:"price"`
	ChangePercent24 decimal.Decimal     `json:"change_percent_24h"`
	High24          decimal.Decimal     `json:"high_24h"`
	Low24           decimal.Decimal     `json:"low_24h"`
	Volume24        decimal.Decimal     `json:"volume_24h"`
	At              time.Time           `json:"at"`
	Stale           bool                `json:"stale,omitempty"`
}

// Candle is one OHLCV bar from the klines endpoint
type Candle struct {
	OpenTime  time.Time       `json:"open_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	CloseTime time.Time       `json:"close_time"`
}

// Oracle answers price lookups for trade execution and valuation
type Oracle interface {
	GetPrice(ctx context.Context, symbol models.CryptoSymbol) (*PriceQuote, error)
	GetPrices(ctx context.Context, symbols []models.CryptoSymbol) (map[models.CryptoSymbol]*PriceQuote, error)
	GetKlines(ctx context.Context, symbol models.CryptoSymbol, interval string, limit int) ([]Candle, error)
}
