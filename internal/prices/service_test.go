package prices

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GobsRuiz/GobsVault/internal/models"
)

type scriptedFetcher struct {
	quotes map[models.CryptoSymbol]decimal.Decimal
	fail   bool
	calls  int
}

func (f *scriptedFetcher) GetPrice(ctx context.Context, symbol models.CryptoSymbol) (*PriceQuote, error) {
	f.calls++
	if f.fail {
		return nil, ErrUpstream
	}
	price, ok := f.quotes[symbol]
	if !ok {
		return nil, errors.New("no price")
	}
	return &PriceQuote{Symbol: symbol, Price: price, At: time.Now().UTC()}, nil
}

func (f *scriptedFetcher) GetKlines(ctx context.Context, symbol models.CryptoSymbol, interval string, limit int) ([]Candle, error) {
	return nil, errors.New("not implemented")
}

func newTestService(fetcher *scriptedFetcher) *Service {
	return NewService(fetcher, nil, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGetPriceStaleFallback(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{quotes: map[models.CryptoSymbol]decimal.Decimal{
		models.SymbolBTC: decimal.NewFromInt(50000),
	}}
	svc := newTestService(fetcher)

	quote, err := svc.GetPrice(ctx, models.SymbolBTC)
	require.NoError(t, err)
	assert.False(t, quote.Stale)

	// upstream goes down: the last good quote comes back marked stale
	fetcher.fail = true
	quote, err = svc.GetPrice(ctx, models.SymbolBTC)
	require.NoError(t, err)
	assert.True(t, quote.Stale)
	assert.True(t, quote.Price.Equal(decimal.NewFromInt(50000)))
}

func TestGetPriceNoFallbackSurfacesError(t *testing.T) {
	svc := newTestService(&scriptedFetcher{fail: true})
	_, err := svc.GetPrice(context.Background(), models.SymbolBTC)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestGetPriceRejectsUnknownSymbol(t *testing.T) {
	svc := newTestService(&scriptedFetcher{})
	_, err := svc.GetPrice(context.Background(), "DOGE")
	assert.Error(t, err)
}

func TestGetPricesFailsOnPartialSnapshot(t *testing.T) {
	fetcher := &scriptedFetcher{quotes: map[models.CryptoSymbol]decimal.Decimal{
		models.SymbolBTC: decimal.NewFromInt(50000),
		// no ETH price and nothing cached
	}}
	svc := newTestService(fetcher)
	_, err := svc.GetPrices(context.Background(), []models.CryptoSymbol{models.SymbolBTC, models.SymbolETH})
	assert.Error(t, err)
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	fetcher := &scriptedFetcher{quotes: map[models.CryptoSymbol]decimal.Decimal{
		models.SymbolBTC: decimal.NewFromInt(50000),
		models.SymbolETH: decimal.NewFromInt(2500),
		models.SymbolBNB: decimal.NewFromInt(300),
		models.SymbolSOL: decimal.NewFromInt(150),
		models.SymbolADA: decimal.NewFromInt(1),
	}}
	svc := newTestService(fetcher)

	updates, cancel := svc.Subscribe()
	defer cancel()

	svc.refresh(context.Background())

	select {
	case update := <-updates:
		assert.Len(t, update.Quotes, 5)
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	fetcher := &scriptedFetcher{quotes: map[models.CryptoSymbol]decimal.Decimal{
		models.SymbolBTC: decimal.NewFromInt(50000),
	}}
	svc := newTestService(fetcher)

	updates, cancel := svc.Subscribe()
	cancel()
	svc.refresh(context.Background())

	select {
	case _, ok := <-updates:
		if ok {
			t.Fatal("received update after unsubscribe")
		}
	default:
	}
}
