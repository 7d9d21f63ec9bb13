package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GobsRuiz/GobsVault/internal/models"
)

// tradingPairs maps internal symbols to Binance USDT pairs
var tradingPairs = map[models.CryptoSymbol]string{
	models.SymbolBTC: "BTCUSDT",
	models.SymbolETH: "ETHUSDT",
	models.SymbolBNB: "BNBUSDT",
	models.SymbolSOL: "SOLUSDT",
	models.SymbolADA: "ADAUSDT",
}

// BinanceClient talks to the Binance public REST API
type BinanceClient struct {
	baseURL string
	http    *http.Client
}

// NewBinanceClient builds a client with a hard 5s request timeout
func NewBinanceClient(baseURL string) *BinanceClient {
	return &BinanceClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type ticker24Response struct {
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
}

func (c *BinanceClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return nil, fmt.Errorf("%s: %w", path, ErrTimeout)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", path, ErrTimeout)
		}
		return nil, fmt.Errorf("%s: %w: %v", path, ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", path, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%s: %w", path, ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s: status %d: %w", path, resp.StatusCode, ErrUpstream)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: unexpected status %d: %w", path, resp.StatusCode, ErrUpstream)
	}
	return body, nil
}

// GetPrice fetches the 24h ticker for one symbol
func (c *BinanceClient) GetPrice(ctx context.Context, symbol models.CryptoSymbol) (*PriceQuote, error) {
	pair, ok := tradingPairs[symbol]
	if !ok {
		return nil, fmt.Errorf("unsupported symbol %s", symbol)
	}
	body, err := c.get(ctx, "/api/v3/ticker/24hr", url.Values{"symbol": {pair}})
	if err != nil {
		return nil, err
	}
	var t ticker24Response
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode ticker: %w", err)
	}
	quote := &PriceQuote{Symbol: symbol, At: time.Now().UTC()}
	if quote.Price, err = decimal.NewFromString(t.LastPrice); err != nil {
		return nil, fmt.Errorf("parse lastPrice %q: %w", t.LastPrice, err)
	}
	if quote.ChangePercent24, err = decimal.NewFromString(t.PriceChangePercent); err != nil {
		return nil, fmt.Errorf("parse priceChangePercent %q: %w", t.PriceChangePercent, err)
	}
	if quote.High24, err = decimal.NewFromString(t.HighPrice); err != nil {
		return nil, fmt.Errorf("parse highPrice %q: %w", t.HighPrice, err)
	}
	if quote.Low24, err = decimal.NewFromString(t.LowPrice); err != nil {
		return nil, fmt.Errorf("parse lowPrice %q: %w", t.LowPrice, err)
	}
	if quote.Volume24, err = decimal.NewFromString(t.Volume); err != nil {
		return nil, fmt.Errorf("parse volume %q: %w", t.Volume, err)
	}
	return quote, nil
}

// GetKlines fetches OHLCV candles. Binance encodes each candle as a
// heterogeneous JSON array.
func (c *BinanceClient) GetKlines(ctx context.Context, symbol models.CryptoSymbol, interval string, limit int) ([]Candle, error) {
	pair, ok := tradingPairs[symbol]
	if !ok {
		return nil, fmt.Errorf("unsupported symbol %s", symbol)
	}
	body, err := c.get(ctx, "/api/v3/klines", url.Values{
		"symbol":   {pair},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	})
	if err != nil {
		return nil, err
	}
	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	candles := make([]Candle, 0, len(raw))
	for i, entry := range raw {
		if len(entry) < 7 {
			return nil, fmt.Errorf("kline %d: short entry", i)
		}
		candle, err := parseCandle(entry)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseCandle(entry []any) (Candle, error) {
	var c Candle
	openMs, ok := entry[0].(float64)
	if !ok {
		return c, fmt.Errorf("open time is %T", entry[0])
	}
	closeMs, ok := entry[6].(float64)
	if !ok {
		return c, fmt.Errorf("close time is %T", entry[6])
	}
	c.OpenTime = time.UnixMilli(int64(openMs)).UTC()
	c.CloseTime = time.UnixMilli(int64(closeMs)).UTC()

	fields := []struct {
		idx int
		dst *decimal.Decimal
	}{
		{1, &c.Open}, {2, &c.High}, {3, &c.Low}, {4, &c.Close}, {5, &c.Volume},
	}
	for _, f := range fields {
		str, ok := entry[f.idx].(string)
		if !ok {
			return c, fmt.Errorf("field %d is %T", f.idx, entry[f.idx])
		}
		d, err := decimal.NewFromString(str)
		if err != nil {
			return c, fmt.Errorf("field %d %q: %w", f.idx, str, err)
		}
		*f.dst = d
	}
	return c, nil
}
