package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GobsRuiz/GobsVault/internal/models"
)

// fetcher is the upstream the service refreshes from, satisfied by
// *BinanceClient and faked in tests.
type fetcher interface {
	GetPrice(ctx context.Context, symbol models.CryptoSymbol) (*PriceQuote, error)
	GetKlines(ctx context.Context, symbol models.CryptoSymbol, interval string, limit int) ([]Candle, error)
}

// Update is one broadcast frame pushed to feed subscribers
type Update struct {
	Quotes []PriceQuote `json:"quotes"`
	At     time.Time    `json:"at"`
}

// Service is the price oracle: a read-through cache over the exchange
// client with last-known-good fallback when the exchange is down, plus
// a background refresher that feeds websocket subscribers.
type Service struct {
	client fetcher
	redis  *redis.Client // optional, nil disables the shared cache
	ttl    time.Duration
	logger *slog.Logger

	mu          sync.RWMutex
	lastGood    map[models.CryptoSymbol]*PriceQuote
	subscribers map[chan Update]struct{}
}

// NewService builds the oracle. rdb may be nil when redis is absent;
// the in-process last-known-good map still provides stale fallback.
func NewService(client fetcher, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	return &Service{
		client:      client,
		redis:       rdb,
		ttl:         ttl,
		logger:      logger,
		lastGood:    make(map[models.CryptoSymbol]*PriceQuote),
		subscribers: make(map[chan Update]struct{}),
	}
}

func cacheKey(symbol models.CryptoSymbol) string {
	return "price:" + string(symbol)
}

func (s *Service) fromCache(ctx context.Context, symbol models.CryptoSymbol) *PriceQuote {
	if s.redis == nil {
		return nil
	}
	raw, err := s.redis.Get(ctx, cacheKey(symbol)).Bytes()
	if err != nil {
		return nil
	}
	var quote PriceQuote
	if err := json.Unmarshal(raw, &quote); err != nil {
		return nil
	}
	return &quote
}

func (s *Service) toCache(ctx context.Context, quote *PriceQuote) {
	s.mu.Lock()
	s.lastGood[quote.Symbol] = quote
	s.mu.Unlock()
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(quote)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, cacheKey(quote.Symbol), raw, s.ttl).Err(); err != nil {
		s.logger.Warn("price cache write failed", "symbol", quote.Symbol, "error", err)
	}
}

func (s *Service) stale(symbol models.CryptoSymbol) *PriceQuote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quote, ok := s.lastGood[symbol]
	if !ok {
		return nil
	}
	cp := *quote
	cp.Stale = true
	return &cp
}

// GetPrice returns the cached quote, or fetches a fresh one. On
// upstream failure it falls back to the last known good quote marked
// stale; only with nothing cached does the error surface.
func (s *Service) GetPrice(ctx context.Context, symbol models.CryptoSymbol) (*PriceQuote, error) {
	if !models.IsValidSymbol(symbol) {
		return nil, fmt.Errorf("unsupported symbol %s", symbol)
	}
	if quote := s.fromCache(ctx, symbol); quote != nil {
		return quote, nil
	}
	quote, err := s.client.GetPrice(ctx, symbol)
	if err != nil {
		if fallback := s.stale(symbol); fallback != nil {
			s.logger.Warn("serving stale price", "symbol", symbol, "error", err)
			return fallback, nil
		}
		return nil, err
	}
	s.toCache(ctx, quote)
	return quote, nil
}

// GetPrices fetches a consistent batch; any symbol failing without a
// stale fallback fails the whole call so valuations never mix a
// partial snapshot with zeros.
func (s *Service) GetPrices(ctx context.Context, symbols []models.CryptoSymbol) (map[models.CryptoSymbol]*PriceQuote, error) {
	out := make(map[models.CryptoSymbol]*PriceQuote, len(symbols))
	for _, symbol := range symbols {
		quote, err := s.GetPrice(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("price for %s: %w", symbol, err)
		}
		out[symbol] = quote
	}
	return out, nil
}

func (s *Service) GetKlines(ctx context.Context, symbol models.CryptoSymbol, interval string, limit int) ([]Candle, error) {
	return s.client.GetKlines(ctx, symbol, interval, limit)
}

// Subscribe registers a feed channel. The returned cancel func must be
// called when the consumer goes away.
func (s *Service) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 8)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
	}
}

func (s *Service) broadcast(update Update) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- update:
		default:
			// slow consumer, drop the frame
		}
	}
}

// Start runs the background refresher until ctx is cancelled. Each
// tick refreshes every supported symbol and broadcasts the batch.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Service) refresh(ctx context.Context) {
	update := Update{At: time.Now().UTC()}
	for _, symbol := range models.SupportedSymbols {
		quote, err := s.client.GetPrice(ctx, symbol)
		if err != nil {
			s.logger.Warn("price refresh failed", "symbol", symbol, "error", err)
			continue
		}
		s.toCache(ctx, quote)
		update.Quotes = append(update.Quotes, *quote)
	}
	if len(update.Quotes) > 0 {
		s.broadcast(update)
	}
}
