// Package portfolio values holdings at live prices and tracks
// historical performance through daily snapshots.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GobsRuiz/GobsVault/internal/apperr"
	"github.com/GobsRuiz/GobsVault/internal/database"
	"github.com/GobsRuiz/GobsVault/internal/models"
	"github.com/GobsRuiz/GobsVault/internal/prices"
)

// saoPaulo is the calendar zone for the "today" profit window. Fixed
// offset, no DST: Brazil abolished it in 2019.
var saoPaulo = time.FixedZone("America/Sao_Paulo", -3*60*60)

const (
	defaultHistoryDays = 30
	maxHistoryDays     = 365
)

// Service values portfolios against the price oracle
type Service struct {
	store  database.Store
	oracle prices.Oracle
	logger *slog.Logger
}

func NewService(store database.Store, oracle prices.Oracle, logger *slog.Logger) *Service {
	return &Service{store: store, oracle: oracle, logger: logger}
}

func (s *Service) loadUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFound("user %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func symbolsOf(holdings []models.Holding) []models.CryptoSymbol {
	out := make([]models.CryptoSymbol, 0, len(holdings))
	for _, h := range holdings {
		out = append(out, h.Symbol)
	}
	return out
}

func valueHoldings(holdings []models.Holding, quotes map[models.CryptoSymbol]*prices.PriceQuote) []models.HoldingWithValue {
	out := make([]models.HoldingWithValue, 0, len(holdings))
	for _, h := range holdings {
		quote := quotes[h.Symbol]
		hv := models.HoldingWithValue{Holding: h, CurrentPrice: quote.Price}
		hv.CurrentValue = h.Amount.Mul(quote.Price)
		hv.ProfitLoss = hv.CurrentValue.Sub(h.TotalInvested)
		if h.TotalInvested.IsPositive() {
			hv.ProfitLossPercent = hv.ProfitLoss.Div(h.TotalInvested).Mul(decimal.NewFromInt(100))
		}
		out = append(out, hv)
	}
	return out
}

// GetPortfolioWithValues returns every holding valued at one
// consistent price snapshot, with per-holding and aggregate P&L.
func (s *Service) GetPortfolioWithValues(ctx context.Context, userID uuid.UUID) (*models.PortfolioWithValues, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	holdings, err := s.store.ListHoldings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}

	result := &models.PortfolioWithValues{
		UserID:    userID,
		Holdings:  []models.HoldingWithValue{},
		UpdatedAt: user.UpdatedAt,
	}
	if len(holdings) == 0 {
		return result, nil
	}

	quotes, err := s.oracle.GetPrices(ctx, symbolsOf(holdings))
	if err != nil {
		return nil, apperr.PriceUnavailable(err, "portfolio valuation unavailable")
	}
	result.Holdings = valueHoldings(holdings, quotes)
	for _, hv := range result.Holdings {
		result.TotalValue = result.TotalValue.Add(hv.CurrentValue)
		result.TotalInvested = result.TotalInvested.Add(hv.TotalInvested)
	}
	result.ProfitLoss = result.TotalValue.Sub(result.TotalInvested)
	if result.TotalInvested.IsPositive() {
		result.ProfitLossPercent = result.ProfitLoss.Div(result.TotalInvested).Mul(decimal.NewFromInt(100))
	}
	return result, nil
}

// todayWindow returns the UTC bounds of the current São Paulo calendar
// day.
func todayWindow(now time.Time) (start, end time.Time) {
	local := now.In(saoPaulo)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, saoPaulo)
	return dayStart.UTC(), dayStart.Add(24 * time.Hour).UTC()
}

// todayProfitLoss sums (current price - entry price) * amount over
// today's buys, using the shared price snapshot.
func (s *Service) todayProfitLoss(ctx context.Context, userID uuid.UUID, quotes map[models.CryptoSymbol]*prices.PriceQuote, now time.Time) (decimal.Decimal, error) {
	start, end := todayWindow(now)
	buy := models.TradeTypeBuy
	trades, err := s.store.ListTrades(ctx, userID, database.TradeFilter{
		Type:  &buy,
		Start: &start,
		End:   &end,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("list today's trades: %w", err)
	}

	total := decimal.Zero
	for _, t := range trades {
		quote, ok := quotes[t.Symbol]
		if !ok {
			q, err := s.oracle.GetPrice(ctx, t.Symbol)
			if err != nil {
				return decimal.Zero, apperr.PriceUnavailable(err, "no price for %s", t.Symbol)
			}
			quotes[t.Symbol] = q
			quote = q
		}
		total = total.Add(quote.Price.Sub(t.Price).Mul(t.Amount))
	}
	return total, nil
}

// GetPortfolioSummary returns the dashboard headline numbers. The
// valuation and today's profit share one price snapshot; an empty
// portfolio with no buys today needs no prices at all.
func (s *Service) GetPortfolioSummary(ctx context.Context, userID uuid.UUID) (*models.PortfolioSummary, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	holdings, err := s.store.ListHoldings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}

	quotes := make(map[models.CryptoSymbol]*prices.PriceQuote)
	if len(holdings) > 0 {
		quotes, err = s.oracle.GetPrices(ctx, symbolsOf(holdings))
		if err != nil {
			return nil, apperr.PriceUnavailable(err, "portfolio valuation unavailable")
		}
	}

	summary := &models.PortfolioSummary{Balance: user.Balance}
	for _, h := range holdings {
		summary.PortfolioValue = summary.PortfolioValue.Add(h.Amount.Mul(quotes[h.Symbol].Price))
		summary.TotalInvested = summary.TotalInvested.Add(h.TotalInvested)
	}
	summary.NetWorth = user.Balance.Add(summary.PortfolioValue)
	summary.ProfitLoss = summary.PortfolioValue.Sub(summary.TotalInvested)

	today, err := s.todayProfitLoss(ctx, userID, quotes, time.Now())
	if err != nil {
		return nil, err
	}
	summary.TodayProfitLoss = today
	return summary, nil
}

// GetTodayProfitLoss returns the profit on today's buys in isolation
func (s *Service) GetTodayProfitLoss(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	if _, err := s.loadUser(ctx, userID); err != nil {
		return decimal.Zero, err
	}
	return s.todayProfitLoss(ctx, userID, make(map[models.CryptoSymbol]*prices.PriceQuote), time.Now())
}

// GetPortfolioHistory returns daily snapshots for the last N days,
// clamped to [1, 365], oldest first.
func (s *Service) GetPortfolioHistory(ctx context.Context, userID uuid.UUID, days int) ([]models.PortfolioSnapshot, error) {
	if _, err := s.loadUser(ctx, userID); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = defaultHistoryDays
	}
	if days > maxHistoryDays {
		days = maxHistoryDays
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	snapshots, err := s.store.ListSnapshots(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snapshots, nil
}

// CreatePortfolioSnapshot records today's valuation. A second snapshot
// for the same UTC day is rejected.
func (s *Service) CreatePortfolioSnapshot(ctx context.Context, userID uuid.UUID) (*models.PortfolioSnapshot, error) {
	valued, err := s.GetPortfolioWithValues(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	snap := &models.PortfolioSnapshot{
		ID:                uuid.New(),
		UserID:            userID,
		Date:              now,
		TotalValue:        valued.TotalValue,
		TotalInvested:     valued.TotalInvested,
		ProfitLoss:        valued.ProfitLoss,
		ProfitLossPercent: valued.ProfitLossPercent,
		CreatedAt:         now,
	}
	if err := s.store.InsertSnapshot(ctx, snap); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, apperr.BadRequest("snapshot already recorded for %s", now.Format("2006-01-02"))
		}
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	s.logger.Info("portfolio snapshot recorded", "user_id", userID, "total_value", snap.TotalValue)
	return snap, nil
}
