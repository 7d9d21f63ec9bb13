// Package trading executes simulated buys and sells against a user's
// cash balance and portfolio, with weighted-average cost accounting.
package trading

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
	"github.com/GobsRuiz/GobsVault/internal/gamification"
	"github.com/GobsRuiz/GobsVault/internal/metrics"
	"github.com/GobsRuiz/GobsVault/internal/models"
	"github.com/GobsRuiz/GobsVault/internal/prices"
)

// Notional bounds per trade, in simulated dollars
var (
	MinTradeValue = decimal.NewFromInt(10)
	MaxTradeValue = decimal.NewFromInt(1_000_000)
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// questRefresher recalculates quest progress after a trade commits
type questRefresher interface {
	RefreshProgress(ctx context.Context, userID uuid.UUID) error
}

// Service executes trades. Rewards and quest progress run after the
// trade commits and never roll it back.
type Service struct {
	store  database.Store
	oracle prices.Oracle
	gamify *gamification.Service
	quests questRefresher
	logger *slog.Logger
}

func NewService(store database.Store, oracle prices.Oracle, gamify *gamification.Service, quests questRefresher, logger *slog.Logger) *Service {
	return &Service{store: store, oracle: oracle, gamify: gamify, quests: quests, logger: logger}
}

func validateRequest(req models.TradeRequest) error {
	if !models.IsValidSymbol(req.Symbol) {
		return apperr.BadRequest("unsupported symbol %q", req.Symbol)
	}
	if req.AmountUSD.LessThan(MinTradeValue) {
		return apperr.BadRequest("trade value must be at least $%s", MinTradeValue)
	}
	if req.AmountUSD.GreaterThan(MaxTradeValue) {
		return apperr.BadRequest("trade value must not exceed $%s", MaxTradeValue)
	}
	return nil
}

func (s *Service) executionPrice(ctx context.Context, symbol models.CryptoSymbol) (decimal.Decimal, error) {
	quote, err := s.oracle.GetPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, apperr.PriceUnavailable(err, "no price for %s", symbol)
	}
	if !quote.Price.IsPositive() {
		return decimal.Zero, apperr.PriceUnavailable(nil, "non-positive price for %s", symbol)
	}
	return quote.Price, nil
}

// ExecuteBuy converts USD notional into crypto at the current oracle
// price. Balance deduction, holding update, trade record and the trade
// counter are one atomic unit.
func (s *Service) ExecuteBuy(ctx context.Context, userID uuid.UUID, req models.TradeRequest) (*models.TradeResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	price, err := s.executionPrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	cryptoAmount := req.AmountUSD.Div(price)

	trade := &models.Trade{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      models.TradeTypeBuy,
		Symbol:    req.Symbol,
		Amount:    cryptoAmount,
		Price:     price,
		Total:     req.AmountUSD,
		Status:    models.TradeStatusCompleted,
		Timestamp: time.Now().UTC(),
	}

	var newBalance decimal.Decimal
	err = s.store.InTx(ctx, func(tx database.Store) error {
		user, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return apperr.NotFound("user %s not found", userID)
			}
			return fmt.Errorf("load user: %w", err)
		}
		if user.Balance.LessThan(req.AmountUSD) {
			return apperr.InsufficientFunds("balance $%s below trade value $%s",
				user.Balance.StringFixed(2), req.AmountUSD.StringFixed(2))
		}

		holding := models.Holding{Symbol: req.Symbol}
		if existing, err := tx.GetHolding(ctx, userID, req.Symbol); err == nil {
			holding = *existing
		} else if !errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("load holding: %w", err)
		}
		holding.Amount = holding.Amount.Add(cryptoAmount)
		holding.TotalInvested = holding.TotalInvested.Add(req.AmountUSD)
		holding.AverageBuyPrice = holding.TotalInvested.Div(holding.Amount)
		if err := tx.UpsertHolding(ctx, userID, holding); err != nil {
			return err
		}

		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}

		user.Balance = user.Balance.Sub(req.AmountUSD)
		user.TotalTrades++
		newBalance = user.Balance
		return tx.UpdateUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	return s.finishTrade(ctx, trade, newBalance), nil
}

// ExecuteSell converts USD notional back into cash at the current
// oracle price. Selling below the held amount reduces the position and
// scales total invested at the unchanged average buy price; a position
// driven to zero is removed.
func (s *Service) ExecuteSell(ctx context.Context, userID uuid.UUID, req models.TradeRequest) (*models.TradeResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	price, err := s.executionPrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	cryptoAmount := req.AmountUSD.Div(price)

	trade := &models.Trade{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      models.TradeTypeSell,
		Symbol:    req.Symbol,
		Amount:    cryptoAmount,
		Price:     price,
		Total:     req.AmountUSD,
		Status:    models.TradeStatusCompleted,
		Timestamp: time.Now().UTC(),
	}

	var newBalance decimal.Decimal
	err = s.store.InTx(ctx, func(tx database.Store) error {
		user, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return apperr.NotFound("user %s not found", userID)
			}
			return fmt.Errorf("load user: %w", err)
		}

		holding, err := tx.GetHolding(ctx, userID, req.Symbol)
		if errors.Is(err, database.ErrNotFound) {
			return apperr.InsufficientHoldings("no %s position", req.Symbol)
		}
		if err != nil {
			return fmt.Errorf("load holding: %w", err)
		}
		if holding.Amount.LessThan(cryptoAmount) {
			return apperr.InsufficientHoldings("%s position %s below sell amount %s",
				req.Symbol, holding.Amount, cryptoAmount)
		}

		remaining := holding.Amount.Sub(cryptoAmount)
		if remaining.IsPositive() {
			holding.Amount = remaining
			holding.TotalInvested = holding.AverageBuyPrice.Mul(remaining)
			if err := tx.UpsertHolding(ctx, userID, *holding); err != nil {
				return err
			}
		} else {
			if err := tx.DeleteHolding(ctx, userID, req.Symbol); err != nil {
				return err
			}
		}

		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}

		user.Balance = user.Balance.Add(req.AmountUSD)
		user.TotalTrades++
		newBalance = user.Balance
		return tx.UpdateUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	return s.finishTrade(ctx, trade, newBalance), nil
}

// finishTrade records metrics and runs the post-commit reward path.
// Reward or quest failures are logged and surface as zero XP; the
// trade itself already committed.
func (s *Service) finishTrade(ctx context.Context, trade *models.Trade, newBalance decimal.Decimal) *models.TradeResult {
	metrics.TradeExecuted(string(trade.Type), string(trade.Symbol), trade.Total)

	result := &models.TradeResult{
		TradeID:      trade.ID,
		Type:         trade.Type,
		Symbol:       trade.Symbol,
		CryptoAmount: trade.Amount,
		PricePerUnit: trade.Price,
		TotalUSD:     trade.Total,
		NewBalance:   newBalance,
	}

	award, err := s.gamify.ProcessTradeReward(ctx, trade.UserID)
	if err != nil {
		s.logger.Error("trade reward failed", "user_id", trade.UserID, "trade_id", trade.ID, "error", err)
	} else {
		result.XPGained = award.XPGained
		result.LeveledUp = award.LeveledUp
		result.NewLevel = award.NewLevel
	}

	if s.quests != nil {
		if err := s.quests.RefreshProgress(ctx, trade.UserID); err != nil {
			s.logger.Error("quest refresh failed", "user_id", trade.UserID, "error", err)
		}
	}

	s.logger.Info("trade executed",
		"trade_id", trade.ID, "user_id", trade.UserID, "type", trade.Type,
		"symbol", trade.Symbol, "total_usd", trade.Total, "price", trade.Price)
	return result
}

// GetTradeHistory lists a user's trades, newest first. Limit defaults
// to 50 and is capped at 100.
func (s *Service) GetTradeHistory(ctx context.Context, userID uuid.UUID, filter database.TradeFilter) ([]models.Trade, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.NotFound("user %s not found", userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	trades, err := s.store.ListTrades(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return trades, nil
}

// GetTradeStats aggregates a user's trading activity
func (s *Service) GetTradeStats(ctx context.Context, userID uuid.UUID) (*models.TradeStats, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.NotFound("user %s not found", userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	stats, err := s.store.GetTradeStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("trade stats: %w", err)
	}
	return stats, nil
}
