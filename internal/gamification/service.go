package gamification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/GobsRuiz/GobsVault/internal/apperr"
	"github.com/GobsRuiz/GobsVault/internal/database"
	"github.com/GobsRuiz/GobsVault/internal/models"
)

// Service applies XP mutations atomically through the store
type Service struct {
	store  database.Store
	logger *slog.Logger
}

func NewService(store database.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// AwardResult reports the outcome of an XP grant
type AwardResult struct {
	XPGained  int
	NewXP     int
	NewLevel  int
	LeveledUp bool
	NewRank   models.Rank
}

func applyXP(user *models.User, xp int) AwardResult {
	user.XP += xp
	newLevel, leveledUp := CheckLevelUp(user.XP, user.Level)
	user.Level = newLevel
	user.Rank = RankForLevel(newLevel)
	return AwardResult{
		XPGained:  xp,
		NewXP:     user.XP,
		NewLevel:  newLevel,
		LeveledUp: leveledUp,
		NewRank:   user.Rank,
	}
}

// ApplyXP grants xp to a user on the given store, processing any
// level-ups. Callers inside a transaction pass their tx-bound store so
// the grant commits or rolls back with the rest of their work.
func ApplyXP(ctx context.Context, store database.Store, userID uuid.UUID, xp int) (AwardResult, error) {
	user, err := store.GetUserForUpdate(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return AwardResult{}, apperr.NotFound("user %s not found", userID)
		}
		return AwardResult{}, fmt.Errorf("load user: %w", err)
	}
	result := applyXP(user, xp)
	if err := store.UpdateUser(ctx, user); err != nil {
		return AwardResult{}, err
	}
	return result, nil
}

// AwardXP grants xp to a user, processing any level-ups, in one
// transaction.
func (s *Service) AwardXP(ctx context.Context, userID uuid.UUID, xp int) (AwardResult, error) {
	var result AwardResult
	err := s.store.InTx(ctx, func(tx database.Store) error {
		var err error
		result, err = ApplyXP(ctx, tx, userID, xp)
		return err
	})
	return result, err
}

// ProcessTradeReward grants the per-trade XP for a user's current
// level. Called after a trade commits; a failure here is logged by the
// caller, never rolled into the trade.
func (s *Service) ProcessTradeReward(ctx context.Context, userID uuid.UUID) (AwardResult, error) {
	var result AwardResult
	err := s.store.InTx(ctx, func(tx database.Store) error {
		user, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return apperr.NotFound("user %s not found", userID)
			}
			return fmt.Errorf("load user: %w", err)
		}
		result = applyXP(user, XPPerTrade(user.Level))
		return tx.UpdateUser(ctx, user)
	})
	return result, err
}

// GetUser loads a user by id
func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.NotFound("user %s not found", userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	progress, err := s.store.ListQuestProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list quest progress: %w", err)
	}
	user.QuestProgress = progress
	return user, nil
}

// GetUserStats returns the progression summary for one user
func (s *Service) GetUserStats(ctx context.Context, userID uuid.UUID) (*models.GamificationStats, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.NotFound("user %s not found", userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &models.GamificationStats{
		XP:             user.XP,
		Level:          user.Level,
		Rank:           user.Rank,
		XPForNextLevel: XPForNextLevel(user.Level),
		TotalTrades:    user.TotalTrades,
	}, nil
}

// RecomputeFromTrades rebuilds a user's XP, level and rank from their
// trade history plus claimed quest rewards. Used to reconcile after a
// missed post-trade award.
func (s *Service) RecomputeFromTrades(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var rebuilt *models.User
	err := s.store.InTx(ctx, func(tx database.Store) error {
		user, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return apperr.NotFound("user %s not found", userID)
			}
			return fmt.Errorf("load user: %w", err)
		}
		trades, err := tx.ListTrades(ctx, userID, database.TradeFilter{})
		if err != nil {
			return fmt.Errorf("list trades: %w", err)
		}
		sort.Slice(trades, func(i, j int) bool {
			return trades[i].Timestamp.Before(trades[j].Timestamp)
		})

		user.XP = 0
		user.Level = 1
		completed := 0
		for _, t := range trades {
			if t.Status != models.TradeStatusCompleted {
				continue
			}
			completed++
			applyXP(user, XPPerTrade(user.Level))
		}
		user.TotalTrades = completed

		progress, err := tx.ListQuestProgress(ctx, userID)
		if err != nil {
			return fmt.Errorf("list quest progress: %w", err)
		}
		for _, p := range progress {
			if !p.Claimed {
				continue
			}
			quest, err := tx.GetQuest(ctx, p.QuestID)
			if err != nil {
				return fmt.Errorf("load quest %s: %w", p.QuestID, err)
			}
			applyXP(user, quest.Reward.XP)
		}

		if err := tx.UpdateUser(ctx, user); err != nil {
			return err
		}
		rebuilt = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("recomputed progression",
		"user_id", userID, "level", rebuilt.Level, "xp", rebuilt.XP, "rank", rebuilt.Rank)
	return rebuilt, nil
}
