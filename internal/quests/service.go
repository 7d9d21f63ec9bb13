// Package quests tracks progress against the quest catalog and pays
// out claimed rewards exactly once.
package quests

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
	"github.com/GobsRuiz/GobsVault/internal/models"
)

// Service evaluates quest requirements against a user's live state
type Service struct {
	store  database.Store
	logger *slog.Logger
}

func NewService(store database.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// userMetrics are the measurable quantities quests are gated on.
// Net worth is balance plus invested capital at cost basis, so quest
// progress never swings with market prices.
type userMetrics struct {
	totalTrades   decimal.Decimal
	diversity     decimal.Decimal
	netWorth      decimal.Decimal
	profitPercent decimal.Decimal
}

func measure(user *models.User, holdings []models.Holding) userMetrics {
	invested := decimal.Zero
	for _, h := range holdings {
		invested = invested.Add(h.TotalInvested)
	}
	return userMetrics{
		totalTrades: decimal.NewFromInt(int64(user.TotalTrades)),
		diversity:   decimal.NewFromInt(int64(len(holdings))),
		netWorth:    user.Balance.Add(invested),
		// profit tracking is not wired to quests yet; always zero
		profitPercent: decimal.Zero,
	}
}

func (m userMetrics) progressFor(req models.QuestRequirement) decimal.Decimal {
	switch req.Type {
	case models.RequirementTotalTrades:
		return m.totalTrades
	case models.RequirementPortfolioDiversity:
		return m.diversity
	case models.RequirementNetWorth:
		return m.netWorth
	case models.RequirementProfitPercentage:
		return m.profitPercent
	default:
		return decimal.Zero
	}
}

func (s *Service) measureUser(ctx context.Context, store database.Store, user *models.User) (userMetrics, error) {
	holdings, err := store.ListHoldings(ctx, user.ID)
	if err != nil {
		return userMetrics{}, fmt.Errorf("list holdings: %w", err)
	}
	return measure(user, holdings), nil
}

// RefreshProgress re-evaluates every quest for the user and persists
// the result. Progress on a completed quest is frozen; completion
// flips at most once.
func (s *Service) RefreshProgress(ctx context.Context, userID uuid.UUID) error {
	return s.store.InTx(ctx, func(tx database.Store) error {
		user, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return apperr.NotFound("user %s not found", userID)
			}
			return fmt.Errorf("load user: %w", err)
		}
		metrics, err := s.measureUser(ctx, tx, user)
		if err != nil {
			return err
		}
		quests, err := tx.ListQuests(ctx)
		if err != nil {
			return fmt.Errorf("list quests: %w", err)
		}
		existing, err := tx.ListQuestProgress(ctx, userID)
		if err != nil {
			return fmt.Errorf("list quest progress: %w", err)
		}
		byQuest := make(map[uuid.UUID]models.QuestProgress, len(existing))
		for _, p := range existing {
			byQuest[p.QuestID] = p
		}

		now := time.Now().UTC()
		for _, quest := range quests {
			current, known := byQuest[quest.ID]
			if known && current.Completed {
				continue
			}
			measured := metrics.progressFor(quest.Requirement)
			next := models.QuestProgress{QuestID: quest.ID, Progress: measured}
			if known {
				next.Claimed = current.Claimed
				next.ClaimedAt = current.ClaimedAt
			}
			if measured.GreaterThanOrEqual(quest.Requirement.Value) {
				next.Completed = true
				next.CompletedAt = &now
				s.logger.Info("quest completed", "user_id", userID, "quest", quest.Title)
			}
			if !known && !next.Completed && next.Progress.IsZero() {
				continue
			}
			if err := tx.UpsertQuestProgress(ctx, userID, next); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetQuestsWithProgress returns the catalog joined with the user's
// progress, including percent toward each requirement capped at 100.
// Progress is measured from the user's current state on every read;
// stored rows only contribute the completed and claimed flags.
func (s *Service) GetQuestsWithProgress(ctx context.Context, userID uuid.UUID) ([]models.QuestWithProgress, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.NotFound("user %s not found", userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	metrics, err := s.measureUser(ctx, s.store, user)
	if err != nil {
		return nil, err
	}
	quests, err := s.store.ListQuests(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quests: %w", err)
	}
	progress, err := s.store.ListQuestProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list quest progress: %w", err)
	}
	byQuest := make(map[uuid.UUID]models.QuestProgress, len(progress))
	for _, p := range progress {
		byQuest[p.QuestID] = p
	}

	hundred := decimal.NewFromInt(100)
	out := make([]models.QuestWithProgress, 0, len(quests))
	for _, quest := range quests {
		qp := models.QuestWithProgress{Quest: quest}
		stored, known := byQuest[quest.ID]
		if known && stored.Completed {
			// frozen at the value it completed with
			qp.Progress = stored.Progress
			qp.Completed = true
			qp.Claimed = stored.Claimed
		} else {
			qp.Progress = metrics.progressFor(quest.Requirement)
			qp.Completed = qp.Progress.GreaterThanOrEqual(quest.Requirement.Value)
			if known {
				qp.Claimed = stored.Claimed
			}
		}
		if quest.Requirement.Value.IsPositive() {
			pct := qp.Progress.Div(quest.Requirement.Value).Mul(hundred)
			if pct.GreaterThan(hundred) {
				pct = hundred
			}
			qp.ProgressPercent = pct
		}
		if qp.Completed {
			qp.ProgressPercent = hundred
		}
		out = append(out, qp)
	}
	return out, nil
}

// ClaimQuestReward pays out a completed quest exactly once. Completion
// is re-measured at claim time, so a quest the user qualifies for is
// claimable even if no refresh ever wrote a progress row. The claim
// flag and the XP grant commit in the same transaction.
func (s *Service) ClaimQuestReward(ctx context.Context, userID, questID uuid.UUID) (*models.ClaimResult, error) {
	var result *models.ClaimResult
	err := s.store.InTx(ctx, func(tx database.Store) error {
		quest, err := tx.GetQuest(ctx, questID)
		if errors.Is(err, database.ErrNotFound) {
			return apperr.NotFound("quest %s not found", questID)
		}
		if err != nil {
			return fmt.Errorf("load quest: %w", err)
		}
		user, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return apperr.NotFound("user %s not found", userID)
			}
			return fmt.Errorf("load user: %w", err)
		}

		progress, err := tx.ListQuestProgress(ctx, userID)
		if err != nil {
			return fmt.Errorf("list quest progress: %w", err)
		}
		var current *models.QuestProgress
		for i := range progress {
			if progress[i].QuestID == questID {
				current = &progress[i]
				break
			}
		}
		if current != nil && current.Claimed {
			return apperr.BadRequest("quest %q already claimed", quest.Title)
		}

		now := time.Now().UTC()
		entry := models.QuestProgress{QuestID: questID}
		if current != nil {
			entry = *current
		}
		if !entry.Completed {
			metrics, err := s.measureUser(ctx, tx, user)
			if err != nil {
				return err
			}
			entry.Progress = metrics.progressFor(quest.Requirement)
			if entry.Progress.GreaterThanOrEqual(quest.Requirement.Value) {
				entry.Completed = true
				entry.CompletedAt = &now
			}
		}
		if !entry.Completed {
			return apperr.BadRequest("quest %q is not completed", quest.Title)
		}
		entry.Claimed = true
		entry.ClaimedAt = &now
		if err := tx.UpsertQuestProgress(ctx, userID, entry); err != nil {
			return err
		}

		award, err := gamification.ApplyXP(ctx, tx, userID, quest.Reward.XP)
		if err != nil {
			return err
		}
		result = &models.ClaimResult{
			QuestID:   questID,
			XPAwarded: award.XPGained,
			NewXP:     award.NewXP,
			NewLevel:  award.NewLevel,
			LeveledUp: award.LeveledUp,
			NewRank:   award.NewRank,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("quest claimed", "user_id", userID, "quest_id", questID, "xp", result.XPAwarded)
	return result, nil
}
