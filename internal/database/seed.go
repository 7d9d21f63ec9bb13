package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GobsRuiz/GobsVault/internal/models"
)

type questSeed struct {
	title       string
	description string
	reqType     models.QuestRequirementType
	reqValue    int64
	rewardXP    int
}

var questCatalog = []questSeed{
	{"Primeiro Trade", "Realize seu primeiro trade", models.RequirementTotalTrades, 1, 50},
	{"Trader Ativo", "Realize 5 trades", models.RequirementTotalTrades, 5, 100},
	{"Trader Experiente", "Realize 10 trades", models.RequirementTotalTrades, 10, 200},
	{"Trader Dedicado", "Realize 25 trades", models.RequirementTotalTrades, 25, 350},
	{"Trader Veterano", "Realize 50 trades", models.RequirementTotalTrades, 50, 500},
	{"Trader Mestre", "Realize 100 trades", models.RequirementTotalTrades, 100, 1000},
	{"Portfolio Diversificado", "Possua 3 criptomoedas diferentes", models.RequirementPortfolioDiversity, 3, 150},
	{"Colecionador de Criptos", "Possua 5 criptomoedas diferentes", models.RequirementPortfolioDiversity, 5, 300},
	{"Investidor Sério", "Alcance um patrimônio de $15.000", models.RequirementNetWorth, 15000, 300},
	{"Investidor Próspero", "Alcance um patrimônio de $25.000", models.RequirementNetWorth, 25000, 600},
	{"Investidor Rico", "Alcance um patrimônio de $50.000", models.RequirementNetWorth, 50000, 1000},
	{"Investidor Milionário", "Alcance um patrimônio de $100.000", models.RequirementNetWorth, 100000, 2000},
}

// SeedQuests upserts the quest catalog keyed by title. Existing quests
// keep their ids, so re-running at every startup is safe.
func SeedQuests(ctx context.Context, store Store) error {
	for _, seed := range questCatalog {
		q := &models.Quest{
			ID:          uuid.New(),
			Title:       seed.title,
			Description: seed.description,
			Requirement: models.QuestRequirement{
				Type:  seed.reqType,
				Value: decimal.NewFromInt(seed.reqValue),
			},
			Reward: models.QuestReward{XP: seed.rewardXP},
		}
		if err := store.UpsertQuestByTitle(ctx, q); err != nil {
			return fmt.Errorf("seed quest %q: %w", seed.title, err)
		}
	}
	return nil
}
