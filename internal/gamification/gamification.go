// Package gamification implements XP accrual, leveling and ranks.
package gamification

import "github.com/GobsRuiz/GobsVault/internal/models"

// XPPerTrade is the XP grant for one completed trade at the given
// level: floor(10 * (1 + level/10)), which reduces to 10 + level.
func XPPerTrade(level int) int {
	return 10 + level
}

// XPForNextLevel is the XP required to advance from the given level
func XPForNextLevel(level int) int {
	return level * 100
}

// CheckLevelUp returns the level a cumulative XP total supports.
// Stored XP is never reduced; each threshold is compared against the
// running total, so one grant can land several level-ups.
func CheckLevelUp(xp, level int) (newLevel int, leveledUp bool) {
	for xp >= XPForNextLevel(level) {
		level++
		leveledUp = true
	}
	return level, leveledUp
}

// RankForLevel maps a level to its rank band
func RankForLevel(level int) models.Rank {
	switch {
	case level >= 100:
		return models.RankDiamante
	case level >= 50:
		return models.RankOuro
	case level >= 25:
		return models.RankPrata
	case level >= 10:
		return models.RankBronze
	default:
		return models.RankIniciante
	}
}
