package gamification

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GobsRuiz/GobsVault/internal/models"
)

func TestXPPerTrade(t *testing.T) {
	assert.Equal(t, 11, XPPerTrade(1))
	assert.Equal(t, 15, XPPerTrade(5))
	assert.Equal(t, 60, XPPerTrade(50))
}

func TestXPForNextLevel(t *testing.T) {
	assert.Equal(t, 100, XPForNextLevel(1))
	assert.Equal(t, 700, XPForNextLevel(7))
}

func TestCheckLevelUp(t *testing.T) {
	tests := []struct {
		name      string
		xp, level int
		wantLevel int
		leveled   bool
	}{
		{"below threshold", 99, 1, 1, false},
		{"exact threshold", 100, 1, 2, true},
		{"two levels in one grant", 250, 1, 3, true},
		{"three levels in one grant", 305, 1, 4, true},
		{"higher level threshold", 250, 3, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotLevel, leveled := CheckLevelUp(tt.xp, tt.level)
			assert.Equal(t, tt.wantLevel, gotLevel)
			assert.Equal(t, tt.leveled, leveled)
		})
	}
}

func TestRankForLevel(t *testing.T) {
	assert.Equal(t, models.RankIniciante, RankForLevel(1))
	assert.Equal(t, models.RankIniciante, RankForLevel(9))
	assert.Equal(t, models.RankBronze, RankForLevel(10))
	assert.Equal(t, models.RankBronze, RankForLevel(24))
	assert.Equal(t, models.RankPrata, RankForLevel(25))
	assert.Equal(t, models.RankPrata, RankForLevel(49))
	assert.Equal(t, models.RankOuro, RankForLevel(50))
	assert.Equal(t, models.RankOuro, RankForLevel(99))
	assert.Equal(t, models.RankDiamante, RankForLevel(100))
	assert.Equal(t, models.RankDiamante, RankForLevel(250))
}
