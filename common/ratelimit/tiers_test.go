package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowsync/flowsync/common/models"
)

func defWithActions(actions int) *models.WorkflowDefinition {
	nodes := []models.Node{{ID: "start", Type: models.NodeStart}}
	for i := 0; i < actions; i++ {
		nodes = append(nodes, models.Node{ID: string(rune('a' + i)), Type: models.NodeAction})
	}
	nodes = append(nodes, models.Node{ID: "end", Type: models.NodeEnd})
	return &models.WorkflowDefinition{Nodes: nodes}
}

func TestInspect_ClassifiesByActionCount(t *testing.T) {
	cases := []struct {
		actions int
		want    Tier
	}{
		{0, TierLight},
		{1, TierStandard},
		{3, TierStandard},
		{4, TierHeavy},
		{9, TierHeavy},
	}
	for _, tc := range cases {
		profile := Inspect(defWithActions(tc.actions))
		assert.Equal(t, tc.want, profile.Tier, "actions=%d", tc.actions)
		assert.Equal(t, tc.actions, profile.ActionCount)
		assert.Equal(t, tc.actions+2, profile.TotalNodes)
	}
}

func TestLimitForTier(t *testing.T) {
	assert.Equal(t, int64(120), LimitForTier(TierLight))
	assert.Equal(t, int64(30), LimitForTier(TierStandard))
	assert.Equal(t, int64(10), LimitForTier(TierHeavy))

	// unknown tiers get the most restrictive allowance
	assert.Equal(t, int64(10), LimitForTier(Tier("platinum")))
}

func TestAllTiers_OrderedLightToHeavy(t *testing.T) {
	tiers := AllTiers()
	assert.Len(t, tiers, 3)
	assert.Equal(t, TierLight, tiers[0].Tier)
	assert.Equal(t, TierStandard, tiers[1].Tier)
	assert.Equal(t, TierHeavy, tiers[2].Tier)
	for _, tc := range tiers {
		assert.Equal(t, 60, tc.WindowSeconds)
		assert.Positive(t, tc.Limit)
	}
}
