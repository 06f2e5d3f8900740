package ratelimit

import "github.com/flowsync/flowsync/common/models"

// Tier buckets workflows by how much external work an execution performs.
// Action nodes make real HTTP calls, so they dominate the cost.
type Tier string

const (
	TierLight    Tier = "light"    // no action nodes
	TierStandard Tier = "standard" // 1-3 action nodes
	TierHeavy    Tier = "heavy"    // 4+ action nodes
)

// TierConfig describes one tier's allowance
type TierConfig struct {
	Tier          Tier
	Limit         int64
	WindowSeconds int
	Description   string
}

var tierConfigs = map[Tier]TierConfig{
	TierLight: {
		Tier:          TierLight,
		Limit:         120,
		WindowSeconds: 60,
		Description:   "workflows without action nodes, 120 executions/minute",
	},
	TierStandard: {
		Tier:          TierStandard,
		Limit:         30,
		WindowSeconds: 60,
		Description:   "workflows with 1-3 action nodes, 30 executions/minute",
	},
	TierHeavy: {
		Tier:          TierHeavy,
		Limit:         10,
		WindowSeconds: 60,
		Description:   "workflows with 4+ action nodes, 10 executions/minute",
	},
}

// LimitForTier returns the execution allowance for a tier, falling back
// to the most restrictive tier for unknown values
func LimitForTier(tier Tier) int64 {
	if cfg, ok := tierConfigs[tier]; ok {
		return cfg.Limit
	}
	return tierConfigs[TierHeavy].Limit
}

// AllTiers returns every configured tier for the ops surface
func AllTiers() []TierConfig {
	return []TierConfig{
		tierConfigs[TierLight],
		tierConfigs[TierStandard],
		tierConfigs[TierHeavy],
	}
}

// Profile is the complexity analysis of one workflow definition
type Profile struct {
	Tier        Tier
	ActionCount int
	TotalNodes  int
}

// Inspect classifies a workflow definition into a tier
func Inspect(def *models.WorkflowDefinition) Profile {
	profile := Profile{TotalNodes: len(def.Nodes)}
	for _, node := range def.Nodes {
		if node.Type == models.NodeAction {
			profile.ActionCount++
		}
	}

	switch {
	case profile.ActionCount == 0:
		profile.Tier = TierLight
	case profile.ActionCount <= 3:
		profile.Tier = TierStandard
	default:
		profile.Tier = TierHeavy
	}
	return profile
}
