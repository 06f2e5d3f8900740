package store

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/flowsync/flowsync/common/models"
)

// ApplyDefinitionPatch applies an RFC 6902 patch to a workflow definition
// and returns the patched definition. The caller validates the result and
// stores it as a new frozen version; existing executions keep referring to
// the pre-patch snapshot.
func ApplyDefinitionPatch(def models.WorkflowDefinition, patchJSON []byte) (models.WorkflowDefinition, error) {
	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return models.WorkflowDefinition{}, fmt.Errorf("decode patch: %w", err)
	}

	original, err := json.Marshal(def)
	if err != nil {
		return models.WorkflowDefinition{}, fmt.Errorf("marshal definition: %w", err)
	}

	patched, err := patch.Apply(original)
	if err != nil {
		return models.WorkflowDefinition{}, fmt.Errorf("apply patch: %w", err)
	}

	var out models.WorkflowDefinition
	if err := json.Unmarshal(patched, &out); err != nil {
		return models.WorkflowDefinition{}, fmt.Errorf("unmarshal patched definition: %w", err)
	}
	return out, nil
}
