// Package validation screens JSON Patch documents before they touch a
// workflow definition. The structural DAG rules still run after the
// patch applies; this pass rejects documents that are malformed on
// their face.
package validation

import (
	"encoding/json"
	"fmt"
)

// maxNodesPerPatch bounds how many nodes one patch may add; larger
// edits should create a new workflow instead
const maxNodesPerPatch = 25

var allowedOps = map[string]bool{
	"add":     true,
	"remove":  true,
	"replace": true,
	"move":    true,
	"copy":    true,
	"test":    true,
}

// ValidatePatch parses and validates a JSON Patch document for a
// workflow definition
func ValidatePatch(patchJSON []byte) error {
	var operations []map[string]any
	if err := json.Unmarshal(patchJSON, &operations); err != nil {
		return fmt.Errorf("patch must be a JSON array of operations: %w", err)
	}
	if len(operations) == 0 {
		return fmt.Errorf("patch contains no operations")
	}

	nodesAdded := 0
	for i, op := range operations {
		if err := validateOperation(op, i); err != nil {
			return err
		}
		if op["op"] == "add" && op["path"] == "/nodes/-" {
			nodesAdded++
		}
	}

	if nodesAdded > maxNodesPerPatch {
		return fmt.Errorf("patch adds %d nodes, limit is %d", nodesAdded, maxNodesPerPatch)
	}
	return nil
}

func validateOperation(op map[string]any, index int) error {
	opType, ok := op["op"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'op' field", index)
	}
	if !allowedOps[opType] {
		return fmt.Errorf("operation %d: unsupported operation type %q", index, opType)
	}

	path, ok := op["path"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'path' field", index)
	}

	switch opType {
	case "add", "replace", "test":
		if _, ok := op["value"]; !ok {
			return fmt.Errorf("operation %d: 'value' required for %s operation", index, opType)
		}
		if path == "/nodes/-" {
			if err := validateNodeValue(op["value"], index); err != nil {
				return err
			}
		}
	case "move", "copy":
		if _, ok := op["from"].(string); !ok {
			return fmt.Errorf("operation %d: 'from' required for %s operation", index, opType)
		}
	}
	return nil
}

func validateNodeValue(value any, index int) error {
	node, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("operation %d: node value must be an object, got %T", index, value)
	}

	if _, ok := node["id"].(string); !ok {
		return fmt.Errorf("operation %d: node must have a string 'id' field", index)
	}
	if _, ok := node["type"].(string); !ok {
		return fmt.Errorf("operation %d: node must have a string 'type' field", index)
	}

	if config, exists := node["config"]; exists {
		if _, ok := config.(map[string]any); !ok {
			return fmt.Errorf("operation %d: node 'config' must be an object, got %T", index, config)
		}
	}
	return nil
}
