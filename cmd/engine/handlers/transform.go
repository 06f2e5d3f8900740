package handlers

import (
	"context"
	"strings"

	"github.com/flowsync/flowsync/cmd/engine/expression"
	"github.com/flowsync/flowsync/common/models"
)

// TransformHandler reshapes data between nodes. Stages apply in order:
// mappings (token -> value), pick from input, rename, template
// interpolation.
type TransformHandler struct{}

func (h *TransformHandler) Type() models.NodeType { return models.NodeTransform }

func (h *TransformHandler) Execute(_ context.Context, job *models.WorkerJob) (map[string]any, error) {
	config := job.Node.Config
	env := jobEnv(job)

	out := make(map[string]any)

	for key, raw := range configMap(config, "mappings") {
		out[key] = resolveMappingValue(raw, env)
	}

	for _, key := range configStrings(config, "pick") {
		if v, ok := job.Input[key]; ok {
			out[key] = v
		}
	}

	for from, to := range configMap(config, "rename") {
		toKey, ok := to.(string)
		if !ok {
			continue
		}
		if v, exists := out[from]; exists {
			delete(out, from)
			out[toKey] = v
		}
	}

	for key, tmpl := range configMap(config, "template") {
		if s, ok := tmpl.(string); ok {
			out[key] = env.Interpolate(s)
		}
	}

	return out, nil
}

// resolveMappingValue resolves string mapping values: $refs and templates
// resolve through the environment, anything else stays literal
func resolveMappingValue(raw any, env expression.Env) any {
	s, ok := raw.(string)
	if !ok {
		return raw
	}
	if strings.HasPrefix(strings.TrimSpace(s), "$") {
		return env.Resolve(s)
	}
	if expression.IsTemplate(s) {
		return env.Interpolate(s)
	}
	return s
}
