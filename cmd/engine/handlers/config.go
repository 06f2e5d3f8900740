package handlers

// Node config accessors. Configs arrive as decoded JSON, so numbers are
// float64 and nested blocks are map[string]any.

func configString(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func configBool(config map[string]any, key string) bool {
	v, ok := config[key].(bool)
	return ok && v
}

func configNumber(config map[string]any, key string) (float64, bool) {
	switch v := config[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func configMap(config map[string]any, key string) map[string]any {
	if v, ok := config[key].(map[string]any); ok {
		return v
	}
	return nil
}

func configStrings(config map[string]any, key string) []string {
	raw, ok := config[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
