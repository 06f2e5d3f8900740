// Package expression implements the token language shared by condition,
// transform, and webhook_response nodes: literals, $input / $nodeId path
// references, and {{...}} string templates.
package expression

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Env is the resolution scope for one step: the workflow input and the
// recorded results of previously completed nodes
type Env struct {
	Input   map[string]any
	Results map[string]map[string]any
}

var templateRef = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Resolve turns a single token into a value. Unknown tokens resolve to
// nil, which is falsy.
//
//	42            -> float64(42)
//	"text", 'text' -> "text"
//	true / false  -> bool
//	$input.a.b    -> path into the workflow input
//	$nodeId.a.b   -> path into that node's recorded result
func (e Env) Resolve(token string) any {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	if len(token) >= 2 {
		if (token[0] == '"' && token[len(token)-1] == '"') ||
			(token[0] == '\'' && token[len(token)-1] == '\'') {
			return token[1 : len(token)-1]
		}
	}

	if strings.HasPrefix(token, "$") {
		return e.resolveRef(token)
	}

	if n, err := strconv.ParseFloat(token, 64); err == nil {
		return n
	}

	switch token {
	case "true":
		return true
	case "false":
		return false
	}

	return nil
}

func (e Env) resolveRef(token string) any {
	parts := strings.Split(token[1:], ".")
	head := parts[0]

	var current any
	if head == "input" {
		current = anyMap(e.Input)
	} else {
		result, ok := e.Results[head]
		if !ok {
			return nil
		}
		current = anyMap(result)
	}

	for _, part := range parts[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

// Interpolate substitutes every {{$ref}} in the template with the
// stringified resolved value; null stringifies as empty
func (e Env) Interpolate(template string) string {
	return templateRef.ReplaceAllStringFunc(template, func(match string) string {
		ref := templateRef.FindStringSubmatch(match)[1]
		return Stringify(e.Resolve(ref))
	})
}

// IsTemplate reports whether the string contains a {{...}} reference
func IsTemplate(s string) bool {
	return templateRef.MatchString(s)
}

// Stringify renders a resolved value for templates and string comparison.
// nil renders as empty.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// Truthy implements the falsiness rules of the expression language:
// nil, false, 0, NaN, and "" are falsy, everything else is truthy
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0 && val == val
	case int:
		return val != 0
	case string:
		return val != ""
	default:
		return true
	}
}

func anyMap(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
