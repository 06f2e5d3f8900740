package condition

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/flowsync/flowsync/cmd/engine/expression"
)

// operators in scan order: longest match first, so ">=" wins over ">"
var operators = []string{">=", "<=", "!=", "==", ">", "<"}

// Evaluate evaluates a condition expression against the step environment.
//
// The expression is trimmed; a literal boolean (true/1, false/0) is
// returned directly. Otherwise the first operator found (scanning
// longest-first) splits the expression once; both sides are resolved.
// Equality compares as strings, ordering compares as numbers, and a NaN
// on either side of an ordering makes the comparison false. Unknown
// tokens resolve to undefined, which is falsy.
func Evaluate(expr string, env expression.Env) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, fmt.Errorf("empty condition expression")
	}

	switch expr {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}

	for _, op := range operators {
		idx := strings.Index(expr, op)
		if idx < 0 {
			continue
		}
		left := env.Resolve(expr[:idx])
		right := env.Resolve(expr[idx+len(op):])
		return compare(op, left, right), nil
	}

	// No operator: truthiness of the resolved token
	return expression.Truthy(env.Resolve(expr)), nil
}

func compare(op string, left, right any) bool {
	switch op {
	case "==":
		return expression.Stringify(left) == expression.Stringify(right)
	case "!=":
		return expression.Stringify(left) != expression.Stringify(right)
	}

	l, r := toNumber(left), toNumber(right)
	if math.IsNaN(l) || math.IsNaN(r) {
		return false
	}
	switch op {
	case ">":
		return l > r
	case "<":
		return l < r
	case ">=":
		return l >= r
	case "<=":
		return l <= r
	}
	return false
}

func toNumber(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case bool:
		if val {
			return 1
		}
		return 0
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return n
		}
	}
	return math.NaN()
}
