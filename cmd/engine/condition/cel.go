package condition

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/flowsync/flowsync/cmd/engine/expression"
)

// CELEvaluator evaluates condition expressions written in CEL (Common
// Expression Language), selected by `expressionLanguage: "cel"` in the
// node config. Compiled programs are cached per expression.
type CELEvaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewCELEvaluator creates an evaluator with an empty program cache
func NewCELEvaluator() *CELEvaluator {
	return &CELEvaluator{
		cache: make(map[string]cel.Program),
	}
}

// Evaluate compiles (or reuses) the expression and evaluates it with
// `input` bound to the workflow input and `results` to prior node results
func (e *CELEvaluator) Evaluate(expr string, env expression.Env) (bool, error) {
	e.mu.RLock()
	prg, exists := e.cache[expr]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = e.compile(expr)
		if err != nil {
			return false, err
		}

		e.mu.Lock()
		e.cache[expr] = prg
		e.mu.Unlock()
	}

	results := make(map[string]any, len(env.Results))
	for nodeID, r := range env.Results {
		results[nodeID] = r
	}

	out, _, err := prg.Eval(map[string]any{
		"input":   env.Input,
		"results": results,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}
	return result, nil
}

func (e *CELEvaluator) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.DynType),
		cel.Variable("results", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("create CEL program: %w", err)
	}
	return prg, nil
}

// CacheSize returns the number of cached programs
func (e *CELEvaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
