// Package script evaluates JavaScript script task bodies, sequence flow
// conditions and rule decisions in pooled, sandboxed goja runtimes.
package script

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// reserved names are never shadowed by process variables.
var reserved = map[string]bool{
	"vars": true, "console": true, "eval": true, "undefined": true,
	"NaN": true, "Infinity": true, "JSON": true, "Math": true,
	"Object": true, "Array": true, "Function": true, "String": true,
	"Number": true, "Boolean": true, "Date": true, "RegExp": true, "Error": true,
}

// Runner implements script, condition and rule evaluation over a VM pool.
// Process variables are visible both as the `vars` object and as globals of
// the same name.
type Runner struct {
	pool   *VMPool
	config Config
	logger *zap.Logger
}

// New creates a runner.
func New(config Config, logger *zap.Logger) (*Runner, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("script")

	pool, err := NewVMPool(&config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create VM pool: %w", err)
	}
	return &Runner{pool: pool, config: config, logger: logger}, nil
}

// Run executes a script body and returns the value of its last expression.
func (r *Runner) Run(ctx context.Context, format, script string, vars map[string]any) (any, error) {
	if !isJavaScript(format) {
		return nil, &Error{Type: ErrorTypeUnsupported, Message: fmt.Sprintf("unsupported script format %q", format)}
	}
	value, err := r.execute(ctx, script, vars)
	if err != nil {
		return nil, err
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

// Evaluate evaluates a condition expression. An expression may be wrapped in
// ${...}. An empty expression is true.
func (r *Runner) Evaluate(ctx context.Context, expression string, vars map[string]any) (bool, error) {
	expr := StripExpression(expression)
	if expr == "" {
		return true, nil
	}
	value, err := r.execute(ctx, "("+expr+")", vars)
	if err != nil {
		return false, err
	}
	return value.ToBoolean(), nil
}

// Close releases the pool.
func (r *Runner) Close() error {
	return r.pool.Close()
}

// Stats returns VM pool statistics.
func (r *Runner) Stats() PoolStats {
	return r.pool.Stats()
}

func (r *Runner) execute(ctx context.Context, src string, vars map[string]any) (value goja.Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &Error{Type: ErrorTypeInternal, Message: fmt.Sprintf("panic during execution: %v", rec)}
		}
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	pvm, err := r.pool.Acquire(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire VM: %w", err)
	}
	defer func() {
		if releaseErr := r.pool.Release(pvm); releaseErr != nil {
			r.logger.Warn("Failed to release VM", zap.Error(releaseErr))
		}
	}()
	vm := pvm.vm

	done := make(chan struct{})
	var (
		interrupted bool
		interruptMu sync.Mutex
	)
	go func() {
		select {
		case <-timeoutCtx.Done():
			interruptMu.Lock()
			interrupted = true
			interruptMu.Unlock()
			vm.Interrupt("execution timeout")
		case <-done:
		}
	}()
	defer close(done)

	if err := bindVars(vm, vars); err != nil {
		return nil, &Error{Type: ErrorTypeInternal, Message: err.Error()}
	}

	start := time.Now()
	value, err = vm.RunString(src)
	if err != nil {
		interruptMu.Lock()
		wasInterrupted := interrupted
		interruptMu.Unlock()
		if wasInterrupted {
			return nil, newTimeoutError(r.config.Timeout.Milliseconds())
		}
		return nil, wrapError(err)
	}

	r.logger.Debug("Script evaluated",
		zap.Duration("duration", time.Since(start)),
		zap.Int("reuse_count", pvm.reuseCount))
	return value, nil
}

func bindVars(vm *goja.Runtime, vars map[string]any) error {
	if vars == nil {
		vars = map[string]any{}
	}
	if err := vm.Set("vars", vars); err != nil {
		return fmt.Errorf("failed to set vars: %w", err)
	}
	for name, v := range vars {
		if reserved[name] || !identifier.MatchString(name) {
			continue
		}
		if err := vm.Set(name, v); err != nil {
			return fmt.Errorf("failed to set %s: %w", name, err)
		}
	}
	return nil
}

// StripExpression removes a ${...} wrapper and surrounding whitespace.
func StripExpression(expression string) string {
	expr := strings.TrimSpace(expression)
	if strings.HasPrefix(expr, "${") && strings.HasSuffix(expr, "}") {
		expr = strings.TrimSpace(expr[2 : len(expr)-1])
	}
	return expr
}

func isJavaScript(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "javascript", "js", "ecmascript", "text/javascript", "application/javascript":
		return true
	}
	return false
}

// Rules evaluates business rule decisions written as scripts that return an
// object of output variables.
type Rules struct {
	runner    *Runner
	decisions map[string]string
}

// NewRules creates a rule evaluator over decision scripts keyed by decision ref.
func NewRules(runner *Runner, decisions map[string]string) *Rules {
	d := make(map[string]string, len(decisions))
	for k, v := range decisions {
		d[k] = v
	}
	return &Rules{runner: runner, decisions: d}
}

// Evaluate runs the decision script for decisionRef.
func (r *Rules) Evaluate(ctx context.Context, decisionRef string, vars map[string]any) (map[string]any, error) {
	src, ok := r.decisions[decisionRef]
	if !ok {
		return nil, fmt.Errorf("unknown decision %q", decisionRef)
	}
	out, err := r.runner.Run(ctx, "javascript", src, vars)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return map[string]any{}, nil
	}
	result, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decision %q returned %T, want an object", decisionRef, out)
	}
	return result, nil
}
