package script

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	r, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRunReturnsLastExpression(t *testing.T) {
	r := newRunner(t, Config{})

	out, err := r.Run(context.Background(), "javascript", "amount * 2", map[string]any{"amount": 21})
	require.NoError(t, err)
	assert.EqualValues(t, 42, out)

	out, err = r.Run(context.Background(), "", "({total: vars.a + vars.b})", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"total": int64(3)}, out)

	out, err = r.Run(context.Background(), "js", "var x = 1;", nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRunUnsupportedFormat(t *testing.T) {
	r := newRunner(t, Config{})
	_, err := r.Run(context.Background(), "groovy", "1", nil)
	require.Error(t, err)
	assert.Equal(t, ErrorTypeUnsupported, TypeOf(err))
}

func TestRunErrors(t *testing.T) {
	r := newRunner(t, Config{})

	_, err := r.Run(context.Background(), "javascript", "throw new Error('nope')", nil)
	require.Error(t, err)
	assert.Equal(t, ErrorTypeRuntime, TypeOf(err))
	assert.Contains(t, err.Error(), "nope")

	_, err = r.Run(context.Background(), "javascript", "function (", nil)
	require.Error(t, err)
	assert.Equal(t, ErrorTypeSyntax, TypeOf(err))
}

func TestRunTimeout(t *testing.T) {
	r := newRunner(t, Config{Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := r.Run(context.Background(), "javascript", "while (true) {}", nil)
	require.Error(t, err)
	assert.Equal(t, ErrorTypeTimeout, TypeOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)

	// The interrupted runtime is usable again.
	out, err := r.Run(context.Background(), "javascript", "1 + 1", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, out)
}

func TestVariablesDoNotLeakBetweenRuns(t *testing.T) {
	r := newRunner(t, Config{Pool: PoolConfig{MinSize: 1, MaxSize: 1}})

	_, err := r.Run(context.Background(), "javascript", "leaked = 5; secret", map[string]any{"secret": "s"})
	require.NoError(t, err)

	out, err := r.Run(context.Background(), "javascript", "typeof leaked + ',' + typeof secret", nil)
	require.NoError(t, err)
	assert.Equal(t, "undefined,undefined", out)
}

func TestSandbox(t *testing.T) {
	r := newRunner(t, Config{SecurityLevel: SecurityLevelStrict})

	out, err := r.Run(context.Background(), "javascript", "typeof require + typeof process", nil)
	require.NoError(t, err)
	assert.Equal(t, "undefinedundefined", out)

	_, err = r.Run(context.Background(), "javascript", "eval('1')", nil)
	assert.Error(t, err)

	out, err = r.Run(context.Background(), "javascript", "Math.max = null; typeof Math.max", nil)
	require.NoError(t, err)
	assert.Equal(t, "function", out)
}

func TestConsoleWritesToLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r, err := New(Config{}, zap.New(core))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Run(context.Background(), "javascript", "console.log('hello', 1)", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("Script console").Len())
}

func TestEvaluate(t *testing.T) {
	r := newRunner(t, Config{})
	vars := map[string]any{"amount": 150, "approved": true, "region": "eu"}

	tests := []struct {
		expr string
		want bool
	}{
		{"${amount > 100}", true},
		{"amount > 1000", false},
		{"${ approved && region === 'eu' }", true},
		{"vars.region == 'us'", false},
		{"", true},
		{"${typeof missing === 'undefined'}", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := r.Evaluate(context.Background(), tt.expr, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := r.Evaluate(context.Background(), "${nosuch.field}", vars)
	assert.Error(t, err)
}

func TestRules(t *testing.T) {
	r := newRunner(t, Config{})
	rules := NewRules(r, map[string]string{
		"discount": "({discount: tier === 'gold' ? 0.2 : 0})",
		"broken":   "42",
	})

	out, err := rules.Evaluate(context.Background(), "discount", map[string]any{"tier": "gold"})
	require.NoError(t, err)
	assert.Equal(t, 0.2, out["discount"])

	_, err = rules.Evaluate(context.Background(), "broken", nil)
	assert.ErrorContains(t, err, "want an object")

	_, err = rules.Evaluate(context.Background(), "missing", nil)
	assert.ErrorContains(t, err, "unknown decision")
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, 5*time.Second, c.Timeout)

	c.SecurityLevel = "lax"
	assert.Error(t, c.Validate())

	_, err := New(Config{SecurityLevel: "lax"}, nil)
	assert.Error(t, err)
}

func TestStripExpression(t *testing.T) {
	assert.Equal(t, "a > 1", StripExpression("  ${ a > 1 } "))
	assert.Equal(t, "a > 1", StripExpression("a > 1"))
}

func TestPoolStats(t *testing.T) {
	r := newRunner(t, Config{Pool: PoolConfig{MinSize: 2, MaxSize: 4}})
	_, err := r.Run(context.Background(), "javascript", "1", nil)
	require.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, 2, stats.CurrentSize)
	assert.Equal(t, int64(1), stats.TotalAcquired)
	assert.Equal(t, int64(1), stats.TotalReleased)
	assert.Equal(t, 2, stats.Available)
}
