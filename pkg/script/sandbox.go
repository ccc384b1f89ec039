package script

import (
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var dangerousGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"global",
	"__dirname",
	"__filename",
	"Buffer",
	"setImmediate",
	"clearImmediate",
	"setTimeout",
	"setInterval",
}

var frozenBuiltins = []string{
	"Object", "Array", "Function", "String", "Number", "Boolean",
	"Date", "RegExp", "Error", "Math",
}

// secureContext removes host-like globals, freezes built-ins outside
// permissive mode, disables eval in strict mode and installs a console that
// writes to logger.
func secureContext(vm *goja.Runtime, cfg *Config, logger *zap.Logger) error {
	vm.SetMaxCallStackSize(cfg.MaxStackDepth)

	for _, name := range dangerousGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	if cfg.SecurityLevel == SecurityLevelStrict {
		err := vm.Set("eval", func(goja.FunctionCall) goja.Value {
			panic(vm.NewGoError(newSecurityError("eval is not allowed in strict security mode")))
		})
		if err != nil {
			return err
		}
	}

	if cfg.SecurityLevel != SecurityLevelPermissive {
		val, err := vm.RunString(`(function(obj) {
			if (obj) { Object.freeze(obj); if (obj.prototype) { Object.freeze(obj.prototype); } }
		})`)
		if err != nil {
			return fmt.Errorf("failed to create freeze function: %w", err)
		}
		freeze, ok := goja.AssertFunction(val)
		if !ok {
			return fmt.Errorf("freeze function is not a function")
		}
		for _, name := range frozenBuiltins {
			if obj := vm.Get(name); obj != nil && !goja.IsUndefined(obj) {
				// Non-fatal: a failed freeze leaves the built-in writable.
				_, _ = freeze(goja.Undefined(), obj)
			}
		}
	}

	return installConsole(vm, logger)
}

func installConsole(vm *goja.Runtime, logger *zap.Logger) error {
	console := vm.NewObject()
	logAt := func(level func(string, ...zap.Field)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = a.Export()
			}
			level("Script console", zap.Any("args", args))
			return goja.Undefined()
		}
	}
	for name, fn := range map[string]func(string, ...zap.Field){
		"log":   logger.Info,
		"info":  logger.Info,
		"debug": logger.Debug,
		"warn":  logger.Warn,
		"error": logger.Error,
	} {
		if err := console.Set(name, logAt(fn)); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}
