package transform

import (
	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// newRuntime creates a goja VM with console bindings routed to the logger.
func newRuntime(logger zerolog.Logger) *goja.Runtime {
	vm := goja.New()
	setupConsole(vm, logger)
	return vm
}

func setupConsole(vm *goja.Runtime, logger zerolog.Logger) {
	console := vm.NewObject()

	logFn := func(log func() *zerolog.Event) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			log().Msgf("[transform] %v", args)
			return goja.Undefined()
		}
	}

	console.Set("log", logFn(func() *zerolog.Event { return logger.Info() }))
	console.Set("debug", logFn(func() *zerolog.Event { return logger.Debug() }))
	console.Set("warn", logFn(func() *zerolog.Event { return logger.Warn() }))
	console.Set("error", logFn(func() *zerolog.Event { return logger.Error() }))

	vm.Set("console", console)
}
