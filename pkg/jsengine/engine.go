// Package jsengine evaluates ${...} expressions and evalScript steps in
// scenarios.
package jsengine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/otp-handoff/pkg/logger"
)

// Engine wraps a goja runtime holding the scenario's variables.
type Engine struct {
	runtime   *goja.Runtime
	variables map[string]interface{}
	output    map[string]interface{}
	platform  string
	mu        sync.Mutex
}

// New creates a new JS engine instance.
func New() *Engine {
	e := &Engine{
		runtime:   goja.New(),
		variables: make(map[string]interface{}),
		output:    make(map[string]interface{}),
	}
	e.setupBuiltins()
	return e
}

func (e *Engine) setupBuiltins() {
	console := e.runtime.NewObject()
	_ = console.Set("log", e.consoleFunc(logger.Info))
	_ = console.Set("warn", e.consoleFunc(logger.Warn))
	_ = console.Set("error", e.consoleFunc(logger.Error))
	_ = e.runtime.Set("console", console)

	_ = e.runtime.Set("json", e.jsonFunc())

	// Values written here are copied back into scenario variables
	_ = e.runtime.Set("output", e.output)

	handoff := e.runtime.NewObject()
	_ = handoff.DefineAccessorProperty("platform", e.runtime.ToValue(func() string {
		return e.platform
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = e.runtime.Set("handoff", handoff)
}

func (e *Engine) consoleFunc(logf func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		logf("[js] %s", strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (e *Engine) jsonFunc() func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(e.runtime.NewTypeError("json requires 1 argument"))
		}
		parse, _ := goja.AssertFunction(e.runtime.Get("JSON").ToObject(e.runtime).Get("parse"))
		result, err := parse(goja.Undefined(), call.Arguments[0])
		if err != nil {
			panic(e.runtime.NewTypeError(fmt.Sprintf("invalid JSON: %v", err)))
		}
		return result
	}
}

// SetVariable sets a variable accessible in JS as a global.
func (e *Engine) SetVariable(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.variables[name] = value
	_ = e.runtime.Set(name, value)
}

// SetVariables sets multiple variables.
func (e *Engine) SetVariables(vars map[string]string) {
	for k, v := range vars {
		e.SetVariable(k, v)
	}
}

// Variable returns a variable set with SetVariable.
func (e *Engine) Variable(name string) (interface{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.variables[name]
	return v, ok
}

// SetPlatform sets handoff.platform.
func (e *Engine) SetPlatform(platform string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.platform = platform
}

// Output returns a copy of the values scripts stored on the output object.
func (e *Engine) Output() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	source := e.output
	if v := e.runtime.Get("output"); v != nil && !goja.IsUndefined(v) {
		if m, ok := v.Export().(map[string]interface{}); ok {
			source = m
		}
	}
	result := make(map[string]interface{}, len(source))
	for k, v := range source {
		result[k] = v
	}
	return result
}

// Eval evaluates a JavaScript expression and returns the result.
func (e *Engine) Eval(script string) (interface{}, error) {
	return e.EvalContext(context.Background(), script)
}

// EvalContext evaluates script, interrupting it when ctx is done.
func (e *Engine) EvalContext(ctx context.Context, script string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		e.runtime.Interrupt(ctx.Err())
	})
	defer func() {
		stop()
		e.runtime.ClearInterrupt()
	}()

	result, err := e.runtime.RunString(script)
	if err != nil {
		return nil, fmt.Errorf("JS eval error: %w", err)
	}
	return result.Export(), nil
}

// EvalString evaluates a JavaScript expression and formats the result.
func (e *Engine) EvalString(script string) (string, error) {
	result, err := e.Eval(script)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return fmt.Sprintf("%v", result), nil
}

// RunScript runs a script for its side effects.
func (e *Engine) RunScript(ctx context.Context, script string) error {
	_, err := e.EvalContext(ctx, script)
	return err
}

// ExpandVariables replaces each ${expr} in text with the value of expr.
// Plain names resolve to variables without going through the interpreter.
// Expressions that fail to evaluate are left in place.
func (e *Engine) ExpandVariables(text string) string {
	result := text
	start := 0
	for {
		idx := strings.Index(result[start:], "${")
		if idx == -1 {
			break
		}
		idx += start

		depth := 1
		end := idx + 2
		for end < len(result) && depth > 0 {
			switch result[end] {
			case '{':
				depth++
			case '}':
				depth--
			}
			end++
		}
		if depth != 0 {
			break
		}

		expr := strings.TrimSpace(result[idx+2 : end-1])
		value, err := e.resolve(expr)
		if err != nil {
			logger.Debug("expand ${%s}: %v", expr, err)
			start = end
			continue
		}
		result = result[:idx] + value + result[end:]
		start = idx + len(value)
	}
	return result
}

func (e *Engine) resolve(expr string) (string, error) {
	e.mu.Lock()
	v, ok := e.variables[expr]
	e.mu.Unlock()
	if ok {
		return fmt.Sprintf("%v", v), nil
	}
	return e.EvalString(expr)
}
