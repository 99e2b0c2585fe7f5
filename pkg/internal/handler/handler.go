// Package handler provides reflection-based execution of named task functions.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Handler holds metadata about a registered task function.
type Handler struct {
	Fn         reflect.Value
	ArgsType   reflect.Type
	HasContext bool
	HasResult  bool
}

// NewHandler creates a Handler from a function.
// Accepted signatures:
//
//	func(ctx context.Context) error
//	func(ctx context.Context, args T) error
//	func(ctx context.Context, args T) (R, error)
//	func(args T) (R, error)
func NewHandler(fn any) (*Handler, error) {
	if fn == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	fnVal := reflect.ValueOf(fn)
	if fnVal.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function")
	}
	if fnVal.IsNil() {
		return nil, fmt.Errorf("handler function cannot be nil")
	}

	fnType := fnVal.Type()
	handler := &Handler{Fn: fnVal}

	numIn := fnType.NumIn()
	if numIn < 1 || numIn > 2 {
		return nil, fmt.Errorf("handler must have 1-2 arguments")
	}

	argIdx := 0
	if fnType.In(0).Implements(contextType) {
		handler.HasContext = true
		argIdx = 1
	}
	if argIdx < numIn {
		handler.ArgsType = fnType.In(argIdx)
	}

	switch fnType.NumOut() {
	case 1:
		if !fnType.Out(0).Implements(errorType) {
			return nil, fmt.Errorf("handler must return error")
		}
	case 2:
		if !fnType.Out(1).Implements(errorType) {
			return nil, fmt.Errorf("handler must return (T, error)")
		}
		handler.HasResult = true
	default:
		return nil, fmt.Errorf("handler must return error or (T, error)")
	}

	return handler, nil
}

// Call runs the handler with ctx and JSON-encoded arguments. An empty
// argsJSON leaves the argument at its zero value.
func (h *Handler) Call(ctx context.Context, argsJSON []byte) (any, error) {
	if !h.Fn.IsValid() || h.Fn.IsNil() {
		return nil, fmt.Errorf("handler function is nil or invalid")
	}

	var args []reflect.Value
	if h.HasContext {
		args = append(args, reflect.ValueOf(ctx))
	}
	if h.ArgsType != nil {
		argVal := reflect.New(h.ArgsType)
		if len(argsJSON) > 0 {
			if err := json.Unmarshal(argsJSON, argVal.Interface()); err != nil {
				return nil, fmt.Errorf("failed to unmarshal args: %w", err)
			}
		}
		args = append(args, argVal.Elem())
	}

	results := h.Fn.Call(args)

	errVal := results[len(results)-1]
	if !errVal.IsNil() {
		return nil, errVal.Interface().(error)
	}
	if h.HasResult && results[0].CanInterface() {
		return results[0].Interface(), nil
	}
	return nil, nil
}
