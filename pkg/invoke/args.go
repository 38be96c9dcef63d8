package invoke

import (
	"context"
	"fmt"
	"io"

	"github.com/morezero/rpcmesh/pkg/contract"
)

// Arg returns args[i] as T. A nil value yields the zero T.
func Arg[T any](args []any, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(args) {
		return zero, fmt.Errorf("%w: no argument %d", contract.ErrArgCount, i)
	}
	if args[i] == nil {
		return zero, nil
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, fmt.Errorf("%w: argument %d is %T, want %T", contract.ErrArgType, i, args[i], zero)
	}
	return v, nil
}

// CallbackArg returns the callback at position i, or a no-op when absent.
func CallbackArg(args []any, i int) contract.Callback {
	if cb, err := Arg[contract.Callback](args, i); err == nil && cb != nil {
		return cb
	}
	return func(context.Context, any) error { return nil }
}

// ContextArg returns the context at position i, or fallback when absent.
func ContextArg(args []any, i int, fallback context.Context) context.Context {
	if ctx, err := Arg[context.Context](args, i); err == nil && ctx != nil {
		return ctx
	}
	return fallback
}

// StreamArg returns the stream at position i, or nil when absent.
func StreamArg(args []any, i int) io.Reader {
	r, _ := Arg[io.Reader](args, i)
	return r
}
