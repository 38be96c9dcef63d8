// Package invoke reconstructs positional arguments on the receiving side and
// calls the target implementation of a contract method.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"

	"github.com/morezero/rpcmesh/pkg/contract"
	"github.com/morezero/rpcmesh/pkg/protocol"
	"github.com/morezero/rpcmesh/pkg/semver"
)

var (
	// ErrMethodNotFound reports an action that no registered instance serves.
	ErrMethodNotFound = errors.New("invoke: method not found")
	// ErrVersionMismatch reports an action whose method exists but whose
	// version constraint no registered contract satisfies.
	ErrVersionMismatch = errors.New("invoke: version mismatch")
)

// Func is the implementation of one contract method. args holds the full
// positional argument list with system values injected.
type Func func(ctx context.Context, args []any) (any, error)

// Awaiter is a result that completes later. Invoke waits for it and returns
// the unwrapped value.
type Awaiter interface {
	Await(ctx context.Context) (any, error)
}

// Instance binds a contract to the functions that implement it.
type Instance struct {
	Contract *contract.Info
	// Methods is keyed by method name; a generic instantiation is keyed by
	// "Name[T1,T2]".
	Methods map[string]Func
}

// Resolved is the outcome of ResolveMethod.
type Resolved struct {
	Func     Func
	Method   *contract.Method
	Instance *Instance
}

// PanicError is returned when a target function panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// ResolveMethod scans instances in registration order and returns the first
// whose contract declares the action's method, satisfies its version
// constraint and implements the requested instantiation.
func ResolveMethod(action protocol.ActionInfo, instances []*Instance) (*Resolved, error) {
	versionRejected := false
	var missing error
	for _, inst := range instances {
		m, ok := inst.Contract.Method(action.FullName)
		if !ok {
			continue
		}
		if !semver.SatisfiesRange(inst.Contract.Version(), action.Version) {
			versionRejected = true
			continue
		}

		key := m.Name
		if len(action.GenericArguments) > 0 {
			if !m.Generic {
				missing = fmt.Errorf("%w: %s is not generic", ErrMethodNotFound, action.FullName)
				continue
			}
			key = m.Name + "[" + strings.Join(action.GenericArguments, ",") + "]"
		}
		fn, ok := inst.Methods[key]
		if !ok {
			missing = fmt.Errorf("%w: %s has no implementation for %s", ErrMethodNotFound, inst.Contract.Name(), key)
			continue
		}
		return &Resolved{Func: fn, Method: m, Instance: inst}, nil
	}
	if missing != nil {
		return nil, missing
	}
	if versionRejected {
		return nil, fmt.Errorf("%w: %s@%s", ErrVersionMismatch, action.FullName, action.Version)
	}
	return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, action.Key())
}

// ReconstructArgs rebuilds a method's positional arguments: system parameters
// receive the injected callback, context and stream, every other position
// consumes the next value from flat.
func ReconstructArgs(params []contract.PPInfo, flat []any, cb contract.Callback, ctx context.Context, stream io.Reader) ([]any, error) {
	args := make([]any, len(params))
	next := 0
	for i, p := range params {
		switch p.Kind {
		case contract.KindCallback:
			args[i] = cb
		case contract.KindCancel:
			args[i] = ctx
		case contract.KindStream:
			args[i] = stream
		default:
			if next >= len(flat) {
				return nil, fmt.Errorf("%w: %d values for %d parameters", contract.ErrArgCount, len(flat), next+1)
			}
			args[i] = flat[next]
			next++
		}
	}
	if next != len(flat) {
		return nil, fmt.Errorf("%w: %d values, %d consumed", contract.ErrArgCount, len(flat), next)
	}
	return args, nil
}

// Invoke calls fn and unwraps a deferred result. The target's error is
// returned as is so callers can match its type.
func Invoke(ctx context.Context, fn Func, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	result, err = fn(ctx, args)
	if err != nil {
		return nil, err
	}
	if a, ok := result.(Awaiter); ok {
		return a.Await(ctx)
	}
	return result, nil
}
