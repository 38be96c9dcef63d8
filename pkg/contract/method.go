package contract

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"slices"
)

// Method is the immutable metadata of one contract method.
type Method struct {
	// Name is the method's own name, FullName the wire routing key
	// "<Contract>.<Name>".
	Name     string
	FullName string
	Contract string

	Params  []PPInfo
	Returns reflect.Type
	Generic bool

	// Roles is nil when the contract declares no roles at all, which means
	// every caller is authorized.
	Roles   []string
	Tags    []string
	Faults  []Fault
	Headers []Header
	APIKeys []APIKey

	IgnoreNATS   bool
	IgnoreHTTP   bool
	IgnoreTracer bool

	MQPost               bool
	MQPriority           uint8
	HideFaultDescription bool

	shape *Shape
}

// InRoles reports whether a caller holding any of roles may call the method.
func (m *Method) InRoles(roles []string) bool {
	if m.Roles == nil {
		return true
	}
	for _, r := range normalizeRoles(roles) {
		if slices.Contains(m.Roles, r) {
			return true
		}
	}
	return false
}

// Shape returns the method's envelope layout.
func (m *Method) Shape() *Shape {
	return m.shape
}

// SystemParam returns the index of the parameter of the given system kind, or -1.
func (m *Method) SystemParam(k Kind) int {
	for i, p := range m.Params {
		if p.Kind == k {
			return i
		}
	}
	return -1
}

// CallbackType returns the type of values delivered to the method's
// callback, or nil when it has none.
func (m *Method) CallbackType() reflect.Type {
	if i := m.SystemParam(KindCallback); i >= 0 {
		return m.Params[i].Type
	}
	return nil
}

// PureArgs strips the system arguments from a full positional argument list.
func (m *Method) PureArgs(full []any) ([]any, error) {
	if len(full) != len(m.Params) {
		return nil, fmt.Errorf("%w: %s wants %d arguments, got %d", ErrArgCount, m.FullName, len(m.Params), len(full))
	}
	pure := make([]any, 0, m.shape.ValueCount())
	for i, p := range m.Params {
		if !p.Kind.System() {
			pure = append(pure, full[i])
		}
	}
	return pure, nil
}

// SystemArgs is the set of injected values found in a full argument list.
type SystemArgs struct {
	Callback Callback
	Context  context.Context
	Stream   io.Reader
}

// SplitArgs separates a full positional argument list into the values carried
// by the envelope and the injected system values.
func (m *Method) SplitArgs(full []any) ([]any, SystemArgs, error) {
	var sys SystemArgs
	pure, err := m.PureArgs(full)
	if err != nil {
		return nil, sys, err
	}
	for i, p := range m.Params {
		v := full[i]
		if v == nil {
			continue
		}
		var ok bool
		switch p.Kind {
		case KindCallback:
			switch cb := v.(type) {
			case Callback:
				sys.Callback, ok = cb, true
			case func(context.Context, any) error:
				sys.Callback, ok = cb, true
			}
		case KindCancel:
			sys.Context, ok = v.(context.Context)
		case KindStream:
			sys.Stream, ok = v.(io.Reader)
		default:
			continue
		}
		if !ok {
			return nil, sys, fmt.Errorf("%w: %s argument %q is %T, want %s", ErrArgType, m.FullName, p.Name, v, p.Kind)
		}
	}
	return pure, sys, nil
}

// NewEnvelope builds the wire envelope for one call from the pure arguments.
func (m *Method) NewEnvelope(callID, connID string, streamLength int64, pureArgs []any) (*Envelope, error) {
	return m.shape.New(callID, connID, streamLength, pureArgs)
}

// FaultFor returns the fault mapping for err, if the method declares one.
func (m *Method) FaultFor(err error) (Fault, bool) {
	kind := ErrorKind(err)
	for _, f := range m.Faults {
		if f.Kind == kind {
			return f, true
		}
	}
	return Fault{}, false
}

// Ignored reports whether the method is hidden from the named channel.
func (m *Method) Ignored(channel string) bool {
	switch channel {
	case "nats":
		return m.IgnoreNATS
	case "http":
		return m.IgnoreHTTP
	}
	return false
}
