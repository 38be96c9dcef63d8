package contract

import (
	"context"
	"io"
	"reflect"
	"strings"
)

// Kind classifies a method parameter.
type Kind int

const (
	// KindValue is an ordinary parameter carried in the envelope.
	KindValue Kind = iota
	// KindCallback is a progress callback injected by the framework.
	KindCallback
	// KindCancel is a cancellation signal injected by the framework.
	KindCancel
	// KindStream is a request body stream injected by the framework.
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindCallback:
		return "callback"
	case KindCancel:
		return "cancel"
	case KindStream:
		return "stream"
	}
	return "value"
}

// System reports whether parameters of this kind are injected rather than serialized.
func (k Kind) System() bool {
	return k != KindValue
}

// Source records where a PPInfo came from.
type Source int

const (
	SourceParameter Source = iota
	SourceProperty
)

// Callback is the progress callback handed to a target method. Each call
// delivers one value to the caller before the final result.
type Callback func(ctx context.Context, v any) error

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// PPInfo describes one parameter or property participating in an envelope.
type PPInfo struct {
	// Name is the in-memory identifier.
	Name string
	// DefineName is the wire name; it defaults to Name.
	DefineName string
	// Type is the semantic type. For a callback parameter it is the type of the
	// value passed to the callback.
	Type      reflect.Type
	AllowNull bool
	Source    Source
	Kind      Kind
}

// ParamOption adjusts a parameter declaration.
type ParamOption func(*PPInfo)

// WireName overrides the wire name of a parameter.
func WireName(name string) ParamOption {
	return func(p *PPInfo) { p.DefineName = name }
}

// Nullable marks a parameter as accepting null.
func Nullable() ParamOption {
	return func(p *PPInfo) { p.AllowNull = true }
}

// Param declares an ordinary parameter.
func Param(name string, t reflect.Type, opts ...ParamOption) PPInfo {
	return newParam(name, t, KindValue, opts)
}

// CallbackParam declares a progress callback parameter whose values have type argType.
func CallbackParam(name string, argType reflect.Type) PPInfo {
	return newParam(name, argType, KindCallback, nil)
}

// CancelParam declares a cancellation parameter.
func CancelParam(name string) PPInfo {
	return newParam(name, reflect.TypeOf((*context.Context)(nil)).Elem(), KindCancel, nil)
}

// StreamParam declares a request body stream parameter.
func StreamParam(name string) PPInfo {
	return newParam(name, reflect.TypeOf((*io.Reader)(nil)).Elem(), KindStream, nil)
}

func newParam(name string, t reflect.Type, kind Kind, opts []ParamOption) PPInfo {
	if t == nil {
		t = anyType
	}
	p := PPInfo{
		Name:       name,
		DefineName: name,
		Type:       t,
		Source:     SourceParameter,
		Kind:       kind,
		AllowNull:  t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// PropertiesOf describes the exported fields of a struct type. The wire name
// follows the field's json tag; an `rpc:"nullable"` tag or a pointer type
// allows null.
func PropertiesOf(t reflect.Type) []PPInfo {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	var out []PPInfo
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		define := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			name, _, _ := strings.Cut(tag, ",")
			if name == "-" {
				continue
			}
			if name != "" {
				define = name
			}
		}
		out = append(out, PPInfo{
			Name:       f.Name,
			DefineName: define,
			Type:       f.Type,
			AllowNull:  f.Type.Kind() == reflect.Pointer || f.Tag.Get("rpc") == "nullable",
			Source:     SourceProperty,
			Kind:       KindValue,
		})
	}
	return out
}
