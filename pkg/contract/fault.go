package contract

import (
	"errors"
	"reflect"
)

// Fault maps an error kind to a wire status and error code.
type Fault struct {
	Kind        string
	StatusCode  int
	ErrorCode   string
	Description string
}

// FaultGroup bundles fault definitions shared across contracts.
type FaultGroup struct {
	Name    string
	Defines []Fault
}

// Kinder is implemented by errors that name their own fault kind.
type Kinder interface {
	FaultKind() string
}

// ErrorKind names the kind of err: its FaultKind if it implements Kinder,
// otherwise its dynamic type name without package or pointer.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.FaultKind()
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// mergeFaults applies the define lookup: every collected fault whose kind
// matches a definition takes the definition's codes and description.
func mergeFaults(items []Fault, defines []Fault) []Fault {
	out := make([]Fault, len(items))
	for i, f := range items {
		for _, d := range defines {
			if d.Kind == f.Kind {
				f.StatusCode = d.StatusCode
				f.ErrorCode = d.ErrorCode
				f.Description = d.Description
				break
			}
		}
		out[i] = f
	}
	return out
}
