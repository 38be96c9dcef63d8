package protocol

import (
	"fmt"
	"sync"
)

// Wire fault codes produced by the core.
const (
	CodeMethodNotFound  = "METHOD_NOT_FOUND"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeVersionMismatch = "VERSION_MISMATCH"
	CodeInternal        = "INTERNAL_ERROR"
	CodeCanceled        = "CANCELED"
	CodeUnavailable     = "UNAVAILABLE"
)

// FaultDetail holds structured fault information sent on the wire.
type FaultDetail struct {
	Kind       string `json:"kind,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Retryable  bool   `json:"retryable"`
	Details    any    `json:"details,omitempty"`
}

// RemoteFault is a fault reported by the callee, as opposed to a local or
// transport failure.
type RemoteFault struct {
	Detail FaultDetail
}

func (f *RemoteFault) Error() string {
	if f.Detail.Kind != "" {
		return fmt.Sprintf("%s (%s): %s", f.Detail.Code, f.Detail.Kind, f.Detail.Message)
	}
	return f.Detail.Code + ": " + f.Detail.Message
}

// FaultFactory rebuilds a concrete error from a wire fault.
type FaultFactory func(d *FaultDetail) error

// FaultRegistry maps fault kinds to factories so a caller can match the same
// error kind the callee returned.
type FaultRegistry struct {
	mu        sync.RWMutex
	factories map[string]FaultFactory
}

// NewFaultRegistry creates an empty FaultRegistry.
func NewFaultRegistry() *FaultRegistry {
	return &FaultRegistry{factories: make(map[string]FaultFactory)}
}

// Register binds kind to f, replacing any previous binding.
func (r *FaultRegistry) Register(kind string, f FaultFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Rehydrate returns the registered concrete error for d, or a *RemoteFault.
func (r *FaultRegistry) Rehydrate(d *FaultDetail) error {
	if r != nil && d.Kind != "" {
		r.mu.RLock()
		f, ok := r.factories[d.Kind]
		r.mu.RUnlock()
		if ok {
			if err := f(d); err != nil {
				return err
			}
		}
	}
	return &RemoteFault{Detail: *d}
}
