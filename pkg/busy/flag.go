// Package busy tracks in-flight calls so shutdown can wait for them.
package busy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const logPrefix = "busy:flag"

// ErrDrainTimeout is returned by Drain when its context ends before the
// counter reaches zero.
var ErrDrainTimeout = errors.New("busy: drain deadline exceeded")

// DefaultPollInterval is the drain poll interval used when none is given.
const DefaultPollInterval = time.Second

// Flag is a non-negative counter of calls currently being handled. The zero
// value is ready to use.
type Flag struct {
	n atomic.Int64
}

// Increment marks the start of a call's handling window.
func (f *Flag) Increment() {
	f.n.Add(1)
}

// Decrement marks the end of a call's handling window. It never takes the
// counter below zero.
func (f *Flag) Decrement() {
	for {
		cur := f.n.Load()
		if cur <= 0 {
			slog.Warn(fmt.Sprintf("%s - decrement without matching increment", logPrefix))
			return
		}
		if f.n.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Count returns the number of calls being handled.
func (f *Flag) Count() int64 {
	return f.n.Load()
}

// IsHandling reports whether any call is being handled.
func (f *Flag) IsHandling() bool {
	return f.n.Load() > 0
}

// Track brackets fn with Increment and Decrement.
func (f *Flag) Track(fn func()) {
	f.Increment()
	defer f.Decrement()
	fn()
}

// Drain polls the counter every interval until it reaches zero. Without a
// deadline on ctx it waits indefinitely; when ctx ends first it returns
// ErrDrainTimeout.
func (f *Flag) Drain(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if !f.IsHandling() {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n := f.Count()
		if n == 0 {
			slog.Info(fmt.Sprintf("%s - drained", logPrefix))
			return nil
		}
		slog.Info(fmt.Sprintf("%s - waiting for %d in-flight calls", logPrefix, n))

		select {
		case <-ctx.Done():
			slog.Warn(fmt.Sprintf("%s - drain stopped with %d in-flight calls: %v", logPrefix, f.Count(), ctx.Err()))
			return fmt.Errorf("%w: %d calls in flight", ErrDrainTimeout, f.Count())
		case <-ticker.C:
		}
	}
}
