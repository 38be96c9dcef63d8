package events

import (
	"context"
	"errors"
)

// EventPublisher is the interface for publishing call events.
type EventPublisher interface {
	PublishCall(ctx context.Context, event *CallEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing.
type NoOpPublisher struct{}

// PublishCall is a no-op.
func (p *NoOpPublisher) PublishCall(_ context.Context, _ *CallEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *CallEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *CallEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishCall calls the callback.
func (p *CallbackPublisher) PublishCall(ctx context.Context, event *CallEvent) error {
	return p.callback(ctx, event)
}

// MultiPublisher fans an event out to several publishers. Every publisher is
// called; their errors are joined.
type MultiPublisher []EventPublisher

// PublishCall publishes to every publisher in order.
func (m MultiPublisher) PublishCall(ctx context.Context, event *CallEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishCall(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
