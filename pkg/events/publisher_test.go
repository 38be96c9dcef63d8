package events

import (
	"context"
	"errors"
	"testing"
)

func TestNoOpPublisher(t *testing.T) {
	pub := &NoOpPublisher{}
	if err := pub.PublishCall(context.Background(), &CallEvent{CallID: "c1"}); err != nil {
		t.Errorf("events:publisher_test - expected no error, got %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var captured *CallEvent
	pub := NewCallbackPublisher(func(_ context.Context, event *CallEvent) error {
		captured = event
		return nil
	})

	event := &CallEvent{CallID: "c1", Method: "DataContract.IService.Get", Outcome: OutcomeResult, Callbacks: 3}
	if err := pub.PublishCall(context.Background(), event); err != nil {
		t.Errorf("events:publisher_test - expected no error, got %v", err)
	}
	if captured == nil {
		t.Fatal("events:publisher_test - expected callback to be called")
	}
	if captured.Callbacks != 3 || captured.Outcome != OutcomeResult {
		t.Errorf("events:publisher_test - captured = %+v", captured)
	}
}

func TestMultiPublisher(t *testing.T) {
	var calls []string
	errA := errors.New("a failed")
	multi := MultiPublisher{
		NewCallbackPublisher(func(context.Context, *CallEvent) error { calls = append(calls, "a"); return errA }),
		&NoOpPublisher{},
		NewCallbackPublisher(func(context.Context, *CallEvent) error { calls = append(calls, "b"); return nil }),
	}

	err := multi.PublishCall(context.Background(), &CallEvent{CallID: "c1"})
	if !errors.Is(err, errA) {
		t.Errorf("events:publisher_test - expected joined error, got %v", err)
	}
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Errorf("events:publisher_test - every publisher must run in order, got %v", calls)
	}

	if err := (MultiPublisher{}).PublishCall(context.Background(), &CallEvent{}); err != nil {
		t.Errorf("events:publisher_test - empty multi should succeed, got %v", err)
	}
}
