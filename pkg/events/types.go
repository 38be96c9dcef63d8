// Package events defines call events and publishers that report them.
package events

import "time"

// Outcome is how a call ended.
type Outcome string

const (
	OutcomeResult   Outcome = "result"
	OutcomeFault    Outcome = "fault"
	OutcomeCanceled Outcome = "canceled"
)

// CallEvent is emitted once for every call a service handled.
type CallEvent struct {
	CallID       string        `json:"callId"`
	ConnectionID string        `json:"connectionId"`
	Channel      string        `json:"channel"`
	Contract     string        `json:"contract"`
	Method       string        `json:"method"`
	Outcome      Outcome       `json:"outcome"`
	FaultCode    string        `json:"faultCode,omitempty"`
	Callbacks    int           `json:"callbacks"`
	StreamLength int64         `json:"streamLength"`
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"duration"`
}
