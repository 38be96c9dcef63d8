package db

import "time"

const journalTable = "rpc_calls"

// CallRecord is one row of the rpc_calls table.
type CallRecord struct {
	ID           int64     `json:"id"`
	CallID       string    `json:"call_id"`
	ConnectionID string    `json:"connection_id"`
	Channel      string    `json:"channel"`
	Contract     string    `json:"contract"`
	Method       string    `json:"method"`
	Outcome      string    `json:"outcome"`
	FaultCode    *string   `json:"fault_code,omitempty"`
	Callbacks    int       `json:"callbacks"`
	StreamLength int64     `json:"stream_length"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   float64   `json:"duration_ms"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// RecentParams filters CallJournal.Recent. Empty fields match everything.
type RecentParams struct {
	Contract string
	Outcome  string
	Limit    int
}
