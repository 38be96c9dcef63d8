// Package protocol defines the transport-neutral messages exchanged for one call.
package protocol

import (
	"encoding/json"
	"strings"
)

// ChannelType names the transport a call arrived on.
type ChannelType string

const (
	ChannelNATS ChannelType = "nats"
	ChannelHTTP ChannelType = "http"
)

// ConnectionInfo is the transport-supplied identity of one physical connection.
// The core never inspects it beyond logging and envelope population.
type ConnectionInfo struct {
	ID          string      `json:"id"`
	Channel     ChannelType `json:"channel"`
	Description string      `json:"description,omitempty"`
}

// ActionInfo is the routing key used by the receiver.
type ActionInfo struct {
	FullName         string   `json:"fullName"`
	GenericArguments []string `json:"genericArguments,omitempty"`
	// Version is an optional semver constraint on the serving contract (e.g. "^1.2").
	Version string `json:"version,omitempty"`
}

// Key returns the registry key for the action: the full name plus any generic arguments.
func (a ActionInfo) Key() string {
	if len(a.GenericArguments) == 0 {
		return a.FullName
	}
	return a.FullName + "[" + strings.Join(a.GenericArguments, ",") + "]"
}

// RequestType distinguishes the messages a client sends for one call.
type RequestType string

const (
	RequestCall      RequestType = "call"
	RequestBuffer    RequestType = "buffer"
	RequestBufferEnd RequestType = "bufferEnd"
	RequestCancel    RequestType = "cancel"
)

// Request is one client-to-service message.
type Request struct {
	Type   RequestType     `json:"type"`
	CallID string          `json:"callId"`
	Action *ActionInfo     `json:"action,omitempty"`
	Header map[string]any  `json:"header,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Data   []byte          `json:"data,omitempty"`
	// Error is set on a bufferEnd that aborts the upload.
	Error string `json:"error,omitempty"`
	// Stream announces a request body that follows the call.
	Stream bool `json:"stream,omitempty"`
	// Post asks the service to acknowledge the call and run it without
	// sending a result.
	Post     bool  `json:"post,omitempty"`
	Priority uint8 `json:"priority,omitempty"`
}

// ReplyType distinguishes the messages a service sends for one call.
type ReplyType string

const (
	ReplyAccepted ReplyType = "accepted"
	ReplyCallback ReplyType = "callback"
	ReplyResult   ReplyType = "result"
	ReplyFault    ReplyType = "fault"
)

// Reply is one service-to-client message.
type Reply struct {
	Type   ReplyType       `json:"type"`
	CallID string          `json:"callId"`
	Body   json.RawMessage `json:"body,omitempty"`
	Fault  *FaultDetail    `json:"fault,omitempty"`
	// Control is the address the client uses for stream chunks and cancellation
	// once the call has been accepted.
	Control string `json:"control,omitempty"`
}

// Terminal reports whether no further replies follow this one.
func (r *Reply) Terminal() bool {
	return r.Type == ReplyResult || r.Type == ReplyFault
}
