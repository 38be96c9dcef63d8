// Package dispatcher is the entry point every transport adapter hands
// decoded calls to.
package dispatcher

import (
	"context"

	"github.com/morezero/rpcmesh/pkg/protocol"
)

// ServiceConnection is the service side of one call. Transports implement it
// to push callback replies to the caller while the call runs.
type ServiceConnection interface {
	Info() protocol.ConnectionInfo
	Send(ctx context.Context, rep *protocol.Reply) error
}

// ParamDescription describes one envelope value.
type ParamDescription struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
}

// FaultDescription describes one declared fault mapping.
type FaultDescription struct {
	Kind        string `json:"kind"`
	StatusCode  int    `json:"statusCode,omitempty"`
	ErrorCode   string `json:"errorCode,omitempty"`
	Description string `json:"description,omitempty"`
}

// MethodDescription is the public description of one served method.
type MethodDescription struct {
	FullName   string             `json:"fullName"`
	Contract   string             `json:"contract"`
	Version    string             `json:"version,omitempty"`
	Generic    bool               `json:"generic,omitempty"`
	Params     []ParamDescription `json:"params"`
	Callback   string             `json:"callback,omitempty"`
	Cancelable bool               `json:"cancelable,omitempty"`
	Stream     bool               `json:"stream,omitempty"`
	Returns    string             `json:"returns,omitempty"`
	Tags       []string           `json:"tags"`
	Roles      []string           `json:"roles,omitempty"`
	Faults     []FaultDescription `json:"faults,omitempty"`
	Headers    []string           `json:"headers,omitempty"`
	APIKeys    []string           `json:"apiKeys,omitempty"`
	MQPriority *uint8             `json:"mqPriority,omitempty"`
}

// DescribeRequest asks for the methods visible to the given roles.
type DescribeRequest struct {
	Roles []string `json:"roles,omitempty"`
}

// DescribeResponse lists served methods.
type DescribeResponse struct {
	Methods []MethodDescription `json:"methods"`
}
