package commsutil

import (
	"encoding/json"
	"fmt"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rpcmesh/pkg/protocol"
)

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// DecodeRequest parses a client-to-service message.
func DecodeRequest(data []byte) (*protocol.Request, error) {
	var req protocol.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("commsutil:codec - invalid request: %w", err)
	}
	return &req, nil
}

// DecodeReply parses a service-to-client message.
func DecodeReply(data []byte) (*protocol.Reply, error) {
	var rep protocol.Reply
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("commsutil:codec - invalid reply: %w", err)
	}
	return &rep, nil
}

// NewMsg builds a message for subject carrying v as JSON, with the call's
// headers copied into string message headers.
func NewMsg(subject string, v any, header map[string]string) (*comms.Msg, error) {
	data, err := EncodePayload(v)
	if err != nil {
		return nil, err
	}
	msg := comms.NewMsg(subject)
	msg.Data = data
	for k, val := range header {
		msg.Header.Set(k, val)
	}
	return msg, nil
}
