package dispatcher

import (
	"context"
	"testing"

	"github.com/morezero/rpcmesh/pkg/busy"
	"github.com/morezero/rpcmesh/pkg/invoke"
	"github.com/morezero/rpcmesh/pkg/protocol"
)

func TestCallHeaderString(t *testing.T) {
	ctx := WithCallHeader(context.Background(), map[string]any{"X-Tenant": "acme", "retries": 3})

	tests := []struct {
		key  string
		want string
	}{
		{"X-Tenant", "acme"},
		{"retries", ""},
		{"missing", ""},
	}
	for _, tt := range tests {
		if got := CallHeaderString(ctx, tt.key); got != tt.want {
			t.Errorf("dispatcher:header_test - CallHeaderString(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
	if CallHeader(context.Background()) != nil {
		t.Error("dispatcher:header_test - expected nil header on a bare context")
	}
}

func TestHandle_TargetSeesCallHeader(t *testing.T) {
	var tenant string
	inst := &invoke.Instance{Contract: testContract, Methods: map[string]invoke.Func{
		"Quiet": func(ctx context.Context, _ []any) (any, error) {
			tenant = CallHeaderString(ctx, "X-Tenant")
			return nil, nil
		},
	}}
	h := NewRequestHandler([]*invoke.Instance{inst}, nil)
	req := call("Quiet", `{}`)
	req.Header = map[string]any{"X-Tenant": "globex"}

	if rep := h.Handle(context.Background(), &recordingConn{}, req, nil); rep.Type != protocol.ReplyResult {
		t.Fatalf("dispatcher:header_test - reply = %+v", rep)
	}
	if tenant != "globex" {
		t.Errorf("dispatcher:header_test - tenant = %q", tenant)
	}
}

func TestLookup(t *testing.T) {
	h := newTestHandler(nil)

	m, err := h.Lookup(protocol.ActionInfo{FullName: "Acme.IService.Greet"})
	if err != nil {
		t.Fatalf("dispatcher:header_test - Lookup: %v", err)
	}
	if m.Name != "Greet" {
		t.Errorf("dispatcher:header_test - method = %q", m.Name)
	}
	if _, err := h.Lookup(protocol.ActionInfo{FullName: "Acme.IService.Nope"}); err == nil {
		t.Error("dispatcher:header_test - expected error for unknown method")
	}
}

func TestNewRequestHandler_SharedBusyFlag(t *testing.T) {
	flag := &busy.Flag{}
	h := NewRequestHandler(nil, &Options{Busy: flag})
	if h.Busy() != flag {
		t.Error("dispatcher:header_test - Busy() should return the configured flag")
	}
	if NewRequestHandler(nil, nil).Busy() == nil {
		t.Error("dispatcher:header_test - default Busy() must not be nil")
	}
}
