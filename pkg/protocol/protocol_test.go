package protocol

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestActionInfo_Key(t *testing.T) {
	tests := []struct {
		action ActionInfo
		want   string
	}{
		{ActionInfo{FullName: "A.IService.Echo"}, "A.IService.Echo"},
		{ActionInfo{FullName: "A.IService.Echo", GenericArguments: []string{"string"}}, "A.IService.Echo[string]"},
		{ActionInfo{FullName: "A.IService.Pair", GenericArguments: []string{"int", "bool"}}, "A.IService.Pair[int,bool]"},
	}
	for _, tt := range tests {
		if got := tt.action.Key(); got != tt.want {
			t.Errorf("protocol:protocol_test - Key() = %q, want %q", got, tt.want)
		}
	}
}

func TestReply_Terminal(t *testing.T) {
	tests := []struct {
		typ  ReplyType
		want bool
	}{
		{ReplyAccepted, false},
		{ReplyCallback, false},
		{ReplyResult, true},
		{ReplyFault, true},
	}
	for _, tt := range tests {
		if got := (&Reply{Type: tt.typ}).Terminal(); got != tt.want {
			t.Errorf("protocol:protocol_test - %s Terminal() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestStreamLength(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "upload.bin"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Write(make([]byte, 42)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		r    io.Reader
		want int64
	}{
		{"nil", nil, 0},
		{"bytes reader", bytes.NewReader(make([]byte, 10)), 10},
		{"strings reader", strings.NewReader("abc"), 3},
		{"buffer", bytes.NewBufferString("hello"), 5},
		{"file", f, 42},
		{"unknown", io.LimitReader(strings.NewReader("abc"), 2), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StreamLength(tt.r); got != tt.want {
				t.Errorf("protocol:protocol_test - StreamLength = %d, want %d", got, tt.want)
			}
		})
	}
}

type quotaError struct{ limit float64 }

func (e *quotaError) Error() string { return "quota exceeded" }

func TestFaultRegistry_Rehydrate(t *testing.T) {
	r := NewFaultRegistry()
	r.Register("QuotaError", func(d *FaultDetail) error {
		m, _ := d.Details.(map[string]any)
		limit, _ := m["limit"].(float64)
		return &quotaError{limit: limit}
	})
	r.Register("Declined", func(*FaultDetail) error { return nil })

	err := r.Rehydrate(&FaultDetail{Kind: "QuotaError", Code: "QUOTA", Details: map[string]any{"limit": 5.0}})
	var qe *quotaError
	if !errors.As(err, &qe) || qe.limit != 5 {
		t.Errorf("protocol:protocol_test - expected *quotaError, got %v", err)
	}

	for _, d := range []*FaultDetail{
		{Kind: "Unknown", Code: "X", Message: "m"},
		{Kind: "Declined", Code: "Y", Message: "m"},
		{Code: CodeInternal, Message: "boom"},
	} {
		var rf *RemoteFault
		if err := r.Rehydrate(d); !errors.As(err, &rf) || rf.Detail.Code != d.Code {
			t.Errorf("protocol:protocol_test - Rehydrate(%+v) = %v, want *RemoteFault", d, err)
		}
	}

	var nilRegistry *FaultRegistry
	if _, ok := nilRegistry.Rehydrate(&FaultDetail{Code: "Z"}).(*RemoteFault); !ok {
		t.Error("protocol:protocol_test - nil registry should still return *RemoteFault")
	}
}

func TestRemoteFault_Error(t *testing.T) {
	withKind := &RemoteFault{Detail: FaultDetail{Kind: "NameError", Code: "BadName", Message: "bad"}}
	if got := withKind.Error(); got != "BadName (NameError): bad" {
		t.Errorf("protocol:protocol_test - Error() = %q", got)
	}
	bare := &RemoteFault{Detail: FaultDetail{Code: CodeCanceled, Message: "canceled"}}
	if got := bare.Error(); got != "CANCELED: canceled" {
		t.Errorf("protocol:protocol_test - Error() = %q", got)
	}
}
