package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/morezero/rpcmesh/pkg/contract"
	"github.com/morezero/rpcmesh/pkg/oncecall"
	"github.com/morezero/rpcmesh/pkg/protocol"
)

type scriptedExchange struct {
	replies chan *protocol.Reply
}

func (e *scriptedExchange) Replies() <-chan *protocol.Reply { return e.replies }
func (e *scriptedExchange) Cancel(context.Context) error    { return nil }
func (e *scriptedExchange) Close() error                    { return nil }

// echoConn answers every call with its envelope args as the result.
type echoConn struct {
	lastReq *protocol.Request
	body    string
	closed  atomic.Int32
	block   bool
}

func (c *echoConn) Info() protocol.ConnectionInfo {
	return protocol.ConnectionInfo{ID: "echo", Channel: protocol.ChannelNATS}
}

func (c *echoConn) Open(_ context.Context, req *protocol.Request, stream io.Reader) (oncecall.Exchange, error) {
	c.lastReq = req
	if stream != nil {
		b, _ := io.ReadAll(stream)
		c.body = string(b)
	}
	ex := &scriptedExchange{replies: make(chan *protocol.Reply, 2)}
	if !c.block {
		ex.replies <- &protocol.Reply{Type: protocol.ReplyCallback, Body: json.RawMessage(`"tick"`)}
		var env map[string]json.RawMessage
		_ = json.Unmarshal(req.Args, &env)
		ex.replies <- &protocol.Reply{Type: protocol.ReplyResult, Body: env["text"]}
	}
	return ex, nil
}

func (c *echoConn) Close() error {
	c.closed.Add(1)
	return nil
}

var echoContract = contract.Define("Acme.IEcho").
	Method("Echo", contract.Params(
		contract.Param("text", reflect.TypeOf("")),
		contract.CallbackParam("progress", reflect.TypeOf("")),
		contract.CancelParam("ctx"),
		contract.StreamParam("body"),
	), contract.Returns(reflect.TypeOf(""))).
	MustBuild()

func newEchoProxy(conn *echoConn) *Proxy {
	return NewProxy(echoContract, oncecall.NewFactory(conn, time.Second), map[string]any{"tenant": "t1"})
}

func TestProxy_InvokeSplitsSystemArgs(t *testing.T) {
	conn := &echoConn{}
	p := newEchoProxy(conn)
	p.SetHeader("user", "u1")

	var ticks []string
	cb := contract.Callback(func(_ context.Context, v any) error {
		ticks = append(ticks, v.(string))
		return nil
	})
	got, err := Call[string](context.Background(), p, "Echo", "hi", cb, context.Background(), strings.NewReader("data"))
	if err != nil {
		t.Fatalf("client:proxy_test - unexpected error: %v", err)
	}
	if got != "hi" {
		t.Errorf("client:proxy_test - result = %q", got)
	}
	if len(ticks) != 1 || ticks[0] != "tick" {
		t.Errorf("client:proxy_test - callbacks = %v", ticks)
	}
	if conn.body != "data" {
		t.Errorf("client:proxy_test - uploaded %q", conn.body)
	}
	if conn.lastReq.Header["tenant"] != "t1" || conn.lastReq.Header["user"] != "u1" {
		t.Errorf("client:proxy_test - headers = %v", conn.lastReq.Header)
	}
	if conn.lastReq.Action.FullName != "Acme.IEcho.Echo" {
		t.Errorf("client:proxy_test - action = %+v", conn.lastReq.Action)
	}
}

func TestProxy_InvokeWithOptions(t *testing.T) {
	conn := &echoConn{}
	p := newEchoProxy(conn)
	_, err := p.InvokeWith(context.Background(), CallOptions{Version: "^1", Header: map[string]any{"tenant": "t2"}},
		"Acme.IEcho.Echo", "x", nil, nil, nil)
	if err != nil {
		t.Fatalf("client:proxy_test - unexpected error: %v", err)
	}
	if conn.lastReq.Action.Version != "^1" || conn.lastReq.Header["tenant"] != "t2" {
		t.Errorf("client:proxy_test - request = %+v", conn.lastReq)
	}
}

func TestProxy_Errors(t *testing.T) {
	p := newEchoProxy(&echoConn{})
	if _, err := p.Invoke(context.Background(), "Nope"); err == nil {
		t.Error("client:proxy_test - expected error for unknown method")
	}
	if _, err := p.Invoke(context.Background(), "Echo", "only one"); !errors.Is(err, contract.ErrArgCount) {
		t.Errorf("client:proxy_test - expected ErrArgCount, got %v", err)
	}
	if _, err := Call[int](context.Background(), p, "Echo", "hi", nil, nil, nil); err == nil {
		t.Error("client:proxy_test - expected type mismatch error")
	}
}

func TestProxy_CancelArgumentCancelsCall(t *testing.T) {
	p := newEchoProxy(&echoConn{block: true})
	tok, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := p.Invoke(context.Background(), "Echo", "hi", nil, tok, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("client:proxy_test - expected context.Canceled, got %v", err)
	}
}

func TestProxy_CloseOnce(t *testing.T) {
	conn := &echoConn{}
	p := newEchoProxy(conn)
	_ = p.Close()
	_ = p.Close()
	if conn.closed.Load() != 1 {
		t.Errorf("client:proxy_test - connection closed %d times", conn.closed.Load())
	}
}
