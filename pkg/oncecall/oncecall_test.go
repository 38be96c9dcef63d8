package oncecall

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/morezero/rpcmesh/pkg/contract"
	"github.com/morezero/rpcmesh/pkg/protocol"
)

type fakeExchange struct {
	replies  chan *protocol.Reply
	canceled atomic.Bool
}

func (e *fakeExchange) Replies() <-chan *protocol.Reply { return e.replies }
func (e *fakeExchange) Cancel(context.Context) error    { e.canceled.Store(true); return nil }
func (e *fakeExchange) Close() error                    { return nil }

// fakeConn replays a fixed reply script for every call.
type fakeConn struct {
	script  []*protocol.Reply
	closeCh bool

	mu       sync.Mutex
	req      *protocol.Request
	uploaded string
	ex       *fakeExchange
}

func (c *fakeConn) Info() protocol.ConnectionInfo {
	return protocol.ConnectionInfo{ID: "conn-1", Channel: protocol.ChannelNATS}
}

func (c *fakeConn) Open(_ context.Context, req *protocol.Request, stream io.Reader) (Exchange, error) {
	var uploaded string
	if stream != nil {
		b, err := io.ReadAll(stream)
		if err != nil {
			return nil, err
		}
		uploaded = string(b)
	}
	ex := &fakeExchange{replies: make(chan *protocol.Reply, len(c.script)+1)}
	c.mu.Lock()
	c.req, c.uploaded, c.ex = req, uploaded, ex
	c.mu.Unlock()
	for _, r := range c.script {
		ex.replies <- r
	}
	if c.closeCh {
		close(ex.replies)
	}
	return ex, nil
}

func (c *fakeConn) Close() error { return nil }

type failingReader struct{ n int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n > 0 {
		r.n--
		p[0] = 'x'
		return 1, nil
	}
	return 0, errors.New("disk gone")
}

type customError struct{ Detail string }

func (e *customError) Error() string { return e.Detail }

func testMethod(t *testing.T) *contract.Method {
	t.Helper()
	info := contract.Define("Acme.IService").
		Method("Work", contract.Params(
			contract.Param("name", reflect.TypeOf("")),
			contract.CallbackParam("progress", reflect.TypeOf(0)),
			contract.CancelParam("ctx"),
			contract.StreamParam("body"),
		), contract.Returns(reflect.TypeOf(""))).
		MustBuild()
	m, _ := info.MethodByName("Work")
	return m
}

func raw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func TestCall_ResultAfterOrderedCallbacks(t *testing.T) {
	conn := &fakeConn{script: []*protocol.Reply{
		{Type: protocol.ReplyAccepted},
		{Type: protocol.ReplyCallback, Body: raw(1)},
		{Type: protocol.ReplyCallback, Body: raw(2)},
		{Type: protocol.ReplyCallback, Body: raw(3)},
		{Type: protocol.ReplyResult, Body: raw("ok")},
	}}
	c := NewFactory(conn, time.Second).Create()

	var got []int
	cb := func(_ context.Context, v any) error { got = append(got, v.(int)); return nil }
	if err := c.Start(context.Background(), map[string]any{"tenant": "t1"}); err != nil {
		t.Fatalf("oncecall:oncecall_test - Start failed: %v", err)
	}
	res, err := c.Call(context.Background(), map[string]any{"trace": "x"}, MethodContext{Method: testMethod(t)}, cb, nil, "bob")
	if err != nil {
		t.Fatalf("oncecall:oncecall_test - unexpected error: %v", err)
	}
	if res != "ok" {
		t.Errorf("oncecall:oncecall_test - result = %v, want ok", res)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("oncecall:oncecall_test - callbacks = %v", got)
	}
	if c.State() != StateCompleted {
		t.Errorf("oncecall:oncecall_test - state = %s", c.State())
	}
	if conn.req.Header["tenant"] != "t1" || conn.req.Header["trace"] != "x" {
		t.Errorf("oncecall:oncecall_test - headers = %v", conn.req.Header)
	}
	if !strings.Contains(string(conn.req.Args), `"_conn_id":"conn-1"`) {
		t.Errorf("oncecall:oncecall_test - envelope = %s", conn.req.Args)
	}

	if _, err := c.Call(context.Background(), nil, MethodContext{Method: testMethod(t)}, nil, nil, "bob"); !errors.Is(err, ErrCallUsed) {
		t.Errorf("oncecall:oncecall_test - expected ErrCallUsed, got %v", err)
	}
}

func TestCall_FaultRehydration(t *testing.T) {
	fault := &protocol.FaultDetail{Kind: "customError", Code: "Custom", Message: "bad name"}
	conn := &fakeConn{script: []*protocol.Reply{{Type: protocol.ReplyFault, Fault: fault}}}

	reg := protocol.NewFaultRegistry()
	reg.Register("customError", func(d *protocol.FaultDetail) error { return &customError{Detail: d.Message} })

	_, err := NewFactory(conn, time.Second, WithFaultRegistry(reg)).Create().
		Call(context.Background(), nil, MethodContext{Method: testMethod(t)}, nil, nil, "x")
	var ce *customError
	if !errors.As(err, &ce) || ce.Detail != "bad name" {
		t.Fatalf("oncecall:oncecall_test - expected *customError, got %T %v", err, err)
	}

	_, err = NewFactory(conn, time.Second).Create().
		Call(context.Background(), nil, MethodContext{Method: testMethod(t)}, nil, nil, "x")
	var rf *protocol.RemoteFault
	if !errors.As(err, &rf) || rf.Detail.Code != "Custom" {
		t.Fatalf("oncecall:oncecall_test - expected *RemoteFault, got %T %v", err, err)
	}
}

func TestCall_CancelReturnsPromptly(t *testing.T) {
	conn := &fakeConn{script: []*protocol.Reply{{Type: protocol.ReplyAccepted}}}
	c := NewFactory(conn, time.Minute).Create()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.Call(ctx, nil, MethodContext{Method: testMethod(t)}, nil, nil, "x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("oncecall:oncecall_test - expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("oncecall:oncecall_test - cancellation was not prompt")
	}
	if c.State() != StateCanceled {
		t.Errorf("oncecall:oncecall_test - state = %s", c.State())
	}
	if !conn.ex.canceled.Load() {
		t.Error("oncecall:oncecall_test - callee was not told to cancel")
	}
}

func TestCall_Timeout(t *testing.T) {
	conn := &fakeConn{}
	_, err := NewFactory(conn, 30*time.Millisecond).Create().
		Call(context.Background(), nil, MethodContext{Method: testMethod(t)}, nil, nil, "x")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("oncecall:oncecall_test - expected ErrTimeout, got %v", err)
	}
	if errors.Is(err, context.Canceled) {
		t.Error("oncecall:oncecall_test - timeout must not look like cancellation")
	}
}

func TestCall_ConnectionClosed(t *testing.T) {
	conn := &fakeConn{closeCh: true, script: []*protocol.Reply{{Type: protocol.ReplyCallback, Body: raw(1)}}}
	_, err := NewFactory(conn, time.Second).Create().
		Call(context.Background(), nil, MethodContext{Method: testMethod(t)}, nil, nil, "x")
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("oncecall:oncecall_test - expected ErrConnectionClosed, got %v", err)
	}
}

func TestCall_ArgCountMismatch(t *testing.T) {
	c := NewFactory(&fakeConn{}, time.Second).Create()
	_, err := c.Call(context.Background(), nil, MethodContext{Method: testMethod(t)}, nil, nil, "a", "b")
	if !errors.Is(err, contract.ErrArgCount) {
		t.Fatalf("oncecall:oncecall_test - expected ErrArgCount, got %v", err)
	}
}

func TestCall_StreamEvents(t *testing.T) {
	tests := []struct {
		name    string
		stream  io.Reader
		wantErr bool
		upload  string
	}{
		{name: "complete upload", stream: strings.NewReader("payload"), upload: "payload"},
		{name: "aborted upload", stream: &failingReader{n: 2}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var started, ended atomic.Int32
			var endErr error
			hooks := Hooks{
				SendRequestStreamStarted:    func() { started.Add(1) },
				SendRequestStreamEndOrFault: func(err error) { ended.Add(1); endErr = err },
			}
			conn := &fakeConn{script: []*protocol.Reply{{Type: protocol.ReplyResult, Body: raw("ok")}}}
			_, err := NewFactory(conn, time.Second, WithHooks(hooks)).Create().
				Call(context.Background(), nil, MethodContext{Method: testMethod(t)}, nil, tt.stream, "x")

			if started.Load() != 1 || ended.Load() != 1 {
				t.Errorf("oncecall:oncecall_test - started=%d ended=%d, want 1/1", started.Load(), ended.Load())
			}
			if tt.wantErr {
				if err == nil || endErr == nil {
					t.Errorf("oncecall:oncecall_test - expected upload failure, err=%v endErr=%v", err, endErr)
				}
				return
			}
			if err != nil || endErr != nil {
				t.Errorf("oncecall:oncecall_test - unexpected errors: %v / %v", err, endErr)
			}
			if conn.uploaded != tt.upload {
				t.Errorf("oncecall:oncecall_test - uploaded %q", conn.uploaded)
			}
			if !strings.Contains(string(conn.req.Args), `"_stream_length":7`) {
				t.Errorf("oncecall:oncecall_test - envelope = %s", conn.req.Args)
			}
		})
	}
}

func TestCall_NoStreamNoEvents(t *testing.T) {
	var fired atomic.Int32
	hooks := Hooks{
		SendRequestStreamStarted:    func() { fired.Add(1) },
		SendRequestStreamEndOrFault: func(error) { fired.Add(1) },
	}
	conn := &fakeConn{script: []*protocol.Reply{{Type: protocol.ReplyResult, Body: raw("ok")}}}
	if _, err := NewFactory(conn, time.Second, WithHooks(hooks)).Create().
		Call(context.Background(), nil, MethodContext{Method: testMethod(t)}, nil, nil, "x"); err != nil {
		t.Fatalf("oncecall:oncecall_test - unexpected error: %v", err)
	}
	if fired.Load() != 0 {
		t.Errorf("oncecall:oncecall_test - stream events fired without a stream")
	}
}

func TestCall_PostReturnsOnAccept(t *testing.T) {
	info := contract.Define("Acme.IQueue").
		Method("Enqueue", contract.MQPost(4), contract.Params(contract.Param("job", reflect.TypeOf("")))).
		MustBuild()
	m, _ := info.MethodByName("Enqueue")

	conn := &fakeConn{script: []*protocol.Reply{{Type: protocol.ReplyAccepted}}}
	c := NewFactory(conn, time.Second).Create()
	res, err := c.Call(context.Background(), nil, MethodContext{Method: m}, nil, nil, "job-1")
	if err != nil || res != nil {
		t.Fatalf("oncecall:oncecall_test - got %v, %v", res, err)
	}
	if !conn.req.Post || conn.req.Priority != 4 {
		t.Errorf("oncecall:oncecall_test - request post=%v priority=%d", conn.req.Post, conn.req.Priority)
	}
	if c.State() != StateCompleted {
		t.Errorf("oncecall:oncecall_test - state = %s", c.State())
	}
}
