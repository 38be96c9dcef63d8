package oncecall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/rpcmesh/pkg/contract"
	"github.com/morezero/rpcmesh/pkg/protocol"
)

const logPrefix = "oncecall:oncecall"

var (
	// ErrTimeout reports a call that exceeded its timeout interval.
	ErrTimeout = errors.New("oncecall: call timed out")
	// ErrConnectionClosed reports a connection lost before a terminal reply.
	ErrConnectionClosed = errors.New("oncecall: connection closed before result")
	// ErrCallUsed reports a second Call on the same OnceCall.
	ErrCallUsed = errors.New("oncecall: call already made")
)

// DefaultTimeout bounds a call when the factory is given no timeout.
const DefaultTimeout = 30 * time.Second

// State is the lifecycle state of one call.
type State int32

const (
	StateCreated State = iota
	StateHeaderSent
	StateRequestStreaming
	StateAwaitingResult
	StateCompleted
	StateFaulted
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateHeaderSent:
		return "header-sent"
	case StateRequestStreaming:
		return "request-streaming"
	case StateAwaitingResult:
		return "awaiting-result"
	case StateCompleted:
		return "completed"
	case StateFaulted:
		return "faulted"
	case StateCanceled:
		return "canceled"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MethodContext identifies the method being called.
type MethodContext struct {
	Method           *contract.Method
	GenericArguments []string
	// Version optionally constrains the serving contract's version.
	Version string
}

// Hooks observe the upload of a request body.
type Hooks struct {
	// SendRequestStreamStarted fires when the transport starts reading the body.
	SendRequestStreamStarted func()
	// SendRequestStreamEndOrFault fires exactly once for every call whose
	// upload started, with nil on a complete upload.
	SendRequestStreamEndOrFault func(err error)
}

// Call is the client-side contract every transport drives a call through.
type Call interface {
	Start(ctx context.Context, headers map[string]any) error
	Call(ctx context.Context, headers map[string]any, mc MethodContext, cb contract.Callback, stream io.Reader, pureArgs ...any) (any, error)
	State() State
}

// OnceCall performs exactly one call over a ClientConnection.
type OnceCall struct {
	conn    ClientConnection
	timeout time.Duration
	faults  *protocol.FaultRegistry
	hooks   Hooks

	state atomic.Int32
	used  atomic.Bool

	mu      sync.Mutex
	headers map[string]any
}

var _ Call = (*OnceCall)(nil)

// State returns the current lifecycle state.
func (c *OnceCall) State() State {
	return State(c.state.Load())
}

func (c *OnceCall) setState(s State) {
	c.state.Store(int32(s))
}

// Start records the call headers. Call starts implicitly when Start was not called.
func (c *OnceCall) Start(ctx context.Context, headers map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateHeaderSent)) {
		return fmt.Errorf("%s - start in state %s", logPrefix, c.State())
	}
	c.mu.Lock()
	c.headers = maps.Clone(headers)
	c.mu.Unlock()
	return nil
}

// Call sends the envelope and the optional body stream, delivers callbacks in
// order, and returns the decoded result. A queue-posted method without a
// callback or stream returns nil as soon as the service accepts it.
//
// A fault from the callee is returned as the registered error for its kind or
// a *protocol.RemoteFault. Local failures are ErrTimeout, ErrConnectionClosed
// or the context's error.
func (c *OnceCall) Call(ctx context.Context, headers map[string]any, mc MethodContext, cb contract.Callback, stream io.Reader, pureArgs ...any) (any, error) {
	if !c.used.CompareAndSwap(false, true) {
		return nil, ErrCallUsed
	}
	if c.State() == StateCreated {
		if err := c.Start(ctx, nil); err != nil {
			return nil, err
		}
	}
	m := mc.Method

	callID := uuid.NewString()
	env, err := m.NewEnvelope(callID, c.conn.Info().ID, protocol.StreamLength(stream), pureArgs)
	if err != nil {
		c.setState(StateFaulted)
		return nil, err
	}
	args, err := json.Marshal(env)
	if err != nil {
		c.setState(StateFaulted)
		return nil, fmt.Errorf("%s - marshal envelope: %w", logPrefix, err)
	}

	c.mu.Lock()
	hdr := maps.Clone(c.headers)
	c.mu.Unlock()
	if hdr == nil {
		hdr = make(map[string]any, len(headers))
	}
	maps.Copy(hdr, headers)

	req := &protocol.Request{
		Type:   protocol.RequestCall,
		CallID: callID,
		Action: &protocol.ActionInfo{FullName: m.FullName, GenericArguments: mc.GenericArguments, Version: mc.Version},
		Header: hdr,
		Args:   args,
		Stream: stream != nil,
	}
	if m.MQPost {
		req.Priority = m.MQPriority
		req.Post = stream == nil && cb == nil
	}

	timeout := c.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var tracked *trackedReader
	var body io.Reader
	if stream != nil {
		tracked = newTrackedReader(stream, func() {
			c.setState(StateRequestStreaming)
			if c.hooks.SendRequestStreamStarted != nil {
				c.hooks.SendRequestStreamStarted()
			}
		}, c.hooks.SendRequestStreamEndOrFault)
		body = tracked
	}

	slog.Debug(fmt.Sprintf("%s - call %s id=%s", logPrefix, m.FullName, callID))
	result, err := c.run(ctx, callCtx, req, body, m, cb)
	if tracked != nil {
		tracked.finish(err)
	}
	return result, err
}

func (c *OnceCall) run(parent, ctx context.Context, req *protocol.Request, body io.Reader, m *contract.Method, cb contract.Callback) (any, error) {
	ex, err := c.conn.Open(ctx, req, body)
	if err != nil {
		return nil, c.localFailure(parent, ctx, err)
	}
	defer ex.Close()
	if c.State() != StateRequestStreaming {
		c.setState(StateAwaitingResult)
	}

	for {
		select {
		case <-ctx.Done():
			cancelCtx, stop := context.WithTimeout(context.Background(), time.Second)
			if err := ex.Cancel(cancelCtx); err != nil {
				slog.Debug(fmt.Sprintf("%s - cancel %s: %v", logPrefix, req.CallID, err))
			}
			stop()
			return nil, c.localFailure(parent, ctx, ctx.Err())

		case rep, ok := <-ex.Replies():
			if !ok {
				c.setState(StateFaulted)
				return nil, ErrConnectionClosed
			}
			switch rep.Type {
			case protocol.ReplyAccepted:
				if req.Post {
					c.setState(StateCompleted)
					return nil, nil
				}
			case protocol.ReplyCallback:
				c.setState(StateAwaitingResult)
				if err := deliverCallback(ctx, m, cb, rep.Body); err != nil {
					_ = ex.Cancel(ctx)
					c.setState(StateFaulted)
					return nil, err
				}
			case protocol.ReplyResult:
				c.setState(StateCompleted)
				return decodeResult(m.Returns, rep.Body)
			case protocol.ReplyFault:
				if rep.Fault == nil {
					c.setState(StateFaulted)
					return nil, &protocol.RemoteFault{Detail: protocol.FaultDetail{Code: protocol.CodeInternal, Message: "empty fault"}}
				}
				if rep.Fault.Code == protocol.CodeCanceled {
					c.setState(StateCanceled)
				} else {
					c.setState(StateFaulted)
				}
				return nil, c.faults.Rehydrate(rep.Fault)
			}
		}
	}
}

// localFailure classifies an error raised on this side of the connection.
func (c *OnceCall) localFailure(parent, ctx context.Context, err error) error {
	if perr := parent.Err(); perr != nil {
		c.setState(StateCanceled)
		return perr
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.setState(StateFaulted)
		return fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
	c.setState(StateFaulted)
	return err
}

func deliverCallback(ctx context.Context, m *contract.Method, cb contract.Callback, body json.RawMessage) error {
	if cb == nil {
		return nil
	}
	v, err := decodeResult(m.CallbackType(), body)
	if err != nil {
		return err
	}
	return cb(ctx, v)
}

func decodeResult(t reflect.Type, body json.RawMessage) (any, error) {
	if len(body) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		if t == nil {
			return nil, nil
		}
		return reflect.Zero(t).Interface(), nil
	}
	if t == nil {
		return body, nil
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(body, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("%s - decode %s: %w", logPrefix, t, err)
	}
	return ptr.Elem().Interface(), nil
}
