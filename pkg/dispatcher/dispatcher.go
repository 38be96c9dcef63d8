package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/morezero/rpcmesh/pkg/busy"
	"github.com/morezero/rpcmesh/pkg/contract"
	"github.com/morezero/rpcmesh/pkg/events"
	"github.com/morezero/rpcmesh/pkg/invoke"
	"github.com/morezero/rpcmesh/pkg/protocol"
)

const logPrefix = "dispatcher:dispatch"

// Options configures a RequestHandler. Nil or zero values use defaults.
type Options struct {
	Publisher events.EventPublisher
	Busy      *busy.Flag
}

// RequestHandler resolves, invokes and reports calls for a set of service
// instances. It is shared by every transport.
type RequestHandler struct {
	instances []*invoke.Instance
	publisher events.EventPublisher
	busy      *busy.Flag
}

// NewRequestHandler creates a RequestHandler. Instances are matched in order.
func NewRequestHandler(instances []*invoke.Instance, opts *Options) *RequestHandler {
	h := &RequestHandler{instances: instances, publisher: &events.NoOpPublisher{}, busy: &busy.Flag{}}
	if opts != nil {
		if opts.Publisher != nil {
			h.publisher = opts.Publisher
		}
		if opts.Busy != nil {
			h.busy = opts.Busy
		}
	}
	return h
}

// Busy returns the in-flight call counter.
func (h *RequestHandler) Busy() *busy.Flag {
	return h.busy
}

// Lookup returns the contract method an action routes to.
func (h *RequestHandler) Lookup(action protocol.ActionInfo) (*contract.Method, error) {
	resolved, err := invoke.ResolveMethod(action, h.instances)
	if err != nil {
		return nil, err
	}
	return resolved.Method, nil
}

// Handle runs one call and returns its terminal reply. Callbacks produced by
// the target are sent through conn before Handle returns. ctx is canceled by
// the transport when the caller cancels. Transports bracket the whole
// handling window, from receipt to the last reply, with Busy().
func (h *RequestHandler) Handle(ctx context.Context, conn ServiceConnection, req *protocol.Request, stream io.Reader) *protocol.Reply {
	info := conn.Info()
	if req.Action == nil || req.Action.FullName == "" {
		return faultReply(req.CallID, protocol.CodeInvalidArgument, "Missing action", nil)
	}
	slog.Debug(fmt.Sprintf("%s - action=%s id=%s channel=%s", logPrefix, req.Action.Key(), req.CallID, info.Channel))

	resolved, err := invoke.ResolveMethod(*req.Action, h.instances)
	if err != nil {
		code := protocol.CodeMethodNotFound
		if errors.Is(err, invoke.ErrVersionMismatch) {
			code = protocol.CodeVersionMismatch
		}
		return faultReply(req.CallID, code, err.Error(), nil)
	}
	m := resolved.Method
	if m.Ignored(string(info.Channel)) {
		return faultReply(req.CallID, protocol.CodeMethodNotFound, fmt.Sprintf("Unknown method: %s", req.Action.Key()), nil)
	}

	ctx = WithCallHeader(ctx, req.Header)

	env, err := m.Shape().Decode(argsOrEmpty(req.Args))
	if err != nil {
		return faultReply(req.CallID, protocol.CodeInvalidArgument, err.Error(), nil)
	}

	started := time.Now()
	var callbacks atomic.Int32
	cb := contract.Callback(func(cbCtx context.Context, v any) error {
		body, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s - encode callback: %w", logPrefix, err)
		}
		callbacks.Add(1)
		return conn.Send(cbCtx, &protocol.Reply{Type: protocol.ReplyCallback, CallID: req.CallID, Body: body})
	})

	args, err := invoke.ReconstructArgs(m.Params, env.Values(), cb, ctx, stream)
	if err != nil {
		return faultReply(req.CallID, protocol.CodeInvalidArgument, err.Error(), nil)
	}

	result, err := invoke.Invoke(ctx, resolved.Func, args)
	rep := h.reply(ctx, req.CallID, m, result, err)

	if !m.IgnoreTracer {
		h.publish(ctx, &events.CallEvent{
			CallID:       req.CallID,
			ConnectionID: info.ID,
			Channel:      string(info.Channel),
			Contract:     resolved.Instance.Contract.Name(),
			Method:       m.FullName,
			Outcome:      outcome(rep),
			FaultCode:    faultCode(rep),
			Callbacks:    int(callbacks.Load()),
			StreamLength: env.StreamLength(),
			StartedAt:    started,
			Duration:     time.Since(started),
		})
	}
	return rep
}

func (h *RequestHandler) reply(ctx context.Context, callID string, m *contract.Method, result any, err error) *protocol.Reply {
	if err == nil {
		body, merr := json.Marshal(result)
		if merr != nil {
			return faultReply(callID, protocol.CodeInternal, fmt.Sprintf("encode result: %v", merr), nil)
		}
		return &protocol.Reply{Type: protocol.ReplyResult, CallID: callID, Body: body}
	}

	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return faultReply(callID, protocol.CodeCanceled, "Call canceled", nil)
	}

	var pe *invoke.PanicError
	if errors.As(err, &pe) {
		slog.Error(fmt.Sprintf("%s - %s panicked: %v\n%s", logPrefix, m.FullName, pe.Value, pe.Stack))
		return faultReply(callID, protocol.CodeInternal, "Internal error", nil)
	}
	if errors.Is(err, contract.ErrArgType) || errors.Is(err, contract.ErrArgCount) {
		return faultReply(callID, protocol.CodeInvalidArgument, err.Error(), nil)
	}

	return &protocol.Reply{Type: protocol.ReplyFault, CallID: callID, Fault: targetFault(m, err)}
}

// targetFault maps an error returned by business logic to its wire fault.
func targetFault(m *contract.Method, err error) *protocol.FaultDetail {
	d := &protocol.FaultDetail{
		Kind:      contract.ErrorKind(err),
		Code:      protocol.CodeInternal,
		Message:   err.Error(),
		Retryable: true,
	}
	if f, ok := m.FaultFor(err); ok {
		d.Code = f.ErrorCode
		if d.Code == "" {
			d.Code = f.Kind
		}
		d.StatusCode = f.StatusCode
		d.Retryable = false
		if m.HideFaultDescription {
			d.Message = f.Description
		}
	}
	if m.HideFaultDescription {
		if d.Code == protocol.CodeInternal {
			d.Message = "Internal error"
		}
		return d
	}
	if details, err := json.Marshal(err); err == nil && string(details) != "{}" && string(details) != "null" {
		d.Details = json.RawMessage(details)
	}
	return d
}

func (h *RequestHandler) publish(ctx context.Context, event *events.CallEvent) {
	if err := h.publisher.PublishCall(context.WithoutCancel(ctx), event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish call event %s: %v", logPrefix, event.CallID, err))
	}
}

// --- helpers ---

func faultReply(callID, code, message string, details any) *protocol.Reply {
	return &protocol.Reply{
		Type:   protocol.ReplyFault,
		CallID: callID,
		Fault: &protocol.FaultDetail{
			Code:      code,
			Message:   message,
			Details:   details,
			Retryable: code == protocol.CodeInternal,
		},
	}
}

func argsOrEmpty(args json.RawMessage) []byte {
	if len(args) == 0 {
		return []byte("{}")
	}
	return args
}

func outcome(rep *protocol.Reply) events.Outcome {
	switch {
	case rep.Type == protocol.ReplyResult:
		return events.OutcomeResult
	case rep.Fault != nil && rep.Fault.Code == protocol.CodeCanceled:
		return events.OutcomeCanceled
	}
	return events.OutcomeFault
}

func faultCode(rep *protocol.Reply) string {
	if rep.Fault == nil {
		return ""
	}
	return rep.Fault.Code
}
