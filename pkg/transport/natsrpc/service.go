// Package natsrpc carries calls over COMMS (NATS) subjects.
package natsrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"
	"github.com/sourcegraph/conc/pool"

	"github.com/morezero/rpcmesh/pkg/busy"
	"github.com/morezero/rpcmesh/pkg/commsutil"
	"github.com/morezero/rpcmesh/pkg/dispatcher"
	"github.com/morezero/rpcmesh/pkg/protocol"
)

const logPrefix = "natsrpc:service"

// ServiceOptions configures a Service. Zero values use defaults.
type ServiceOptions struct {
	Subject    string
	QueueGroup string
	// RequestTimeout bounds the handling of one call.
	RequestTimeout time.Duration
	MaxConcurrent  int
	// DrainTimeout bounds how long Stop waits for in-flight calls; zero waits
	// until they finish.
	DrainTimeout      time.Duration
	DrainPollInterval time.Duration
}

func (o *ServiceOptions) withDefaults() ServiceOptions {
	out := ServiceOptions{}
	if o != nil {
		out = *o
	}
	if out.Subject == "" {
		out.Subject = commsutil.SubjectDefault
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = 25 * time.Second
	}
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = 64
	}
	if out.DrainPollInterval <= 0 {
		out.DrainPollInterval = busy.DefaultPollInterval
	}
	return out
}

// Service serves a RequestHandler on a COMMS subject.
type Service struct {
	nc      *comms.Conn
	handler *dispatcher.RequestHandler
	opts    ServiceOptions
	id      string

	mu          sync.Mutex
	sub         *comms.Subscription
	describeSub *comms.Subscription
	pool        *pool.Pool
	queue       *callQueue
	calls       map[string]*serviceCall
	baseCtx     context.Context
	cancelAll   context.CancelFunc
}

// NewService creates a Service. Pass nil for opts to use defaults.
func NewService(nc *comms.Conn, handler *dispatcher.RequestHandler, opts *ServiceOptions) *Service {
	return &Service{
		nc:      nc,
		handler: handler,
		opts:    opts.withDefaults(),
		id:      uuid.NewString()[:8],
		calls:   make(map[string]*serviceCall),
	}
}

// Subject returns the subject calls are received on.
func (s *Service) Subject() string {
	return s.opts.Subject
}

// Start subscribes to the call and describe subjects.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return fmt.Errorf("%s - already started", logPrefix)
	}

	s.baseCtx, s.cancelAll = context.WithCancel(context.WithoutCancel(ctx))
	s.queue = newCallQueue()
	s.pool = pool.New().WithMaxGoroutines(s.opts.MaxConcurrent)
	for i := 0; i < s.opts.MaxConcurrent; i++ {
		s.pool.Go(s.work)
	}

	var err error
	if s.opts.QueueGroup != "" {
		s.sub, err = s.nc.QueueSubscribe(s.opts.Subject, s.opts.QueueGroup, s.onCall)
	} else {
		s.sub, err = s.nc.Subscribe(s.opts.Subject, s.onCall)
	}
	if err != nil {
		s.queue.close()
		s.pool.Wait()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, s.opts.Subject, err)
	}

	describeSubject := commsutil.BuildDescribeSubject(s.opts.Subject)
	s.describeSub, err = s.nc.Subscribe(describeSubject, s.onDescribe)
	if err != nil {
		_ = s.sub.Unsubscribe()
		s.sub = nil
		s.queue.close()
		s.pool.Wait()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, describeSubject, err)
	}

	slog.Info(fmt.Sprintf("%s - Subscribed to %s (queue=%q)", logPrefix, s.opts.Subject, s.opts.QueueGroup))
	return nil
}

// Stop stops accepting calls, waits for in-flight calls to drain, then
// flushes the connection. When the drain deadline passes, in-flight calls
// are canceled and busy.ErrDrainTimeout is returned.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sub, describeSub, p, q := s.sub, s.describeSub, s.pool, s.queue
	s.sub, s.describeSub = nil, nil
	s.mu.Unlock()
	if sub == nil {
		return nil
	}

	if err := sub.Unsubscribe(); err != nil {
		slog.Warn(fmt.Sprintf("%s - unsubscribe %s: %v", logPrefix, s.opts.Subject, err))
	}
	if err := describeSub.Unsubscribe(); err != nil {
		slog.Warn(fmt.Sprintf("%s - unsubscribe describe: %v", logPrefix, err))
	}

	drainCtx := ctx
	if s.opts.DrainTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, s.opts.DrainTimeout)
		defer cancel()
	}
	drainErr := s.handler.Busy().Drain(drainCtx, s.opts.DrainPollInterval)
	q.close()
	if drainErr != nil {
		s.cancelAll()
	} else {
		p.Wait()
		s.cancelAll()
	}

	if err := s.nc.FlushTimeout(5 * time.Second); err != nil && !errors.Is(err, comms.ErrConnectionClosed) {
		slog.Warn(fmt.Sprintf("%s - flush: %v", logPrefix, err))
	}
	slog.Info(fmt.Sprintf("%s - Stopped %s", logPrefix, s.opts.Subject))
	return drainErr
}

func (s *Service) onDescribe(msg *comms.Msg) {
	var req dispatcher.DescribeRequest
	if len(msg.Data) > 0 {
		if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to decode describe request: %v", logPrefix, err))
		}
	}
	data, err := commsutil.EncodePayload(s.handler.Describe(string(protocol.ChannelNATS), req.Roles))
	if err != nil {
		slog.Error(fmt.Sprintf("%s - describe encode: %v", logPrefix, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn(fmt.Sprintf("%s - describe respond: %v", logPrefix, err))
	}
}

func (s *Service) onCall(msg *comms.Msg) {
	flag := s.handler.Busy()
	flag.Increment()

	req, err := commsutil.DecodeRequest(msg.Data)
	if err != nil || req.Type != protocol.RequestCall {
		defer flag.Decrement()
		slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
		s.publish(msg.Reply, &protocol.Reply{Type: protocol.ReplyFault, Fault: &protocol.FaultDetail{
			Code:    protocol.CodeInvalidArgument,
			Message: "Failed to decode request",
		}})
		return
	}
	priority := req.Priority
	if p := msg.Header.Get(commsutil.HeaderPriority); p != "" {
		priority = commsutil.ParsePriority(p)
	}

	call, err := s.open(msg.Reply, req)
	if err != nil {
		defer flag.Decrement()
		slog.Error(fmt.Sprintf("%s - failed to open call %s: %v", logPrefix, req.CallID, err))
		s.publish(msg.Reply, &protocol.Reply{Type: protocol.ReplyFault, CallID: req.CallID, Fault: &protocol.FaultDetail{
			Code:      protocol.CodeInternal,
			Message:   "Failed to open call",
			Retryable: true,
		}})
		return
	}

	queued := s.queue.push(priority, func() {
		defer flag.Decrement()
		defer s.close(call)

		rep := s.handler.Handle(call.ctx, call, req, call.stream())
		if req.Post {
			slog.Debug(fmt.Sprintf("%s - posted call %s finished with %s", logPrefix, req.CallID, rep.Type))
			return
		}
		s.publish(msg.Reply, rep)
	})
	if !queued {
		defer flag.Decrement()
		s.close(call)
		s.publish(msg.Reply, &protocol.Reply{Type: protocol.ReplyFault, CallID: req.CallID, Fault: &protocol.FaultDetail{
			Code:      protocol.CodeUnavailable,
			Message:   "Service is stopping",
			Retryable: true,
		}})
	}
}

// work runs queued calls until the queue is closed and empty.
func (s *Service) work() {
	for {
		run, ok := s.queue.pop()
		if !ok {
			return
		}
		run()
	}
}

// open registers an accepted call and subscribes to its control subjects.
func (s *Service) open(replyTo string, req *protocol.Request) (*serviceCall, error) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.opts.RequestTimeout)
	call := &serviceCall{
		svc:     s,
		replyTo: replyTo,
		callID:  req.CallID,
		control: commsutil.BuildControlSubject(s.opts.Subject, s.id, req.CallID),
		ctx:     ctx,
		cancel:  cancel,
	}
	if req.Stream {
		call.pr, call.pw = io.Pipe()
	}

	var err error
	call.cancelSub, err = s.nc.Subscribe(call.control+".cancel", func(*comms.Msg) {
		slog.Debug(fmt.Sprintf("%s - cancel requested for %s", logPrefix, call.callID))
		call.cancel()
	})
	if err != nil {
		cancel()
		return nil, err
	}
	if call.pw != nil {
		call.dataSub, err = s.nc.Subscribe(call.control+".data", call.onData)
		if err != nil {
			_ = call.cancelSub.Unsubscribe()
			cancel()
			return nil, err
		}
	}

	s.mu.Lock()
	s.calls[call.callID] = call
	s.mu.Unlock()

	s.publish(replyTo, &protocol.Reply{Type: protocol.ReplyAccepted, CallID: req.CallID, Control: call.control})
	return call, nil
}

func (s *Service) close(call *serviceCall) {
	call.cancel()
	if call.pw != nil {
		_ = call.pw.CloseWithError(io.ErrClosedPipe)
	}
	_ = call.cancelSub.Unsubscribe()
	if call.dataSub != nil {
		_ = call.dataSub.Unsubscribe()
	}
	s.mu.Lock()
	delete(s.calls, call.callID)
	s.mu.Unlock()
}

func (s *Service) publish(subject string, rep *protocol.Reply) {
	if subject == "" {
		return
	}
	data, err := commsutil.EncodePayload(rep)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode reply: %v", logPrefix, err))
		return
	}
	if err := s.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish reply for %s: %v", logPrefix, rep.CallID, err))
	}
}

// InFlight returns the number of calls holding control subscriptions.
func (s *Service) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// serviceCall is the service side of one accepted call.
type serviceCall struct {
	svc     *Service
	replyTo string
	callID  string
	control string

	ctx    context.Context
	cancel context.CancelFunc

	pr        *io.PipeReader
	pw        *io.PipeWriter
	cancelSub *comms.Subscription
	dataSub   *comms.Subscription
}

func (c *serviceCall) Info() protocol.ConnectionInfo {
	return protocol.ConnectionInfo{ID: c.replyTo, Channel: protocol.ChannelNATS, Description: c.svc.opts.Subject}
}

// Send publishes a callback reply to the caller's inbox.
func (c *serviceCall) Send(_ context.Context, rep *protocol.Reply) error {
	data, err := commsutil.EncodePayload(rep)
	if err != nil {
		return err
	}
	return c.svc.nc.Publish(c.replyTo, data)
}

func (c *serviceCall) stream() io.Reader {
	if c.pr == nil {
		return nil
	}
	return c.pr
}

// onData writes one stream chunk into the call's pipe and acknowledges it
// once the target has read it, or with the error that stopped the write.
func (c *serviceCall) onData(msg *comms.Msg) {
	err := c.write(msg.Data)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - rejecting chunk for %s: %v", logPrefix, c.callID, err))
	}
	if msg.Reply == "" {
		return
	}
	ack := comms.NewMsg(msg.Reply)
	if err != nil {
		ack.Header.Set(commsutil.HeaderError, err.Error())
	}
	if rerr := msg.RespondMsg(ack); rerr != nil {
		slog.Warn(fmt.Sprintf("%s - ack chunk for %s: %v", logPrefix, c.callID, rerr))
	}
}

func (c *serviceCall) write(data []byte) error {
	req, err := commsutil.DecodeRequest(data)
	if err != nil {
		_ = c.pw.CloseWithError(err)
		return err
	}
	switch req.Type {
	case protocol.RequestBuffer:
		_, err := c.pw.Write(req.Data)
		return err
	case protocol.RequestBufferEnd:
		if req.Error != "" {
			return c.pw.CloseWithError(errors.New(req.Error))
		}
		return c.pw.Close()
	}
	return fmt.Errorf("unexpected %s request on the data subject", req.Type)
}
