package natsrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rpcmesh/pkg/commsutil"
	"github.com/morezero/rpcmesh/pkg/oncecall"
	"github.com/morezero/rpcmesh/pkg/protocol"
)

const clientLogPrefix = "natsrpc:client"

// ChunkSize is the largest stream chunk sent in one buffer message.
const ChunkSize = 32 * 1024

// ClientConnection sends calls to a Service over a COMMS connection.
type ClientConnection struct {
	nc      *comms.Conn
	subject string
	id      string

	mu        sync.Mutex
	exchanges map[*exchange]struct{}
	closed    bool
}

// NewClientConnection creates a client that calls the service on subject.
func NewClientConnection(nc *comms.Conn, subject string) *ClientConnection {
	if subject == "" {
		subject = commsutil.SubjectDefault
	}
	return &ClientConnection{
		nc:        nc,
		subject:   subject,
		id:        uuid.NewString(),
		exchanges: make(map[*exchange]struct{}),
	}
}

func (c *ClientConnection) Info() protocol.ConnectionInfo {
	return protocol.ConnectionInfo{ID: c.id, Channel: protocol.ChannelNATS, Description: c.subject}
}

// Open publishes req and returns the exchange delivering its replies. When
// stream is not nil it is uploaded once the service accepts the call.
func (c *ClientConnection) Open(ctx context.Context, req *protocol.Request, stream io.Reader) (oncecall.Exchange, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s - connection closed", clientLogPrefix)
	}
	c.mu.Unlock()

	// Replies queue in the subscription without limit; forward drains them
	// at the pace of the caller so none is dropped as a slow consumer.
	inbox := c.nc.NewRespInbox()
	sub, err := c.nc.SubscribeSync(inbox)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to inbox: %w", clientLogPrefix, err)
	}
	if err := sub.SetPendingLimits(-1, -1); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("%s - failed to lift inbox limits: %w", clientLogPrefix, err)
	}

	header := map[string]string{commsutil.HeaderCallID: req.CallID}
	if req.Priority > 0 {
		header[commsutil.HeaderPriority] = commsutil.FormatPriority(req.Priority)
	}
	msg, err := commsutil.NewMsg(c.subject, req, header)
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("%s - failed to encode request: %w", clientLogPrefix, err)
	}
	msg.Reply = inbox

	exCtx, cancel := context.WithCancel(context.Background())
	ex := &exchange{
		conn:   c,
		callID: req.CallID,
		sub:    sub,
		out:    make(chan *protocol.Reply, 16),
		ctx:    exCtx,
		cancel: cancel,
		stream: stream,
	}
	c.mu.Lock()
	c.exchanges[ex] = struct{}{}
	c.mu.Unlock()

	go ex.forward()

	if err := c.nc.PublishMsg(msg); err != nil {
		_ = ex.Close()
		return nil, fmt.Errorf("%s - failed to publish request: %w", clientLogPrefix, err)
	}
	return ex, nil
}

// Close ends every open exchange and stops accepting new calls. The COMMS
// connection itself belongs to the caller.
func (c *ClientConnection) Close() error {
	c.mu.Lock()
	c.closed = true
	open := make([]*exchange, 0, len(c.exchanges))
	for ex := range c.exchanges {
		open = append(open, ex)
	}
	c.mu.Unlock()

	var errs []error
	for _, ex := range open {
		errs = append(errs, ex.Close())
	}
	return errors.Join(errs...)
}

func (c *ClientConnection) forget(ex *exchange) {
	c.mu.Lock()
	delete(c.exchanges, ex)
	c.mu.Unlock()
}

// exchange is the client side of one call on a ClientConnection.
type exchange struct {
	conn   *ClientConnection
	callID string
	sub    *comms.Subscription
	out    chan *protocol.Reply
	ctx    context.Context
	cancel context.CancelFunc
	stream io.Reader

	mu            sync.Mutex
	control       string
	cancelPending bool
	closeOnce     sync.Once
}

func (e *exchange) Replies() <-chan *protocol.Reply {
	return e.out
}

// Cancel publishes a cancel request to the call's control subject. Before
// the service has accepted the call the cancel is held and sent on accept.
func (e *exchange) Cancel(_ context.Context) error {
	e.mu.Lock()
	control := e.control
	if control == "" {
		e.cancelPending = true
	}
	e.mu.Unlock()
	if control == "" {
		return nil
	}
	return e.sendCancel(control)
}

func (e *exchange) sendCancel(control string) error {
	data, err := commsutil.EncodePayload(&protocol.Request{Type: protocol.RequestCancel, CallID: e.callID})
	if err != nil {
		return err
	}
	return e.conn.nc.Publish(control+".cancel", data)
}

func (e *exchange) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.cancel()
		err = e.sub.Unsubscribe()
		if errors.Is(err, comms.ErrConnectionClosed) || errors.Is(err, comms.ErrBadSubscription) {
			err = nil
		}
		e.conn.forget(e)
	})
	return err
}

// forward decodes inbox messages into replies until a terminal reply
// arrives or the exchange is closed.
func (e *exchange) forward() {
	defer close(e.out)
	for {
		msg, err := e.sub.NextMsgWithContext(e.ctx)
		if err != nil {
			if e.ctx.Err() == nil {
				slog.Warn(fmt.Sprintf("%s - inbox for %s: %v", clientLogPrefix, e.callID, err))
			}
			return
		}
		rep, err := commsutil.DecodeReply(msg.Data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - dropping reply for %s: %v", clientLogPrefix, e.callID, err))
			continue
		}
		if rep.Type == protocol.ReplyAccepted {
			e.accepted(rep.Control)
		}
		select {
		case e.out <- rep:
		case <-e.ctx.Done():
			return
		}
		if rep.Terminal() {
			return
		}
	}
}

func (e *exchange) accepted(control string) {
	e.mu.Lock()
	e.control = control
	pending := e.cancelPending
	e.mu.Unlock()

	if pending && control != "" {
		if err := e.sendCancel(control); err != nil {
			slog.Warn(fmt.Sprintf("%s - cancel %s: %v", clientLogPrefix, e.callID, err))
		}
	}
	if e.stream != nil && control != "" {
		go e.upload(control)
	}
}

// upload sends the request stream to the control subject in chunks, ending
// with a bufferEnd that carries the read error, if any. Each chunk waits for
// the service's acknowledgement, so at most one chunk is in flight.
func (e *exchange) upload(control string) {
	subject := control + ".data"
	buf := make([]byte, ChunkSize)
	for {
		n, err := e.stream.Read(buf)
		if n > 0 {
			chunk := &protocol.Request{Type: protocol.RequestBuffer, CallID: e.callID, Data: append([]byte(nil), buf[:n]...)}
			if serr := e.sendChunk(subject, chunk); serr != nil {
				slog.Warn(fmt.Sprintf("%s - upload %s: %v", clientLogPrefix, e.callID, serr))
				return
			}
		}
		if err == nil {
			continue
		}
		end := &protocol.Request{Type: protocol.RequestBufferEnd, CallID: e.callID}
		if !errors.Is(err, io.EOF) {
			end.Error = err.Error()
		}
		if serr := e.sendChunk(subject, end); serr != nil {
			slog.Warn(fmt.Sprintf("%s - upload end %s: %v", clientLogPrefix, e.callID, serr))
		}
		return
	}
}

// sendChunk publishes req and waits for the service to accept it. A rejected
// chunk comes back with the reason in the error header.
func (e *exchange) sendChunk(subject string, req *protocol.Request) error {
	data, err := commsutil.EncodePayload(req)
	if err != nil {
		return err
	}
	ack, err := e.conn.nc.RequestWithContext(e.ctx, subject, data)
	if err != nil {
		return err
	}
	if reason := ack.Header.Get(commsutil.HeaderError); reason != "" {
		return fmt.Errorf("%s - chunk rejected: %s", clientLogPrefix, reason)
	}
	return nil
}
