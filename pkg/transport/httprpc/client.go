package httprpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/morezero/rpcmesh/pkg/oncecall"
	"github.com/morezero/rpcmesh/pkg/protocol"
)

const clientLogPrefix = "httprpc:client"

// ClientConnection sends calls to a Handler mounted at baseURL.
type ClientConnection struct {
	baseURL string
	hc      *http.Client
	id      string

	mu        sync.Mutex
	exchanges map[*exchange]struct{}
	closed    bool
}

// NewClientConnection creates a client for the handler at baseURL. A nil
// hc uses http.DefaultClient.
func NewClientConnection(baseURL string, hc *http.Client) *ClientConnection {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &ClientConnection{
		baseURL:   strings.TrimRight(baseURL, "/"),
		hc:        hc,
		id:        uuid.NewString(),
		exchanges: make(map[*exchange]struct{}),
	}
}

func (c *ClientConnection) Info() protocol.ConnectionInfo {
	return protocol.ConnectionInfo{ID: c.id, Channel: protocol.ChannelHTTP, Description: c.baseURL}
}

// Open posts req, with stream appended to the body, and returns the exchange
// reading the reply stream.
func (c *ClientConnection) Open(ctx context.Context, req *protocol.Request, stream io.Reader) (oncecall.Exchange, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s - connection closed", clientLogPrefix)
	}
	c.mu.Unlock()

	head, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode request: %w", clientLogPrefix, err)
	}
	head = append(head, '\n')
	var body io.Reader = bytes.NewReader(head)
	if stream != nil {
		body = io.MultiReader(body, stream)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/call", body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s - failed to build request: %w", clientLogPrefix, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", ContentType)
	for k, v := range req.Header {
		if s, ok := v.(string); ok {
			httpReq.Header.Set(k, s)
		}
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s - call %s: %w", clientLogPrefix, req.CallID, err)
	}

	ex := &exchange{conn: c, callID: req.CallID, resp: resp, cancel: cancel, out: make(chan *protocol.Reply, 16), done: make(chan struct{})}
	c.mu.Lock()
	c.exchanges[ex] = struct{}{}
	c.mu.Unlock()
	go ex.read()
	return ex, nil
}

// Close aborts every open exchange.
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

type exchange struct {
	conn   *ClientConnection
	callID string
	resp   *http.Response
	cancel context.CancelFunc
	out    chan *protocol.Reply
	done   chan struct{}
	once   sync.Once
}

func (e *exchange) Replies() <-chan *protocol.Reply {
	return e.out
}

// Cancel aborts the HTTP request; the handler sees the disconnect and
// cancels the call.
func (e *exchange) Cancel(context.Context) error {
	e.cancel()
	return nil
}

func (e *exchange) Close() error {
	var err error
	e.once.Do(func() {
		close(e.done)
		e.cancel()
		err = e.resp.Body.Close()
		e.conn.mu.Lock()
		delete(e.conn.exchanges, e)
		e.conn.mu.Unlock()
	})
	return err
}

func (e *exchange) read() {
	defer close(e.out)
	scanner := bufio.NewScanner(e.resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rep protocol.Reply
		if err := json.Unmarshal(line, &rep); err != nil {
			slog.Warn(fmt.Sprintf("%s - dropping reply for %s: %v", clientLogPrefix, e.callID, err))
			continue
		}
		select {
		case e.out <- &rep:
		case <-e.done:
			return
		}
		if rep.Terminal() {
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug(fmt.Sprintf("%s - reply stream %s: %v", clientLogPrefix, e.callID, err))
	}
}
