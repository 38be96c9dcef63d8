// Package httprpc carries calls over HTTP. A call is one POST whose body is
// the JSON request, optionally followed by the raw request stream; the
// response is a newline-delimited JSON stream of replies.
package httprpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/morezero/rpcmesh/pkg/dispatcher"
	"github.com/morezero/rpcmesh/pkg/protocol"
)

const logPrefix = "httprpc:handler"

// ContentType is the media type of the reply stream.
const ContentType = "application/x-ndjson"

// HandlerOptions configures NewHandler.
type HandlerOptions struct {
	// RequestTimeout bounds the handling of one call; zero means no bound.
	RequestTimeout time.Duration
}

// Handler serves a RequestHandler over HTTP.
type Handler struct {
	h        *dispatcher.RequestHandler
	opts     HandlerOptions
	router   chi.Router
	stopping atomic.Bool
}

// NewHandler returns the HTTP routes serving h:
//
//	POST /call      run one call
//	GET  /describe  list the methods visible to ?roles=a,b
//	GET  /health    liveness and in-flight count
func NewHandler(h *dispatcher.RequestHandler, opts *HandlerOptions) *Handler {
	hd := &Handler{h: h}
	if opts != nil {
		hd.opts = *opts
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/call", hd.call)
	r.Get("/describe", hd.describe)
	r.Get("/health", hd.health)
	hd.router = r
	return hd
}

func (hd *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hd.router.ServeHTTP(w, r)
}

// StopAccepting makes every later call fail with 503 UNAVAILABLE. Calls
// already running are not affected.
func (hd *Handler) StopAccepting() {
	hd.stopping.Store(true)
}

func (hd *Handler) call(w http.ResponseWriter, r *http.Request) {
	if hd.stopping.Load() {
		writeFault(w, http.StatusServiceUnavailable, &protocol.FaultDetail{
			Code:      protocol.CodeUnavailable,
			Message:   "Service is stopping",
			Retryable: true,
		})
		return
	}
	flag := hd.h.Busy()
	flag.Increment()
	posted := false
	defer func() {
		if !posted {
			flag.Decrement()
		}
	}()

	dec := json.NewDecoder(r.Body)
	var req protocol.Request
	if err := dec.Decode(&req); err != nil || req.Type != protocol.RequestCall {
		slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
		writeFault(w, http.StatusBadRequest, &protocol.FaultDetail{
			Code:    protocol.CodeInvalidArgument,
			Message: "Failed to decode request",
		})
		return
	}
	if req.Action != nil {
		hd.copyDeclaredHeaders(r, &req)
	}

	var stream io.Reader
	if req.Stream {
		stream = io.MultiReader(dec.Buffered(), r.Body)
	}

	_ = http.NewResponseController(w).EnableFullDuplex()
	out := &replyWriter{w: w, rc: http.NewResponseController(w), remote: r.RemoteAddr}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusOK)
	if err := out.Send(r.Context(), &protocol.Reply{Type: protocol.ReplyAccepted, CallID: req.CallID}); err != nil {
		slog.Warn(fmt.Sprintf("%s - accept %s: %v", logPrefix, req.CallID, err))
		return
	}

	if req.Post {
		ctx, cancel := hd.callContext(context.WithoutCancel(r.Context()))
		posted = true
		go func() {
			defer flag.Decrement()
			defer cancel()
			rep := hd.h.Handle(ctx, discardConn{remote: r.RemoteAddr}, &req, nil)
			slog.Debug(fmt.Sprintf("%s - posted call %s finished with %s", logPrefix, req.CallID, rep.Type))
		}()
		return
	}

	ctx, cancel := hd.callContext(r.Context())
	defer cancel()
	rep := hd.h.Handle(ctx, out, &req, stream)
	if err := out.Send(ctx, rep); err != nil {
		slog.Warn(fmt.Sprintf("%s - reply %s: %v", logPrefix, req.CallID, err))
	}
}

func (hd *Handler) callContext(parent context.Context) (context.Context, context.CancelFunc) {
	if hd.opts.RequestTimeout > 0 {
		return context.WithTimeout(parent, hd.opts.RequestTimeout)
	}
	return context.WithCancel(parent)
}

// copyDeclaredHeaders copies the HTTP headers and API keys the target method
// declares into the call header. Routing failures are left to the dispatcher.
func (hd *Handler) copyDeclaredHeaders(r *http.Request, req *protocol.Request) {
	m, err := hd.h.Lookup(*req.Action)
	if err != nil {
		return
	}
	if req.Header == nil {
		req.Header = make(map[string]any)
	}
	for _, h := range m.Headers {
		if v := r.Header.Get(h.Name); v != "" {
			req.Header[h.Name] = v
		}
	}
	for _, k := range m.APIKeys {
		if v := r.Header.Get(k.Name); v != "" {
			req.Header[k.Name] = v
		}
	}
}

func (hd *Handler) describe(w http.ResponseWriter, r *http.Request) {
	var roles []string
	if q := r.URL.Query().Get("roles"); q != "" {
		roles = strings.Split(q, ",")
	}
	writeJSON(w, http.StatusOK, hd.h.Describe(string(protocol.ChannelHTTP), roles))
}

func (hd *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"inflight": hd.h.Busy().Count(),
	})
}

func writeFault(w http.ResponseWriter, status int, fault *protocol.FaultDetail) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&protocol.Reply{Type: protocol.ReplyFault, Fault: fault})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn(fmt.Sprintf("%s - write response: %v", logPrefix, err))
	}
}

// replyWriter writes replies as NDJSON lines and flushes each one.
type replyWriter struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	rc     *http.ResponseController
	remote string
}

func (o *replyWriter) Info() protocol.ConnectionInfo {
	return protocol.ConnectionInfo{ID: o.remote, Channel: protocol.ChannelHTTP}
}

func (o *replyWriter) Send(_ context.Context, rep *protocol.Reply) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := json.NewEncoder(o.w).Encode(rep); err != nil {
		return err
	}
	return o.rc.Flush()
}

// discardConn serves posted calls, whose callbacks have no listener.
type discardConn struct {
	remote string
}

func (c discardConn) Info() protocol.ConnectionInfo {
	return protocol.ConnectionInfo{ID: c.remote, Channel: protocol.ChannelHTTP}
}

func (discardConn) Send(context.Context, *protocol.Reply) error { return nil }
