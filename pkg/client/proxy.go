// Package client exposes contracts to callers through proxies bound to a
// transport connection.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/morezero/rpcmesh/pkg/contract"
	"github.com/morezero/rpcmesh/pkg/oncecall"
)

const logPrefix = "client:proxy"

// CallOptions adjust a single call.
type CallOptions struct {
	GenericArguments []string
	// Version constrains the serving contract's version, e.g. "^1.2".
	Version string
	Header  map[string]any
}

// Proxy invokes the methods of one contract over one connection.
type Proxy struct {
	contract *contract.Info
	factory  *oncecall.Factory

	mu             sync.RWMutex
	additionHeader map[string]any

	closeOnce sync.Once
	closeErr  error
}

// NewProxy creates a Proxy. additionHeader is sent with every call.
func NewProxy(c *contract.Info, factory *oncecall.Factory, additionHeader map[string]any) *Proxy {
	return &Proxy{contract: c, factory: factory, additionHeader: maps.Clone(additionHeader)}
}

// Contract returns the proxied contract.
func (p *Proxy) Contract() *contract.Info {
	return p.contract
}

// SetHeader sets a header sent with every subsequent call.
func (p *Proxy) SetHeader(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.additionHeader == nil {
		p.additionHeader = make(map[string]any)
	}
	p.additionHeader[key] = value
}

// Invoke calls method, by full or short name, with its full positional
// argument list: system positions take a contract.Callback, a
// context.Context and an io.Reader, or nil.
func (p *Proxy) Invoke(ctx context.Context, method string, fullArgs ...any) (any, error) {
	return p.InvokeWith(ctx, CallOptions{}, method, fullArgs...)
}

// InvokeWith is Invoke with per-call options.
func (p *Proxy) InvokeWith(ctx context.Context, opts CallOptions, method string, fullArgs ...any) (any, error) {
	m, ok := p.contract.Method(method)
	if !ok {
		if m, ok = p.contract.MethodByName(method); !ok {
			return nil, fmt.Errorf("%s - %s has no method %q", logPrefix, p.contract.Name(), method)
		}
	}

	pure, sys, err := m.SplitArgs(fullArgs)
	if err != nil {
		return nil, err
	}
	if sys.Context != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(sys.Context, cancel)
		defer stop()
	}

	p.mu.RLock()
	header := maps.Clone(p.additionHeader)
	p.mu.RUnlock()
	if header == nil {
		header = make(map[string]any, len(opts.Header))
	}
	maps.Copy(header, opts.Header)

	call := p.factory.Create()
	if err := call.Start(ctx, header); err != nil {
		return nil, err
	}
	slog.Debug(fmt.Sprintf("%s - invoke %s", logPrefix, m.FullName))
	return call.Call(ctx, nil, oncecall.MethodContext{
		Method:           m,
		GenericArguments: opts.GenericArguments,
		Version:          opts.Version,
	}, sys.Callback, sys.Stream, pure...)
}

// Close closes the proxy's connection once.
func (p *Proxy) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.factory.Close()
	})
	return p.closeErr
}

// Call invokes method and converts the result to T.
func Call[T any](ctx context.Context, p *Proxy, method string, fullArgs ...any) (T, error) {
	var zero T
	v, err := p.Invoke(ctx, method, fullArgs...)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s - %s returned %T, want %T", logPrefix, method, v, zero)
	}
	return t, nil
}
