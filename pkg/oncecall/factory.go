package oncecall

import (
	"time"

	"github.com/morezero/rpcmesh/pkg/protocol"
)

// Factory creates OnceCalls bound to one connection.
type Factory struct {
	conn    ClientConnection
	timeout time.Duration
	faults  *protocol.FaultRegistry
	hooks   Hooks
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithFaultRegistry rehydrates callee faults through r.
func WithFaultRegistry(r *protocol.FaultRegistry) FactoryOption {
	return func(f *Factory) { f.faults = r }
}

// WithHooks observes request body uploads.
func WithHooks(h Hooks) FactoryOption {
	return func(f *Factory) { f.hooks = h }
}

// NewFactory creates a Factory. A zero timeout uses DefaultTimeout.
func NewFactory(conn ClientConnection, timeout time.Duration, opts ...FactoryOption) *Factory {
	f := &Factory{conn: conn, timeout: timeout}
	for _, opt := range opts {
		opt(f)
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	return f
}

// Create returns a fresh OnceCall.
func (f *Factory) Create() *OnceCall {
	return &OnceCall{conn: f.conn, timeout: f.timeout, faults: f.faults, hooks: f.hooks}
}

// Connection returns the factory's connection.
func (f *Factory) Connection() ClientConnection {
	return f.conn
}

// Close closes the underlying connection.
func (f *Factory) Close() error {
	return f.conn.Close()
}
