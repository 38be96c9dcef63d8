// Package oncecall implements the lifecycle of a single RPC invocation,
// independent of the transport that carries it.
package oncecall

import (
	"context"
	"io"

	"github.com/morezero/rpcmesh/pkg/protocol"
)

// ClientConnection is implemented by every transport on the client side.
type ClientConnection interface {
	// Info identifies the underlying connection.
	Info() protocol.ConnectionInfo
	// Open sends the call request and uploads stream, if any, the way the
	// transport carries request bodies.
	Open(ctx context.Context, req *protocol.Request, stream io.Reader) (Exchange, error)
	Close() error
}

// Exchange is one open call on a ClientConnection.
type Exchange interface {
	// Replies delivers the callee's replies in order. The channel is closed
	// when the exchange ends; a close without a terminal reply means the
	// connection was lost.
	Replies() <-chan *protocol.Reply
	// Cancel asks the callee to stop the call.
	Cancel(ctx context.Context) error
	// Close releases the exchange's resources.
	Close() error
}
