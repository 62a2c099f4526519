// Package transport abstracts the byte-stream channel the protocol
// runs over. Implementations only move bytes; framing and message
// semantics live in pkg/protocol, so transports substitute freely.
package transport

import (
	"context"
	"io"
	"net"
)

// Conn is a single bidirectional byte stream to a peer.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Listener accepts inbound connections.
type Listener interface {
	// Accept blocks until an inbound connection is available or ctx is done.
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Transport provides dialing and listening for one link kind.
type Transport interface {
	Kind() string
	Dial(ctx context.Context, address string) (Conn, error)
	Listen(ctx context.Context, address string) (Listener, error)
}
