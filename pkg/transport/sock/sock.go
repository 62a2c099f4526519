// Package sock implements the transport over plain stream sockets:
// TCP and unix-domain.
package sock

import (
	"context"
	"errors"
	"net"
	"os"

	"github.com/hayotensor/subnet/pkg/transport"
)

// Transport dials and listens on a net stream network ("tcp" or "unix").
type Transport struct{ network string }

// TCP returns a TCP transport.
func TCP() *Transport { return &Transport{network: "tcp"} }

// Unix returns a unix-domain socket transport.
func Unix() *Transport { return &Transport{network: "unix"} }

func (t *Transport) Kind() string { return t.network }

func (t *Transport) Dial(ctx context.Context, address string) (transport.Conn, error) {
	d := &net.Dialer{}
	c, err := d.DialContext(ctx, t.network, address)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	if t.network == "unix" {
		// A stale socket file from a previous run blocks bind.
		if _, err := os.Stat(address); err == nil {
			_ = os.Remove(address)
		}
	}
	nl, err := net.Listen(t.network, address)
	if err != nil {
		return nil, err
	}
	l := &listener{nl: nl, newCh: make(chan net.Conn, 8), closeCh: make(chan struct{})}
	go l.acceptLoop()
	go func() { <-ctx.Done(); _ = l.Close() }()
	return l, nil
}

type listener struct {
	nl      net.Listener
	newCh   chan net.Conn
	closeCh chan struct{}
}

func (l *listener) Addr() net.Addr { return l.nl.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("sock: listener closed")
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *listener) Close() error {
	select {
	case <-l.closeCh:
	default:
		close(l.closeCh)
	}
	return l.nl.Close()
}

func (l *listener) acceptLoop() {
	for {
		c, err := l.nl.Accept()
		if err != nil {
			return
		}
		select {
		case l.newCh <- c:
		case <-l.closeCh:
			_ = c.Close()
			return
		}
	}
}
