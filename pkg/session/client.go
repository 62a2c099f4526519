package session

import (
	"github.com/hayotensor/subnet/pkg/conn"
	"github.com/hayotensor/subnet/pkg/protocol"
	"github.com/hayotensor/subnet/pkg/protocol/codec"
	"github.com/hayotensor/subnet/pkg/retry"
	"github.com/hayotensor/subnet/pkg/transport"
)

// Client opens sessions against a single downstream peer. Each request
// gets a private connection manager, so in-flight requests never share
// a wire.
type Client struct {
	Transport transport.Transport
	Address   string
	Registry  *codec.Registry
	Format    protocol.Format
	Policy    retry.Policy
}

// Submit originates a new request for payload, assigning a fresh
// correlation id. The session connects lazily on first Exchange/Stream.
func (c *Client) Submit(payload string) (*Session, error) {
	return c.SubmitRequest(protocol.NewTaskRequest(NewCorrelationID(), payload))
}

// SubmitRequest opens a session for an already-built request. A request
// without a correlation id gets one assigned here, since this client is
// the originating party.
func (c *Client) SubmitRequest(req protocol.TaskRequest) (*Session, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = NewCorrelationID()
	}
	mgr := conn.NewManager(c.Transport, c.Address, c.Policy)
	return New(mgr, c.Registry, c.Format, req)
}
