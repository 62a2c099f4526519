// Package proxy relays task requests to a downstream peer and streams
// the responses back, hop by hop, without buffering whole results.
package proxy

import (
	"bufio"
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/hayotensor/subnet/pkg/conn"
	"github.com/hayotensor/subnet/pkg/protocol"
	"github.com/hayotensor/subnet/pkg/protocol/codec"
	"github.com/hayotensor/subnet/pkg/retry"
	"github.com/hayotensor/subnet/pkg/session"
	"github.com/hayotensor/subnet/pkg/telemetry"
	"github.com/hayotensor/subnet/pkg/transport"
)

const component = "proxy"

// Server accepts inbound task requests and forwards each over a fresh
// outbound session to the configured downstream peer.
type Server struct {
	reg    *codec.Registry
	format protocol.Format

	downTR   transport.Transport
	downAddr string
	policy   retry.Policy
}

// New builds a proxy forwarding to address over tr. The retry policy
// bounds outbound reconnect attempts; an exhausted policy is what turns
// an unreachable downstream into a synthesized terminal Error instead
// of an endless retry.
func New(reg *codec.Registry, format protocol.Format, tr transport.Transport, address string, policy retry.Policy) *Server {
	return &Server{reg: reg, format: format, downTR: tr, downAddr: address, policy: policy}
}

// Serve accepts connections until ctx is canceled or the listener
// fails.
func (s *Server) Serve(ctx context.Context, l transport.Listener) error {
	zap.L().Info("proxy listening", zap.String("addr", l.Addr().String()),
		zap.String("downstream", s.downAddr))
	for {
		c, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		zap.L().Info("inbound connection", zap.String("remote", c.RemoteAddr().String()))
		go s.handleConn(ctx, c)
	}
}

// handleConn supervises one inbound connection: it reads successive
// requests and spawns one child per request, waiting for all children
// before returning. Requests on the same connection run concurrently
// and their responses may interleave on the wire.
func (s *Server) handleConn(ctx context.Context, c transport.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer c.Close()

	br := bufio.NewReader(c)
	bw := bufio.NewWriter(c)
	var sendMu sync.Mutex
	send := func(payload []byte) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		if err := protocol.WriteFrame(bw, payload); err != nil {
			return err
		}
		return bw.Flush()
	}

	for {
		payload, err := protocol.ReadFrame(br)
		if err != nil {
			if !errors.Is(err, protocol.ErrEndOfStream) && ctx.Err() == nil {
				zap.L().Warn("inbound read failed", zap.Error(err))
			}
			return
		}
		req, err := protocol.DecodeRequest(s.reg, payload)
		if err != nil {
			// Malformed envelopes are rejected at the boundary, never
			// forwarded downstream.
			zap.L().Warn("rejecting malformed request", zap.Error(err))
			telemetry.DroppedRequestsTotal.WithLabelValues(component).Inc()
			continue
		}
		if req.CorrelationID == "" {
			// Protocol rule: a request without a correlation id gets no
			// response at all.
			zap.L().Warn("dropping request without correlation id")
			telemetry.DroppedRequestsTotal.WithLabelValues(component).Inc()
			continue
		}
		telemetry.RequestsTotal.WithLabelValues(component).Inc()
		wg.Add(1)
		go func(corrID string, raw []byte) {
			defer wg.Done()
			s.relay(ctx, corrID, raw, send)
		}(req.CorrelationID, payload)
	}
}

// relay forwards one request downstream over a fresh connection and
// copies every response back verbatim until the terminal message. If
// the outbound exchange dies first, the inbound caller still receives
// exactly one terminal: a synthesized Error describing the proxy
// failure.
func (s *Server) relay(ctx context.Context, corrID string, raw []byte, send func([]byte) error) {
	// A per-request context tears the outbound session down when the
	// relay stops early, e.g. because the inbound caller went away.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mgr := conn.NewManager(s.downTR, s.downAddr, s.policy)
	sess := session.NewFromRaw(mgr, s.reg, corrID, raw)
	defer sess.Close()

	sawTerminal := false
	for d := range sess.Exchange(ctx) {
		if err := send(d.Raw); err != nil {
			zap.L().Warn("relay to caller failed, abandoning request",
				zap.String("correlation_id", corrID), zap.Error(err))
			return
		}
		if d.Resp.Type == protocol.TypeChunk {
			telemetry.ChunksTotal.WithLabelValues(component).Inc()
		}
		if d.Resp.Terminal() {
			sawTerminal = true
		}
	}
	if sawTerminal {
		zap.L().Debug("relay complete", zap.String("correlation_id", corrID))
		return
	}
	if ctx.Err() != nil {
		return
	}

	reason := "downstream unavailable"
	if err := sess.Err(); err != nil {
		reason = err.Error()
	}
	zap.L().Error("synthesizing proxy error",
		zap.String("correlation_id", corrID), zap.String("reason", reason))
	telemetry.ErrorsTotal.WithLabelValues(component).Inc()
	resp := protocol.Errorf(corrID, 502, "proxy error: %s", reason)
	payload, err := protocol.EncodeResponse(s.reg, s.format, resp)
	if err != nil {
		return
	}
	// The caller may already be gone; nothing more to do then.
	_ = send(payload)
}
