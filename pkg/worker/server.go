// Package worker serves task requests by driving a registered
// processor and streaming its output back one chunk at a time, always
// closing each request with exactly one terminal message.
package worker

import (
	"bufio"
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/hayotensor/subnet/pkg/protocol"
	"github.com/hayotensor/subnet/pkg/protocol/codec"
	"github.com/hayotensor/subnet/pkg/telemetry"
	"github.com/hayotensor/subnet/pkg/transport"
)

const component = "worker"

// Server handles inbound task requests against a processor registry.
type Server struct {
	reg          *codec.Registry
	format       protocol.Format
	models       *Registry
	defaultModel string
}

func New(reg *codec.Registry, format protocol.Format, models *Registry, defaultModel string) *Server {
	return &Server{reg: reg, format: format, models: models, defaultModel: defaultModel}
}

// Serve accepts connections until ctx is canceled or the listener
// fails.
func (s *Server) Serve(ctx context.Context, l transport.Listener) error {
	zap.L().Info("worker listening", zap.String("addr", l.Addr().String()),
		zap.Strings("models", s.models.Names()))
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

// handleConn supervises one inbound connection, spawning a child per
// request and waiting for all of them before returning. Requests run
// concurrently; the send function serializes response writes.
func (s *Server) handleConn(ctx context.Context, c transport.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer c.Close()

	br := bufio.NewReader(c)
	bw := bufio.NewWriter(c)
	var sendMu sync.Mutex
	send := func(resp protocol.TaskResponse) error {
		payload, err := protocol.EncodeResponse(s.reg, s.format, resp)
		if err != nil {
			return err
		}
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
			zap.L().Warn("rejecting malformed request", zap.Error(err))
			telemetry.DroppedRequestsTotal.WithLabelValues(component).Inc()
			continue
		}
		if req.CorrelationID == "" {
			zap.L().Warn("dropping request without correlation id")
			telemetry.DroppedRequestsTotal.WithLabelValues(component).Inc()
			continue
		}
		telemetry.RequestsTotal.WithLabelValues(component).Inc()
		wg.Add(1)
		go func(req protocol.TaskRequest) {
			defer wg.Done()
			s.handleTask(ctx, req, send)
		}(req)
	}
}

// handleTask drives one request to completion. Whatever happens, at
// most one terminal message goes out, and a failure to transmit a
// response is swallowed: the peer being gone is not this handler's
// problem.
func (s *Server) handleTask(ctx context.Context, req protocol.TaskRequest, send func(protocol.TaskResponse) error) {
	log := zap.L().With(zap.String("correlation_id", req.CorrelationID))
	log.Info("processing task", zap.String("task_type", req.TaskType))

	// Every request gets its own cancelable context so an abandoned
	// task releases its processor goroutine, not just timed-out ones.
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	payload := DecodePayload(req.Payload)
	model := payload.Model
	if model == "" {
		model = s.defaultModel
	}

	proc, ok := s.models.Get(model)
	if !ok {
		log.Warn("model not found", zap.String("model", model))
		telemetry.ErrorsTotal.WithLabelValues(component).Inc()
		s.sendError(req.CorrelationID, 404, "model %q not found", model, send, log)
		return
	}

	tokens, err := proc.Generate(ctx, payload.Prompt)
	if err != nil {
		log.Error("processor failed to start", zap.Error(err))
		telemetry.ErrorsTotal.WithLabelValues(component).Inc()
		s.sendError(req.CorrelationID, 500, "%s", err.Error(), send, log)
		return
	}

	for tok := range tokens {
		if tok.Err != nil {
			log.Error("processor failed mid-stream", zap.Error(tok.Err))
			telemetry.ErrorsTotal.WithLabelValues(component).Inc()
			s.sendError(req.CorrelationID, 500, "%s", tok.Err.Error(), send, log)
			return
		}
		if err := send(protocol.Chunk(req.CorrelationID, tok.Text)); err != nil {
			// Peer gone mid-stream; nothing can be delivered anymore.
			log.Warn("chunk send failed, abandoning task", zap.Error(err))
			return
		}
		telemetry.ChunksTotal.WithLabelValues(component).Inc()
	}
	if err := ctx.Err(); err != nil {
		telemetry.ErrorsTotal.WithLabelValues(component).Inc()
		s.sendError(req.CorrelationID, 504, "task canceled: %s", err.Error(), send, log)
		return
	}

	if err := send(protocol.Done(req.CorrelationID)); err != nil {
		log.Warn("done send failed", zap.Error(err))
		return
	}
	log.Info("task complete")
}

func (s *Server) sendError(corrID string, status int, format, msg string, send func(protocol.TaskResponse) error, log *zap.Logger) {
	if err := send(protocol.Errorf(corrID, status, format, msg)); err != nil {
		log.Warn("error send failed", zap.Error(err))
	}
}
