// Package gateway exposes task submission over HTTP as a JSON-RPC 2.0
// line stream: one POST, many newline-delimited response envelopes.
package gateway

import (
	"io"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hayotensor/subnet/pkg/protocol"
	"github.com/hayotensor/subnet/pkg/session"
	"github.com/hayotensor/subnet/pkg/telemetry"
)

const component = "gateway"

// maxBodyBytes caps the request envelope size.
const maxBodyBytes = 1 << 20

// Server translates JSON-RPC submissions into correlated task sessions
// against the router.
type Server struct {
	client *session.Client
	allow  map[string]struct{}
}

// New builds a gateway. An empty allowList admits every source address.
func New(client *session.Client, allowList []string) *Server {
	allow := make(map[string]struct{}, len(allowList))
	for _, a := range allowList {
		allow[a] = struct{}{}
	}
	return &Server{client: client, allow: allow}
}

// Handler returns the HTTP surface: POST /jsonrpc for submissions,
// GET /metrics for Prometheus, GET /healthz for liveness.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allowed(r.RemoteAddr) {
		zap.L().Warn("rejecting source not on allow list", zap.String("remote", r.RemoteAddr))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, protocol.CodeParseError, "parse error")
		return
	}
	req, rpcErr := protocol.DecodeRPCRequest(body)
	if rpcErr != nil {
		writeError(w, statusFor(rpcErr.Code), req.ID, rpcErr.Code, rpcErr.Message)
		return
	}
	params, rpcErr := protocol.DecodeSubmitParams(req)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	telemetry.RequestsTotal.WithLabelValues(component).Inc()
	task := protocol.NewTaskRequest(session.NewCorrelationID(), params.Payload)
	task.TaskType = params.TaskType
	sess, err := s.client.SubmitRequest(task)
	if err != nil {
		zap.L().Error("submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, req.ID, protocol.CodeInternalError, "internal error")
		return
	}
	defer sess.Close()

	s.stream(w, r, req.ID, sess)
}

// stream relays the session's response messages as newline-delimited
// envelopes, flushing after each one so the caller sees chunks as they
// arrive.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, id any, sess *session.Session) {
	log := zap.L().With(zap.String("correlation_id", sess.CorrelationID()))
	log.Info("streaming task response")

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	emit := func(env protocol.RPCResponse) bool {
		line, err := protocol.EncodeLine(env)
		if err != nil {
			log.Error("encode envelope failed", zap.Error(err))
			return false
		}
		if _, err := w.Write(line); err != nil {
			log.Warn("client went away mid-stream", zap.Error(err))
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	sawTerminal := false
	for d := range sess.Exchange(r.Context()) {
		if d.Resp.Type == protocol.TypeChunk {
			telemetry.ChunksTotal.WithLabelValues(component).Inc()
		}
		if d.Resp.Terminal() {
			sawTerminal = true
		}
		if !emit(protocol.NewRPCResult(id, d.Resp)) {
			return
		}
	}
	if !sawTerminal {
		telemetry.ErrorsTotal.WithLabelValues(component).Inc()
		msg := "exchange failed"
		if err := sess.Err(); err != nil {
			msg = err.Error()
		}
		emit(protocol.NewRPCError(id, protocol.CodeInternalError, msg))
		return
	}
	log.Info("stream complete")
}

// allowed checks the source host of remoteAddr against the allow list.
func (s *Server) allowed(remoteAddr string) bool {
	if len(s.allow) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	_, ok := s.allow[host]
	return ok
}

func statusFor(code int) int {
	if code == protocol.CodeMethodNotFound {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func writeError(w http.ResponseWriter, status int, id any, code int, msg string) {
	telemetry.DroppedRequestsTotal.WithLabelValues(component).Inc()
	line, err := protocol.EncodeLine(protocol.NewRPCError(id, code, msg))
	if err != nil {
		http.Error(w, msg, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(line)
}
