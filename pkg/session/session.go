// Package session implements the correlated stream exchange: one
// request, one correlation id, a lazy stream of response messages
// ending in exactly one terminal, across however many physical
// connection attempts it takes.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hayotensor/subnet/pkg/conn"
	"github.com/hayotensor/subnet/pkg/protocol"
	"github.com/hayotensor/subnet/pkg/protocol/codec"
)

// NewCorrelationID generates an opaque correlation token.
func NewCorrelationID() string { return uuid.NewString() }

// Delivery is one response message observed by a session, carrying both
// the decoded form and the raw frame payload for verbatim relay.
type Delivery struct {
	Resp protocol.TaskResponse
	Raw  []byte
}

// TaskError is the terminal error of a response stream.
type TaskError struct {
	Message    string
	StatusCode int
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task failed (%d): %s", e.StatusCode, e.Message)
}

// Session is the logical exchange for a single request. It owns the
// correlation id and a private connection manager.
//
// On a lost connection before the terminal message, the session
// reconnects and resends the same request bytes with the same
// correlation id. Fragments already delivered are not suppressed on
// resubmit; delivery is at-most-once per attempt, not exactly-once.
type Session struct {
	mgr    *conn.Manager
	reg    *codec.Registry
	corrID string
	reqRaw []byte

	mu  sync.Mutex
	err error
}

// New prepares a session for req. The request must already carry its
// correlation id; it is encoded once and resent verbatim on every
// attempt.
func New(mgr *conn.Manager, reg *codec.Registry, format protocol.Format, req protocol.TaskRequest) (*Session, error) {
	if req.CorrelationID == "" {
		return nil, errors.New("session: request has no correlation id")
	}
	raw, err := protocol.EncodeRequest(reg, format, req)
	if err != nil {
		return nil, err
	}
	return &Session{mgr: mgr, reg: reg, corrID: req.CorrelationID, reqRaw: raw}, nil
}

// NewFromRaw prepares a session around pre-encoded request bytes. Used
// by the proxy to forward an inbound request without re-encoding it.
func NewFromRaw(mgr *conn.Manager, reg *codec.Registry, corrID string, raw []byte) *Session {
	return &Session{mgr: mgr, reg: reg, corrID: corrID, reqRaw: raw}
}

// CorrelationID returns the id binding this exchange.
func (s *Session) CorrelationID() string { return s.corrID }

// Err reports why the exchange stopped without a terminal message. It
// is nil while the exchange runs and stays nil after a terminal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the underlying connection.
func (s *Session) Close() error { return s.mgr.Close() }

// Exchange sends the request and streams every matching response until
// the terminal message. The channel closes after the terminal, after an
// unrecoverable exchange failure (see Err), or once ctx is canceled.
// Messages for other correlation ids are discarded.
func (s *Session) Exchange(ctx context.Context) <-chan Delivery {
	out := make(chan Delivery)
	go s.run(ctx, out)
	return out
}

func (s *Session) run(ctx context.Context, out chan<- Delivery) {
	defer close(out)
	// Unblock any pending read when the caller gives up.
	stop := context.AfterFunc(ctx, func() { s.mgr.MarkBroken() })
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			s.fail(err)
			return
		}
		if !s.mgr.Connected() {
			if err := s.mgr.Connect(ctx); err != nil {
				s.fail(err)
				return
			}
		}
		if err := s.mgr.Send(s.reqRaw); err != nil {
			zap.L().Warn("request send failed, resubmitting",
				zap.String("correlation_id", s.corrID), zap.Error(err))
			continue
		}
		if s.receive(ctx, out) {
			return
		}
		// Connection lost before the terminal message: reconnect and
		// resubmit the whole request from the top.
		zap.L().Warn("connection lost mid-stream, resubmitting",
			zap.String("correlation_id", s.corrID))
	}
}

// receive pumps responses until the terminal message. It returns true
// when the exchange is finished (terminal seen or caller canceled) and
// false when the connection broke and the request must be resubmitted.
func (s *Session) receive(ctx context.Context, out chan<- Delivery) bool {
	for {
		payload, err := s.mgr.Recv()
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				s.fail(cerr)
				return true
			}
			// EndOfStream and transport errors are handled alike: the
			// channel is gone either way.
			return false
		}
		resp, err := protocol.DecodeResponse(s.reg, payload)
		if err != nil {
			zap.L().Warn("discarding undecodable response", zap.Error(err))
			continue
		}
		if resp.CorrelationID != s.corrID {
			// Belongs to another in-flight exchange on a shared wire.
			continue
		}
		select {
		case out <- Delivery{Resp: resp, Raw: payload}:
		case <-ctx.Done():
			s.fail(ctx.Err())
			return true
		}
		if resp.Terminal() {
			return true
		}
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Fragment is one chunk of streamed output, or the terminal failure.
type Fragment struct {
	Data string
	Err  error
}

// Stream adapts Exchange for end callers: it yields chunk data in
// order and closes after Done. A terminal Error message or an exchange
// failure arrives as the final Fragment with Err set, so a caller never
// sees a truncated stream without an accompanying error.
func (s *Session) Stream(ctx context.Context) <-chan Fragment {
	out := make(chan Fragment)
	go func() {
		defer close(out)
		emit := func(f Fragment) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}
		sawTerminal := false
		for d := range s.Exchange(ctx) {
			switch d.Resp.Type {
			case protocol.TypeChunk:
				if !emit(Fragment{Data: d.Resp.Data}) {
					return
				}
			case protocol.TypeDone:
				sawTerminal = true
			case protocol.TypeError:
				sawTerminal = true
				if !emit(Fragment{Err: &TaskError{Message: d.Resp.Message, StatusCode: d.Resp.StatusCode}}) {
					return
				}
			}
		}
		if !sawTerminal {
			err := s.Err()
			if err == nil {
				err = errors.New("session: stream ended without terminal message")
			}
			emit(Fragment{Err: err})
		}
	}()
	return out
}
