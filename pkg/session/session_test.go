package session

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/hayotensor/subnet/pkg/conn"
	"github.com/hayotensor/subnet/pkg/protocol"
	"github.com/hayotensor/subnet/pkg/protocol/codec"
	"github.com/hayotensor/subnet/pkg/retry"
	"github.com/hayotensor/subnet/pkg/transport"
	"github.com/hayotensor/subnet/pkg/transport/mem"
)

func quickPolicy() retry.Policy {
	return retry.Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2, MaxAttempts: 5}
}

func newRegistry(t *testing.T) *codec.Registry {
	t.Helper()
	reg, err := codec.NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

// connHandler serves one inbound connection: it receives the decoded
// request and a reply function, and returns when done with the
// connection. Closing the connection is the caller's job.
type connHandler func(req protocol.TaskRequest, reply func(protocol.TaskResponse))

// serve registers a listener that passes each accepted connection to
// the next handler in sequence, reusing the last one once the script
// runs out.
func serve(t *testing.T, ctx context.Context, tr *mem.Transport, addr string, reg *codec.Registry, handlers ...connHandler) {
	t.Helper()
	l, err := tr.Listen(ctx, addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for i := 0; ; i++ {
			c, err := l.Accept(ctx)
			if err != nil {
				return
			}
			h := handlers[min(i, len(handlers)-1)]
			go func(c transport.Conn, h connHandler) {
				defer c.Close()
				payload, err := protocol.ReadFrame(c)
				if err != nil {
					return
				}
				req, err := protocol.DecodeRequest(reg, payload)
				if err != nil {
					return
				}
				h(req, func(resp protocol.TaskResponse) {
					b, err := protocol.EncodeResponse(reg, protocol.FormatCBOR, resp)
					if err != nil {
						return
					}
					_ = protocol.WriteFrame(c, b)
				})
			}(c, h)
		}
	}()
}

func submit(t *testing.T, tr *mem.Transport, addr string, reg *codec.Registry, payload string) *Session {
	t.Helper()
	client := &Client{Transport: tr, Address: addr, Registry: reg, Format: protocol.FormatCBOR, Policy: quickPolicy()}
	sess, err := client.Submit(payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return sess
}

func TestExchangeHappyPath(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr := mem.New()
	reg := newRegistry(t)
	serve(t, ctx, tr, "srv", reg, func(req protocol.TaskRequest, reply func(protocol.TaskResponse)) {
		reply(protocol.Chunk(req.CorrelationID, "a"))
		reply(protocol.Chunk(req.CorrelationID, "b"))
		reply(protocol.Done(req.CorrelationID))
	})

	sess := submit(t, tr, "srv", reg, "payload")
	defer sess.Close()

	var types []string
	for d := range sess.Exchange(ctx) {
		types = append(types, d.Resp.Type)
	}
	want := []string{protocol.TypeChunk, protocol.TypeChunk, protocol.TypeDone}
	if len(types) != len(want) {
		t.Fatalf("deliveries = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("deliveries = %v, want %v", types, want)
		}
	}
	if err := sess.Err(); err != nil {
		t.Fatalf("session err = %v", err)
	}
}

func TestExchangeDiscardsForeignCorrelationIDs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr := mem.New()
	reg := newRegistry(t)
	serve(t, ctx, tr, "srv", reg, func(req protocol.TaskRequest, reply func(protocol.TaskResponse)) {
		reply(protocol.Chunk("someone-else", "not yours"))
		reply(protocol.Done("someone-else"))
		reply(protocol.Chunk(req.CorrelationID, "yours"))
		reply(protocol.Done(req.CorrelationID))
	})

	sess := submit(t, tr, "srv", reg, "payload")
	defer sess.Close()

	var data []string
	for d := range sess.Exchange(ctx) {
		if d.Resp.CorrelationID != sess.CorrelationID() {
			t.Fatalf("foreign delivery leaked: %+v", d.Resp)
		}
		if d.Resp.Type == protocol.TypeChunk {
			data = append(data, d.Resp.Data)
		}
	}
	if len(data) != 1 || data[0] != "yours" {
		t.Fatalf("chunks = %v", data)
	}
}

func TestExchangeResubmitsAfterDisconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr := mem.New()
	reg := newRegistry(t)

	seen := make(chan string, 2)
	// First connection dies after one chunk, before any terminal. The
	// session must reconnect and resend the same request, so the second
	// connection serves the full stream.
	serve(t, ctx, tr, "srv", reg,
		func(req protocol.TaskRequest, reply func(protocol.TaskResponse)) {
			seen <- req.CorrelationID
			reply(protocol.Chunk(req.CorrelationID, "partial"))
		},
		func(req protocol.TaskRequest, reply func(protocol.TaskResponse)) {
			seen <- req.CorrelationID
			reply(protocol.Chunk(req.CorrelationID, "full"))
			reply(protocol.Done(req.CorrelationID))
		},
	)

	sess := submit(t, tr, "srv", reg, "payload")
	defer sess.Close()

	var chunks []string
	sawDone := false
	for d := range sess.Exchange(ctx) {
		switch d.Resp.Type {
		case protocol.TypeChunk:
			chunks = append(chunks, d.Resp.Data)
		case protocol.TypeDone:
			sawDone = true
		}
	}
	if !sawDone {
		t.Fatalf("no terminal after resubmit; err = %v", sess.Err())
	}
	// Duplicate fragments across attempts are expected; the last chunk
	// must be from the successful attempt.
	if len(chunks) == 0 || chunks[len(chunks)-1] != "full" {
		t.Fatalf("chunks = %v", chunks)
	}
	first, second := <-seen, <-seen
	if first != second || first != sess.CorrelationID() {
		t.Fatalf("correlation ids across attempts: %q vs %q", first, second)
	}
}

func TestExchangeFailsWhenPeerUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr := mem.New() // nothing listening
	reg := newRegistry(t)

	sess := submit(t, tr, "nowhere", reg, "payload")
	defer sess.Close()

	for range sess.Exchange(ctx) {
		t.Fatal("unexpected delivery")
	}
	if err := sess.Err(); !errors.Is(err, retry.ErrAttemptsExhausted) {
		t.Fatalf("session err = %v, want ErrAttemptsExhausted", err)
	}
}

func TestStreamReportsTerminalError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr := mem.New()
	reg := newRegistry(t)
	serve(t, ctx, tr, "srv", reg, func(req protocol.TaskRequest, reply func(protocol.TaskResponse)) {
		reply(protocol.Chunk(req.CorrelationID, "before failure"))
		reply(protocol.Errorf(req.CorrelationID, 500, "generation failed"))
	})

	sess := submit(t, tr, "srv", reg, "payload")
	defer sess.Close()

	var frags []Fragment
	for f := range sess.Stream(ctx) {
		frags = append(frags, f)
	}
	if len(frags) != 2 {
		t.Fatalf("fragments = %+v", frags)
	}
	if frags[0].Data != "before failure" || frags[0].Err != nil {
		t.Fatalf("first fragment = %+v", frags[0])
	}
	var taskErr *TaskError
	if !errors.As(frags[1].Err, &taskErr) || taskErr.StatusCode != 500 {
		t.Fatalf("final fragment err = %v", frags[1].Err)
	}
}

func TestStreamNeverEndsSilently(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr := mem.New()
	reg := newRegistry(t)

	sess := submit(t, tr, "nowhere", reg, "payload")
	defer sess.Close()

	var last Fragment
	n := 0
	for f := range sess.Stream(ctx) {
		last = f
		n++
	}
	if n == 0 || last.Err == nil {
		t.Fatalf("stream ended without error fragment (n=%d, last=%+v)", n, last)
	}
}

func TestNewRequiresCorrelationID(t *testing.T) {
	reg := newRegistry(t)
	mgr := conn.NewManager(mem.New(), "x", quickPolicy())
	if _, err := New(mgr, reg, protocol.FormatCBOR, protocol.TaskRequest{Payload: "p"}); err == nil {
		t.Fatal("expected error for missing correlation id")
	}
}

func TestNewCorrelationIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewCorrelationID()
		if id == "" {
			t.Fatal("empty correlation id")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate correlation id %q", id)
		}
		seen[id] = struct{}{}
	}
}

// streamGoroutines counts live Stream adapter goroutines.
func streamGoroutines() int {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	return strings.Count(string(buf[:n]), "(*Session).Stream.func")
}

func TestStreamExitsWhenConsumerStopsDraining(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tr := mem.New()
	reg := newRegistry(t)
	// Long chunk burst with no terminal keeps the adapter mid-stream
	// when the consumer walks away.
	serve(t, ctx, tr, "srv", reg, func(req protocol.TaskRequest, reply func(protocol.TaskResponse)) {
		for i := 0; i < 1000; i++ {
			reply(protocol.Chunk(req.CorrelationID, "tick"))
		}
	})

	sess := submit(t, tr, "srv", reg, "payload")
	defer sess.Close()

	baseline := streamGoroutines()
	streamCtx, stop := context.WithCancel(ctx)
	frags := sess.Stream(streamCtx)
	if f := <-frags; f.Err != nil {
		t.Fatalf("first fragment: %v", f.Err)
	}
	// Cancel and never read another fragment; the adapter must not
	// stay parked on its output channel.
	stop()

	deadline := time.Now().Add(3 * time.Second)
	for streamGoroutines() > baseline {
		if time.Now().After(deadline) {
			t.Fatal("stream adapter goroutine still alive after cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
