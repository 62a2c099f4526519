package conn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hayotensor/subnet/pkg/protocol"
	"github.com/hayotensor/subnet/pkg/retry"
	"github.com/hayotensor/subnet/pkg/transport"
	"github.com/hayotensor/subnet/pkg/transport/mem"
)

func quickPolicy() retry.Policy {
	return retry.Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2, MaxAttempts: 3}
}

// echoServer accepts one connection and echoes frames until close.
func echoServer(t *testing.T, ctx context.Context, tr *mem.Transport, addr string) {
	t.Helper()
	l, err := tr.Listen(ctx, addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			c, err := l.Accept(ctx)
			if err != nil {
				return
			}
			go func(c transport.Conn) {
				defer c.Close()
				for {
					payload, err := protocol.ReadFrame(c)
					if err != nil {
						return
					}
					if err := protocol.WriteFrame(c, payload); err != nil {
						return
					}
				}
			}(c)
		}
	}()
}

func TestConnectSendRecv(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := mem.New()
	echoServer(t, ctx, tr, "echo")

	m := NewManager(tr, "echo", quickPolicy())
	defer m.Close()
	if m.Connected() {
		t.Fatal("connected before Connect")
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !m.Connected() {
		t.Fatal("not connected after Connect")
	}

	if err := m.Send([]byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := m.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(got) != "ping" {
		t.Fatalf("recv = %q", got)
	}
}

func TestConnectExhaustsBoundedPolicy(t *testing.T) {
	tr := mem.New() // no listener registered
	m := NewManager(tr, "nowhere", quickPolicy())
	defer m.Close()

	err := m.Connect(context.Background())
	if !errors.Is(err, retry.ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}
	if m.Connected() {
		t.Fatal("connected after failed Connect")
	}
}

func TestConnectCanceled(t *testing.T) {
	tr := mem.New()
	m := NewManager(tr, "nowhere", retry.Fixed(time.Minute))
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := m.Connect(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestSendRecvWhenBroken(t *testing.T) {
	tr := mem.New()
	m := NewManager(tr, "echo", quickPolicy())
	if err := m.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send err = %v, want ErrNotConnected", err)
	}
	if _, err := m.Recv(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("recv err = %v, want ErrNotConnected", err)
	}
}

func TestRecvAfterPeerClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := mem.New()
	l, err := tr.Listen(ctx, "oneshot")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		c, err := l.Accept(ctx)
		if err != nil {
			return
		}
		_ = c.Close()
	}()

	m := NewManager(tr, "oneshot", quickPolicy())
	defer m.Close()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := m.Recv(); !errors.Is(err, protocol.ErrEndOfStream) {
		t.Fatalf("recv err = %v, want ErrEndOfStream", err)
	}
	if m.Connected() {
		t.Fatal("still connected after end of stream")
	}
}
