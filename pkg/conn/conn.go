// Package conn manages a single logical connection to a peer: framed
// send/receive plus caller-initiated reconnect with backoff.
package conn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hayotensor/subnet/pkg/protocol"
	"github.com/hayotensor/subnet/pkg/retry"
	"github.com/hayotensor/subnet/pkg/transport"
)

// ErrNotConnected is returned by Send and Recv when the connection is
// broken; the caller decides when to Connect again.
var ErrNotConnected = errors.New("conn: not connected")

// Manager owns one outbound connection. It never reconnects on its own
// mid-call: a failed Send or Recv marks the connection broken and it is
// the session's job to call Connect before retrying the exchange.
//
// A Manager is meant for a single logical caller; concurrent Send or
// Recv from multiple sessions is not supported (each session owns a
// private Manager).
type Manager struct {
	tr      transport.Transport
	address string
	policy  retry.Policy

	mu  sync.Mutex
	cur transport.Conn
	br  *bufio.Reader
	bw  *bufio.Writer
}

func NewManager(tr transport.Transport, address string, policy retry.Policy) *Manager {
	return &Manager{tr: tr, address: address, policy: policy}
}

// Connected reports whether a channel is currently established.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur != nil
}

// Connect establishes the channel, retrying per the injected backoff
// policy. With an unbounded policy it only returns on success or when
// ctx is canceled.
func (m *Manager) Connect(ctx context.Context) error {
	m.MarkBroken()
	for attempt := 0; ; attempt++ {
		c, err := m.tr.Dial(ctx, m.address)
		if err == nil {
			m.mu.Lock()
			m.cur = c
			m.br = bufio.NewReader(c)
			m.bw = bufio.NewWriter(c)
			m.mu.Unlock()
			zap.L().Debug("connected",
				zap.String("kind", m.tr.Kind()), zap.String("addr", m.address))
			return nil
		}
		zap.L().Warn("connect failed, backing off",
			zap.String("kind", m.tr.Kind()), zap.String("addr", m.address),
			zap.Int("attempt", attempt+1), zap.Error(err))
		if werr := m.policy.Wait(ctx, attempt); werr != nil {
			if errors.Is(werr, retry.ErrAttemptsExhausted) {
				return fmt.Errorf("conn: dial %s %s: %w: %w", m.tr.Kind(), m.address, werr, err)
			}
			return werr
		}
	}
}

// Send writes one framed payload. It fails with ErrNotConnected when
// the channel is broken; an I/O failure breaks the channel.
func (m *Manager) Send(payload []byte) error {
	m.mu.Lock()
	bw := m.bw
	m.mu.Unlock()
	if bw == nil {
		return ErrNotConnected
	}
	if err := protocol.WriteFrame(bw, payload); err != nil {
		m.MarkBroken()
		return err
	}
	if err := bw.Flush(); err != nil {
		m.MarkBroken()
		return err
	}
	return nil
}

// Recv reads the next framed payload. It returns
// protocol.ErrEndOfStream on clean remote close and a transport error
// otherwise; both leave the connection broken.
func (m *Manager) Recv() ([]byte, error) {
	m.mu.Lock()
	br := m.br
	m.mu.Unlock()
	if br == nil {
		return nil, ErrNotConnected
	}
	payload, err := protocol.ReadFrame(br)
	if err != nil {
		m.MarkBroken()
		return nil, err
	}
	return payload, nil
}

// MarkBroken tears down the current channel, if any.
func (m *Manager) MarkBroken() {
	m.mu.Lock()
	cur := m.cur
	m.cur, m.br, m.bw = nil, nil, nil
	m.mu.Unlock()
	if cur != nil {
		_ = cur.Close()
	}
}

// Close releases the connection for good.
func (m *Manager) Close() error {
	m.MarkBroken()
	return nil
}
