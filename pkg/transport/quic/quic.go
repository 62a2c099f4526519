// Package quic implements the transport over QUIC. Each logical
// connection maps to one QUIC connection carrying a single
// bidirectional stream opened by the dialer.
package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/hayotensor/subnet/pkg/transport"
)

const alpn = "subnet"

// Transport implements QUIC dial/listen with an ephemeral self-signed
// server certificate. Peers do not verify the certificate; trust is
// established at the application layer (static allow-lists).
type Transport struct {
	tlsConf  *tls.Config
	quicConf *quicgo.Config
}

func New() (*Transport, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, err
	}
	return &Transport{
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpn},
			MinVersion:   tls.VersionTLS13,
		},
		quicConf: &quicgo.Config{MaxIdleTimeout: 5 * time.Minute},
	}, nil
}

func (t *Transport) Kind() string { return "quic" }

func (t *Transport) Dial(ctx context.Context, address string) (transport.Conn, error) {
	tlsClient := &tls.Config{
		InsecureSkipVerify: true, // trust decided at the application layer
		NextProtos:         []string{alpn},
		MinVersion:         tls.VersionTLS13,
	}
	qc, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
	if err != nil {
		return nil, err
	}
	st, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "open stream failed")
		return nil, err
	}
	return &conn{qc: qc, st: st}, nil
}

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	ql, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, err
	}
	l := &listener{ql: ql, newCh: make(chan *conn, 8), closeCh: make(chan struct{})}
	go l.acceptLoop(ctx)
	go func() { <-ctx.Done(); _ = l.Close() }()
	return l, nil
}

type listener struct {
	ql      *quicgo.Listener
	newCh   chan *conn
	closeCh chan struct{}
}

func (l *listener) Addr() net.Addr { return l.ql.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("quic: listener closed")
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
	return l.ql.Close()
}

func (l *listener) acceptLoop(ctx context.Context) {
	for {
		qc, err := l.ql.Accept(ctx)
		if err != nil {
			return
		}
		go func() {
			// The dialer opens the stream; accepting it may block until
			// the first byte arrives.
			st, err := qc.AcceptStream(ctx)
			if err != nil {
				_ = qc.CloseWithError(0, "accept stream failed")
				return
			}
			select {
			case l.newCh <- &conn{qc: qc, st: st}:
			case <-l.closeCh:
				_ = qc.CloseWithError(0, "listener closed")
			}
		}()
	}
}

type conn struct {
	qc quicgo.Connection
	st quicgo.Stream
}

func (c *conn) Read(p []byte) (int, error)  { return c.st.Read(p) }
func (c *conn) Write(p []byte) (int, error) { return c.st.Write(p) }
func (c *conn) LocalAddr() net.Addr         { return c.qc.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr        { return c.qc.RemoteAddr() }

func (c *conn) Close() error {
	_ = c.st.Close()
	return c.qc.CloseWithError(0, "closed")
}

func selfSignedCert() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "subnet"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
