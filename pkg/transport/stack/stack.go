// Package stack constructs transports by configured kind.
package stack

import (
	"fmt"

	"github.com/hayotensor/subnet/pkg/transport"
	"github.com/hayotensor/subnet/pkg/transport/mem"
	"github.com/hayotensor/subnet/pkg/transport/quic"
	"github.com/hayotensor/subnet/pkg/transport/sock"
)

// NewByKind builds a Transport for a config kind string.
// Note: "mem" returns a fresh namespace each call; callers that need a
// shared in-process network must construct mem.New themselves.
func NewByKind(kind string) (transport.Transport, error) {
	switch kind {
	case "unix", "":
		return sock.Unix(), nil
	case "tcp":
		return sock.TCP(), nil
	case "quic":
		return quic.New()
	case "mem", "inproc":
		return mem.New(), nil
	default:
		return nil, fmt.Errorf("unknown transport kind: %q", kind)
	}
}
