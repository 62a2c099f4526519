package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hayotensor/subnet/pkg/protocol/codec"
)

// ErrEndOfStream signals that the remote side closed the channel before
// a full frame arrived. It is a clean end-of-conversation condition,
// distinct from a transport error, and callers are expected to treat it
// as "no more messages will arrive".
var ErrEndOfStream = errors.New("protocol: end of stream")

// maxFrameSize guards against absurd length prefixes.
const maxFrameSize = 1 << 24

// WriteFrame writes one length-prefixed frame: a 4-byte big-endian
// payload length followed by the payload itself.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("protocol: frame too large: %d", len(payload))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads the next length-prefixed frame. A remote close at any
// point of the read, before or inside a frame, yields ErrEndOfStream.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, eosOr(err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("protocol: frame too large: %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, eosOr(err)
	}
	return buf, nil
}

func eosOr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrEndOfStream
	}
	return err
}

// Format is a compact on-wire indicator of payload encoding. It is
// carried as the first byte of every frame payload so that a receiver
// can decode without out-of-band negotiation.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatJSON
	FormatCBOR
	FormatProto
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCBOR:
		return "application/cbor"
	case FormatProto:
		return "application/x-protobuf"
	default:
		return "application/octet-stream"
	}
}

// ParseFormat maps a config string to a Format, defaulting to CBOR.
func ParseFormat(s string) Format {
	switch s {
	case "json":
		return FormatJSON
	case "proto", "protobuf":
		return FormatProto
	case "", "cbor":
		return FormatCBOR
	default:
		return FormatUnknown
	}
}

// CodecFor returns the registry codec for a format.
func CodecFor(r *codec.Registry, f Format) (codec.Codec, error) {
	if c := r.Get(f.String()); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("protocol: no codec for format %d", f)
}

// EncodeBody serializes m with the codec for f and prefixes the result
// with a single format byte.
func EncodeBody(r *codec.Registry, f Format, m map[string]any) ([]byte, error) {
	c, err := CodecFor(r, f)
	if err != nil {
		return nil, err
	}
	b, err := c.Marshal(m)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+len(b))
	out[0] = byte(f)
	copy(out[1:], b)
	return out, nil
}

// DecodeBody decodes a payload produced by EncodeBody.
func DecodeBody(r *codec.Registry, payload []byte) (map[string]any, Format, error) {
	if len(payload) == 0 {
		return nil, FormatUnknown, errors.New("protocol: empty payload")
	}
	f := Format(payload[0])
	c, err := CodecFor(r, f)
	if err != nil {
		return nil, f, err
	}
	m, err := c.Unmarshal(payload[1:])
	if err != nil {
		return nil, f, err
	}
	return m, f, nil
}

// EncodeRequest serializes a request into a frame payload.
func EncodeRequest(r *codec.Registry, f Format, req TaskRequest) ([]byte, error) {
	return EncodeBody(r, f, req.toMap())
}

// DecodeRequest parses a frame payload into a request. Unknown keys are
// ignored; missing keys yield zero values, validation is the caller's
// concern (the proxy only requires a correlation id).
func DecodeRequest(r *codec.Registry, payload []byte) (TaskRequest, error) {
	m, _, err := DecodeBody(r, payload)
	if err != nil {
		return TaskRequest{}, err
	}
	return requestFromMap(m)
}

// EncodeResponse serializes a response message into a frame payload.
func EncodeResponse(r *codec.Registry, f Format, resp TaskResponse) ([]byte, error) {
	return EncodeBody(r, f, resp.toMap())
}

// DecodeResponse parses a frame payload into a response message.
func DecodeResponse(r *codec.Registry, payload []byte) (TaskResponse, error) {
	m, _, err := DecodeBody(r, payload)
	if err != nil {
		return TaskResponse{}, err
	}
	return responseFromMap(m)
}
