// Package protocol defines the task streaming wire protocol: the
// request/response messages, the length-prefixed binary framing and the
// JSON-RPC line framing used by HTTP transports.
//
// Every message travels as a self-describing string-keyed map so that
// forwarding hops can relay frames without understanding the payload.
// A correlation id binds a request to its stream of responses; the
// stream is zero or more chunks followed by exactly one terminal
// message (done or error).
package protocol

import (
	"fmt"
	"time"
)

// TaskTypeGeneric is the only task kind currently defined.
const TaskTypeGeneric = "generic"

// Response message types.
const (
	TypeChunk = "chunk"
	TypeDone  = "done"
	TypeError = "error"
)

// Version is the protocol version stamped on outgoing requests.
const Version = 1

// TaskRequest is the request envelope for subnet tasks.
//
// CorrelationID is assigned exactly once by the originating party and
// is opaque to every forwarding hop. Payload is an opaque string; a
// worker may interpret it further (see worker.DecodePayload), the
// protocol itself never does.
type TaskRequest struct {
	CorrelationID string
	TaskType      string
	Payload       string
	Metadata      map[string]string
	CreatedAt     time.Time
	Timeout       time.Duration // zero means no deadline
	Version       int
}

// NewTaskRequest builds a generic request with CreatedAt set to now.
// The caller supplies the correlation id (see session.NewCorrelationID).
func NewTaskRequest(corrID, payload string) TaskRequest {
	return TaskRequest{
		CorrelationID: corrID,
		TaskType:      TaskTypeGeneric,
		Payload:       payload,
		CreatedAt:     time.Now(),
		Version:       Version,
	}
}

// TaskResponse is one message of a response stream: a chunk, a done
// marker or an error marker.
type TaskResponse struct {
	CorrelationID string
	Type          string
	Data          string // chunk payload
	Message       string // error description
	StatusCode    int
	Metadata      map[string]string
}

// Terminal reports whether the message ends its correlation id's stream.
func (r TaskResponse) Terminal() bool { return r.Type == TypeDone || r.Type == TypeError }

// Chunk builds a chunk message for the given correlation id.
func Chunk(corrID, data string) TaskResponse {
	return TaskResponse{CorrelationID: corrID, Type: TypeChunk, Data: data, StatusCode: 200}
}

// Done builds the successful terminal message.
func Done(corrID string) TaskResponse {
	return TaskResponse{CorrelationID: corrID, Type: TypeDone, StatusCode: 200}
}

// Errorf builds the failing terminal message.
func Errorf(corrID string, status int, format string, args ...any) TaskResponse {
	return TaskResponse{
		CorrelationID: corrID,
		Type:          TypeError,
		Message:       fmt.Sprintf(format, args...),
		StatusCode:    status,
	}
}

// Wire keys shared by both message kinds.
const (
	keyCorrelation = "request_id"
	keyTaskType    = "task_type"
	keyPayload     = "payload"
	keyMetadata    = "metadata"
	keyCreatedMS   = "created_unix_ms"
	keyTimeoutMS   = "timeout_ms"
	keyVersion     = "version"
	keyType        = "type"
	keyData        = "data"
	keyMessage     = "message"
	keyStatusCode  = "status_code"
)

func (r TaskRequest) toMap() map[string]any {
	m := map[string]any{
		keyCorrelation: r.CorrelationID,
		keyTaskType:    r.TaskType,
		keyPayload:     r.Payload,
		keyVersion:     r.Version,
	}
	if !r.CreatedAt.IsZero() {
		m[keyCreatedMS] = r.CreatedAt.UnixMilli()
	}
	if r.Timeout > 0 {
		m[keyTimeoutMS] = r.Timeout.Milliseconds()
	}
	if len(r.Metadata) > 0 {
		m[keyMetadata] = stringMapToAny(r.Metadata)
	}
	return m
}

func requestFromMap(m map[string]any) (TaskRequest, error) {
	req := TaskRequest{
		CorrelationID: asString(m[keyCorrelation]),
		TaskType:      asString(m[keyTaskType]),
		Payload:       asString(m[keyPayload]),
		Metadata:      anyMapToString(m[keyMetadata]),
		Version:       int(asInt64(m[keyVersion])),
	}
	if ms := asInt64(m[keyCreatedMS]); ms != 0 {
		req.CreatedAt = time.UnixMilli(ms)
	}
	if ms := asInt64(m[keyTimeoutMS]); ms != 0 {
		req.Timeout = time.Duration(ms) * time.Millisecond
	}
	return req, nil
}

func (r TaskResponse) toMap() map[string]any {
	m := map[string]any{
		keyCorrelation: r.CorrelationID,
		keyType:        r.Type,
	}
	if r.Data != "" {
		m[keyData] = r.Data
	}
	if r.Message != "" {
		m[keyMessage] = r.Message
	}
	if r.StatusCode != 0 {
		m[keyStatusCode] = r.StatusCode
	}
	if len(r.Metadata) > 0 {
		m[keyMetadata] = stringMapToAny(r.Metadata)
	}
	return m
}

func responseFromMap(m map[string]any) (TaskResponse, error) {
	resp := TaskResponse{
		CorrelationID: asString(m[keyCorrelation]),
		Type:          asString(m[keyType]),
		Data:          asString(m[keyData]),
		Message:       asString(m[keyMessage]),
		StatusCode:    int(asInt64(m[keyStatusCode])),
		Metadata:      anyMapToString(m[keyMetadata]),
	}
	switch resp.Type {
	case TypeChunk, TypeDone, TypeError:
		return resp, nil
	default:
		return resp, fmt.Errorf("protocol: unknown response type %q", resp.Type)
	}
}

// Leaf coercion helpers. Codecs disagree on number representation
// (JSON decodes float64, CBOR int64/uint64, structpb float64), so map
// extraction tolerates all of them.

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func anyMapToString(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = asString(val)
	}
	return out
}
