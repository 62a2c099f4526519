package protocol

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 line framing for HTTP-streamed transports. Each message
// is one envelope on its own line; a response stream reuses the request
// id for every line and ends with a result of type done or error.

const JSONRPCVersion = "2.0"

// MethodSubmitTask is the only method of the gateway surface.
const MethodSubmitTask = "submit_task"

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RPCRequest is the inbound JSON-RPC envelope.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
}

// SubmitParams are the parameters of submit_task.
type SubmitParams struct {
	TaskType string `json:"task_type"`
	Payload  string `json:"payload"`
}

// RPCResult carries one protocol response message inside an envelope.
type RPCResult struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// RPCError is a JSON-RPC protocol-level error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// RPCResponse is the outbound JSON-RPC envelope.
type RPCResponse struct {
	JSONRPC string     `json:"jsonrpc"`
	Result  *RPCResult `json:"result,omitempty"`
	Error   *RPCError  `json:"error,omitempty"`
	ID      any        `json:"id"`
}

// NewRPCResult wraps one protocol response for a given envelope id.
func NewRPCResult(id any, resp TaskResponse) RPCResponse {
	return RPCResponse{
		JSONRPC: JSONRPCVersion,
		Result:  &RPCResult{Type: resp.Type, Data: resp.Data, Message: resp.Message},
		ID:      id,
	}
}

// NewRPCError builds a protocol-level error envelope.
func NewRPCError(id any, code int, message string) RPCResponse {
	return RPCResponse{
		JSONRPC: JSONRPCVersion,
		Error:   &RPCError{Code: code, Message: message},
		ID:      id,
	}
}

// EncodeLine marshals an envelope followed by a newline.
func EncodeLine(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// DecodeRPCRequest parses and validates an inbound envelope. The error,
// when non-nil, is an *RPCError whose code picks the HTTP status.
func DecodeRPCRequest(body []byte) (RPCRequest, *RPCError) {
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return req, &RPCError{Code: CodeParseError, Message: "parse error"}
	}
	if req.JSONRPC != JSONRPCVersion {
		return req, &RPCError{Code: CodeInvalidRequest, Message: "invalid jsonrpc envelope"}
	}
	if req.Method != MethodSubmitTask {
		return req, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
	return req, nil
}

// DecodeSubmitParams parses submit_task params from an envelope.
func DecodeSubmitParams(req RPCRequest) (SubmitParams, *RPCError) {
	var p SubmitParams
	if len(req.Params) == 0 {
		return p, &RPCError{Code: CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return p, &RPCError{Code: CodeInvalidParams, Message: "invalid params"}
	}
	if p.TaskType == "" {
		p.TaskType = TaskTypeGeneric
	}
	return p, nil
}
