// Package mcp is the remote procedure collaborator: a JSON-RPC 2.0
// client for the MCP server that fronts GitHub and other tools.
//
// A request is one POST whose body is the JSON-RPC envelope; the reply
// carries either a result or an error member. The server may hand back
// an Mcp-Session header, which is echoed on later requests.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

const jsonrpcVersion = "2.0"

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// NewRequest builds a request. nil params are sent as an empty object,
// which is what the servers we talk to expect.
func NewRequest(id int64, method string, params map[string]any) *Request {
	if params == nil {
		params = map[string]any{}
	}
	return &Request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}
}

// Response is a JSON-RPC 2.0 response. A well-formed response sets
// exactly one of Result and Error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Transport delivers one request and returns its response.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
	Close() error
}
