package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ErrNoResult is returned for responses that carry neither a result nor
// an error.
var ErrNoResult = errors.New("response has no result")

// Caller issues remote procedure calls over a Transport.
type Caller struct {
	transport Transport
	logger    *slog.Logger
	nextID    atomic.Int64
}

// NewCaller returns a Caller using transport.
func NewCaller(transport Transport, logger *slog.Logger) *Caller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Caller{transport: transport, logger: logger}
}

// Call invokes method with params and returns the decoded result. A
// transport failure, an error member (as *RPCError) or an empty result
// is an error, so a nil result always comes with a non-nil error.
func (c *Caller) Call(ctx context.Context, method string, params map[string]any) (any, error) {
	id := c.nextID.Add(1)
	resp, err := c.transport.Send(ctx, NewRequest(id, method, params))
	if err != nil {
		c.logger.Error("MCP request failed", "method", method, "error", err)
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		c.logger.Error("MCP server returned an error", "method", method, "code", resp.Error.Code, "message", resp.Error.Message)
		return nil, fmt.Errorf("%s: %w", method, resp.Error)
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil, fmt.Errorf("%s: %w", method, ErrNoResult)
	}

	var result any
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("%s: decode result: %w", method, err)
	}
	c.logger.Info("MCP request succeeded", "method", method)
	return result, nil
}

// Ping checks whether the server answers. Any response, including an
// error member, counts as alive.
func (c *Caller) Ping(ctx context.Context) error {
	_, err := c.transport.Send(ctx, NewRequest(c.nextID.Add(1), "ping", nil))
	return err
}

// Close closes the transport.
func (c *Caller) Close() error {
	return c.transport.Close()
}
