package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/nugget/asistente/internal/httpkit"
)

// maxResponseBytes caps the response body we are willing to decode.
const maxResponseBytes = 10 << 20

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	URL string
	// Token is sent as a bearer Authorization header when set.
	Token string
	// Headers are extra headers sent with every request.
	Headers map[string]string
	// HTTPClient defaults to an httpkit client.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPTransport posts JSON-RPC requests to a single endpoint.
type HTTPTransport struct {
	url        string
	token      string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	sessionID string
}

// NewHTTPTransport creates an HTTP transport for cfg.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httpkit.NewClient(httpkit.WithLogger(logger))
	}
	return &HTTPTransport{
		url:        cfg.URL,
		token:      cfg.Token,
		headers:    cfg.Headers,
		httpClient: client,
		logger:     logger,
	}
}

// Send posts req and decodes the response envelope. Non-200 statuses
// are transport errors; an error member is left for the caller.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if t.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.token)
	}
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	t.mu.RLock()
	if t.sessionID != "" {
		httpReq.Header.Set("Mcp-Session", t.sessionID)
	}
	t.mu.RUnlock()

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to %s: %w", t.url, err)
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	if sid := httpResp.Header.Get("Mcp-Session"); sid != "" {
		t.mu.Lock()
		if sid != t.sessionID {
			t.logger.Debug("MCP session assigned", "session", sid)
		}
		t.sessionID = sid
		t.mu.Unlock()
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("MCP server returned %d: %s", httpResp.StatusCode, httpkit.ReadErrorBody(httpResp.Body, 1024))
	}

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

// Session returns the session ID assigned by the server, if any.
func (t *HTTPTransport) Session() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

// Close is a no-op; the HTTP client owns its connections.
func (t *HTTPTransport) Close() error {
	return nil
}
