package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nugget/asistente/internal/httpkit"
)

// Ollama talks to an Ollama server's /api/chat endpoint (non-streaming).
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllama returns an Ollama generator. A nil client gets the shared
// httpkit client.
func NewOllama(baseURL, model string, client *http.Client, logger *slog.Logger) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if client == nil {
		client = httpkit.NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: client,
		logger:     logger,
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// ollamaRole maps conversation roles onto chat API roles.
func ollamaRole(r Role) string {
	if r == RoleModel {
		return "assistant"
	}
	return "user"
}

// Generate sends the history as a chat request.
func (o *Ollama) Generate(ctx context.Context, history []Turn) (string, error) {
	req := ollamaRequest{Model: o.model}
	for _, t := range history {
		req.Messages = append(req.Messages, ollamaMessage{Role: ollamaRole(t.Role), Content: t.Text})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var chatResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	reply := strings.TrimSpace(chatResp.Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}
