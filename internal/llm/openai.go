package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI uses the chat completions API.
type OpenAI struct {
	client openai.Client
	model  string
	system string
}

// OpenAIOptions configures NewOpenAI.
type OpenAIOptions struct {
	APIKey string
	Model  string
	// BaseURL points at an OpenAI-compatible server; empty uses the default.
	BaseURL string
	// System is an optional system prompt sent before the history.
	System     string
	HTTPClient *http.Client
}

// NewOpenAI returns an OpenAI generator.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	model := opts.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{
		client: openai.NewClient(reqOpts...),
		model:  model,
		system: opts.System,
	}
}

// Generate sends the history as chat messages.
func (o *OpenAI) Generate(ctx context.Context, history []Turn) (string, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if o.system != "" {
		msgs = append(msgs, openai.SystemMessage(o.system))
	}
	for _, t := range history {
		if t.Role == RoleModel {
			msgs = append(msgs, openai.AssistantMessage(t.Text))
			continue
		}
		msgs = append(msgs, openai.UserMessage(t.Text))
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(o.model),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}
