package assistant

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nugget/asistente/internal/config"
	"github.com/nugget/asistente/internal/llm"
)

// fallbackSystem primes hosted models to answer the way the assistant
// speaks.
const fallbackSystem = "Eres un asistente de voz. Responde en español, de forma breve y sin formato Markdown."

// NewFallback builds the conversational fallback selected by cfg.
func NewFallback(cfg config.FallbackConfig, client *http.Client, logger *slog.Logger) (llm.Generator, error) {
	switch cfg.Provider {
	case "cli":
		g, err := llm.NewCLI(cfg.Command, logger)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		return g, nil
	case "ollama":
		return llm.NewOllama(cfg.URL, cfg.Model, client, logger), nil
	case "openai":
		return llm.NewOpenAI(llm.OpenAIOptions{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.URL,
			System:     fallbackSystem,
			HTTPClient: client,
		}), nil
	case "none", "":
		return llm.Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown fallback provider %q", cfg.Provider)
	}
}
