// Package n8n triggers n8n workflows through webhooks when a configured
// phrase is heard.
package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/nugget/asistente/internal/httpkit"
	"github.com/nugget/asistente/internal/messages"
	"github.com/nugget/asistente/internal/plugin"
)

// Trigger maps a phrase to a workflow command.
type Trigger struct {
	Phrase  string `yaml:"phrase"`
	Command string `yaml:"command"`
	Reply   string `yaml:"reply"`
	// URL overrides the plugin webhook for this trigger.
	URL string `yaml:"url"`
}

// Settings are read from the manifest.
type Settings struct {
	// URL defaults to $N8N_WEBHOOK_URL.
	URL      string    `yaml:"url"`
	Triggers []Trigger `yaml:"triggers"`
}

var defaultTriggers = []Trigger{{
	Phrase:  "activar automatización de prueba",
	Command: "activar_automatizacion_prueba",
	Reply:   "Automatización de prueba activada en n8n.",
}}

type payload struct {
	Command      string `json:"command"`
	OriginalText string `json:"original_text"`
}

// Webhook is a command handler.
type Webhook struct {
	settings Settings
	http     *http.Client
	messages *messages.Catalog
	logger   *slog.Logger
}

// New is the plugin factory.
func New(_ string, raw plugin.Settings, caps plugin.Capabilities) (any, error) {
	var s Settings
	if err := raw.Decode(&s); err != nil {
		return nil, err
	}
	if s.URL == "" {
		s.URL = os.Getenv("N8N_WEBHOOK_URL")
	}
	if len(s.Triggers) == 0 {
		s.Triggers = append([]Trigger(nil), defaultTriggers...)
	}
	for i, t := range s.Triggers {
		if t.Phrase == "" || t.Command == "" {
			return nil, fmt.Errorf("triggers[%d]: phrase and command are required", i)
		}
		if t.URL == "" && s.URL == "" {
			return nil, fmt.Errorf("triggers[%d]: no webhook url configured", i)
		}
		s.Triggers[i].Phrase = strings.ToLower(t.Phrase)
	}
	logger := caps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := caps.HTTP
	if client == nil {
		client = httpkit.NewClient(httpkit.WithLogger(logger))
	}
	return &Webhook{settings: s, http: client, messages: caps.Messages, logger: logger}, nil
}

// HandleCommand posts {command, original_text} for the first trigger
// whose phrase occurs in text. A failed post is answered with the
// webhook failure message and still counts as handled.
func (w *Webhook) HandleCommand(ctx context.Context, text string) (string, error) {
	lower := strings.ToLower(text)
	for _, t := range w.settings.Triggers {
		if !strings.Contains(lower, t.Phrase) {
			continue
		}
		url := t.URL
		if url == "" {
			url = w.settings.URL
		}
		if err := w.post(ctx, url, payload{Command: t.Command, OriginalText: text}); err != nil {
			w.logger.Error("webhook failed", "command", t.Command, "error", err)
			return w.messages.Get(messages.WebhookFailed), nil
		}
		w.logger.Info("webhook triggered", "command", t.Command)
		if t.Reply != "" {
			return t.Reply, nil
		}
		return "Automatización activada.", nil
	}
	return "", nil
}

func (w *Webhook) post(ctx context.Context, url string, p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<16)
	if resp.StatusCode >= 300 {
		return errors.New("webhook returned " + resp.Status + ": " + httpkit.ReadErrorBody(resp.Body, 512))
	}
	return nil
}
