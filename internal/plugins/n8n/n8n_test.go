package n8n

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nugget/asistente/internal/messages"
	"github.com/nugget/asistente/internal/plugin"
)

func TestHandleCommand(t *testing.T) {
	var got []payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode: %v", err)
		}
		got = append(got, p)
		if p.Command == "roto" {
			http.Error(w, "workflow inactive", http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	settings, err := plugin.SettingsFromYAML(`
url: ` + srv.URL + `
triggers:
  - phrase: Activar automatización de prueba
    command: activar_automatizacion_prueba
    reply: Automatización de prueba activada en n8n.
  - phrase: riega el jardín
    command: regar
  - phrase: flujo roto
    command: roto
`)
	if err != nil {
		t.Fatal(err)
	}
	impl, err := New("n8n", settings, plugin.Capabilities{HTTP: srv.Client(), Messages: messages.New()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	w := impl.(*Webhook)
	ctx := context.Background()

	tests := []struct {
		in   string
		want string
	}{
		{"activar automatización de prueba ahora", "Automatización de prueba activada en n8n."},
		{"riega el jardín", "Automatización activada."},
		{"flujo roto", messages.New().Get(messages.WebhookFailed)},
		{"qué hora es", ""},
	}
	for _, tt := range tests {
		reply, err := w.HandleCommand(ctx, tt.in)
		if err != nil {
			t.Fatalf("HandleCommand(%q) error: %v", tt.in, err)
		}
		if reply != tt.want {
			t.Errorf("HandleCommand(%q) = %q, want %q", tt.in, reply, tt.want)
		}
	}

	if len(got) != 3 {
		t.Fatalf("webhook got %d posts, want 3", len(got))
	}
	if got[0].Command != "activar_automatizacion_prueba" || got[0].OriginalText != "activar automatización de prueba ahora" {
		t.Errorf("first payload = %+v", got[0])
	}
}

func TestHandleCommand_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	settings, _ := plugin.SettingsFromYAML("url: " + url)
	impl, err := New("n8n", settings, plugin.Capabilities{})
	if err != nil {
		t.Fatal(err)
	}
	reply, err := impl.(*Webhook).HandleCommand(context.Background(), "activar automatización de prueba")
	if err != nil {
		t.Fatal(err)
	}
	if reply != messages.New().Get(messages.WebhookFailed) {
		t.Errorf("reply = %q", reply)
	}
}

func TestNew_RequiresURL(t *testing.T) {
	t.Setenv("N8N_WEBHOOK_URL", "")
	if _, err := New("n8n", plugin.Settings{}, plugin.Capabilities{}); err == nil {
		t.Error("New() without a webhook url should fail")
	}
}
