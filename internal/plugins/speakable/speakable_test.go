package speakable

import (
	"context"
	"testing"

	"github.com/nugget/asistente/internal/plugin"
)

func TestPlain(t *testing.T) {
	impl, err := New("speakable", plugin.Settings{}, plugin.Capabilities{})
	if err != nil {
		t.Fatal(err)
	}
	s := impl.(*Stripper)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hace sol.", "Hace sol."},
		{"emphasis", "Es **muy** _importante_", "Es muy importante."},
		{"heading and list", "# Receta\n\n- harina\n- agua\n", "Receta. harina. agua."},
		{"link", "Mira [la guía](https://example.com) ahora.", "Mira la guía ahora."},
		{"code dropped", "Ejecuta esto:\n\n```\nrm -rf /\n```\n", "Ejecuta esto:"},
		{"soft break", "una línea\notra línea", "una línea otra línea."},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.TransformOutput(context.Background(), tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("TransformOutput(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPlain_KeepCode(t *testing.T) {
	settings, err := plugin.SettingsFromYAML("keep_code: true")
	if err != nil {
		t.Fatal(err)
	}
	impl, err := New("speakable", settings, plugin.Capabilities{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := impl.(*Stripper).Plain("Usa:\n\n```\nls -la\n```\n")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Usa: ls -la." {
		t.Errorf("Plain() = %q", got)
	}
}
