package plugins

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nugget/asistente/internal/action"
	"github.com/nugget/asistente/internal/plugin"
)

func TestBuiltin_LoadsManifests(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("10-clock.yaml", "plugin: clock\n")
	write("20-todo.yaml", "plugin: todo\n")
	write("30-greeter.yaml", "plugin: greeter\nsettings:\n  suffix: \"\"\n")
	write("40-speakable.yaml", "plugin: speakable\n")
	write("50-hass.yaml", "plugin: hass\n")

	reg, err := plugin.Load(dir, Builtin(), plugin.Capabilities{DataDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	if n := len(reg.Commands()); n != 2 {
		t.Errorf("commands = %d, want 2 (clock, todo)", n)
	}
	if n := len(reg.Inputs()); n != 1 {
		t.Errorf("inputs = %d, want 1", n)
	}
	if n := len(reg.Outputs()); n != 2 {
		t.Errorf("outputs = %d, want 2 (greeter, speakable)", n)
	}
	// hass without a Home Assistant connection fails to load.
	if f := reg.Failures(); len(f) != 1 || f[0].Name != "50-hass" {
		t.Errorf("failures = %v", f)
	}

	tasks, ok := plugin.Find[action.TaskLister](reg)
	if !ok {
		t.Fatal("no task lister found")
	}
	summary, err := tasks.TaskSummary(context.Background())
	if err != nil || summary != "No tienes tareas pendientes." {
		t.Errorf("TaskSummary() = %q, %v", summary, err)
	}
	if _, ok := plugin.Find[action.ScheduleLister](reg); ok {
		t.Error("found a schedule lister without a calendar manifest")
	}
}
