package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	writeFile(t, path, "language: es\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "language: es\n")

	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "log_level: debug\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Fallback.MaxHistory != 10 {
		t.Errorf("MaxHistory = %d, want 10", cfg.Fallback.MaxHistory)
	}
	if len(cfg.ExitPhrases) != 1 || cfg.ExitPhrases[0] != "salir" {
		t.Errorf("ExitPhrases = %v", cfg.ExitPhrases)
	}
	want := []string{"gemini", "generate-content", "--stdin"}
	if len(cfg.Fallback.Command) != len(want) {
		t.Fatalf("Fallback.Command = %v, want %v", cfg.Fallback.Command, want)
	}
	for i := range want {
		if cfg.Fallback.Command[i] != want[i] {
			t.Errorf("Fallback.Command[%d] = %q, want %q", i, cfg.Fallback.Command[i], want[i])
		}
	}
	if cfg.Connectivity.Host != "8.8.8.8:53" {
		t.Errorf("Connectivity.Host = %q", cfg.Connectivity.Host)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "homeassistant:\n  url: http://ha.local:8123\n  token: ${ASISTENTE_TEST_TOKEN}\n")
	t.Setenv("ASISTENTE_TEST_TOKEN", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.HomeAssistant.Token != "secret123" {
		t.Errorf("token = %q, want %q", cfg.HomeAssistant.Token, "secret123")
	}
	if !cfg.HomeAssistant.Configured() {
		t.Error("HomeAssistant.Configured() = false")
	}
}

func TestLoad_Durations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "connectivity:\n  host: example.com:443\n  timeout: 500ms\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Connectivity.Timeout != 500*time.Millisecond {
		t.Errorf("Timeout = %v, want 500ms", cfg.Connectivity.Timeout)
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	writeFile(t, path, "ASISTENTE_ENV_NEW=from-file\nASISTENTE_ENV_SET=from-file\n")
	t.Setenv("ASISTENTE_ENV_SET", "from-shell")
	t.Setenv("ASISTENTE_ENV_NEW", "")
	os.Unsetenv("ASISTENTE_ENV_NEW")

	if err := LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv error: %v", err)
	}
	if got := os.Getenv("ASISTENTE_ENV_NEW"); got != "from-file" {
		t.Errorf("ASISTENTE_ENV_NEW = %q, want from-file", got)
	}
	if got := os.Getenv("ASISTENTE_ENV_SET"); got != "from-shell" {
		t.Errorf("ASISTENTE_ENV_SET = %q, want from-shell (must not override)", got)
	}

	if err := LoadEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("LoadEnv(missing) = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"bad engine", func(c *Config) { c.Speech.Engine = "festival" }, true},
		{"bad provider", func(c *Config) { c.Fallback.Provider = "bard" }, true},
		{"negative history", func(c *Config) { c.Fallback.MaxHistory = -1 }, true},
		{"ollama without model", func(c *Config) { c.Fallback.Provider = "ollama"; c.Fallback.URL = "http://x" }, true},
		{"openai without key", func(c *Config) { c.Fallback.Provider = "openai" }, true},
		{"none provider", func(c *Config) { c.Fallback.Provider = "none" }, false},
		{"ha url without token", func(c *Config) { c.HomeAssistant.URL = "http://ha" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/asistente"

	if got := cfg.CommandsPath(); got != "/var/lib/asistente/commands.json" {
		t.Errorf("CommandsPath() = %q", got)
	}
	cfg.CommandsFile = "/etc/asistente/commands.json"
	if got := cfg.CommandsPath(); got != "/etc/asistente/commands.json" {
		t.Errorf("CommandsPath() absolute = %q", got)
	}
	if got := cfg.LockPath(); got != "/var/lib/asistente/asistente.lock" {
		t.Errorf("LockPath() = %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	if a.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q", a.Value.String())
	}
	b := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelInfo))
	if b.Value.Any().(slog.Level) != slog.LevelInfo {
		t.Errorf("info level altered: %v", b.Value)
	}
}
