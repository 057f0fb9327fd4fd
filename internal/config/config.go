// Package config handles Asistente configuration loading.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./config.yaml, ~/.config/asistente/config.yaml, /etc/asistente/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "asistente", "config.yaml"))
	}

	paths = append(paths, "/etc/asistente/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Asistente configuration.
type Config struct {
	DataDir      string `yaml:"data_dir"`
	PluginsDir   string `yaml:"plugins_dir"`
	CommandsFile string `yaml:"commands_file"`
	LockFile     string `yaml:"lock_file"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	Language     string `yaml:"language"`

	// ExitPhrases end the session when spoken as the whole utterance.
	ExitPhrases []string `yaml:"exit_phrases"`

	// Messages overrides individual entries of the spoken message catalog.
	Messages map[string]string `yaml:"messages"`

	Speech        SpeechConfig        `yaml:"speech"`
	Fallback      FallbackConfig      `yaml:"fallback"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	MCP           MCPConfig           `yaml:"mcp"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Proxy         ProxyConfig         `yaml:"proxy"`
	Connectivity  ConnectivityConfig  `yaml:"connectivity"`
}

// SpeechConfig selects how replies are rendered.
type SpeechConfig struct {
	// Engine is "console" (print replies) or "espeak" (render and play).
	Engine string `yaml:"engine"`
	// Command is the espeak binary; defaults to espeak-ng.
	Command string `yaml:"command"`
	Voice   string `yaml:"voice"`
	// Rate is words per minute; zero keeps the engine default.
	Rate int `yaml:"rate"`
	// Capture is an external recognizer run once per utterance. Empty
	// means utterances are read as lines from stdin.
	Capture []string `yaml:"capture"`
}

// FallbackConfig selects the conversational model consulted when no
// template or plugin handles an utterance.
type FallbackConfig struct {
	// Provider is one of: cli, ollama, openai, none.
	Provider string `yaml:"provider"`
	// Command is the argv used by the cli provider.
	Command []string `yaml:"command"`
	Model   string   `yaml:"model"`
	URL     string   `yaml:"url"`
	APIKey  string   `yaml:"api_key"`
	// MaxHistory bounds the conversation history in turns.
	MaxHistory int `yaml:"max_history"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Configured reports whether enough is set to reach Home Assistant.
func (c HomeAssistantConfig) Configured() bool {
	return c.URL != "" && c.Token != ""
}

// MCPConfig defines the remote procedure endpoint.
type MCPConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// MQTTConfig defines the optional status publisher.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	DeviceName  string `yaml:"device_name"`

	// DiscoveryPrefix is Home Assistant's MQTT discovery root.
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// ProxyConfig routes outbound HTTP through a SOCKS5 proxy.
type ProxyConfig struct {
	SOCKS string `yaml:"socks"`
}

// ConnectivityConfig controls the startup network check.
type ConnectivityConfig struct {
	// Host is a host:port dialed over TCP to prove the network is up.
	Host    string        `yaml:"host"`
	Timeout time.Duration `yaml:"timeout"`
	// Skip disables the check entirely.
	Skip bool `yaml:"skip"`
}

var (
	validFormats   = []string{"text", "json", "console"}
	validEngines   = []string{"console", "espeak"}
	validProviders = []string{"cli", "ollama", "openai", "none"}
)

// LoadEnv loads a dotenv file into the process environment. Variables
// already set are never overridden. A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from a YAML file, expands ${VAR} references
// and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.PluginsDir == "" {
		c.PluginsDir = "./plugins"
	}
	if c.CommandsFile == "" {
		c.CommandsFile = "commands.json"
	}
	if c.LockFile == "" {
		c.LockFile = "asistente.lock"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Language == "" {
		c.Language = "es"
	}
	if len(c.ExitPhrases) == 0 {
		c.ExitPhrases = []string{"salir"}
	}
	if c.Speech.Engine == "" {
		c.Speech.Engine = "console"
	}
	if c.Speech.Command == "" {
		c.Speech.Command = "espeak-ng"
	}
	if c.Speech.Voice == "" {
		c.Speech.Voice = c.Language
	}
	if c.Fallback.Provider == "" {
		c.Fallback.Provider = "cli"
	}
	if c.Fallback.Provider == "cli" && len(c.Fallback.Command) == 0 {
		c.Fallback.Command = []string{"gemini", "generate-content", "--stdin"}
	}
	if c.Fallback.MaxHistory == 0 {
		c.Fallback.MaxHistory = 10
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "asistente"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.DeviceName == "" {
		if host, err := os.Hostname(); err == nil {
			c.MQTT.DeviceName = host
		} else {
			c.MQTT.DeviceName = "asistente"
		}
	}
	if c.Connectivity.Host == "" {
		c.Connectivity.Host = "8.8.8.8:53"
	}
	if c.Connectivity.Timeout == 0 {
		c.Connectivity.Timeout = 3 * time.Second
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if !oneOf(c.LogFormat, validFormats) {
		return fmt.Errorf("unknown log_format %q (valid: %s)", c.LogFormat, strings.Join(validFormats, ", "))
	}
	if !oneOf(c.Speech.Engine, validEngines) {
		return fmt.Errorf("unknown speech.engine %q (valid: %s)", c.Speech.Engine, strings.Join(validEngines, ", "))
	}
	if !oneOf(c.Fallback.Provider, validProviders) {
		return fmt.Errorf("unknown fallback.provider %q (valid: %s)", c.Fallback.Provider, strings.Join(validProviders, ", "))
	}
	if c.Fallback.MaxHistory < 0 {
		return fmt.Errorf("fallback.max_history must be positive, got %d", c.Fallback.MaxHistory)
	}
	switch c.Fallback.Provider {
	case "cli":
		if len(c.Fallback.Command) == 0 {
			return errors.New("fallback.command is required for the cli provider")
		}
	case "ollama":
		if c.Fallback.URL == "" || c.Fallback.Model == "" {
			return errors.New("fallback.url and fallback.model are required for the ollama provider")
		}
	case "openai":
		if c.Fallback.APIKey == "" {
			return errors.New("fallback.api_key is required for the openai provider")
		}
	}
	if (c.HomeAssistant.URL == "") != (c.HomeAssistant.Token == "") {
		return errors.New("homeassistant.url and homeassistant.token must be set together")
	}
	return nil
}

// CommandsPath returns the template table location. Relative names are
// resolved against DataDir.
func (c *Config) CommandsPath() string {
	return c.inDataDir(c.CommandsFile)
}

// LockPath returns the single-instance lock location.
func (c *Config) LockPath() string {
	return c.inDataDir(c.LockFile)
}

// UserDataPath returns the user key/value database location.
func (c *Config) UserDataPath() string {
	return filepath.Join(c.DataDir, "userdata.db")
}

func (c *Config) inDataDir(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}
