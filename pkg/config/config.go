// Package config loads the geoprompt YAML configuration.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/germanamz/geoprompt/pkg/applet"
	"github.com/germanamz/geoprompt/pkg/applet/bridge"
	"github.com/germanamz/geoprompt/pkg/promptclient"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "geoprompt.yaml"

// Config is the top-level configuration.
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Prompt  PromptConfig  `yaml:"prompt"`
	Applet  AppletConfig  `yaml:"applet"`
	Browser BrowserConfig `yaml:"browser"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// ClientConfig describes the chat-completion endpoint. Leaving api_key empty
// disables generation; the applet still accepts commands.
type ClientConfig struct {
	EndpointURL string            `yaml:"endpoint_url"`
	APIKey      string            `yaml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	Model       string            `yaml:"model"`
	Temperature *float64          `yaml:"temperature,omitempty"`
	MaxTokens   int               `yaml:"max_tokens,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
}

// PromptConfig selects the system prompt template. File wins over Template.
type PromptConfig struct {
	Template string `yaml:"template"`
	File     string `yaml:"file,omitempty"`
}

// AppletConfig holds the host page and applet display settings.
type AppletConfig struct {
	ContainerID  string  `yaml:"container_id"`
	ScriptURL    string  `yaml:"script_url"`
	Version      string  `yaml:"version"`
	MaterialID   string  `yaml:"material_id,omitempty"`
	BorderColor  *string `yaml:"border_color,omitempty"`
	ShowMenuBar  bool    `yaml:"show_menu_bar"`
	ShowToolBar  *bool   `yaml:"show_tool_bar,omitempty"`
	SetupTimeout string  `yaml:"setup_timeout"` // Duration string, e.g. "30s".
}

// BrowserConfig controls the Chrome instance that hosts the page.
type BrowserConfig struct {
	Enabled  bool `yaml:"enabled"`
	Headless bool `yaml:"headless"`
	Width    int  `yaml:"width"`
	Height   int  `yaml:"height"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	MCPPath        string   `yaml:"mcp_path,omitempty"` // Empty disables MCP over HTTP.
	Tools          []string `yaml:"tools,omitempty"`    // Tools exposed over MCP; empty exposes all.
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Client: ClientConfig{
			EndpointURL: "https://api.openai.com/v1/chat/completions",
			APIKey:      "${OPENAI_API_KEY}",
			Model:       "gpt-3.5-turbo",
		},
		Prompt: PromptConfig{Template: "geogebra-en"},
		Applet: AppletConfig{
			ContainerID:  bridge.DefaultContainerID,
			ScriptURL:    bridge.DefaultScriptURL,
			Version:      bridge.DefaultAppletVersion,
			SetupTimeout: "30s",
		},
		Browser: BrowserConfig{Enabled: true, Headless: true, Width: 1280, Height: 800},
		Server:  ServerConfig{Addr: "127.0.0.1:8080"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file over the defaults. ${VAR} and $VAR references are
// expanded from the environment before parsing, so secrets can live in the
// environment (or a .env file) instead of the config.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration
	if err != nil {
		return Config{}, fmt.Errorf("config: load: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML over the defaults after environment expansion. The
// default api_key reference is dropped first: a file enables generation only
// by naming a key itself.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	cfg.Client.APIKey = ""

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, or the expanded defaults when path does not
// exist and was not given explicitly.
func LoadOrDefault(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	if _, err := os.Stat(path); err != nil && !explicit && os.IsNotExist(err) {
		cfg := Default()
		cfg.Client.APIKey = os.ExpandEnv(cfg.Client.APIKey)
		return cfg, nil
	}

	return Load(path)
}

// Save writes cfg as YAML, creating parent directories.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("config: create parent dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}

	return nil
}

var (
	logLevels  = map[string]slog.Level{"debug": slog.LevelDebug, "info": slog.LevelInfo, "warn": slog.LevelWarn, "error": slog.LevelError}
	logFormats = map[string]struct{}{"text": {}, "json": {}}
)

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Configured() {
		if err := c.ClientConfig().Validate(); err != nil {
			return err
		}
	}

	if t := c.Client.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("config: client: temperature %v out of range [0, 2]", *t)
	}
	if c.Client.MaxTokens < 0 {
		return fmt.Errorf("config: client: max_tokens must not be negative")
	}

	if c.Prompt.Template == "" && c.Prompt.File == "" {
		return fmt.Errorf("config: prompt: template or file is required")
	}

	if c.Applet.ContainerID == "" {
		return fmt.Errorf("config: applet: container_id is required")
	}
	if c.Applet.ScriptURL == "" {
		return fmt.Errorf("config: applet: script_url is required")
	}

	if _, err := c.SetupTimeout(); err != nil {
		return err
	}

	if c.Browser.Enabled && (c.Browser.Width <= 0 || c.Browser.Height <= 0) {
		return fmt.Errorf("config: browser: width and height must be positive")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("config: server: addr is required")
	}
	if p := c.Server.MCPPath; p != "" && !strings.HasPrefix(p, "/") {
		return fmt.Errorf("config: server: mcp_path %q must start with /", p)
	}

	if _, ok := logLevels[strings.ToLower(c.Log.Level)]; !ok {
		return fmt.Errorf("config: log: unknown level %q", c.Log.Level)
	}
	if _, ok := logFormats[strings.ToLower(c.Log.Format)]; !ok {
		return fmt.Errorf("config: log: unknown format %q", c.Log.Format)
	}

	return nil
}

// Configured reports whether a credential is present.
func (c Config) Configured() bool { return c.Client.APIKey != "" }

// ClientConfig returns the prompt client configuration.
func (c Config) ClientConfig() promptclient.Config {
	return promptclient.Config{
		EndpointURL: c.Client.EndpointURL,
		Credential:  c.Client.APIKey,
		Model:       c.Client.Model,
	}
}

// ClientOptions returns the prompt client options implied by the file.
func (c Config) ClientOptions() []promptclient.Option {
	var opts []promptclient.Option
	if c.Client.Temperature != nil {
		opts = append(opts, promptclient.WithTemperature(*c.Client.Temperature))
	}
	if c.Client.MaxTokens > 0 {
		opts = append(opts, promptclient.WithMaxTokens(c.Client.MaxTokens))
	}
	if len(c.Client.Headers) > 0 {
		opts = append(opts, promptclient.WithHeaders(c.Client.Headers))
	}
	return opts
}

// SetupTimeout returns how long to wait for the host page to connect and
// mount the applet. Empty means 30s.
func (c Config) SetupTimeout() (time.Duration, error) {
	if c.Applet.SetupTimeout == "" {
		return 30 * time.Second, nil
	}

	d, err := time.ParseDuration(c.Applet.SetupTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: applet: setup_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: applet: setup_timeout must be positive")
	}

	return d, nil
}

// AppletParams returns the applet display options. Width and height are
// filled from the container at injection time.
func (c Config) AppletParams() applet.Params {
	p := applet.DefaultParams(0, 0)
	p.MaterialID = c.Applet.MaterialID
	p.BorderColor = c.Applet.BorderColor
	p.ShowMenuBar = c.Applet.ShowMenuBar
	if c.Applet.ShowToolBar != nil {
		p.ShowToolBar = *c.Applet.ShowToolBar
	}
	return p
}

// Logger builds the logger described by the log section, writing to w.
// An invalid level falls back to info.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, ok := logLevels[strings.ToLower(c.Log.Level)]
	if !ok {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}
