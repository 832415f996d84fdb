package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
client:
  endpoint_url: https://llm.example.com/v1/chat/completions
  api_key: sk-test
  model: gpt-4o-mini
  temperature: 0
  max_tokens: 120
  headers:
    OpenAI-Organization: org-1

prompt:
  template: geogebra-zh

applet:
  container_id: board
  material_id: abc123
  show_menu_bar: true
  show_tool_bar: false

browser:
  enabled: false

server:
  addr: ":9090"
  allowed_origins: ["http://localhost:3000"]
  mcp_path: /mcp
  tools: [geometry_draw, geometry_clear]

log:
  level: debug
  format: json
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geoprompt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeFile(t, sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://llm.example.com/v1/chat/completions", cfg.Client.EndpointURL)
	assert.Equal(t, "sk-test", cfg.Client.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Client.Model)
	require.NotNil(t, cfg.Client.Temperature)
	assert.InDelta(t, 0.0, *cfg.Client.Temperature, 0)
	assert.Equal(t, 120, cfg.Client.MaxTokens)
	assert.Equal(t, "org-1", cfg.Client.Headers["OpenAI-Organization"])
	assert.Len(t, cfg.ClientOptions(), 3)

	assert.Equal(t, "geogebra-zh", cfg.Prompt.Template)
	assert.Equal(t, "board", cfg.Applet.ContainerID)
	assert.False(t, cfg.Browser.Enabled)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "/mcp", cfg.Server.MCPPath)
	assert.Equal(t, []string{"geometry_draw", "geometry_clear"}, cfg.Server.Tools)
}

func TestLoad_KeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := Load(writeFile(t, "log:\n  level: warn\n"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Client.EndpointURL, cfg.Client.EndpointURL)
	assert.Equal(t, def.Applet.ScriptURL, cfg.Applet.ScriptURL)
	assert.Equal(t, def.Server.Addr, cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	// No api_key in the file means generation is disabled.
	assert.False(t, cfg.Configured())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: load")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeFile(t, "client: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: parse")
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("GEOPROMPT_TEST_KEY", "sk-from-env")
	t.Setenv("GEOPROMPT_TEST_MODEL", "gpt-4o")

	cfg, err := Load(writeFile(t, "client:\n  api_key: ${GEOPROMPT_TEST_KEY}\n  model: $GEOPROMPT_TEST_MODEL\n"))
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.Client.APIKey)
	assert.Equal(t, "gpt-4o", cfg.Client.Model)
	assert.True(t, cfg.Configured())
}

func TestLoad_UnsetEnvVarExpandsToEmpty(t *testing.T) {
	cfg, err := Load(writeFile(t, "client:\n  api_key: ${GEOPROMPT_TEST_UNSET_VAR}\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Client.APIKey)
	assert.False(t, cfg.Configured())
}

func TestLoadOrDefault(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-default")

	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, "sk-default", cfg.Client.APIKey)

	_, err = LoadOrDefault("nope.yaml")
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "geoprompt.yaml")

	cfg := Default()
	cfg.Server.Addr = ":7000"
	require.NoError(t, Save(cfg, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "${OPENAI_API_KEY}")

	t.Setenv("OPENAI_API_KEY", "sk-saved")
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", loaded.Server.Addr)
	assert.Equal(t, "sk-saved", loaded.Client.APIKey)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.Client.APIKey = "sk"
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		msg    string
	}{
		{"missing model", func(c *Config) { c.Client.Model = "" }, "model is required"},
		{"missing endpoint", func(c *Config) { c.Client.EndpointURL = "" }, "endpoint url is required"},
		{"temperature", func(c *Config) { v := 3.0; c.Client.Temperature = &v }, "out of range"},
		{"max tokens", func(c *Config) { c.Client.MaxTokens = -1 }, "max_tokens"},
		{"prompt", func(c *Config) { c.Prompt = PromptConfig{} }, "template or file is required"},
		{"container", func(c *Config) { c.Applet.ContainerID = "" }, "container_id is required"},
		{"script", func(c *Config) { c.Applet.ScriptURL = "" }, "script_url is required"},
		{"setup timeout", func(c *Config) { c.Applet.SetupTimeout = "soon" }, "setup_timeout"},
		{"setup timeout sign", func(c *Config) { c.Applet.SetupTimeout = "-1s" }, "must be positive"},
		{"browser size", func(c *Config) { c.Browser.Width = 0 }, "width and height"},
		{"addr", func(c *Config) { c.Server.Addr = "" }, "addr is required"},
		{"mcp path", func(c *Config) { c.Server.MCPPath = "mcp" }, "must start with /"},
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "unknown level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "unknown format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)

			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestValidate_UnconfiguredClientSkipsClientChecks(t *testing.T) {
	c := Default()
	c.Client = ClientConfig{}
	assert.NoError(t, c.Validate())
}

func TestSetupTimeout(t *testing.T) {
	c := Default()
	d, err := c.SetupTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	c.Applet.SetupTimeout = ""
	d, err = c.SetupTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	c.Applet.SetupTimeout = "2m"
	d, err = c.SetupTimeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)
}

func TestAppletParams(t *testing.T) {
	hide := false
	border := "#cccccc"

	c := Default()
	c.Applet.MaterialID = "m1"
	c.Applet.ShowMenuBar = true
	c.Applet.ShowToolBar = &hide
	c.Applet.BorderColor = &border

	p := c.AppletParams()
	assert.Equal(t, "m1", p.MaterialID)
	assert.True(t, p.ShowMenuBar)
	assert.False(t, p.ShowToolBar)
	assert.Equal(t, &border, p.BorderColor)
	assert.True(t, p.EnableShiftDragZoom)
	assert.True(t, p.ShowResetIcon)

	def := Default().AppletParams()
	assert.True(t, def.ShowToolBar)
	assert.Nil(t, def.BorderColor)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer

	c := Default()
	c.Log = LogConfig{Level: "warn", Format: "json"}
	log := c.Logger(&buf)

	log.Info("hidden")
	log.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}
