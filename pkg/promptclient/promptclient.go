// Package promptclient turns a natural-language geometric description into a
// GeoGebra command string using an OpenAI-compatible chat-completion endpoint.
package promptclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/germanamz/geoprompt/pkg/modeladapter"
	"github.com/germanamz/geoprompt/pkg/modeladapter/usage"
	"github.com/germanamz/geoprompt/pkg/prompt"
)

// Request defaults.
const (
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 200
)

// ErrMalformedResponse is returned when a 2xx response carries no message text.
var ErrMalformedResponse = errors.New("promptclient: response has no message content")

// Config identifies the endpoint, credential and model. It is fixed at
// construction.
type Config struct {
	EndpointURL string // Full chat-completions URL.
	Credential  string // Bearer token sent on every call.
	Model       string // Model name placed in the request body.
}

// Validate checks that every field is set.
func (c Config) Validate() error {
	switch {
	case c.EndpointURL == "":
		return fmt.Errorf("promptclient: config: endpoint url is required")
	case c.Credential == "":
		return fmt.Errorf("promptclient: config: credential is required")
	case c.Model == "":
		return fmt.Errorf("promptclient: config: model is required")
	}

	return nil
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.Client = hc }
}

// WithTemplate replaces the default instruction template.
func WithTemplate(t prompt.Template) Option {
	return func(c *Client) { c.template = t }
}

// WithTemperature overrides DefaultTemperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.Temperature = t }
}

// WithMaxTokens overrides DefaultMaxTokens.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.MaxTokens = n }
}

// WithHeaders adds extra request headers, e.g. an organization id.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) { c.Headers = h }
}

// WithLogger sets the logger for per-call diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client generates GeoGebra commands. It is safe for concurrent use.
type Client struct {
	modeladapter.ModelAdapter

	template prompt.Template
	system   string
	log      *slog.Logger
}

// New validates cfg and returns a Client. The template is rendered once here.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		ModelAdapter: modeladapter.New(cfg.EndpointURL, modeladapter.Auth{Key: cfg.Credential}, nil),
		template:     prompt.Default(),
	}
	c.Name = cfg.Model
	c.Temperature = DefaultTemperature
	c.MaxTokens = DefaultMaxTokens

	for _, o := range opts {
		o(c)
	}

	if c.log == nil {
		c.log = slog.New(slog.DiscardHandler)
	}

	system, err := c.template.Render()
	if err != nil {
		return nil, err
	}
	c.system = system

	return c, nil
}

// Template returns the instruction template in use.
func (c *Client) Template() prompt.Template { return c.template }

// GenerateCommand sends promptText with the system instructions in a single
// request and returns the sanitized command text. promptText is forwarded
// as-is, even when empty.
func (c *Client) GenerateCommand(ctx context.Context, promptText string) (string, error) {
	start := time.Now()

	cmd, err := c.generate(ctx, promptText)

	attrs := []any{
		slog.String("model", c.Name),
		slog.String("template", c.template.ID()),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		c.log.DebugContext(ctx, "command generation failed", append(attrs, slog.Any("error", err))...)
		return "", err
	}

	last, _ := c.Usage.Last()
	c.log.DebugContext(ctx, "command generated", append(attrs,
		slog.Int("length", len(cmd)),
		slog.Int("input_tokens", last.InputTokens),
		slog.Int("output_tokens", last.OutputTokens),
		slog.Int("total_tokens", c.Usage.Total().Total()),
	)...)

	return cmd, nil
}

func (c *Client) generate(ctx context.Context, promptText string) (string, error) {
	req := c.buildRequest(promptText)

	var resp apiResponse
	if err := c.PostJSON(ctx, "", req, &resp); err != nil {
		return "", fmt.Errorf("promptclient: %w", err)
	}

	c.Usage.Add(usage.TokenCount{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	})

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == nil {
		return "", ErrMalformedResponse
	}

	return Sanitize(*resp.Choices[0].Message.Content), nil
}

// --- wire types ---

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Choices []apiChoice `json:"choices"`
	Usage   apiUsage    `json:"usage"`
}

type apiChoice struct {
	Message apiRespMessage `json:"message"`
}

type apiRespMessage struct {
	Content *string `json:"content"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (c *Client) buildRequest(promptText string) apiRequest {
	return apiRequest{
		Model: c.Name,
		Messages: []apiMessage{
			{Role: "system", Content: c.system},
			{Role: "user", Content: promptText},
		},
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
}
