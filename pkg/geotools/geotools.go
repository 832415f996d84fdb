// Package geotools exposes applet operations as toolbox tools so that
// tool-calling clients (MCP hosts, the CLI) can build constructions.
package geotools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/germanamz/geoprompt/pkg/applet"
	"github.com/germanamz/geoprompt/pkg/tools/toolbox"
)

// Applet is the subset of *applet.Adapter the tools drive.
type Applet interface {
	GenerateAndRun(ctx context.Context, prompt string) (applet.Result, error)
	Run(ctx context.Context, command string) error
	Clear(ctx context.Context) error
	Resize(ctx context.Context) error
}

// Screenshotter captures the rendered applet. *browser.Browser satisfies it.
type Screenshotter interface {
	Screenshot(ctx context.Context, selector string) ([]byte, error)
}

// Option configures Tools.
type Option func(*Tools)

// WithGenerator enables geometry_generate.
func WithGenerator(g applet.Generator) Option {
	return func(t *Tools) { t.generator = g }
}

// WithScreenshotter enables geometry_screenshot, capturing the element
// matching selector.
func WithScreenshotter(s Screenshotter, selector string) Option {
	return func(t *Tools) {
		t.shooter = s
		t.selector = selector
	}
}

// Tools builds the geometry tools around an applet.
type Tools struct {
	applet    Applet
	generator applet.Generator
	shooter   Screenshotter
	selector  string
}

// New creates Tools for a.
func New(a Applet, opts ...Option) *Tools {
	t := &Tools{applet: a}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Box returns a ToolBox with every available tool. geometry_generate and
// geometry_screenshot are present only when their option was given.
func (t *Tools) Box() *toolbox.ToolBox {
	tb := toolbox.New()
	tb.Register(
		t.drawTool(),
		t.runTool(),
		t.clearTool(),
		t.resizeTool(),
	)

	if t.generator != nil {
		tb.Register(t.generateTool())
	}
	if t.shooter != nil {
		tb.Register(t.screenshotTool())
	}

	return tb
}

type promptInput struct {
	Prompt string `json:"prompt"`
}

type commandInput struct {
	Command string `json:"command"`
}

const (
	promptSchema  = `{"type":"object","properties":{"prompt":{"type":"string","description":"Natural-language description of the construction"}},"required":["prompt"]}`
	commandSchema = `{"type":"object","properties":{"command":{"type":"string","description":"GeoGebra command; several commands may be separated by newlines"}},"required":["command"]}`
	emptySchema   = `{"type":"object","properties":{}}`
)

func decode(tool string, input json.RawMessage, v any) error {
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("%s: invalid input: %w", tool, err)
	}
	return nil
}

func (t *Tools) generateTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "geometry_generate",
		Description: "Translate a natural-language geometry description into a GeoGebra command without running it. Returns the command text.",
		InputSchema: json.RawMessage(promptSchema),
		Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
			var in promptInput
			if err := decode("geometry_generate", input, &in); err != nil {
				return "", err
			}

			return t.generator.GenerateCommand(ctx, in.Prompt)
		},
	}
}

func (t *Tools) drawTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "geometry_draw",
		Description: "Generate a GeoGebra command from a natural-language description, clear the current construction and draw the result. Returns the generated command and status as JSON.",
		InputSchema: json.RawMessage(promptSchema),
		Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
			var in promptInput
			if err := decode("geometry_draw", input, &in); err != nil {
				return "", err
			}

			res, err := t.applet.GenerateAndRun(ctx, in.Prompt)
			if err != nil {
				return "", errors.New(res.Message)
			}

			data, err := json.Marshal(res)
			if err != nil {
				return "", fmt.Errorf("geometry_draw: marshal: %w", err)
			}

			return string(data), nil
		},
	}
}

func (t *Tools) runTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "geometry_run",
		Description: "Run GeoGebra commands verbatim in the applet, adding to the current construction.",
		InputSchema: json.RawMessage(commandSchema),
		Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
			var in commandInput
			if err := decode("geometry_run", input, &in); err != nil {
				return "", err
			}
			if strings.TrimSpace(in.Command) == "" {
				return "", errors.New("geometry_run: command is required")
			}

			if err := t.applet.Run(ctx, in.Command); err != nil {
				return "", err
			}

			return "ok", nil
		},
	}
}

func (t *Tools) clearTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "geometry_clear",
		Description: "Remove every object from the construction.",
		InputSchema: json.RawMessage(emptySchema),
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			if err := t.applet.Clear(ctx); err != nil {
				return "", err
			}
			return "ok", nil
		},
	}
}

func (t *Tools) resizeTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "geometry_resize",
		Description: "Resize the applet to fit its container after the page layout changed.",
		InputSchema: json.RawMessage(emptySchema),
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			if err := t.applet.Resize(ctx); err != nil {
				return "", err
			}
			return "ok", nil
		},
	}
}

type screenshotOutput struct {
	MimeType string `json:"mime_type"`
	Base64   string `json:"base64"`
}

func (t *Tools) screenshotTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "geometry_screenshot",
		Description: "Capture a PNG of the applet as currently drawn. Returns base64-encoded image data.",
		InputSchema: json.RawMessage(emptySchema),
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			buf, err := t.shooter.Screenshot(ctx, t.selector)
			if err != nil {
				return "", err
			}

			data, err := json.Marshal(screenshotOutput{
				MimeType: "image/png",
				Base64:   base64.StdEncoding.EncodeToString(buf),
			})
			if err != nil {
				return "", fmt.Errorf("geometry_screenshot: marshal: %w", err)
			}

			return string(data), nil
		},
	}
}
