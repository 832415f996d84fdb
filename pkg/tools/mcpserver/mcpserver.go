// Package mcpserver exposes a ToolBox over the Model Context Protocol using
// the official MCP Go SDK, either on a byte stream (stdio) or over HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/germanamz/geoprompt/pkg/tools/toolbox"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Option configures an MCPServer.
type Option func(*MCPServer)

// WithLogger logs every tool call.
func WithLogger(log *slog.Logger) Option {
	return func(s *MCPServer) { s.log = log }
}

// MCPServer serves tools over MCP.
type MCPServer struct {
	server *mcp.Server
	log    *slog.Logger
}

// New creates an MCPServer announcing the given name and version.
func New(name, version string, opts ...Option) *MCPServer {
	s := &MCPServer{
		server: mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
	}
	for _, o := range opts {
		o(s)
	}

	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}

	return s
}

// Register adds tools to the server.
func (s *MCPServer) Register(tools ...toolbox.Tool) {
	for _, t := range tools {
		s.server.AddTool(toSDKTool(t), s.toSDKHandler(t.Name, t.Handler))
	}
}

// RegisterBox adds every tool of tb.
func (s *MCPServer) RegisterBox(tb *toolbox.ToolBox) {
	s.Register(tb.Tools()...)
}

// Serve reads MCP requests from in and writes responses to out until ctx is
// cancelled or the stream closes.
func (s *MCPServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	transport := &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	}

	return s.run(ctx, transport)
}

// Handler returns an http.Handler serving the streamable HTTP transport.
func (s *MCPServer) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
}

func (s *MCPServer) run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

func toSDKTool(t toolbox.Tool) *mcp.Tool {
	schema := t.InputSchema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	return &mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}
}

// toSDKHandler adapts a toolbox handler. Handler errors become tool results
// with IsError set so the model can see them.
func (s *MCPServer) toSDKHandler(name string, h toolbox.Handler) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.Params.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}

		start := time.Now()
		result, err := h(ctx, args)

		if err != nil {
			s.log.WarnContext(ctx, "mcp tool call failed",
				slog.String("tool", name),
				slog.Duration("duration", time.Since(start)),
				slog.Any("error", err),
			)

			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}

		s.log.InfoContext(ctx, "mcp tool call",
			slog.String("tool", name),
			slog.Duration("duration", time.Since(start)),
		)

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: result}},
		}, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
