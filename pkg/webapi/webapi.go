// Package webapi serves the applet operations as a JSON API built on
// go-restful, with an OpenAPI description of the routes.
package webapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/emicklei/go-restful/v3"
	"github.com/germanamz/geoprompt/pkg/applet"
	"github.com/germanamz/geoprompt/pkg/modeladapter/usage"
)

// Applet is the subset of *applet.Adapter the API drives.
type Applet interface {
	GenerateAndRun(ctx context.Context, prompt string) (applet.Result, error)
	Run(ctx context.Context, command string) error
	Clear(ctx context.Context) error
	Ready() bool
	Configured() bool
}

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	Prompt string `json:"prompt" description:"natural-language description of the construction"`
}

// RunRequest is the body of POST /run.
type RunRequest struct {
	Command string `json:"command" description:"GeoGebra command text, newline separated"`
}

// StatusResponse acknowledges /run and /clear.
type StatusResponse struct {
	Status string `json:"status"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string         `json:"status"`
	Version     string         `json:"version"`
	AppletReady bool           `json:"applet_ready"`
	Configured  bool           `json:"configured"`
	Usage       *UsageResponse `json:"usage,omitempty"`
}

// UsageResponse reports the tokens spent by command generation since start.
type UsageResponse struct {
	Calls            int `json:"calls"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ErrorResponse is returned for failed requests.
type ErrorResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithUsage reports the tracker's totals from /health.
func WithUsage(t *usage.Tracker) HandlerOption {
	return func(h *Handler) { h.usage = t }
}

// Handler implements the API routes.
type Handler struct {
	applet  Applet
	version string
	log     *slog.Logger
	usage   *usage.Tracker
}

// NewHandler creates a Handler. A nil log discards.
func NewHandler(a Applet, version string, log *slog.Logger, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	h := &Handler{applet: a, version: version, log: log}
	for _, o := range opts {
		o(h)
	}

	return h
}

// statusFor maps adapter errors to HTTP status codes.
func statusFor(err error) int {
	var evalErr *applet.EvalError

	switch {
	case errors.Is(err, applet.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, applet.ErrNotConfigured):
		return http.StatusPreconditionFailed
	case errors.Is(err, applet.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &evalErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func writeError(resp *restful.Response, status int, err error) {
	_ = resp.WriteHeaderAndEntity(status, ErrorResponse{Status: status, Error: err.Error()})
}

// Generate handles POST /api/v1/generate. The Result is written for both
// outcomes; only the status code differs.
func (h *Handler) Generate(req *restful.Request, resp *restful.Response) {
	var body GenerateRequest
	if err := req.ReadEntity(&body); err != nil {
		h.log.WarnContext(req.Request.Context(), "invalid generate body", slog.Any("error", err))
		writeError(resp, http.StatusBadRequest, err)
		return
	}

	res, err := h.applet.GenerateAndRun(req.Request.Context(), body.Prompt)
	if err != nil {
		_ = resp.WriteHeaderAndEntity(statusFor(err), res)
		return
	}

	_ = resp.WriteHeaderAndEntity(http.StatusOK, res)
}

// Run handles POST /api/v1/run.
func (h *Handler) Run(req *restful.Request, resp *restful.Response) {
	var body RunRequest
	if err := req.ReadEntity(&body); err != nil {
		writeError(resp, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(body.Command) == "" {
		writeError(resp, http.StatusBadRequest, errors.New("command is required"))
		return
	}

	if err := h.applet.Run(req.Request.Context(), body.Command); err != nil {
		writeError(resp, statusFor(err), err)
		return
	}

	_ = resp.WriteHeaderAndEntity(http.StatusOK, StatusResponse{Status: "ok"})
}

// Clear handles POST /api/v1/clear.
func (h *Handler) Clear(req *restful.Request, resp *restful.Response) {
	if err := h.applet.Clear(req.Request.Context()); err != nil {
		writeError(resp, statusFor(err), err)
		return
	}

	_ = resp.WriteHeaderAndEntity(http.StatusOK, StatusResponse{Status: "ok"})
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(_ *restful.Request, resp *restful.Response) {
	health := HealthResponse{
		Status:      "ok",
		Version:     h.version,
		AppletReady: h.applet.Ready(),
		Configured:  h.applet.Configured(),
	}
	if h.usage != nil {
		total := h.usage.Total()
		health.Usage = &UsageResponse{
			Calls:            h.usage.Count(),
			PromptTokens:     total.InputTokens,
			CompletionTokens: total.OutputTokens,
		}
	}

	_ = resp.WriteHeaderAndEntity(http.StatusOK, health)
}
