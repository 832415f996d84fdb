package webapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/emicklei/go-restful/v3"
	"github.com/germanamz/geoprompt/pkg/applet"
	"github.com/germanamz/geoprompt/pkg/modeladapter/usage"
	"github.com/germanamz/geoprompt/pkg/webapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApplet struct {
	result     applet.Result
	err        error
	runErr     error
	clearErr   error
	ran        []string
	ready      bool
	configured bool
	panics     bool
}

func (f *fakeApplet) GenerateAndRun(_ context.Context, prompt string) (applet.Result, error) {
	if f.panics {
		panic("boom")
	}
	f.result.Prompt = prompt
	return f.result, f.err
}

func (f *fakeApplet) Run(_ context.Context, command string) error {
	f.ran = append(f.ran, command)
	return f.runErr
}

func (f *fakeApplet) Clear(context.Context) error { return f.clearErr }
func (f *fakeApplet) Ready() bool                 { return f.ready }
func (f *fakeApplet) Configured() bool            { return f.configured }

func newContainer(t *testing.T, a webapi.Applet, log *slog.Logger) *restful.Container {
	t.Helper()
	return webapi.NewContainer(webapi.NewHandler(a, "test", log))
}

func do(t *testing.T, c *restful.Container, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	c := newContainer(t, &fakeApplet{ready: true}, nil)

	rec := do(t, c, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[webapi.HealthResponse](t, rec)
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "test", got.Version)
	assert.True(t, got.AppletReady)
	assert.False(t, got.Configured)
}

func TestHealth_ReportsUsage(t *testing.T) {
	var tr usage.Tracker
	tr.Add(usage.TokenCount{InputTokens: 180, OutputTokens: 9})
	tr.Add(usage.TokenCount{InputTokens: 175, OutputTokens: 12})

	c := webapi.NewContainer(webapi.NewHandler(&fakeApplet{ready: true, configured: true}, "test", nil, webapi.WithUsage(&tr)))

	rec := do(t, c, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[webapi.HealthResponse](t, rec)
	require.NotNil(t, got.Usage)
	assert.Equal(t, webapi.UsageResponse{Calls: 2, PromptTokens: 355, CompletionTokens: 21}, *got.Usage)
}

func TestHealth_NoUsageWithoutTracker(t *testing.T) {
	c := newContainer(t, &fakeApplet{ready: true}, nil)

	rec := do(t, c, http.MethodGet, "/api/v1/health", "")
	assert.NotContains(t, rec.Body.String(), "usage")
}

func TestGenerate_Success(t *testing.T) {
	a := &fakeApplet{result: applet.Result{
		Command: "Circle((0,0),3)",
		Status:  applet.StatusSuccess,
		Message: "Construction generated successfully!",
	}}
	c := newContainer(t, a, nil)

	rec := do(t, c, http.MethodPost, "/api/v1/generate", `{"prompt":"circle of radius 3"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[map[string]any](t, rec)
	assert.Equal(t, "circle of radius 3", got["prompt"])
	assert.Equal(t, "Circle((0,0),3)", got["command"])
	assert.Equal(t, "success", got["status"])
}

func TestGenerate_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"busy", applet.ErrBusy, http.StatusConflict},
		{"not configured", applet.ErrNotConfigured, http.StatusPreconditionFailed},
		{"not ready", applet.ErrNotReady, http.StatusServiceUnavailable},
		{"rejected", &applet.EvalError{Command: "Bogus[", Err: errors.New("unknown command")}, http.StatusUnprocessableEntity},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"upstream", errors.New("promptclient: unexpected status 401 Unauthorized"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeApplet{
				result: applet.Result{Status: applet.StatusError, Message: "Error generating construction: " + tt.err.Error()},
				err:    tt.err,
			}
			c := newContainer(t, a, nil)

			rec := do(t, c, http.MethodPost, "/api/v1/generate", `{"prompt":"x"}`)
			assert.Equal(t, tt.code, rec.Code)

			got := decode[map[string]any](t, rec)
			assert.Equal(t, "error", got["status"])
			assert.Equal(t, a.result.Message, got["message"])
		})
	}
}

func TestGenerate_BadBody(t *testing.T) {
	c := newContainer(t, &fakeApplet{}, nil)

	rec := do(t, c, http.MethodPost, "/api/v1/generate", `{"prompt":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	got := decode[webapi.ErrorResponse](t, rec)
	assert.Equal(t, http.StatusBadRequest, got.Status)
	assert.NotEmpty(t, got.Error)
}

func TestRun(t *testing.T) {
	a := &fakeApplet{}
	c := newContainer(t, a, nil)

	rec := do(t, c, http.MethodPost, "/api/v1/run", `{"command":"A = (1, 1)"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[webapi.StatusResponse](t, rec).Status)
	assert.Equal(t, []string{"A = (1, 1)"}, a.ran)

	rec = do(t, c, http.MethodPost, "/api/v1/run", `{"command":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[webapi.ErrorResponse](t, rec).Error, "command is required")
}

func TestRun_Errors(t *testing.T) {
	a := &fakeApplet{runErr: applet.ErrNotReady}
	c := newContainer(t, a, nil)

	rec := do(t, c, http.MethodPost, "/api/v1/run", `{"command":"A = (1, 1)"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, applet.ErrNotReady.Error(), decode[webapi.ErrorResponse](t, rec).Error)
}

func TestClear(t *testing.T) {
	c := newContainer(t, &fakeApplet{}, nil)
	rec := do(t, c, http.MethodPost, "/api/v1/clear", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	c = newContainer(t, &fakeApplet{clearErr: &applet.EvalError{Command: applet.DeleteAll, Err: errors.New("no applet")}}, nil)
	rec = do(t, c, http.MethodPost, "/api/v1/clear", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	c := newContainer(t, &fakeApplet{panics: true}, log)

	rec := do(t, c, http.MethodPost, "/api/v1/generate", `{"prompt":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "handler panic")
}

func TestLoggerFilter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	c := newContainer(t, &fakeApplet{}, log)

	do(t, c, http.MethodGet, "/api/v1/health", "")

	out := buf.String()
	assert.Contains(t, out, "http request")
	assert.Contains(t, out, "path=/api/v1/health")
	assert.Contains(t, out, "status=200")
}

func TestOpenAPIDocument(t *testing.T) {
	c := newContainer(t, &fakeApplet{}, nil)

	rec := do(t, c, http.MethodGet, webapi.OpenAPIPath, "")
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decode[map[string]any](t, rec)
	info, _ := doc["info"].(map[string]any)
	assert.Equal(t, "geoprompt API", info["title"])

	paths, _ := doc["paths"].(map[string]any)
	for _, p := range []string{"/api/v1/health", "/api/v1/generate", "/api/v1/run", "/api/v1/clear"} {
		assert.Contains(t, paths, p)
	}
}
