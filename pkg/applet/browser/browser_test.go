package browser

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func chromeAvailable() bool {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	if _, err := exec.LookPath("/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"); err == nil {
		return true
	}
	return false
}

func newTestBrowser(t *testing.T) *Browser {
	t.Helper()
	if !chromeAvailable() {
		t.Skip("Chrome/Chromium not found on PATH")
	}

	b := New(context.Background(), WithHeadless(), WithWindowSize(800, 600))
	t.Cleanup(b.Close)

	return b
}

func testPage(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><div id="ggb-container" style="width:200px;height:100px;background:#ccc"></div></body></html>`))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestNew_DoesNotStartChrome(t *testing.T) {
	b := New(context.Background())
	assert.False(t, b.started)
	assert.Equal(t, defaultWidth, b.width)

	b.Close()
	b.Close()
}

func TestClosed(t *testing.T) {
	b := New(context.Background(), WithHeadless())
	b.Close()

	err := b.Open(context.Background(), "http://127.0.0.1")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = b.Screenshot(context.Background(), "")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenAndScreenshot(t *testing.T) {
	b := newTestBrowser(t)
	srv := testPage(t)

	require.NoError(t, b.Open(context.Background(), srv.URL))

	viewport, err := b.Screenshot(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(viewport, pngMagic))

	element, err := b.Screenshot(context.Background(), "#ggb-container")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(element, pngMagic))
}

func TestOpen_CancelledContext(t *testing.T) {
	b := newTestBrowser(t)
	srv := testPage(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Open(ctx, srv.URL)
	require.Error(t, err)
}
