package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/germanamz/geoprompt/pkg/applet"
	"github.com/germanamz/geoprompt/pkg/applet/bridge"
	"github.com/germanamz/geoprompt/pkg/applet/browser"
	"github.com/germanamz/geoprompt/pkg/config"
	"github.com/germanamz/geoprompt/pkg/geotools"
	"github.com/germanamz/geoprompt/pkg/prompt"
	"github.com/germanamz/geoprompt/pkg/promptclient"
	"github.com/germanamz/geoprompt/pkg/tools/toolbox"
	"github.com/germanamz/geoprompt/pkg/webapi"
	"github.com/rs/cors"
)

// runtime wires the applet stack: HTTP server with the host page, the
// optional Chrome tab showing it, the prompt client and the adapter.
type runtime struct {
	cfg     config.Config
	log     *slog.Logger
	client  *promptclient.Client // nil when no api key is configured
	bridge  *bridge.Bridge
	browser *browser.Browser // nil when disabled
	adapter *applet.Adapter
	mux     *http.ServeMux
	server  *http.Server
	url     string
}

type runtimeOptions struct {
	withAPI bool // mount the JSON API and show the prompt form
}

// newClient builds the prompt client, or returns nil when generation is
// not configured.
func newClient(cfg config.Config, log *slog.Logger) (*promptclient.Client, error) {
	if !cfg.Configured() {
		return nil, nil //nolint:nilnil // absent client is a valid configuration
	}

	tmpl, err := prompt.Resolve(cfg.Prompt.Template, cfg.Prompt.File)
	if err != nil {
		return nil, err
	}

	opts := append(cfg.ClientOptions(), promptclient.WithTemplate(tmpl), promptclient.WithLogger(log))

	return promptclient.New(cfg.ClientConfig(), opts...)
}

func startRuntime(ctx context.Context, cfg config.Config, log *slog.Logger, ro runtimeOptions) (*runtime, error) {
	client, err := newClient(cfg, log)
	if err != nil {
		return nil, err
	}

	bridgeOpts := []bridge.Option{
		bridge.WithContainerID(cfg.Applet.ContainerID),
		bridge.WithScriptURL(cfg.Applet.ScriptURL),
		bridge.WithAppletVersion(cfg.Applet.Version),
		bridge.WithOriginPatterns(originPatterns(cfg.Server.AllowedOrigins)...),
		bridge.WithLogger(log),
	}
	if ro.withAPI {
		bridgeOpts = append(bridgeOpts, bridge.WithPromptForm(webapi.BasePath))
	}

	br, err := bridge.New(bridgeOpts...)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}

	rt := &runtime{
		cfg:    cfg,
		log:    log,
		client: client,
		bridge: br,
		mux:    http.NewServeMux(),
		url:    "http://" + displayAddr(ln.Addr()),
	}
	rt.mux.Handle("/", br)
	rt.server = &http.Server{
		Handler:           rt.mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		if err := rt.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", slog.Any("error", err))
		}
	}()

	log.Info("host page listening", slog.String("url", rt.url))

	if cfg.Browser.Enabled {
		var bopts []browser.Option
		if cfg.Browser.Headless {
			bopts = append(bopts, browser.WithHeadless())
		}
		bopts = append(bopts,
			browser.WithWindowSize(cfg.Browser.Width, cfg.Browser.Height),
			browser.WithLogger(log),
		)

		rt.browser = browser.New(ctx, bopts...)
		if err := rt.browser.Open(ctx, rt.url+"/"); err != nil {
			// The page can still be opened by hand.
			log.Warn("could not open host page in chrome", slog.Any("error", err))
			rt.browser.Close()
			rt.browser = nil
		}
	}
	if rt.browser == nil {
		log.Info("open the host page in a browser to attach the applet", slog.String("url", rt.url))
	}

	timeout, err := cfg.SetupTimeout()
	if err != nil {
		rt.Close()
		return nil, err
	}

	setupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	adapterOpts := []applet.Option{
		applet.WithParams(cfg.AppletParams()),
		applet.WithObserver(br.Observe),
		applet.WithLogger(log),
	}
	if client != nil {
		adapterOpts = append(adapterOpts, applet.WithGenerator(client))
	}

	rt.adapter = applet.New(setupCtx, br, br, adapterOpts...)

	if ro.withAPI {
		rt.mux.Handle(webapi.BasePath+"/", rt.apiHandler())
	}

	return rt, nil
}

// apiHandler returns the JSON API. Cross-origin requests are only allowed
// for the configured origins; with none configured the API is same-origin.
func (rt *runtime) apiHandler() http.Handler {
	var opts []webapi.HandlerOption
	if rt.client != nil {
		opts = append(opts, webapi.WithUsage(rt.client.UsageTracker()))
	}

	container := webapi.NewContainer(webapi.NewHandler(rt.adapter, version, rt.log, opts...))
	if len(rt.cfg.Server.AllowedOrigins) == 0 {
		return container
	}

	return cors.New(cors.Options{
		AllowedOrigins: rt.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(container)
}

// tools returns the geometry tools over the running adapter.
func (rt *runtime) tools() *geotools.Tools {
	var opts []geotools.Option
	if rt.client != nil {
		opts = append(opts, geotools.WithGenerator(rt.client))
	}
	if rt.browser != nil {
		opts = append(opts, geotools.WithScreenshotter(rt.browser, "#"+rt.bridge.ContainerID()))
	}

	return geotools.New(rt.adapter, opts...)
}

// mcpTools returns the tools served over MCP, limited to server.tools when
// set. Listed tools that are unavailable in this runtime are skipped.
func (rt *runtime) mcpTools() *toolbox.ToolBox {
	box := rt.tools().Box()
	for _, name := range rt.cfg.Server.Tools {
		if _, ok := box.Get(name); !ok {
			rt.log.Warn("configured tool is not available", slog.String("tool", name))
		}
	}

	return box.Filter(rt.cfg.Server.Tools)
}

// Close stops Chrome and the HTTP server.
func (rt *runtime) Close() {
	if rt.browser != nil {
		rt.browser.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rt.server.Shutdown(ctx); err != nil {
		rt.log.Warn("http server shutdown", slog.Any("error", err))
	}
}

// originPatterns converts allowed origins into websocket origin patterns,
// which match on host only.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := parseOrigin(o); err == nil {
			out = append(out, u)
		}
	}
	return out
}

// displayAddr turns a wildcard listen address into one a browser can open.
func displayAddr(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
