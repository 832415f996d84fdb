package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/germanamz/geoprompt/pkg/tools/mcpserver"
)

func newFlagSet(name, synopsis string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: geoprompt %s\n\nFlags:\n", synopsis)
		fs.PrintDefaults()
	}
	return fs
}

// argsOrStdin joins args with spaces, or reads stdin when there are none.
func argsOrStdin(args []string, stdin io.Reader, sep string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, sep), nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

func runGenerate(ctx context.Context, args []string) error {
	fs := newFlagSet("generate", "generate [flags] <prompt...>")
	var common commonFlags
	common.register(fs)
	plain := fs.Bool("plain", false, "print the raw command without formatting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, log, err := common.load()
	if err != nil {
		return err
	}

	client, err := newClient(cfg, log)
	if err != nil {
		return err
	}
	if client == nil {
		return errNotConfigured
	}

	text, err := argsOrStdin(fs.Args(), os.Stdin, " ")
	if err != nil {
		return err
	}

	command, err := client.GenerateCommand(ctx, text)
	if err != nil {
		return err
	}

	if *plain {
		fmt.Println(command)
		return nil
	}

	initMarkdownRenderer(100)
	fmt.Println(renderCommand(command))

	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := newFlagSet("run", "run [flags] <command...>")
	var common commonFlags
	common.register(fs)
	fromPrompt := fs.Bool("prompt", false, "treat the arguments as a prompt and generate the command first")
	shot := fs.String("screenshot", "", "write a PNG of the applet to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, log, err := common.load()
	if err != nil {
		return err
	}

	sep := "\n"
	if *fromPrompt {
		sep = " "
	}
	input, err := argsOrStdin(fs.Args(), os.Stdin, sep)
	if err != nil {
		return err
	}

	rt, err := startRuntime(ctx, cfg, log, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.adapter.InitErr(); err != nil {
		return err
	}

	if *fromPrompt {
		res, err := rt.adapter.GenerateAndRun(ctx, input)
		if err != nil {
			return errors.New(res.Message)
		}
		fmt.Println(res.Command)
	} else if err := rt.adapter.Run(ctx, input); err != nil {
		return err
	}

	if *shot == "" {
		return nil
	}
	if rt.browser == nil {
		return errors.New("screenshot needs the browser enabled")
	}

	png, err := rt.browser.Screenshot(ctx, "#"+rt.bridge.ContainerID())
	if err != nil {
		return err
	}

	if err := os.WriteFile(*shot, png, 0o644); err != nil { //nolint:gosec // image output, not secret
		return fmt.Errorf("write screenshot: %w", err)
	}

	log.Info("screenshot saved", slog.String("path", *shot))

	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := newFlagSet("serve", "serve [flags]")
	var common commonFlags
	common.register(fs)
	addr := fs.String("addr", "", "listen address (overrides server.addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, log, err := common.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	rt, err := startRuntime(ctx, cfg, log, runtimeOptions{withAPI: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	if p := cfg.Server.MCPPath; p != "" {
		srv := mcpserver.New("geoprompt", version, mcpserver.WithLogger(log))
		srv.RegisterBox(rt.mcpTools())
		rt.mux.Handle(p, srv.Handler())
		log.Info("mcp over http", slog.String("url", rt.url+p))
	}

	log.Info("serving", slog.String("url", rt.url), slog.Bool("applet_ready", rt.adapter.Ready()))

	<-ctx.Done()

	return nil
}

func runMCP(ctx context.Context, args []string) error {
	fs := newFlagSet("mcp", "mcp [flags]")
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, log, err := common.load()
	if err != nil {
		return err
	}

	rt, err := startRuntime(ctx, cfg, log, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := mcpserver.New("geoprompt", version, mcpserver.WithLogger(log))
	srv.RegisterBox(rt.mcpTools())

	err = srv.Serve(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
