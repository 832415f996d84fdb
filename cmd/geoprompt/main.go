// Command geoprompt turns natural-language geometry descriptions into
// GeoGebra constructions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/germanamz/geoprompt/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const usageText = `Usage: geoprompt [flags]
       geoprompt <command> [flags]

Commands:
  generate  Print the command generated for a prompt
  run       Run commands (or a prompt) in a headless applet, optionally saving a screenshot
  serve     Serve the host page, the JSON API and MCP over HTTP
  mcp       Serve the geometry tools over MCP on stdio
  init      Write a config file interactively

Without a command, geoprompt starts an interactive session.
`

// commonFlags are accepted by every command.
type commonFlags struct {
	config string
	env    string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "path to configuration file (default: "+config.DefaultPath+" if present)")
	fs.StringVar(&c.env, "env", ".env", "path to .env file (ignored if missing)")
}

// load reads .env and the config file, validates it and builds the logger.
func (c *commonFlags) load() (config.Config, *slog.Logger, error) {
	if err := loadDotEnv(c.env); err != nil {
		return config.Config{}, nil, err
	}

	cfg, err := config.LoadOrDefault(c.config)
	if err != nil {
		return config.Config{}, nil, err
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}

	return cfg, cfg.Logger(os.Stderr), nil
}

var errNotConfigured = errors.New("no api key configured: set OPENAI_API_KEY or client.api_key")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "generate":
			err = runGenerate(ctx, os.Args[2:])
		case "run":
			err = runRun(ctx, os.Args[2:])
		case "serve":
			err = runServe(ctx, os.Args[2:])
		case "mcp":
			err = runMCP(ctx, os.Args[2:])
		case "init":
			err = runInit(os.Args[2:])
		default:
			err = runInteractive(ctx, os.Args[1:])
		}
	} else {
		err = runInteractive(ctx, nil)
	}

	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runInteractive(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("geoprompt", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usageText+"\nFlags:\n")
		fs.PrintDefaults()
	}

	var common commonFlags
	common.register(fs)
	openLog := logFileFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := common.load()
	if err != nil {
		return err
	}

	logFile, err := openLog()
	if err != nil {
		return err
	}
	if logFile != nil {
		defer func() { _ = logFile.Close() }()
		return runTUI(ctx, cfg, logFile)
	}

	return runTUI(ctx, cfg, nil)
}
