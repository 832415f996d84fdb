package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/germanamz/geoprompt/pkg/config"
	"github.com/germanamz/geoprompt/pkg/prompt"
)

// wizardAnswers holds the values collected by the init form.
type wizardAnswers struct {
	EndpointURL string
	APIKey      string //nolint:gosec // env var reference, not a secret
	Model       string
	Template    string
	Browser     bool
	Headless    bool
	Addr        string
}

func defaultAnswers() wizardAnswers {
	def := config.Default()
	return wizardAnswers{
		EndpointURL: def.Client.EndpointURL,
		APIKey:      def.Client.APIKey,
		Model:       def.Client.Model,
		Template:    def.Prompt.Template,
		Browser:     def.Browser.Enabled,
		Headless:    def.Browser.Headless,
		Addr:        def.Server.Addr,
	}
}

// apply returns the default config with the answers filled in.
func (a wizardAnswers) apply() config.Config {
	cfg := config.Default()
	cfg.Client.EndpointURL = a.EndpointURL
	cfg.Client.APIKey = a.APIKey
	cfg.Client.Model = a.Model
	cfg.Prompt.Template = a.Template
	cfg.Browser.Enabled = a.Browser
	cfg.Browser.Headless = a.Headless
	cfg.Server.Addr = a.Addr
	return cfg
}

func required(field string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func wizardForm(a *wizardAnswers) *huh.Form {
	templates := make([]huh.Option[string], 0, len(prompt.List()))
	for _, name := range prompt.List() {
		templates = append(templates, huh.NewOption(name, name))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Chat-completions endpoint").Value(&a.EndpointURL).Validate(required("endpoint")),
			huh.NewInput().Title("API key").
				Description("Use an environment reference such as ${OPENAI_API_KEY} to keep the key out of the file.").
				Value(&a.APIKey),
			huh.NewInput().Title("Model").Value(&a.Model).Validate(required("model")),
			huh.NewSelect[string]().Title("Prompt template").Options(templates...).Value(&a.Template),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Open the applet in Chrome automatically?").Value(&a.Browser),
			huh.NewConfirm().Title("Run Chrome headless?").Value(&a.Headless),
			huh.NewInput().Title("Listen address").Value(&a.Addr).Validate(required("address")),
		),
	)
}

func runInit(args []string) error {
	fs := newFlagSet("init", "init [flags]")
	out := fs.String("output", config.DefaultPath, "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*out); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", *out)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("check %s: %w", *out, err)
	}

	answers := defaultAnswers()
	if err := wizardForm(&answers).Run(); err != nil {
		return err
	}

	cfg := answers.apply()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := config.Save(cfg, *out); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", *out)

	return nil
}
