// Package prompt provides the versioned instruction templates sent as the
// system message of every command-generation request. Built-in templates are
// embedded; a YAML file with the same shape can replace them at runtime.
package prompt

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// DefaultName is the built-in template used when none is configured.
const DefaultName = "geogebra-en"

//go:embed templates/*.yaml
var templateFS embed.FS

// Example pairs a command with the geometric description it realises.
type Example struct {
	Command     string `yaml:"command"`
	Description string `yaml:"description"`
}

// Template is a versioned system instruction with worked examples.
type Template struct {
	Name            string    `yaml:"name"`
	Version         int       `yaml:"version"`
	Description     string    `yaml:"description"`
	Instructions    string    `yaml:"instructions"`
	ExamplesHeading string    `yaml:"examples_heading"`
	Examples        []Example `yaml:"examples"`
}

var systemLayout = template.Must(template.New("system").Parse(
	`{{.Instructions}}
{{- if .Examples}}

{{.ExamplesHeading}}
{{- range .Examples}}
- {{.Command}}{{if .Description}}: {{.Description}}{{end}}
{{- end}}
{{- end}}`))

// Render returns the system message text.
func (t Template) Render() (string, error) {
	var sb strings.Builder
	if err := systemLayout.Execute(&sb, t); err != nil {
		return "", fmt.Errorf("prompt: render %q: %w", t.Name, err)
	}

	return sb.String(), nil
}

// ID returns "name@vN", used in logs to tell template revisions apart.
func (t Template) ID() string {
	return fmt.Sprintf("%s@v%d", t.Name, t.Version)
}

// Validate checks that the template can produce a usable system message.
func (t Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("prompt: template name is required")
	}
	if strings.TrimSpace(t.Instructions) == "" {
		return fmt.Errorf("prompt: template %q: instructions are required", t.Name)
	}
	for i, ex := range t.Examples {
		if strings.TrimSpace(ex.Command) == "" {
			return fmt.Errorf("prompt: template %q: example %d has no command", t.Name, i)
		}
	}

	return nil
}

// Default returns the built-in DefaultName template.
func Default() Template {
	t, err := Get(DefaultName)
	if err != nil {
		// The embedded default is part of the binary; failing here is a build defect.
		panic(err)
	}

	return t
}

// Get returns a built-in template by name.
func Get(name string) (Template, error) {
	data, err := templateFS.ReadFile("templates/" + name + ".yaml")
	if err != nil {
		return Template{}, fmt.Errorf("prompt: unknown template %q", name)
	}

	return parse(data, name)
}

// List returns the names of all built-in templates, sorted.
func List() []string {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)

	return names
}

// Load reads a template from a YAML file.
func Load(path string) (Template, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration
	if err != nil {
		return Template{}, fmt.Errorf("prompt: load template: %w", err)
	}

	return parse(data, path)
}

// Resolve picks a template from configuration: a file path wins over a
// built-in name, and an empty configuration yields Default.
func Resolve(name, path string) (Template, error) {
	switch {
	case path != "":
		return Load(path)
	case name != "":
		return Get(name)
	default:
		return Default(), nil
	}
}

func parse(data []byte, source string) (Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("prompt: parse %s: %w", source, err)
	}

	if err := t.Validate(); err != nil {
		return Template{}, err
	}

	return t, nil
}
