package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/germanamz/geoprompt/pkg/applet"
	"github.com/germanamz/geoprompt/pkg/config"
	"github.com/germanamz/geoprompt/pkg/modeladapter/usage"
)

// constructor is what the interactive session drives. *applet.Adapter
// satisfies it.
type constructor interface {
	GenerateAndRun(ctx context.Context, prompt string) (applet.Result, error)
	Run(ctx context.Context, command string) error
	Clear(ctx context.Context) error
	Resize(ctx context.Context) error
}

// entry is one line of the session history.
type entry struct {
	input   string
	command string
	message string
	failed  bool
}

type resultMsg struct {
	input string
	res   applet.Result
	err   error
}

type tuiModel struct {
	ctx     context.Context
	applet  constructor
	url     string
	input   textinput.Model
	spinner spinner.Model
	history []entry
	busy    bool
	width   int
	usage   *usage.Tracker // nil when generation is not configured
}

const helpText = "Describe a construction, or /run <command>, /clear, /resize, /quit"

func newTUIModel(ctx context.Context, c constructor, url string) tuiModel {
	in := textinput.New()
	in.Placeholder = "a circle of radius 3 centred at the origin"
	in.Prompt = "› "
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = spinnerStyle

	return tuiModel{
		ctx:     ctx,
		applet:  c,
		url:     url,
		input:   in,
		spinner: sp,
		width:   80,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-6, 10)
		initMarkdownRenderer(max(msg.Width-4, 20))
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case resultMsg:
		m.busy = false
		m.history = append(m.history, toEntry(msg))
		return m, m.input.Focus()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func toEntry(msg resultMsg) entry {
	e := entry{input: msg.input, command: msg.res.Command, message: msg.res.Message}
	if msg.err != nil {
		e.failed = true
		if e.message == "" {
			e.message = msg.err.Error()
		}
	}
	return e
}

func (m tuiModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.busy {
		return m, nil
	}

	if text == "/quit" || text == "/exit" {
		return m, tea.Quit
	}

	m.input.SetValue("")
	m.input.Blur()
	m.busy = true

	return m, tea.Batch(m.spinner.Tick, m.execute(text))
}

// execute runs one input line off the UI goroutine.
func (m tuiModel) execute(text string) tea.Cmd {
	ctx, c := m.ctx, m.applet

	return func() tea.Msg {
		switch {
		case text == "/clear":
			err := c.Clear(ctx)
			return resultMsg{input: text, res: applet.Result{Message: okOr(err, "Construction cleared")}, err: err}

		case text == "/resize":
			err := c.Resize(ctx)
			return resultMsg{input: text, res: applet.Result{Message: okOr(err, "Applet resized")}, err: err}

		case strings.HasPrefix(text, "/run "):
			command := strings.TrimSpace(strings.TrimPrefix(text, "/run "))
			err := c.Run(ctx, command)
			return resultMsg{input: text, res: applet.Result{Command: command, Message: okOr(err, "Command executed")}, err: err}

		case strings.HasPrefix(text, "/"):
			err := fmt.Errorf("unknown command %s", strings.Fields(text)[0])
			return resultMsg{input: text, err: err}

		default:
			res, err := c.GenerateAndRun(ctx, text)
			return resultMsg{input: text, res: res, err: err}
		}
	}
}

func okOr(err error, ok string) string {
	if err != nil {
		return err.Error()
	}
	return ok
}

func (m tuiModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("geoprompt"))
	if m.url != "" {
		sb.WriteString(dimStyle.Render("  applet at " + m.url))
	}
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render(truncate(helpText, m.width)))
	sb.WriteString("\n\n")

	for _, e := range m.history {
		sb.WriteString(promptStyle.Render("› "))
		sb.WriteString(truncate(e.input, m.width-2))
		sb.WriteString("\n")

		if e.command != "" && !strings.HasPrefix(e.input, "/run ") {
			sb.WriteString(renderCommand(e.command))
			sb.WriteString("\n")
		}

		style := successStyle
		if e.failed {
			style = errorStyle
		}
		sb.WriteString(style.Render(truncate(e.message, m.width)))
		sb.WriteString("\n\n")
	}

	if line := usageLine(m.usage); line != "" {
		sb.WriteString(dimStyle.Render(line))
		sb.WriteString("\n")
	}

	if m.busy {
		sb.WriteString(m.spinner.View())
		sb.WriteString(" ")
		sb.WriteString(dimStyle.Render("Generating construction with AI..."))
		sb.WriteString("\n")
		sb.WriteString(busyBorder.Render(m.input.View()))
	} else {
		sb.WriteString(inputBorder.Render(m.input.View()))
	}
	sb.WriteString("\n")

	return sb.String()
}

// usageLine summarizes the tokens spent so far, or "" before the first call.
func usageLine(t *usage.Tracker) string {
	if t == nil || t.Count() == 0 {
		return ""
	}

	total := t.Total()
	return fmt.Sprintf("tokens: %d in, %d out over %d calls", total.InputTokens, total.OutputTokens, t.Count())
}

func runTUI(ctx context.Context, cfg config.Config, logOut io.Writer) error {
	log := slog.New(slog.DiscardHandler)
	if logOut != nil {
		log = cfg.Logger(logOut)
	}

	fmt.Fprintln(os.Stderr, "Starting applet...")

	rt, err := startRuntime(ctx, cfg, log, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.adapter.InitErr(); err != nil {
		return fmt.Errorf("applet did not start (open %s in a browser, or enable browser in the config): %w", rt.url, err)
	}

	model := newTUIModel(ctx, rt.adapter, rt.url)
	if rt.client != nil {
		model.usage = rt.client.UsageTracker()
	}

	_, err = tea.NewProgram(model, tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}

	return err
}

// logFileFlag registers --log-file on fs and returns a function opening it.
func logFileFlag(fs *flag.FlagSet) func() (io.WriteCloser, error) {
	path := fs.String("log-file", "", "write logs to this file during the interactive session")

	return func() (io.WriteCloser, error) {
		if *path == "" {
			return nil, nil //nolint:nilnil // no log file requested
		}

		f, err := os.OpenFile(*path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}

		return f, nil
	}
}
