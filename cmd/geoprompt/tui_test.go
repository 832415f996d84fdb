package main

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/germanamz/geoprompt/pkg/applet"
	"github.com/germanamz/geoprompt/pkg/modeladapter/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConstructor struct {
	prompts  []string
	commands []string
	cleared  int
	resized  int
	genErr   error
	runErr   error
}

func (f *fakeConstructor) GenerateAndRun(_ context.Context, prompt string) (applet.Result, error) {
	f.prompts = append(f.prompts, prompt)
	if f.genErr != nil {
		return applet.Result{Prompt: prompt, Status: applet.StatusError, Message: "Error generating construction: " + f.genErr.Error()}, f.genErr
	}
	return applet.Result{
		Prompt:  prompt,
		Command: "Circle((0,0),3)",
		Status:  applet.StatusSuccess,
		Message: "Construction generated successfully!",
	}, nil
}

func (f *fakeConstructor) Run(_ context.Context, command string) error {
	f.commands = append(f.commands, command)
	return f.runErr
}

func (f *fakeConstructor) Clear(context.Context) error {
	f.cleared++
	return nil
}

func (f *fakeConstructor) Resize(context.Context) error {
	f.resized++
	return nil
}

// submit types text, presses enter and runs the resulting command until a
// resultMsg comes back.
func submit(t *testing.T, m tuiModel, text string) tuiModel {
	t.Helper()

	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(tuiModel)
	require.True(t, m.busy)
	require.NotNil(t, cmd)

	res := m.execute(text)()
	next, _ = m.Update(res)

	return next.(tuiModel)
}

func TestTUI_GeneratePrompt(t *testing.T) {
	f := &fakeConstructor{}
	m := newTUIModel(context.Background(), f, "http://127.0.0.1:8080")

	m = submit(t, m, "a circle of radius 3")

	assert.False(t, m.busy)
	assert.Empty(t, m.input.Value())
	assert.Equal(t, []string{"a circle of radius 3"}, f.prompts)
	require.Len(t, m.history, 1)
	assert.Equal(t, "Circle((0,0),3)", m.history[0].command)
	assert.False(t, m.history[0].failed)

	view := m.View()
	assert.Contains(t, view, "a circle of radius 3")
	assert.Contains(t, view, "Construction generated successfully!")
	assert.Contains(t, view, "http://127.0.0.1:8080")
}

func TestTUI_GenerateError(t *testing.T) {
	f := &fakeConstructor{genErr: errors.New("unexpected status 401 Unauthorized")}
	m := submit(t, newTUIModel(context.Background(), f, ""), "circle")

	require.Len(t, m.history, 1)
	assert.True(t, m.history[0].failed)
	assert.Equal(t, "Error generating construction: unexpected status 401 Unauthorized", m.history[0].message)
}

func TestTUI_SlashCommands(t *testing.T) {
	f := &fakeConstructor{}
	m := newTUIModel(context.Background(), f, "")

	m = submit(t, m, "/run A = (1, 2)")
	m = submit(t, m, "/clear")
	m = submit(t, m, "/resize")
	m = submit(t, m, "/bogus")

	assert.Equal(t, []string{"A = (1, 2)"}, f.commands)
	assert.Equal(t, 1, f.cleared)
	assert.Equal(t, 1, f.resized)
	assert.Empty(t, f.prompts)

	require.Len(t, m.history, 4)
	assert.Equal(t, "Command executed", m.history[0].message)
	assert.Equal(t, "Construction cleared", m.history[1].message)
	assert.Equal(t, "Applet resized", m.history[2].message)
	assert.True(t, m.history[3].failed)
	assert.Contains(t, m.history[3].message, "unknown command /bogus")
}

func TestTUI_RunError(t *testing.T) {
	f := &fakeConstructor{runErr: &applet.EvalError{Command: "Circle(", Err: errors.New("command rejected: Circle(")}}
	m := submit(t, newTUIModel(context.Background(), f, ""), "/run Circle(")

	require.Len(t, m.history, 1)
	assert.True(t, m.history[0].failed)
	assert.Contains(t, m.history[0].message, "command rejected")
}

func TestTUI_IgnoresEnterWhileBusyOrEmpty(t *testing.T) {
	m := newTUIModel(context.Background(), &fakeConstructor{}, "")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.False(t, next.(tuiModel).busy)

	m.busy = true
	m.input.SetValue("circle")
	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Equal(t, "circle", next.(tuiModel).input.Value())
}

func TestTUI_Quit(t *testing.T) {
	m := newTUIModel(context.Background(), &fakeConstructor{}, "")

	m.input.SetValue("/quit")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestTUI_WindowSize(t *testing.T) {
	m := newTUIModel(context.Background(), &fakeConstructor{}, "")

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = next.(tuiModel)
	assert.Equal(t, 120, m.width)
	assert.Equal(t, 114, m.input.Width)
}

func TestTUI_UsageLine(t *testing.T) {
	var tr usage.Tracker
	m := newTUIModel(context.Background(), &fakeConstructor{}, "")
	m.usage = &tr

	assert.NotContains(t, m.View(), "tokens:")

	tr.Add(usage.TokenCount{InputTokens: 180, OutputTokens: 9})
	tr.Add(usage.TokenCount{InputTokens: 175, OutputTokens: 12})
	assert.Contains(t, m.View(), "tokens: 355 in, 21 out over 2 calls")
}
