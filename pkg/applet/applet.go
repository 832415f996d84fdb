// Package applet drives an embedded GeoGebra applet: it initializes the
// applet from its container's layout, forwards command strings to the
// applet's command interpreter, and ties command generation to execution.
//
// The applet itself is reached through the [Handle] interface, produced by
// an [Injector] from a set of [Params]. Concrete backends live in
// subpackages.
package applet

import (
	"context"
	"errors"
	"fmt"
)

// DeleteAll is the directive that removes every object from the construction.
const DeleteAll = "DeleteAll()"

// Errors returned by the Adapter.
var (
	// ErrNotConfigured is returned by GenerateAndRun when no Generator is set.
	ErrNotConfigured = errors.New("applet: command generator not configured")
	// ErrNotReady is returned when the applet handle is absent.
	ErrNotReady = errors.New("applet: applet not initialized")
	// ErrBusy is returned by GenerateAndRun while another generation is in flight.
	ErrBusy = errors.New("applet: a generation is already in progress")
)

// EvalError wraps a failure reported by the applet while evaluating a command.
type EvalError struct {
	Command string
	Err     error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("applet: evaluate command %q: %v", e.Command, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Handle is a live applet instance.
type Handle interface {
	// EvalCommand runs one directive (or several, newline separated).
	EvalCommand(ctx context.Context, command string) error
	// SetSize resizes the applet to the given pixel dimensions.
	SetSize(ctx context.Context, width, height int) error
}

// Injector mounts a new applet configured with params.
type Injector interface {
	Inject(ctx context.Context, params Params) (Handle, error)
}

// Container reports the pixel dimensions of the element hosting the applet.
type Container interface {
	Size(ctx context.Context) (width, height int, err error)
}

// Generator turns a natural-language prompt into a command string.
// *promptclient.Client satisfies it.
type Generator interface {
	GenerateCommand(ctx context.Context, prompt string) (string, error)
}

// Params is the applet embedding option set. Field names follow the
// GeoGebra deployment parameters.
type Params struct {
	Width               int     `json:"width"`
	Height              int     `json:"height"`
	MaterialID          string  `json:"material_id"`
	ShowToolBar         bool    `json:"showToolBar"`
	BorderColor         *string `json:"borderColor"`
	ShowMenuBar         bool    `json:"showMenuBar"`
	EnableLabelDrags    bool    `json:"enableLabelDrags"`
	EnableShiftDragZoom bool    `json:"enableShiftDragZoom"`
	CapturingThreshold  *int    `json:"capturingThreshold"`
	ShowToolBarHelp     bool    `json:"showToolBarHelp"`
	ErrorDialogsActive  bool    `json:"errorDialogsActive"`
	ShowResetIcon       bool    `json:"showResetIcon"`
}

// DefaultParams returns the fixed display options for a container of the
// given size.
func DefaultParams(width, height int) Params {
	return Params{
		Width:               width,
		Height:              height,
		ShowToolBar:         true,
		EnableShiftDragZoom: true,
		ErrorDialogsActive:  true,
		ShowResetIcon:       true,
	}
}
