package applet

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Status is the phase reported for a GenerateAndRun call.
type Status string

// Statuses reported to observers and in results.
const (
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Status messages.
const (
	msgLoading = "Generating construction with AI..."
	msgSuccess = "Construction generated successfully!"
	msgError   = "Error generating construction: "
)

// Event is a status notification emitted during GenerateAndRun.
type Event struct {
	Status  Status
	Message string
	Prompt  string
	Command string // Set once a command was generated.
}

// Observer receives events. It is called synchronously and must not block.
type Observer func(Event)

// Result is the outcome of one GenerateAndRun call.
type Result struct {
	Prompt   string        `json:"prompt"`
	Command  string        `json:"command,omitempty"`
	Status   Status        `json:"status"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithGenerator enables GenerateAndRun.
func WithGenerator(g Generator) Option {
	return func(a *Adapter) { a.generator = g }
}

// WithParams sets the display options. Width and height are always taken
// from the container.
func WithParams(p Params) Option {
	return func(a *Adapter) { a.params = p }
}

// WithObserver registers an observer for status events.
func WithObserver(o Observer) Option {
	return func(a *Adapter) { a.observer = o }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *Adapter) { a.log = log }
}

// Adapter owns an applet handle and forwards commands to it.
//
// The handle is set once by New. If injection fails the adapter stays
// uninitialized for its whole lifetime: Run fails with ErrNotReady, while
// Clear and Resize do nothing.
type Adapter struct {
	container Container
	generator Generator
	params    Params
	observer  Observer
	log       *slog.Logger

	handle  Handle
	initErr error
	busy    atomic.Bool
}

// New reads the container size, injects the applet and returns the adapter.
// Initialization is attempted exactly once; its error, if any, is available
// from InitErr.
func New(ctx context.Context, container Container, injector Injector, opts ...Option) *Adapter {
	a := &Adapter{
		container: container,
		params:    DefaultParams(0, 0),
	}
	for _, o := range opts {
		o(a)
	}

	if a.log == nil {
		a.log = slog.New(slog.DiscardHandler)
	}

	a.handle, a.initErr = a.init(ctx, injector)
	if a.initErr != nil {
		a.log.ErrorContext(ctx, "applet initialization failed", slog.Any("error", a.initErr))
	}

	return a
}

func (a *Adapter) init(ctx context.Context, injector Injector) (Handle, error) {
	if a.container == nil || injector == nil {
		return nil, ErrNotReady
	}

	w, h, err := a.container.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("applet: read container size: %w", err)
	}

	params := a.params
	params.Width, params.Height = w, h

	handle, err := injector.Inject(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("applet: inject: %w", err)
	}
	if handle == nil {
		return nil, ErrNotReady
	}

	a.log.InfoContext(ctx, "applet ready", slog.Int("width", w), slog.Int("height", h))

	return handle, nil
}

// Ready reports whether the applet handle is present.
func (a *Adapter) Ready() bool { return a.handle != nil }

// InitErr returns the initialization error, or nil when the adapter is ready.
func (a *Adapter) InitErr() error { return a.initErr }

// Configured reports whether a Generator is set.
func (a *Adapter) Configured() bool { return a.generator != nil }

// GenerateAndRun generates a command for prompt, clears the construction and
// runs the command. The returned Result describes the outcome either way;
// the error is non-nil exactly when Result.Status is StatusError.
//
// Only one call runs at a time: a call that starts while another is in
// flight fails with ErrBusy without emitting any event.
func (a *Adapter) GenerateAndRun(ctx context.Context, prompt string) (Result, error) {
	if a.generator == nil {
		return a.errorResult(prompt, "", ErrNotConfigured, 0), ErrNotConfigured
	}

	if !a.busy.CompareAndSwap(false, true) {
		return a.errorResult(prompt, "", ErrBusy, 0), ErrBusy
	}
	defer a.busy.Store(false)

	start := time.Now()
	a.emit(Event{Status: StatusLoading, Message: msgLoading, Prompt: prompt})

	command, err := a.generator.GenerateCommand(ctx, prompt)
	if err != nil {
		return a.fail(ctx, prompt, "", err, start)
	}

	if err := a.Clear(ctx); err != nil {
		return a.fail(ctx, prompt, command, err, start)
	}

	if err := a.Run(ctx, command); err != nil {
		return a.fail(ctx, prompt, command, err, start)
	}

	res := Result{
		Prompt:   prompt,
		Command:  command,
		Status:   StatusSuccess,
		Message:  msgSuccess,
		Duration: time.Since(start),
	}
	a.emit(Event{Status: StatusSuccess, Message: msgSuccess, Prompt: prompt, Command: command})
	a.log.InfoContext(ctx, "construction generated",
		slog.String("command", command),
		slog.Duration("duration", res.Duration),
	)

	return res, nil
}

func (a *Adapter) fail(ctx context.Context, prompt, command string, err error, start time.Time) (Result, error) {
	res := a.errorResult(prompt, command, err, time.Since(start))
	a.emit(Event{Status: StatusError, Message: res.Message, Prompt: prompt, Command: command})
	a.log.WarnContext(ctx, "construction failed", slog.Any("error", err))

	return res, err
}

func (a *Adapter) errorResult(prompt, command string, err error, d time.Duration) Result {
	return Result{
		Prompt:   prompt,
		Command:  command,
		Status:   StatusError,
		Message:  msgError + err.Error(),
		Duration: d,
		Err:      err,
	}
}

func (a *Adapter) emit(e Event) {
	if a.observer != nil {
		a.observer(e)
	}
}

// Run forwards command verbatim to the applet.
func (a *Adapter) Run(ctx context.Context, command string) error {
	if a.handle == nil {
		return ErrNotReady
	}

	if err := a.handle.EvalCommand(ctx, command); err != nil {
		return &EvalError{Command: command, Err: err}
	}

	return nil
}

// Clear removes all objects from the construction. It does nothing when
// the applet is not initialized.
func (a *Adapter) Clear(ctx context.Context) error {
	if a.handle == nil {
		return nil
	}

	if err := a.handle.EvalCommand(ctx, DeleteAll); err != nil {
		return &EvalError{Command: DeleteAll, Err: err}
	}

	return nil
}

// Resize matches the applet to the container's current size. It does
// nothing when the applet is not initialized.
func (a *Adapter) Resize(ctx context.Context) error {
	if a.handle == nil {
		return nil
	}

	w, h, err := a.container.Size(ctx)
	if err != nil {
		return fmt.Errorf("applet: read container size: %w", err)
	}

	if err := a.handle.SetSize(ctx, w, h); err != nil {
		return fmt.Errorf("applet: resize: %w", err)
	}

	return nil
}
