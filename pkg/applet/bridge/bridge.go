// Package bridge hosts a GeoGebra applet in a web page and drives it over a
// WebSocket. The Bridge serves the host page and the socket endpoint; the
// page executes each request against the real applet API and replies.
//
// A Bridge is an applet.Injector and an applet.Container, and the handles it
// returns are applet.Handle values, so it plugs straight into applet.New.
// Any browser that opens the page becomes the active applet; the newest
// connection wins.
package bridge

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/germanamz/geoprompt/pkg/applet"
)

// Defaults for the host page.
const (
	DefaultContainerID   = "ggb-container"
	DefaultScriptURL     = "https://www.geogebra.org/apps/deployggb.js"
	DefaultAppletVersion = "5.0"
	DefaultTitle         = "geoprompt"
)

const wsPath = "/ws"

// statusTimeout bounds each status push to the page.
const statusTimeout = 5 * time.Second

// statusQueue is how many status events wait per page before the oldest is
// dropped.
const statusQueue = 16

//go:embed page.html
var pageSource string

var pageTemplate = template.Must(template.New("page").Parse(pageSource))

// Option configures a Bridge.
type Option func(*Bridge)

// WithContainerID sets the DOM id of the applet container element.
func WithContainerID(id string) Option {
	return func(b *Bridge) { b.page.ContainerID = id }
}

// WithScriptURL sets the URL of the GeoGebra deployment script.
func WithScriptURL(u string) Option {
	return func(b *Bridge) { b.page.ScriptURL = u }
}

// WithAppletVersion sets the applet version passed to GGBApplet.
func WithAppletVersion(v string) Option {
	return func(b *Bridge) { b.page.AppletVersion = v }
}

// WithTitle sets the page title.
func WithTitle(title string) Option {
	return func(b *Bridge) { b.page.Title = title }
}

// WithPromptForm shows a prompt form on the page that posts to apiBase+"/generate".
func WithPromptForm(apiBase string) Option {
	return func(b *Bridge) { b.page.APIBase = apiBase }
}

// WithOriginPatterns lists extra origins allowed to open the socket.
func WithOriginPatterns(patterns ...string) Option {
	return func(b *Bridge) { b.origins = patterns }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

type pageData struct {
	Title         string
	ContainerID   string
	ScriptURL     string
	AppletVersion string
	APIBase       string
	WSPath        string
}

// Bridge serves the host page and relays applet requests to it.
type Bridge struct {
	page    pageData
	origins []string
	log     *slog.Logger
	html    []byte
	mux     *http.ServeMux

	nextID atomic.Int64

	mu       sync.Mutex
	active   *peer
	attached chan struct{} // closed when a page connects, then replaced
	params   *applet.Params
}

var (
	_ applet.Injector  = (*Bridge)(nil)
	_ applet.Container = (*Bridge)(nil)
	_ applet.Handle    = (*Handle)(nil)
)

// New creates a Bridge. It fails only if the host page cannot be rendered.
func New(opts ...Option) (*Bridge, error) {
	b := &Bridge{
		page: pageData{
			Title:         DefaultTitle,
			ContainerID:   DefaultContainerID,
			ScriptURL:     DefaultScriptURL,
			AppletVersion: DefaultAppletVersion,
			WSPath:        wsPath,
		},
		attached: make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}

	if b.log == nil {
		b.log = slog.New(slog.DiscardHandler)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, b.page); err != nil {
		return nil, fmt.Errorf("bridge: render page: %w", err)
	}
	b.html = buf.Bytes()

	b.mux = http.NewServeMux()
	b.mux.HandleFunc("GET /{$}", b.servePage)
	b.mux.HandleFunc("GET "+wsPath, b.serveWS)

	return b, nil
}

// ContainerID returns the DOM id of the applet container.
func (b *Bridge) ContainerID() string { return b.page.ContainerID }

// ServeHTTP serves the host page at "/" and the socket at "/ws".
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mux.ServeHTTP(w, r)
}

// Connected reports whether a page is currently attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.active != nil
}

func (b *Bridge) servePage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b.html)
}

func (b *Bridge) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.origins})
	if err != nil {
		b.log.WarnContext(r.Context(), "websocket accept failed", slog.Any("error", err))
		return
	}

	p := newPeer(conn)
	go p.writeStatus(b.log)
	params := b.attach(p)
	b.log.InfoContext(r.Context(), "applet page connected", slog.String("remote", r.RemoteAddr))

	// A page that reconnects has lost its applet; mount it again.
	if params != nil {
		go b.reinject(r.Context(), p, *params)
	}

	err = p.readLoop(r.Context())
	b.detach(p)
	b.log.InfoContext(r.Context(), "applet page disconnected", slog.Any("reason", err))
}

func (b *Bridge) reinject(ctx context.Context, p *peer, params applet.Params) {
	if _, err := p.call(ctx, b.request("inject", func(r *request) { r.Params = &params })); err != nil {
		b.log.WarnContext(ctx, "re-inject failed", slog.Any("error", err))
	}
}

// attach makes p the active page and returns the remembered inject params.
func (b *Bridge) attach(p *peer) *applet.Params {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old := b.active; old != nil {
		_ = old.conn.Close(websocket.StatusGoingAway, "replaced by a newer page")
	}

	b.active = p
	close(b.attached)
	b.attached = make(chan struct{})

	return b.params
}

func (b *Bridge) detach(p *peer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == p {
		b.active = nil
	}
}

func (b *Bridge) current() *peer {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.active
}

// waitPeer blocks until a page is attached or ctx ends.
func (b *Bridge) waitPeer(ctx context.Context) (*peer, error) {
	for {
		b.mu.Lock()
		p, ch := b.active, b.attached
		b.mu.Unlock()

		if p != nil {
			return p, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, fmt.Errorf("bridge: waiting for applet page: %w", ctx.Err())
		}
	}
}

func (b *Bridge) request(op string, fill func(*request)) request {
	r := request{ID: b.nextID.Add(1), Op: op}
	if fill != nil {
		fill(&r)
	}
	return r
}

// Size returns the container size reported by the page, waiting for a page
// to connect if none is attached.
func (b *Bridge) Size(ctx context.Context) (int, int, error) {
	p, err := b.waitPeer(ctx)
	if err != nil {
		return 0, 0, err
	}

	rep, err := p.call(ctx, b.request("size", nil))
	if err != nil {
		return 0, 0, fmt.Errorf("bridge: size: %w", err)
	}

	return rep.Width, rep.Height, nil
}

// Inject mounts the applet on the page, waiting for a page to connect if
// none is attached. The params are remembered and replayed on reconnect.
func (b *Bridge) Inject(ctx context.Context, params applet.Params) (applet.Handle, error) {
	p, err := b.waitPeer(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.params = &params
	b.mu.Unlock()

	if _, err := p.call(ctx, b.request("inject", func(r *request) { r.Params = &params })); err != nil {
		return nil, fmt.Errorf("bridge: inject: %w", err)
	}

	return &Handle{b: b}, nil
}

// Observe pushes a status event to the page's status and code fields.
// Events reach the page in the order they were observed. Observe never
// blocks the caller: it drops the event when no page is attached, and drops
// the oldest queued event when the page falls behind. Use it as an
// applet.Observer.
func (b *Bridge) Observe(e applet.Event) {
	p := b.current()
	if p == nil {
		return
	}

	p.pushStatus(request{Op: "status", Status: string(e.Status), Message: e.Message, Command: e.Command})
}

// Handle is the applet handle returned by Inject. Calls go to whichever
// page is attached at call time.
type Handle struct {
	b *Bridge
}

// EvalCommand evaluates command in the applet.
func (h *Handle) EvalCommand(ctx context.Context, command string) error {
	p := h.b.current()
	if p == nil {
		return applet.ErrNotReady
	}

	_, err := p.call(ctx, h.b.request("eval", func(r *request) { r.Command = command }))
	return err
}

// SetSize resizes the applet.
func (h *Handle) SetSize(ctx context.Context, width, height int) error {
	p := h.b.current()
	if p == nil {
		return applet.ErrNotReady
	}

	_, err := p.call(ctx, h.b.request("setSize", func(r *request) {
		r.Width, r.Height = width, height
	}))
	return err
}

// --- wire protocol ---

type request struct {
	ID      int64          `json:"id,omitempty"`
	Op      string         `json:"op"`
	Command string         `json:"command,omitempty"`
	Params  *applet.Params `json:"params,omitempty"`
	Width   int            `json:"width,omitempty"`
	Height  int            `json:"height,omitempty"`
	Status  string         `json:"status,omitempty"`
	Message string         `json:"message,omitempty"`
}

type reply struct {
	ID     int64  `json:"id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// errPageGone is returned for requests pending when the page disconnects.
var errPageGone = errors.New("bridge: applet page disconnected")

// peer is one connected page.
type peer struct {
	conn *websocket.Conn

	status chan request
	done   chan struct{} // closed when the read loop ends

	mu      sync.Mutex
	pending map[int64]chan reply
	closed  bool
}

func newPeer(conn *websocket.Conn) *peer {
	return &peer{
		conn:    conn,
		status:  make(chan request, statusQueue),
		done:    make(chan struct{}),
		pending: make(map[int64]chan reply),
	}
}

// pushStatus queues req for writeStatus, evicting the oldest queued event
// when the queue is full so the latest status always gets through.
func (p *peer) pushStatus(req request) {
	for {
		select {
		case p.status <- req:
			return
		default:
		}

		select {
		case <-p.status:
		default:
		}
	}
}

// writeStatus sends queued status events one at a time until the peer is
// gone.
func (p *peer) writeStatus(log *slog.Logger) {
	for {
		select {
		case req := <-p.status:
			ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
			err := p.send(ctx, req)
			cancel()
			if err != nil {
				log.Debug("status push failed", slog.Any("error", err))
			}
		case <-p.done:
			return
		}
	}
}

func (p *peer) send(ctx context.Context, req request) error {
	return wsjson.Write(ctx, p.conn, req)
}

// call sends req and waits for the matching reply. A reply with ok=false
// becomes an error carrying the page's message.
func (p *peer) call(ctx context.Context, req request) (reply, error) {
	ch := make(chan reply, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return reply{}, errPageGone
	}
	p.pending[req.ID] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, req.ID)
		p.mu.Unlock()
	}()

	if err := p.send(ctx, req); err != nil {
		return reply{}, fmt.Errorf("send %s: %w", req.Op, err)
	}

	select {
	case rep, ok := <-ch:
		if !ok {
			return reply{}, errPageGone
		}
		if !rep.OK {
			if rep.Error == "" {
				return rep, fmt.Errorf("%s rejected by page", req.Op)
			}
			return rep, errors.New(rep.Error)
		}
		return rep, nil
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// readLoop dispatches replies until the connection fails, then fails every
// pending call.
func (p *peer) readLoop(ctx context.Context) error {
	defer p.closePending()

	for {
		var rep reply
		if err := wsjson.Read(ctx, p.conn, &rep); err != nil {
			return err
		}

		// Each pending channel receives at most one reply; repeats of an id
		// are dropped.
		p.mu.Lock()
		ch, ok := p.pending[rep.ID]
		delete(p.pending, rep.ID)
		p.mu.Unlock()

		if ok {
			ch <- rep
		}
	}
}

func (p *peer) closePending() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	close(p.done)
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
}
