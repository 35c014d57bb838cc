// Package engine implements the Engine/Router (spec.md 4.8): a singleton
// multiplexer over every open Controller, exposed to clients as a WebSocket
// protocol. It authenticates sessions, derives idents, creates or reuses
// Controllers, and fans commands/writes through to them.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"

	"github.com/cncjs/cnc-core/internal/config"
	"github.com/cncjs/cnc-core/internal/controller"
	"github.com/cncjs/cnc-core/internal/dialect"
	"github.com/cncjs/cnc-core/internal/dialect/grbl"
	"github.com/cncjs/cnc-core/internal/dialect/marlin"
	"github.com/cncjs/cnc-core/internal/dialect/smoothie"
	"github.com/cncjs/cnc-core/internal/dialect/tinyg"
	"github.com/cncjs/cnc-core/internal/eventtrigger"
	"github.com/cncjs/cnc-core/internal/ident"
	"github.com/cncjs/cnc-core/internal/logx"
	"github.com/cncjs/cnc-core/internal/transport"
)

// PortInfo describes one known serial port for getPorts() (spec.md 4.8).
type PortInfo struct {
	Path         string `json:"path"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Connected    bool   `json:"connected"`
}

// ShellSpawner is satisfied by an out-of-process ShellCommand service
// (spec.md 1 Non-goal; wired here only as the eventtrigger.ShellSpawner
// interface point).
type ShellSpawner interface {
	Spawn(cmds []string) error
}

// Engine is the process-wide singleton described in spec.md 4.8.
type Engine struct {
	mu sync.Mutex

	cfg      *config.Config
	registry *controller.Registry
	auth     *Authenticator
	shell    ShellSpawner
	logger   logx.Logger

	upgrader websocket.Upgrader
	sessions map[string]*Session
}

// Options configures a new Engine.
type Options struct {
	Config   *config.Config
	Registry *controller.Registry
	Shell    ShellSpawner
	Logger   logx.Logger
}

// New builds an Engine and its Authenticator from cfg.
func New(opts Options) (*Engine, error) {
	auth, err := NewAuthenticator(opts.Config.JWTSecret, opts.Config.AllowIPs, opts.Config.DenyIPs, opts.Config)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      opts.Config,
		registry: opts.Registry,
		auth:     auth,
		shell:    opts.Shell,
		logger:   logx.OrDefault(opts.Logger, "engine"),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		sessions: make(map[string]*Session),
	}, nil
}

// Handler returns the http.Handler that upgrades and serves client sessions,
// to be mounted by cmd/cnccored.
func (e *Engine) Handler() http.Handler {
	return http.HandlerFunc(e.serveHTTP)
}

func (e *Engine) serveHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := e.auth.Authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warnf("upgrade: %v", err)
		return
	}
	sess := newSession(conn, claims, e.logger)

	e.mu.Lock()
	e.sessions[sess.id] = sess
	e.mu.Unlock()

	sess.Emit("startup", map[string]any{"availableControllers": e.registry.Idents()})
	e.serveSession(sess)
}

// serveSession runs the read loop for one session until it disconnects,
// dispatching each incoming envelope to the matching operation.
func (e *Engine) serveSession(sess *Session) {
	defer e.disconnect(sess)
	for {
		var req envelope
		if err := sess.conn.ReadJSON(&req); err != nil {
			return
		}
		e.dispatch(sess, req)
	}
}

func (e *Engine) dispatch(sess *Session, req envelope) {
	args, _ := req.Data.([]any)
	switch req.Event {
	case "getPorts":
		sess.reply(req.ID, "getPorts", e.GetPorts())
	case "getBaudRates":
		sess.reply(req.ID, "getBaudRates", e.cfg.MergedBaudRates())
	case "open":
		e.handleOpen(sess, req.ID, args)
	case "close":
		if id, ok := argString(args, 0); ok {
			e.Close(id)
		}
		sess.reply(req.ID, "close", nil)
	case "command":
		e.handleCommand(sess, req.ID, args)
	case "write":
		e.handleWrite(sess, req.ID, args, false)
	case "writeln":
		e.handleWrite(sess, req.ID, args, true)
	default:
		sess.reply(req.ID, "error", fmt.Sprintf("unknown operation %q", req.Event))
	}
}

func argString(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func (e *Engine) handleOpen(sess *Session, reqID string, args []any) {
	kind, _ := argString(args, 0)
	typ, _ := argString(args, 1)
	opts, _ := args[2].(map[string]any)

	c, err := e.Open(context.Background(), kind, typ, opts)
	if err != nil {
		sess.reply(reqID, "error", err.Error())
		return
	}
	sess.markIdent(c.Ident())
	c.AddSocket(sess)
	sess.reply(reqID, "open", c.Ident())
}

func (e *Engine) handleCommand(sess *Session, reqID string, args []any) {
	id, ok := argString(args, 0)
	if !ok {
		sess.reply(reqID, "error", "command requires an ident")
		return
	}
	cmd, ok := argString(args, 1)
	if !ok {
		sess.reply(reqID, "error", "command requires a name")
		return
	}
	c, ok := e.registry.Get(id)
	if !ok {
		sess.reply(reqID, "error", fmt.Sprintf("unknown ident %q", id))
		return
	}
	if err := c.Command(cmd, args[2:]...); err != nil {
		sess.reply(reqID, "error", err.Error())
	}
}

func (e *Engine) handleWrite(sess *Session, reqID string, args []any, newline bool) {
	id, ok := argString(args, 0)
	if !ok {
		sess.reply(reqID, "error", "write requires an ident")
		return
	}
	data, ok := argString(args, 1)
	if !ok {
		sess.reply(reqID, "error", "write requires data")
		return
	}
	c, ok := e.registry.Get(id)
	if !ok {
		sess.reply(reqID, "error", fmt.Sprintf("unknown ident %q", id))
		return
	}
	var err error
	if newline {
		err = c.Writeln(data)
	} else {
		err = c.Write([]byte(data))
	}
	if err != nil {
		sess.reply(reqID, "error", err.Error())
	}
}

// disconnect removes sess from every controller it joined and the session
// table, but never closes a controller (spec.md 4.8).
func (e *Engine) disconnect(sess *Session) {
	for _, id := range sess.openIdents() {
		if c, ok := e.registry.Get(id); ok {
			c.RemoveSocket(sess.id)
		}
	}
	e.mu.Lock()
	delete(e.sessions, sess.id)
	e.mu.Unlock()
	sess.close()
}

// GetPorts merges enumerated serial ports, user-configured ports, and
// currently-bound idents (spec.md 4.8).
func (e *Engine) GetPorts() []PortInfo {
	seen := make(map[string]*PortInfo)
	order := make([]string, 0)
	add := func(path, manufacturer string) {
		if p, ok := seen[path]; ok {
			if manufacturer != "" {
				p.Manufacturer = manufacturer
			}
			return
		}
		seen[path] = &PortInfo{Path: path, Manufacturer: manufacturer}
		order = append(order, path)
	}

	if details, err := serial.GetDetailedPortsList(); err == nil {
		for _, d := range details {
			add(d.Name, d.Product)
		}
	}
	for _, p := range e.cfg.Ports {
		add(p.Path, p.Manufacturer)
	}
	for _, id := range e.registry.Idents() {
		if path := pathOf(id); path != "" {
			add(path, "")
		}
	}

	out := make([]PortInfo, 0, len(order))
	for _, path := range order {
		p := seen[path]
		for _, id := range e.registry.Idents() {
			if pathOf(id) == path {
				p.Connected = true
			}
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// pathOf extracts the filesystem path component of a serial ident
// ("serial:/dev/ttyUSB0@115200" -> "/dev/ttyUSB0").
func pathOf(id string) string {
	const prefix = "serial:"
	if len(id) <= len(prefix) || id[:len(prefix)] != prefix {
		return ""
	}
	rest := id[len(prefix):]
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == '@' {
			return rest[:i]
		}
	}
	return rest
}

// Open derives the ident for (transportKind, dialectKind, opts), reuses an
// existing Controller if one is already registered, or creates and opens a
// new one (spec.md 4.8's "create or reuse controller").
func (e *Engine) Open(ctx context.Context, dialectKind, transportKind string, opts map[string]any) (*controller.Controller, error) {
	desc, err := descriptorFrom(transportKind, opts)
	if err != nil {
		return nil, err
	}
	id := desc.Ident()

	if c, ok := e.registry.Get(id); ok {
		return c, nil
	}

	d, err := dialectFor(dialectKind)
	if err != nil {
		return nil, err
	}
	tr, err := transportFor(desc)
	if err != nil {
		return nil, err
	}

	c := controller.New(id, d, tr, controller.Options{
		Macros: e.cfg,
		Watch:  e.cfg,
		Logger: e.logger,
	})
	c.SetTrigger(eventtrigger.New(e.cfg.TriggerBindings(), e.shell, c, e.logger))

	if err := e.registry.Add(c); err != nil {
		return nil, err
	}

	openErr := make(chan error, 1)
	c.Open(ctx, func(err error) { openErr <- err })
	if err := <-openErr; err != nil {
		e.registry.Remove(id)
		return nil, err
	}
	return c, nil
}

// Close closes and deregisters the controller for ident, if open.
func (e *Engine) Close(id string) {
	c, ok := e.registry.Get(id)
	if !ok {
		return
	}
	_ = c.Close()
	e.registry.Remove(id)
}

func descriptorFrom(kind string, opts map[string]any) (ident.Descriptor, error) {
	switch kind {
	case "serial":
		path, _ := opts["path"].(string)
		baud := 115200
		if b, ok := opts["baud"].(float64); ok {
			baud = int(b)
		}
		if path == "" {
			return ident.Descriptor{}, fmt.Errorf("engine: serial open requires a path")
		}
		return ident.Descriptor{Kind: ident.Serial, Path: path, Baud: baud}, nil
	case "tcp":
		host, _ := opts["host"].(string)
		port := 23
		if p, ok := opts["port"].(float64); ok {
			port = int(p)
		}
		if host == "" {
			return ident.Descriptor{}, fmt.Errorf("engine: tcp open requires a host")
		}
		return ident.Descriptor{Kind: ident.TCP, Host: host, Port: port}, nil
	default:
		return ident.Descriptor{}, fmt.Errorf("engine: unknown transport kind %q", kind)
	}
}

func dialectFor(kind string) (dialect.Dialect, error) {
	switch dialect.Kind(kind) {
	case dialect.Grbl:
		return grbl.Dialect(), nil
	case dialect.Smoothie:
		return smoothie.Dialect(), nil
	case dialect.Marlin:
		return marlin.Dialect(), nil
	case dialect.TinyG:
		return tinyg.Dialect(), nil
	default:
		return dialect.Dialect{}, fmt.Errorf("engine: unknown controller type %q", kind)
	}
}

func transportFor(desc ident.Descriptor) (transport.Transport, error) {
	switch desc.Kind {
	case ident.Serial:
		return transport.NewSerial(transport.SerialOptions{Path: desc.Path, Baud: desc.Baud}), nil
	case ident.TCP:
		return transport.NewTCP(transport.TCPOptions{Host: desc.Host, Port: desc.Port}), nil
	default:
		return nil, fmt.Errorf("engine: unknown transport kind %q", desc.Kind)
	}
}
