// Package daemon wires the session controller, client registry, engine, and recorder onto a
// single event loop and exposes them to the RPC transport.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbright/vcd/internal/aggregate"
	"github.com/rbright/vcd/internal/command"
	"github.com/rbright/vcd/internal/engine"
	"github.com/rbright/vcd/internal/fsm"
	"github.com/rbright/vcd/internal/loop"
	"github.com/rbright/vcd/internal/registry"
	"github.com/rbright/vcd/internal/session"
)

// Engine is the engine adapter as driven by the daemon.
type Engine interface {
	session.Engine
	SetResultHandler(func(engine.Result))
	DiscoverEngines(dir string, extra ...string) ([]engine.Info, error)
	SelectFirst([]engine.Info) error
	Load() error
	Unload() error
	Active() (engine.Info, bool)
}

// Recorder is the audio capture port plus device selection.
type Recorder interface {
	session.Recorder
	SetAudioType(id string) error
}

// Notifier sends outbound notifications and probes client liveness.
type Notifier interface {
	session.Notifier
	Hello(ctx context.Context, pid int) (bool, error)
}

// Store persists command lists, the demandable-client allowlist, and the last result.
type Store interface {
	aggregate.CommandSource
	session.ResultSink
	Reset(ctx context.Context) error
	SetCommands(ctx context.Context, pid int, group command.Group, cmds []command.Command) error
	UnsetCommands(ctx context.Context, pid int, group command.Group) error
	HasCommands(ctx context.Context, pid int, group command.Group) (bool, error)
	DeletePID(ctx context.Context, pid int) error
	SetDemandable(ctx context.Context, pids []int) error
	Demandable(ctx context.Context) ([]int, error)
	LastResult(ctx context.Context) (command.Result, error)
}

// Options wires a Daemon.
type Options struct {
	Logger   *slog.Logger
	Loop     *loop.Loop
	Registry *registry.Registry
	Commands *aggregate.Aggregator
	Engine   Engine
	Recorder Recorder
	Notifier Notifier
	Store    Store

	// EngineDir and EngineExtra are scanned at startup; the first valid engine is loaded.
	EngineDir   string
	EngineExtra []string

	CleanupInterval     time.Duration
	IdleShutdown        bool
	ResultRetryLimit    int
	ResultRetryInterval time.Duration
}

// Daemon is the transport boundary: RPCs, frames, and engine results enter here and run on
// the loop.
type Daemon struct {
	logger     *slog.Logger
	loop       *loop.Loop
	registry   *registry.Registry
	commands   *aggregate.Aggregator
	engine     Engine
	recorder   Recorder
	notifier   Notifier
	store      Store
	controller *session.Controller

	engineDir       string
	engineExtra     []string
	cleanupInterval time.Duration
	idleShutdown    bool

	// ctx and shutdown are set by Run before the loop starts.
	ctx      context.Context
	shutdown context.CancelFunc
	sweeping atomic.Bool
}

// New constructs a daemon. The controller stays in state None until Run.
func New(opts Options) *Daemon {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	lp := opts.Loop
	if lp == nil {
		lp = loop.New(0)
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	commands := opts.Commands
	if commands == nil {
		commands = aggregate.New(reg, nil, opts.Store, logger)
	}
	interval := opts.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	d := &Daemon{
		logger:          logger,
		loop:            lp,
		registry:        reg,
		commands:        commands,
		engine:          opts.Engine,
		recorder:        opts.Recorder,
		notifier:        opts.Notifier,
		store:           opts.Store,
		engineDir:       opts.EngineDir,
		engineExtra:     opts.EngineExtra,
		cleanupInterval: interval,
		idleShutdown:    opts.IdleShutdown,
		ctx:             context.Background(),
	}
	d.controller = session.NewController(session.Options{
		Logger:              logger.With("component", "session"),
		Engine:              opts.Engine,
		Recorder:            opts.Recorder,
		Commands:            commands,
		Registry:            reg,
		Notifier:            opts.Notifier,
		Results:             opts.Store,
		Scheduler:           lp,
		ResultRetryLimit:    opts.ResultRetryLimit,
		ResultRetryInterval: opts.ResultRetryInterval,
	})
	d.engine.SetResultHandler(d.OnResult)
	return d
}

// Run boots the daemon and processes work until ctx is cancelled or the daemon idles out.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.ctx = ctx
	d.shutdown = cancel

	loopDone := make(chan error, 1)
	go func() { loopDone <- d.loop.Run(ctx) }()

	if err := d.loop.Call(ctx, d.boot); err != nil {
		cancel()
		<-loopDone
		return fmt.Errorf("boot daemon: %w", err)
	}

	go d.sweepLoop(ctx)

	<-ctx.Done()
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Warn("event loop ended", "error", err.Error())
	}
	// The loop goroutine has exited; teardown is the last loop-owned work.
	d.teardown()
	return nil
}

// boot discovers and loads the engine, then moves the session to Ready. A missing or broken
// engine leaves the daemon running without one.
func (d *Daemon) boot() {
	if err := d.store.Reset(d.ctx); err != nil {
		d.logger.Warn("store reset failed", "error", err.Error())
	}

	infos, err := d.engine.DiscoverEngines(d.engineDir, d.engineExtra...)
	switch {
	case err != nil:
		d.logger.Warn("no engine available", "dir", d.engineDir, "error", err.Error())
	default:
		if err := d.engine.SelectFirst(infos); err != nil {
			d.logger.Warn("engine selection failed", "error", err.Error())
		} else if err := d.engine.Load(); err != nil {
			d.logger.Warn("engine load failed", "error", err.Error())
		}
	}

	if err := d.controller.Initialize(); err != nil {
		d.logger.Error("session initialize failed", "error", err.Error())
		return
	}
	d.logger.Info("daemon ready", "engine_loaded", d.engine.Loaded(), "audio_type", d.recorder.CurrentDeviceID())
}

func (d *Daemon) teardown() {
	d.controller.Shutdown(context.Background())
	if err := d.engine.Unload(); err != nil {
		d.logger.Warn("engine unload failed", "error", err.Error())
	}
	if err := d.recorder.Stop(); err != nil {
		d.logger.Warn("recorder stop failed", "error", err.Error())
	}
	d.logger.Info("daemon stopped")
}

// OnFrame queues one captured PCM frame for the session.
func (d *Daemon) OnFrame(frame []byte) {
	d.loop.Post(func() { d.controller.Feed(frame) })
}

// OnInterrupt queues a capture failure for the session.
func (d *Daemon) OnInterrupt(err error) {
	d.loop.Post(func() { d.controller.Interrupt(err) })
}

// OnResult queues an engine result. Engines may report from inside Stop, which runs on the
// loop, so the result goes through the unbounded mailbox and is never handled inline.
func (d *Daemon) OnResult(r engine.Result) {
	d.loop.Enqueue(func() { d.controller.OnResult(d.ctx, r) })
}

// Status is a point-in-time daemon snapshot.
type Status struct {
	State        string               `json:"state"`
	Mode         string               `json:"mode"`
	Exclusive    bool                 `json:"exclusive"`
	Pending      bool                 `json:"pending"`
	EngineLoaded bool                 `json:"engine_loaded"`
	Engine       *engine.Info         `json:"engine,omitempty"`
	AudioType    string               `json:"audio_type"`
	Clients      int                  `json:"clients"`
	Widgets      int                  `json:"widgets"`
	Manager      registry.ManagerInfo `json:"manager"`
}

// Clients lists every registered connection.
type Clients struct {
	Clients []registry.ClientRecord `json:"clients"`
	Widgets []registry.WidgetRecord `json:"widgets"`
	Manager registry.ManagerInfo    `json:"manager"`
}

// EngineStatus describes the active engine.
type EngineStatus struct {
	Loaded bool         `json:"loaded"`
	Engine *engine.Info `json:"engine,omitempty"`
}

// Status reads a snapshot through the loop.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	var st Status
	err := d.loop.Call(ctx, func() { st = d.status() })
	return st, err
}

// Clients reads the registry through the loop.
func (d *Daemon) Clients(ctx context.Context) (Clients, error) {
	var out Clients
	err := d.loop.Call(ctx, func() { out = d.clients() })
	return out, err
}

// EngineStatus reads the active engine through the loop.
func (d *Daemon) EngineStatus(ctx context.Context) (EngineStatus, error) {
	var out EngineStatus
	err := d.loop.Call(ctx, func() {
		out.Loaded = d.engine.Loaded()
		if info, ok := d.engine.Active(); ok {
			out.Engine = &info
		}
	})
	return out, err
}

func (d *Daemon) status() Status {
	st := Status{
		State:        string(d.controller.State()),
		Mode:         d.controller.Mode().String(),
		Exclusive:    d.controller.Exclusive(),
		Pending:      d.controller.Pending(),
		EngineLoaded: d.engine.Loaded(),
		AudioType:    d.recorder.CurrentDeviceID(),
		Clients:      len(d.registry.Clients()),
		Widgets:      len(d.registry.Widgets()),
		Manager:      d.registry.Manager(),
	}
	if info, ok := d.engine.Active(); ok {
		st.Engine = &info
	}
	return st
}

func (d *Daemon) clients() Clients {
	return Clients{
		Clients: d.registry.Clients(),
		Widgets: d.registry.Widgets(),
		Manager: d.registry.Manager(),
	}
}

func (d *Daemon) active() bool {
	state := d.controller.State()
	return state == fsm.StateRecording || state == fsm.StateProcessing
}
