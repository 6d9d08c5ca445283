// Package session coordinates the recognition session lifecycle: state guards, command
// aggregation, engine control, audio capture, and result dispatch.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/vcd/internal/command"
	"github.com/rbright/vcd/internal/engine"
	"github.com/rbright/vcd/internal/fsm"
	"github.com/rbright/vcd/internal/registry"
	"github.com/rbright/vcd/internal/vcerr"
	"github.com/rbright/vcd/pkg/engineabi"
)

// Mode decides what happens after the engine reports an utterance boundary or a result.
type Mode int

const (
	// ModeStopBySilence stops the session once the engine detects trailing silence.
	ModeStopBySilence Mode = iota
	// ModeRestartAfterReject re-arms the engine after a rejected result.
	ModeRestartAfterReject
	// ModeRestartContinuously re-arms the engine after every result until cancelled.
	ModeRestartContinuously
)

var modeNames = map[Mode]string{
	ModeStopBySilence:       "stop_by_silence",
	ModeRestartAfterReject:  "restart_after_reject",
	ModeRestartContinuously: "restart_continuously",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// ParseMode resolves a wire mode name.
func ParseMode(raw string) (Mode, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for m, name := range modeNames {
		if name == raw {
			return m, nil
		}
	}
	return 0, fmt.Errorf("recognition mode %q: %w", raw, vcerr.ErrInvalidArgument)
}

// Engine is the recognition backend as seen by the controller.
type Engine interface {
	Loaded() bool
	SetCommands() error
	UnsetCommands() error
	Start(stopBySilence bool) error
	FeedAudio(data []byte) (engineabi.SpeechDetect, error)
	Stop() error
	Cancel() error
	AudioFormat(deviceID string) (engine.AudioFormat, error)
}

// Recorder is the audio capture port. Frames and interruptions are delivered to the
// controller's Feed and Interrupt methods on the daemon loop.
type Recorder interface {
	SetDevice(id string, format engine.AudioFormat) error
	Start() error
	Stop() error
	CurrentDeviceID() string
}

// Commands is the command aggregator.
type Commands interface {
	ForegroundPID(ctx context.Context) int
	Collect(ctx context.Context) (*command.Set, error)
	Resolve(id int) (command.Command, error)
	Clear()
}

// Notifier sends outbound notifications. Failures are best-effort except SendResult, which
// is retried while it returns an error wrapping vcerr.ErrTimeout.
type Notifier interface {
	SendStateChanged(state fsm.State) error
	SendResult(pid int, result command.Result) error
	SendResultToManager(pid int, result command.Result) error
	SendSpeechDetected(managerPID int) error
	SendShowTooltip(widgetPID int, show bool) error
	SendError(pid int, code int, message string) error
}

// ResultSink keeps the last full result for later re-query.
type ResultSink interface {
	SaveResult(ctx context.Context, result command.Result) error
}

// Scheduler runs follow-up work on the daemon loop after the current task returns.
type Scheduler interface {
	Defer(fn func())
	After(d time.Duration, fn func()) func()
}

// StartRequest is the manager-facing start call.
type StartRequest struct {
	Mode          Mode
	Exclusive     bool
	StartByClient bool
}

// Options wires a Controller.
type Options struct {
	Logger    *slog.Logger
	Engine    Engine
	Recorder  Recorder
	Commands  Commands
	Registry  *registry.Registry
	Notifier  Notifier
	Results   ResultSink
	Scheduler Scheduler

	ResultRetryLimit    int
	ResultRetryInterval time.Duration
}

// Controller owns the single recognition session. Every method must run on the daemon loop.
type Controller struct {
	logger    *slog.Logger
	engine    Engine
	recorder  Recorder
	commands  Commands
	registry  *registry.Registry
	notifier  Notifier
	results   ResultSink
	scheduler Scheduler

	retryLimit    int
	retryInterval time.Duration

	state fsm.State
	mode  Mode

	// exclusive is set while a manager exclusive start owns the session.
	exclusive bool
	// pending holds a non-exclusive start waiting for its recording trigger.
	pending *StartRequest
	// capturing and armed track the recorder and engine independently of state.
	capturing bool
	armed     bool
	// stopping is set by an explicit stop; continuous mode then ends after its result.
	stopping bool
	// generation invalidates deferred work from an earlier session.
	generation uint64
}

// NewController constructs a controller in state None.
func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	limit := opts.ResultRetryLimit
	if limit <= 0 {
		limit = 100
	}
	interval := opts.ResultRetryInterval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}

	return &Controller{
		logger:        logger,
		engine:        opts.Engine,
		recorder:      opts.Recorder,
		commands:      opts.Commands,
		registry:      reg,
		notifier:      notifier,
		results:       opts.Results,
		scheduler:     opts.Scheduler,
		retryLimit:    limit,
		retryInterval: interval,
		state:         fsm.StateNone,
	}
}

// State returns the current session state.
func (c *Controller) State() fsm.State {
	return c.state
}

// Mode returns the recognition mode of the current or last session.
func (c *Controller) Mode() Mode {
	return c.mode
}

// Exclusive reports whether the current session was started in manager exclusive mode.
func (c *Controller) Exclusive() bool {
	return c.exclusive
}

// Pending reports whether a non-exclusive start is waiting for its recording trigger.
func (c *Controller) Pending() bool {
	return c.pending != nil
}

// Initialize moves the controller from None to Ready.
func (c *Controller) Initialize() error {
	return c.transition(fsm.EventInitialize)
}

// Shutdown aborts any active session and moves the controller to None.
func (c *Controller) Shutdown(ctx context.Context) {
	if c.state == fsm.StateRecording || c.state == fsm.StateProcessing {
		_ = c.Cancel(ctx)
	}
	c.generation++
	c.pending = nil
	_ = c.transition(fsm.EventShutdown)
}

// transition applies event and broadcasts the new state when it changes.
func (c *Controller) transition(event fsm.Event) error {
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return err
	}
	changed := next != c.state
	c.state = next
	if changed {
		c.logger.Debug("session state changed", "state", string(next), "event", string(event))
		if err := c.notifier.SendStateChanged(next); err != nil {
			c.logger.Warn("state notification failed", "state", string(next), "error", err.Error())
		}
	}
	return nil
}

// check reports whether event is legal now without applying it.
func (c *Controller) check(event fsm.Event) error {
	_, err := fsm.Transition(c.state, event)
	return err
}

// Start begins a manager-requested session. A non-exclusive start only asks the foreground
// widget to show its prompt; recording begins with StartRecording.
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	if err := c.check(fsm.EventStart); err != nil {
		return err
	}
	if !req.Mode.Valid() {
		return fmt.Errorf("recognition mode %d: %w", int(req.Mode), vcerr.ErrInvalidArgument)
	}
	c.mode = req.Mode

	if !req.Exclusive {
		pending := req
		c.pending = &pending
		c.showTooltip(ctx, true)
		c.logger.Info("session start awaiting recording trigger", "mode", req.Mode.String())
		return nil
	}

	c.pending = nil
	c.exclusive = true
	c.registry.SetManagerExclusiveMode(true)
	if err := c.startWithClientExclusivity(ctx, req.StartByClient); err != nil {
		c.exclusive = false
		c.registry.SetManagerExclusiveMode(false)
		return err
	}
	return nil
}

// StartRecording is the second phase of a non-exclusive start. Without a pending manager
// start it begins a stop-by-silence session.
func (c *Controller) StartRecording(ctx context.Context) error {
	if err := c.check(fsm.EventStart); err != nil {
		return err
	}
	req := StartRequest{Mode: ModeStopBySilence}
	wasPending := c.pending != nil
	if wasPending {
		req = *c.pending
	}
	c.pending = nil
	c.mode = req.Mode
	if err := c.startWithClientExclusivity(ctx, req.StartByClient); err != nil {
		if wasPending {
			c.showTooltip(ctx, false)
		}
		return err
	}
	return nil
}

// StartByWidget begins recording on a widget's request. A pending manager start keeps its
// mode; otherwise the session stops by silence, or runs continuously until the widget stops it.
func (c *Controller) StartByWidget(ctx context.Context, stopBySilence bool) error {
	if c.pending != nil {
		return c.StartRecording(ctx)
	}
	if err := c.check(fsm.EventStart); err != nil {
		return err
	}
	c.mode = ModeRestartContinuously
	if stopBySilence {
		c.mode = ModeStopBySilence
	}
	return c.startWithClientExclusivity(ctx, false)
}

// startWithClientExclusivity marks the foreground client exclusive for exactly one
// aggregation pass when the start was requested on a client's behalf.
func (c *Controller) startWithClientExclusivity(ctx context.Context, byClient bool) error {
	if byClient {
		if fg := c.commands.ForegroundPID(ctx); fg > 0 && c.registry.IsClient(fg) {
			if err := c.registry.SetClientExclusive(fg); err != nil {
				return err
			}
			defer func() { _ = c.registry.UnsetClientExclusive(fg) }()
		}
	}
	return c.startInternal(ctx)
}

// startInternal aggregates commands, arms the engine, and opens the recorder.
func (c *Controller) startInternal(ctx context.Context) error {
	if c.engine == nil || !c.engine.Loaded() {
		return fmt.Errorf("start session: %w", vcerr.ErrEngineNotFound)
	}

	set, err := c.commands.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect commands: %w", err)
	}
	if set.Count() == 0 {
		return fmt.Errorf("no commands registered: %w", vcerr.ErrOperationFailed)
	}
	if err := c.engine.SetCommands(); err != nil {
		return err
	}
	if err := c.engine.Start(true); err != nil {
		_ = c.engine.UnsetCommands()
		return err
	}
	c.armed = true

	if err := c.openRecorder(); err != nil {
		c.disarm()
		_ = c.engine.UnsetCommands()
		return err
	}

	c.generation++
	c.stopping = false
	if err := c.transition(fsm.EventStart); err != nil {
		return err
	}
	c.logger.Info("session recording", "mode", c.mode.String(), "commands", set.Count(), "exclusive", c.exclusive)
	return nil
}

// openRecorder applies the engine's audio format to the current device and starts capture.
// Busy devices are reported as vcerr.ErrRecorderBusy.
func (c *Controller) openRecorder() error {
	if c.capturing {
		return nil
	}
	deviceID := c.recorder.CurrentDeviceID()
	format, err := c.engine.AudioFormat(deviceID)
	if err != nil {
		return err
	}
	if err := c.recorder.SetDevice(deviceID, format); err != nil {
		return err
	}
	if err := c.recorder.Start(); err != nil {
		return err
	}
	c.capturing = true
	return nil
}

func (c *Controller) closeRecorder() {
	if !c.capturing {
		return
	}
	c.capturing = false
	if err := c.recorder.Stop(); err != nil {
		c.logger.Warn("recorder stop failed", "error", err.Error())
	}
}

// disarm cancels an armed engine, logging failures.
func (c *Controller) disarm() {
	if !c.armed {
		return
	}
	c.armed = false
	if err := c.engine.Cancel(); err != nil {
		c.logger.Warn("engine cancel failed", "error", err.Error())
	}
}

// Stop ends audio input for the current session and waits for the engine result.
func (c *Controller) Stop(context.Context) error {
	if err := c.check(fsm.EventStop); err != nil {
		return err
	}
	c.stopping = true
	c.closeRecorder()
	if c.armed {
		c.armed = false
		if err := c.engine.Stop(); err != nil {
			c.abort("engine stop failed", err)
			return err
		}
	}
	return c.transition(fsm.EventStop)
}

// Cancel aborts the current session.
func (c *Controller) Cancel(ctx context.Context) error {
	if err := c.check(fsm.EventCancel); err != nil {
		return err
	}
	c.closeRecorder()
	c.disarm()
	c.endSession(ctx, true)
	return c.transition(fsm.EventCancel)
}

// endSession releases per-session state shared by cancel and result completion.
func (c *Controller) endSession(ctx context.Context, hideTooltip bool) {
	c.generation++
	if c.exclusive {
		c.exclusive = false
		c.registry.SetManagerExclusiveMode(false)
	} else if hideTooltip {
		c.showTooltip(ctx, false)
	}
	c.registry.ClearExclusive()
	if c.engine != nil && c.engine.Loaded() {
		if err := c.engine.UnsetCommands(); err != nil {
			c.logger.Debug("engine unset commands failed", "error", err.Error())
		}
	}
}

// abort tears the session down after an engine failure and reports it.
func (c *Controller) abort(reason string, cause error) {
	c.logger.Error(reason, "error", cause.Error(), "state", string(c.state))
	c.closeRecorder()
	c.disarm()
	c.endSession(context.Background(), true)
	if c.state == fsm.StateRecording || c.state == fsm.StateProcessing {
		_ = c.transition(fsm.EventCancel)
	}
	c.reportError(vcerr.Code(cause), reason)
}

func (c *Controller) reportError(code int, message string) {
	pid, ok := c.registry.ManagerPID()
	if !ok {
		return
	}
	if err := c.notifier.SendError(pid, code, message); err != nil {
		c.logger.Warn("error notification failed", "pid", pid, "error", err.Error())
	}
}

// Feed forwards one captured audio chunk to the engine while recording.
func (c *Controller) Feed(chunk []byte) {
	if c.state != fsm.StateRecording || !c.armed {
		return
	}

	detect, err := c.engine.FeedAudio(chunk)
	if err != nil {
		gen := c.generation
		c.scheduler.Defer(func() { c.interruptCancel(gen, "engine rejected audio", err) })
		return
	}

	switch detect {
	case engineabi.SpeechDetectBegin:
		if pid, ok := c.registry.ManagerPID(); ok {
			if err := c.notifier.SendSpeechDetected(pid); err != nil {
				c.logger.Warn("speech detected notification failed", "pid", pid, "error", err.Error())
			}
		}
	case engineabi.SpeechDetectEnd:
		c.onEndOfSpeech()
	}
}

func (c *Controller) onEndOfSpeech() {
	switch c.mode {
	case ModeStopBySilence:
		gen := c.generation
		c.scheduler.Defer(func() {
			if gen != c.generation || c.state != fsm.StateRecording {
				return
			}
			if err := c.Stop(context.Background()); err != nil {
				c.logger.Warn("silence stop failed", "error", err.Error())
			}
		})
	case ModeRestartAfterReject:
		c.armed = false
		if err := c.engine.Stop(); err != nil {
			c.abort("engine stop failed", err)
			return
		}
		_ = c.transition(fsm.EventStop)
	case ModeRestartContinuously:
		c.armed = false
		if err := c.engine.Stop(); err != nil {
			c.abort("engine stop failed", err)
		}
	}
}

// Interrupt reports a capture failure. The session is cancelled on a later loop turn.
func (c *Controller) Interrupt(cause error) {
	gen := c.generation
	c.scheduler.Defer(func() { c.interruptCancel(gen, "audio capture interrupted", cause) })
}

func (c *Controller) interruptCancel(gen uint64, reason string, cause error) {
	if gen != c.generation {
		return
	}
	if c.state != fsm.StateRecording && c.state != fsm.StateProcessing {
		return
	}
	c.abort(reason, cause)
}

// restart re-arms the engine for the next utterance of the same session.
func (c *Controller) restart(gen uint64) {
	if gen != c.generation {
		return
	}
	if err := c.check(fsm.EventRestart); err != nil {
		c.logger.Debug("restart dropped", "state", string(c.state))
		return
	}
	if err := c.engine.Start(true); err != nil {
		c.abort("engine restart failed", err)
		return
	}
	c.armed = true
	if err := c.openRecorder(); err != nil {
		c.abort("recorder restart failed", err)
		return
	}
	_ = c.transition(fsm.EventRestart)
	c.logger.Debug("session restarted", "mode", c.mode.String())
}

// foregroundWidget returns the registered widget owning the foreground window.
func (c *Controller) foregroundWidget(ctx context.Context) (int, bool) {
	fg := c.commands.ForegroundPID(ctx)
	if fg <= 0 || !c.registry.IsWidget(fg) {
		return 0, false
	}
	return fg, true
}

func (c *Controller) showTooltip(ctx context.Context, show bool) {
	pid, ok := c.foregroundWidget(ctx)
	if !ok {
		return
	}
	if err := c.notifier.SendShowTooltip(pid, show); err != nil {
		c.logger.Warn("tooltip notification failed", "pid", pid, "show", show, "error", err.Error())
	}
}

type noopNotifier struct{}

func (noopNotifier) SendStateChanged(fsm.State) error              { return nil }
func (noopNotifier) SendResult(int, command.Result) error          { return nil }
func (noopNotifier) SendResultToManager(int, command.Result) error { return nil }
func (noopNotifier) SendSpeechDetected(int) error                  { return nil }
func (noopNotifier) SendShowTooltip(int, bool) error               { return nil }
func (noopNotifier) SendError(int, int, string) error              { return nil }
