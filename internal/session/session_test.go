package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rbright/vcd/internal/command"
	"github.com/rbright/vcd/internal/engine"
	"github.com/rbright/vcd/internal/fsm"
	"github.com/rbright/vcd/internal/registry"
	"github.com/rbright/vcd/internal/vcerr"
	"github.com/rbright/vcd/pkg/engineabi"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	loaded     bool
	startErr   error
	stopErr    error
	feedErr    error
	nextDetect engineabi.SpeechDetect

	setCommandsCalls int
	unsetCalls       int
	startCalls       int
	stopCalls        int
	cancelCalls      int
	fed              int
}

func (e *fakeEngine) Loaded() bool { return e.loaded }

func (e *fakeEngine) SetCommands() error {
	e.setCommandsCalls++
	return nil
}

func (e *fakeEngine) UnsetCommands() error {
	e.unsetCalls++
	return nil
}

func (e *fakeEngine) Start(bool) error {
	e.startCalls++
	return e.startErr
}

func (e *fakeEngine) FeedAudio([]byte) (engineabi.SpeechDetect, error) {
	e.fed++
	if e.feedErr != nil {
		return engineabi.SpeechDetectNone, e.feedErr
	}
	detect := e.nextDetect
	e.nextDetect = engineabi.SpeechDetectNone
	return detect, nil
}

func (e *fakeEngine) Stop() error {
	e.stopCalls++
	return e.stopErr
}

func (e *fakeEngine) Cancel() error {
	e.cancelCalls++
	return nil
}

func (e *fakeEngine) AudioFormat(string) (engine.AudioFormat, error) {
	return engine.AudioFormat{Type: engineabi.AudioTypePCMS16LE, Rate: 16000, Channels: 1}, nil
}

type fakeRecorder struct {
	startErr   error
	device     string
	format     engine.AudioFormat
	startCalls int
	stopCalls  int
}

func (r *fakeRecorder) SetDevice(id string, format engine.AudioFormat) error {
	r.device = id
	r.format = format
	return nil
}

func (r *fakeRecorder) Start() error {
	r.startCalls++
	return r.startErr
}

func (r *fakeRecorder) Stop() error {
	r.stopCalls++
	return nil
}

func (r *fakeRecorder) CurrentDeviceID() string { return "default" }

type fakeCommands struct {
	reg        *registry.Registry
	foreground int
	cmds       []command.Command
	collectErr error

	current            *command.Set
	collects           int
	exclusiveAtCollect []int
}

func (f *fakeCommands) ForegroundPID(context.Context) int { return f.foreground }

func (f *fakeCommands) Collect(context.Context) (*command.Set, error) {
	f.collects++
	if f.collectErr != nil {
		return nil, f.collectErr
	}
	for _, c := range f.reg.Clients() {
		if c.Exclusive {
			f.exclusiveAtCollect = append(f.exclusiveAtCollect, c.PID)
		}
	}
	set := &command.Set{Foreground: append([]command.Command(nil), f.cmds...)}
	set.ReassignIDs()
	f.current = set
	return set, nil
}

func (f *fakeCommands) Resolve(id int) (command.Command, error) {
	return f.current.Resolve(id)
}

func (f *fakeCommands) Clear() { f.current = nil }

type sentResult struct {
	pid    int
	result command.Result
}

type fakeNotifier struct {
	states         []fsm.State
	managerResults []sentResult
	clientResults  []sentResult
	speech         int
	tooltips       []bool
	errorsSent     []int

	// resultFailures makes the first N client sends time out.
	resultFailures int
	resultAttempts int
}

func (n *fakeNotifier) SendStateChanged(s fsm.State) error {
	n.states = append(n.states, s)
	return nil
}

func (n *fakeNotifier) SendResult(pid int, r command.Result) error {
	n.resultAttempts++
	if n.resultFailures > 0 {
		n.resultFailures--
		return fmt.Errorf("client %d: %w", pid, vcerr.ErrTimeout)
	}
	n.clientResults = append(n.clientResults, sentResult{pid, r})
	return nil
}

func (n *fakeNotifier) SendResultToManager(pid int, r command.Result) error {
	n.managerResults = append(n.managerResults, sentResult{pid, r})
	return nil
}

func (n *fakeNotifier) SendSpeechDetected(int) error {
	n.speech++
	return nil
}

func (n *fakeNotifier) SendShowTooltip(_ int, show bool) error {
	n.tooltips = append(n.tooltips, show)
	return nil
}

func (n *fakeNotifier) SendError(_ int, code int, _ string) error {
	n.errorsSent = append(n.errorsSent, code)
	return nil
}

// manualScheduler runs deferred work only when the test says so.
type manualScheduler struct {
	deferred []func()
	timers   []func()
}

func (s *manualScheduler) Defer(fn func()) { s.deferred = append(s.deferred, fn) }

func (s *manualScheduler) After(_ time.Duration, fn func()) func() {
	s.timers = append(s.timers, fn)
	return func() {}
}

func (s *manualScheduler) runDeferred() int {
	ran := 0
	for len(s.deferred) > 0 {
		batch := s.deferred
		s.deferred = nil
		for _, fn := range batch {
			fn()
			ran++
		}
	}
	return ran
}

func (s *manualScheduler) fireTimers() int {
	ran := 0
	for len(s.timers) > 0 {
		batch := s.timers
		s.timers = nil
		for _, fn := range batch {
			fn()
			ran++
		}
	}
	return ran
}

type harness struct {
	ctrl     *Controller
	engine   *fakeEngine
	recorder *fakeRecorder
	commands *fakeCommands
	reg      *registry.Registry
	notifier *fakeNotifier
	sched    *manualScheduler
	saved    []command.Result
}

func (h *harness) SaveResult(_ context.Context, r command.Result) error {
	h.saved = append(h.saved, r)
	return nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := registry.New()
	h := &harness{
		engine:   &fakeEngine{loaded: true},
		recorder: &fakeRecorder{},
		commands: &fakeCommands{reg: reg, cmds: []command.Command{
			{PID: 100, Group: command.GroupForeground, Text: "open"},
			{PID: 100, Group: command.GroupForeground, Format: command.FormatFixedThenExtra, Text: "search"},
			{PID: 200, Group: command.GroupForeground, Text: "close"},
		}},
		reg:      reg,
		notifier: &fakeNotifier{},
		sched:    &manualScheduler{},
	}
	h.ctrl = NewController(Options{
		Engine:              h.engine,
		Recorder:            h.recorder,
		Commands:            h.commands,
		Registry:            reg,
		Notifier:            h.notifier,
		Results:             h,
		Scheduler:           h.sched,
		ResultRetryLimit:    5,
		ResultRetryInterval: time.Millisecond,
	})
	require.NoError(t, h.ctrl.Initialize())
	require.Equal(t, fsm.StateReady, h.ctrl.State())
	return h
}

func (h *harness) startExclusive(t *testing.T, mode Mode) {
	t.Helper()
	require.NoError(t, h.ctrl.Start(context.Background(), StartRequest{Mode: mode, Exclusive: true}))
	require.Equal(t, fsm.StateRecording, h.ctrl.State())
}

func TestStateMatrix(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.ErrorIs(t, h.ctrl.Stop(ctx), vcerr.ErrInvalidState)
	require.ErrorIs(t, h.ctrl.Cancel(ctx), vcerr.ErrInvalidState)
	require.Equal(t, fsm.StateReady, h.ctrl.State())

	h.startExclusive(t, ModeStopBySilence)
	require.ErrorIs(t, h.ctrl.Start(ctx, StartRequest{Exclusive: true}), vcerr.ErrInvalidState)
	require.Equal(t, fsm.StateRecording, h.ctrl.State())

	require.NoError(t, h.ctrl.Stop(ctx))
	require.Equal(t, fsm.StateProcessing, h.ctrl.State())
	require.ErrorIs(t, h.ctrl.Start(ctx, StartRequest{Exclusive: true}), vcerr.ErrInvalidState)
	require.ErrorIs(t, h.ctrl.Stop(ctx), vcerr.ErrInvalidState)

	require.NoError(t, h.ctrl.Cancel(ctx))
	require.Equal(t, fsm.StateReady, h.ctrl.State())
	require.Equal(t, []fsm.State{fsm.StateReady, fsm.StateRecording, fsm.StateProcessing, fsm.StateReady}, h.notifier.states)
}

func TestStartArmsEngineBeforeRecorder(t *testing.T) {
	h := newHarness(t)
	h.startExclusive(t, ModeStopBySilence)

	require.Equal(t, 1, h.engine.setCommandsCalls)
	require.Equal(t, 1, h.engine.startCalls)
	require.Equal(t, 1, h.recorder.startCalls)
	require.Equal(t, "default", h.recorder.device)
	require.Equal(t, 16000, h.recorder.format.Rate)
	require.True(t, h.ctrl.Exclusive())
	require.True(t, h.reg.ManagerExclusiveMode())
}

func TestCancelTwiceDoesNotDoubleStopRecorder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.startExclusive(t, ModeStopBySilence)

	require.NoError(t, h.ctrl.Cancel(ctx))
	require.ErrorIs(t, h.ctrl.Cancel(ctx), vcerr.ErrInvalidState)
	require.Equal(t, 1, h.recorder.stopCalls)
	require.Equal(t, 1, h.engine.cancelCalls)
	require.False(t, h.reg.ManagerExclusiveMode())
	require.Equal(t, fsm.StateReady, h.ctrl.State())
}

func TestNonExclusiveStartIsTwoPhase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.reg.AddWidget(300))
	h.commands.foreground = 300

	require.NoError(t, h.ctrl.Start(ctx, StartRequest{Mode: ModeRestartAfterReject}))
	require.Equal(t, fsm.StateReady, h.ctrl.State())
	require.True(t, h.ctrl.Pending())
	require.Equal(t, []bool{true}, h.notifier.tooltips)
	require.Zero(t, h.engine.startCalls)
	require.Zero(t, h.recorder.startCalls)

	require.NoError(t, h.ctrl.StartRecording(ctx))
	require.Equal(t, fsm.StateRecording, h.ctrl.State())
	require.Equal(t, ModeRestartAfterReject, h.ctrl.Mode())
	require.False(t, h.ctrl.Pending())
	require.False(t, h.ctrl.Exclusive())

	require.NoError(t, h.ctrl.Cancel(ctx))
	require.Equal(t, []bool{true, false}, h.notifier.tooltips)
}

func TestFailedSecondPhaseHidesTooltip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.reg.AddWidget(300))
	h.commands.foreground = 300
	h.engine.startErr = fmt.Errorf("engine busy: %w", vcerr.ErrOperationFailed)

	require.NoError(t, h.ctrl.Start(ctx, StartRequest{Mode: ModeStopBySilence}))
	require.Equal(t, []bool{true}, h.notifier.tooltips)

	require.ErrorIs(t, h.ctrl.StartRecording(ctx), vcerr.ErrOperationFailed)
	require.False(t, h.ctrl.Pending())
	require.Equal(t, fsm.StateReady, h.ctrl.State())
	require.Equal(t, []bool{true, false}, h.notifier.tooltips)
}

func TestStartRejectsUnknownMode(t *testing.T) {
	h := newHarness(t)
	err := h.ctrl.Start(context.Background(), StartRequest{Mode: Mode(42), Exclusive: true})
	require.ErrorIs(t, err, vcerr.ErrInvalidArgument)
	require.Equal(t, fsm.StateReady, h.ctrl.State())
}

func TestStartWithoutLoadedEngineNeverTouchesRecorder(t *testing.T) {
	h := newHarness(t)
	h.engine.loaded = false

	err := h.ctrl.Start(context.Background(), StartRequest{Exclusive: true})
	require.ErrorIs(t, err, vcerr.ErrEngineNotFound)
	require.Zero(t, h.recorder.startCalls)
	require.Zero(t, h.commands.collects)
	require.Equal(t, fsm.StateReady, h.ctrl.State())
	require.False(t, h.reg.ManagerExclusiveMode())
}

func TestStartWithoutCommandsFails(t *testing.T) {
	h := newHarness(t)
	h.commands.cmds = nil

	err := h.ctrl.Start(context.Background(), StartRequest{Exclusive: true})
	require.ErrorIs(t, err, vcerr.ErrOperationFailed)
	require.Zero(t, h.engine.startCalls)
	require.Equal(t, fsm.StateReady, h.ctrl.State())
}

func TestRecorderBusyCancelsArmedEngine(t *testing.T) {
	h := newHarness(t)
	h.recorder.startErr = fmt.Errorf("pulse source: %w", vcerr.ErrRecorderBusy)

	err := h.ctrl.Start(context.Background(), StartRequest{Exclusive: true})
	require.ErrorIs(t, err, vcerr.ErrRecorderBusy)
	require.Equal(t, 1, h.engine.startCalls)
	require.Equal(t, 1, h.engine.cancelCalls)
	require.Equal(t, fsm.StateReady, h.ctrl.State())
}

func TestStartByClientMarksForegroundExclusiveForOnePass(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.AddClient(100))
	h.commands.foreground = 100

	require.NoError(t, h.ctrl.Start(context.Background(), StartRequest{Exclusive: true, StartByClient: true}))
	require.Equal(t, []int{100}, h.commands.exclusiveAtCollect)

	record, err := h.reg.Client(100)
	require.NoError(t, err)
	require.False(t, record.Exclusive)
}

func TestFeedIgnoredOutsideRecording(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Feed([]byte{1, 2})
	require.Zero(t, h.engine.fed)
}

func TestFeedSpeechBeginNotifiesManager(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.RegisterManager(1))
	h.startExclusive(t, ModeStopBySilence)

	h.engine.nextDetect = engineabi.SpeechDetectBegin
	h.ctrl.Feed([]byte{1})
	require.Equal(t, 1, h.notifier.speech)
}

func TestFeedErrorCancelsOnLaterTurn(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.RegisterManager(1))
	h.startExclusive(t, ModeStopBySilence)

	h.engine.feedErr = fmt.Errorf("engine: %w", vcerr.ErrOperationFailed)
	h.ctrl.Feed([]byte{1})
	require.Equal(t, fsm.StateRecording, h.ctrl.State())
	require.Zero(t, h.recorder.stopCalls)

	h.sched.runDeferred()
	require.Equal(t, fsm.StateReady, h.ctrl.State())
	require.Equal(t, 1, h.recorder.stopCalls)
	require.Equal(t, []int{vcerr.CodeOperationFailed}, h.notifier.errorsSent)
}

func TestInterruptAfterCancelIsDropped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.startExclusive(t, ModeStopBySilence)

	h.ctrl.Interrupt(errors.New("device unplugged"))
	require.NoError(t, h.ctrl.Cancel(ctx))
	h.sched.runDeferred()

	require.Equal(t, fsm.StateReady, h.ctrl.State())
	require.Equal(t, 1, h.recorder.stopCalls)
	require.Equal(t, 1, h.engine.cancelCalls)
}

func TestStopBySilenceEndSchedulesStop(t *testing.T) {
	h := newHarness(t)
	h.startExclusive(t, ModeStopBySilence)

	h.engine.nextDetect = engineabi.SpeechDetectEnd
	h.ctrl.Feed([]byte{1})
	require.Equal(t, fsm.StateRecording, h.ctrl.State())

	h.sched.runDeferred()
	require.Equal(t, fsm.StateProcessing, h.ctrl.State())
	require.Equal(t, 1, h.engine.stopCalls)
	require.Equal(t, 1, h.recorder.stopCalls)
}

func TestRestartAfterRejectScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.reg.RegisterManager(1))
	h.startExclusive(t, ModeRestartAfterReject)

	restarts := 0
	for i := 0; i < 2; i++ {
		h.engine.nextDetect = engineabi.SpeechDetectEnd
		h.ctrl.Feed([]byte{1})
		require.Equal(t, fsm.StateProcessing, h.ctrl.State())
		require.Zero(t, h.recorder.stopCalls)

		h.ctrl.OnResult(ctx, engine.Result{Event: engineabi.ResultEventRejected})
		restarts += h.sched.runDeferred()
		require.Equal(t, fsm.StateRecording, h.ctrl.State())
	}

	h.engine.nextDetect = engineabi.SpeechDetectEnd
	h.ctrl.Feed([]byte{1})
	h.ctrl.OnResult(ctx, engine.Result{Event: engineabi.ResultEventSuccess, IDs: []int{1}, AllText: "open"})

	require.Equal(t, 2, restarts)
	require.Equal(t, 3, h.engine.startCalls)
	require.Equal(t, fsm.StateReady, h.ctrl.State())
	require.Len(t, h.notifier.managerResults, 3)
	require.Equal(t, command.ResultNotification, h.notifier.managerResults[0].result.Kind)
	require.Equal(t, command.ResultNotification, h.notifier.managerResults[1].result.Kind)
	require.Equal(t, command.ResultFull, h.notifier.managerResults[2].result.Kind)
	require.Equal(t, "open", h.notifier.managerResults[2].result.Commands[0].Text)
	require.Equal(t, 1, h.recorder.startCalls)
	require.Equal(t, 1, h.recorder.stopCalls)
	require.Empty(t, h.notifier.clientResults)
	require.Len(t, h.saved, 1)
}

func TestContinuousModeRestartsUntilStopped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.reg.RegisterManager(1))
	h.startExclusive(t, ModeRestartContinuously)

	h.engine.nextDetect = engineabi.SpeechDetectEnd
	h.ctrl.Feed([]byte{1})
	require.Equal(t, fsm.StateRecording, h.ctrl.State())
	require.Equal(t, 1, h.engine.stopCalls)

	// Accepted while still recording.
	h.ctrl.OnResult(ctx, engine.Result{Event: engineabi.ResultEventSuccess, IDs: []int{1}})
	require.Equal(t, 1, h.sched.runDeferred())
	require.Equal(t, fsm.StateRecording, h.ctrl.State())
	require.Equal(t, 2, h.engine.startCalls)

	h.ctrl.OnResult(ctx, engine.Result{Event: engineabi.ResultEventRejected})
	require.Equal(t, 1, h.sched.runDeferred())
	require.Equal(t, 3, h.engine.startCalls)

	require.NoError(t, h.ctrl.Stop(ctx))
	h.ctrl.OnResult(ctx, engine.Result{Event: engineabi.ResultEventSuccess, IDs: []int{2}})
	require.Zero(t, h.sched.runDeferred())
	require.Equal(t, fsm.StateReady, h.ctrl.State())
	require.Len(t, h.notifier.managerResults, 3)
}

func TestResultIgnoredOutsideProcessing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.reg.RegisterManager(1))

	h.ctrl.OnResult(ctx, engine.Result{Event: engineabi.ResultEventSuccess, IDs: []int{1}})
	require.Empty(t, h.notifier.managerResults)

	h.startExclusive(t, ModeStopBySilence)
	h.ctrl.OnResult(ctx, engine.Result{Event: engineabi.ResultEventSuccess, IDs: []int{1}})
	require.Empty(t, h.notifier.managerResults)
	require.Equal(t, fsm.StateRecording, h.ctrl.State())
}

func TestResultDeliveredToClientsWithSplice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.startExclusive(t, ModeStopBySilence)
	require.NoError(t, h.ctrl.Stop(ctx))

	h.ctrl.OnResult(ctx, engine.Result{
		Event:        engineabi.ResultEventSuccess,
		IDs:          []int{2, 99, 3},
		AllText:      "search weather",
		NonFixedText: "weather",
	})

	require.Equal(t, fsm.StateReady, h.ctrl.State())
	require.Len(t, h.notifier.clientResults, 2)
	require.Equal(t, 100, h.notifier.clientResults[0].pid)
	require.Equal(t, "search", h.notifier.clientResults[0].result.Commands[0].Text)
	require.Equal(t, "weather", h.notifier.clientResults[0].result.Commands[0].Parameter)
	require.Equal(t, 200, h.notifier.clientResults[1].pid)
	require.Len(t, h.notifier.clientResults[1].result.Commands, 1)
	require.Equal(t, 1, h.engine.unsetCalls)
}

func TestResultDeliveryRetriesOnTimeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.commands.cmds = h.commands.cmds[:1]
	h.notifier.resultFailures = 3
	h.startExclusive(t, ModeStopBySilence)
	require.NoError(t, h.ctrl.Stop(ctx))

	h.ctrl.OnResult(ctx, engine.Result{Event: engineabi.ResultEventSuccess, IDs: []int{1}})
	require.Equal(t, fsm.StateReady, h.ctrl.State())
	require.Empty(t, h.notifier.clientResults)

	require.Equal(t, 3, h.sched.fireTimers())
	require.Equal(t, 4, h.notifier.resultAttempts)
	require.Len(t, h.notifier.clientResults, 1)
}

func TestResultDeliveryGivesUpAtRetryLimit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.commands.cmds = h.commands.cmds[:1]
	h.notifier.resultFailures = 1000
	h.startExclusive(t, ModeStopBySilence)
	require.NoError(t, h.ctrl.Stop(ctx))

	h.ctrl.OnResult(ctx, engine.Result{Event: engineabi.ResultEventSuccess, IDs: []int{1}})
	h.sched.fireTimers()
	require.Equal(t, 5, h.notifier.resultAttempts)
	require.Empty(t, h.notifier.clientResults)
}

func TestUnmatchedResultGoesToManagerAndWidget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.reg.RegisterManager(1))
	require.NoError(t, h.reg.AddWidget(300))
	h.commands.foreground = 300

	h.startExclusive(t, ModeStopBySilence)
	require.NoError(t, h.ctrl.Stop(ctx))
	h.ctrl.OnResult(ctx, engine.Result{Event: engineabi.ResultEventSuccess, AllText: "hello there"})

	require.Equal(t, fsm.StateReady, h.ctrl.State())
	require.Len(t, h.notifier.managerResults, 1)
	require.Equal(t, command.ResultNotification, h.notifier.managerResults[0].result.Kind)
	require.Len(t, h.notifier.clientResults, 1)
	require.Equal(t, 300, h.notifier.clientResults[0].pid)
	require.Equal(t, "hello there", h.notifier.clientResults[0].result.Text)
	require.Equal(t, []bool{false}, h.notifier.tooltips)
	require.Empty(t, h.saved)
}

func TestShutdownCancelsActiveSession(t *testing.T) {
	h := newHarness(t)
	h.startExclusive(t, ModeStopBySilence)

	h.ctrl.Shutdown(context.Background())
	require.Equal(t, fsm.StateNone, h.ctrl.State())
	require.Equal(t, 1, h.recorder.stopCalls)
	require.Equal(t, 1, h.engine.cancelCalls)
}

func TestModeString(t *testing.T) {
	require.Equal(t, "restart_after_reject", ModeRestartAfterReject.String())
	require.Equal(t, "mode(9)", Mode(9).String())
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode(" Restart_Continuously ")
	require.NoError(t, err)
	require.Equal(t, ModeRestartContinuously, mode)

	_, err = ParseMode("forever")
	require.ErrorIs(t, err, vcerr.ErrInvalidArgument)
}

func TestStartByWidgetPicksMode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.ctrl.StartByWidget(ctx, true))
	require.Equal(t, fsm.StateRecording, h.ctrl.State())
	require.Equal(t, ModeStopBySilence, h.ctrl.Mode())
	require.NoError(t, h.ctrl.Cancel(ctx))

	require.NoError(t, h.ctrl.StartByWidget(ctx, false))
	require.Equal(t, ModeRestartContinuously, h.ctrl.Mode())
	require.ErrorIs(t, h.ctrl.StartByWidget(ctx, true), vcerr.ErrInvalidState)
}

func TestStartByWidgetKeepsPendingManagerMode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.ctrl.Start(ctx, StartRequest{Mode: ModeRestartAfterReject}))
	require.NoError(t, h.ctrl.StartByWidget(ctx, true))
	require.Equal(t, ModeRestartAfterReject, h.ctrl.Mode())
	require.False(t, h.ctrl.Pending())
}
