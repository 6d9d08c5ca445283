package session

import (
	"context"
	"errors"

	"github.com/rbright/vcd/internal/command"
	"github.com/rbright/vcd/internal/engine"
	"github.com/rbright/vcd/internal/fsm"
	"github.com/rbright/vcd/internal/vcerr"
	"github.com/rbright/vcd/pkg/engineabi"
)

// OnResult handles one engine result. Results outside Processing are dropped, except in
// continuous mode, where the session re-arms while still recording.
func (c *Controller) OnResult(ctx context.Context, r engine.Result) {
	switch {
	case c.state == fsm.StateProcessing:
	case c.mode == ModeRestartContinuously && c.state == fsm.StateRecording:
	default:
		c.logger.Debug("engine result ignored", "state", string(c.state), "event", int(r.Event))
		return
	}
	c.armed = false
	rejected := r.Event != engineabi.ResultEventSuccess

	restartScheduled := false
	switch c.mode {
	case ModeRestartAfterReject:
		if rejected {
			c.notifyManager(notification(r))
			c.scheduleRestart()
			return
		}
		c.closeRecorder()
	case ModeRestartContinuously:
		if !c.stopping {
			c.scheduleRestart()
			restartScheduled = true
		}
		if rejected {
			c.notifyManager(notification(r))
			if !restartScheduled {
				c.finish(ctx)
			}
			return
		}
	}

	if len(r.IDs) == 0 {
		c.handleUnmatched(ctx, r)
	} else {
		c.handleMatched(ctx, r)
	}
	c.registry.ClearExclusive()

	if !restartScheduled {
		c.finish(ctx)
	}
}

func (c *Controller) scheduleRestart() {
	gen := c.generation
	c.scheduler.Defer(func() { c.restart(gen) })
}

// handleUnmatched publishes recognized text that matched no command.
func (c *Controller) handleUnmatched(ctx context.Context, r engine.Result) {
	c.notifyManager(notification(r))
	if pid, ok := c.foregroundWidget(ctx); ok {
		if err := c.notifier.SendResult(pid, notification(r)); err != nil {
			c.logger.Warn("widget result notification failed", "pid", pid, "error", err.Error())
		}
		c.showTooltip(ctx, false)
	}
}

// handleMatched resolves result ids and delivers the full result.
func (c *Controller) handleMatched(ctx context.Context, r engine.Result) {
	result := command.Result{
		Kind:    command.ResultFull,
		Event:   r.Event,
		Text:    r.AllText,
		Message: r.Message,
	}
	for _, id := range r.IDs {
		cmd, err := c.commands.Resolve(id)
		if err != nil {
			c.logger.Warn("engine result id unresolved", "id", id, "error", err.Error())
			continue
		}
		if cmd.HasNonFixed() {
			cmd.SpliceNonFixed(r.NonFixedText)
		}
		result.Commands = append(result.Commands, cmd)
	}

	if c.results != nil {
		if err := c.results.SaveResult(ctx, result); err != nil {
			c.logger.Warn("last result not saved", "error", err.Error())
		}
	}

	if pid, ok := c.registry.ManagerPID(); ok {
		if err := c.notifier.SendResultToManager(pid, result); err != nil {
			c.logger.Warn("manager result notification failed", "pid", pid, "error", err.Error())
		}
		return
	}
	for _, pid := range result.PIDs() {
		c.deliver(pid, result.ForPID(pid), 1)
	}
}

// deliver sends a result to a client, retrying on a later loop turn while the send times out.
func (c *Controller) deliver(pid int, result command.Result, attempt int) {
	err := c.notifier.SendResult(pid, result)
	if err == nil {
		return
	}
	if !errors.Is(err, vcerr.ErrTimeout) || attempt >= c.retryLimit {
		c.logger.Warn("client result delivery failed", "pid", pid, "attempt", attempt, "error", err.Error())
		return
	}
	c.scheduler.After(c.retryInterval, func() { c.deliver(pid, result, attempt+1) })
}

func (c *Controller) notifyManager(result command.Result) {
	pid, ok := c.registry.ManagerPID()
	if !ok {
		return
	}
	if err := c.notifier.SendResultToManager(pid, result); err != nil {
		c.logger.Warn("manager notification failed", "pid", pid, "error", err.Error())
	}
}

// finish closes the session after its final result.
func (c *Controller) finish(ctx context.Context) {
	c.closeRecorder()
	c.endSession(ctx, false)
	c.commands.Clear()
	switch c.state {
	case fsm.StateProcessing:
		_ = c.transition(fsm.EventResult)
	case fsm.StateRecording:
		_ = c.transition(fsm.EventCancel)
	}
}

func notification(r engine.Result) command.Result {
	return command.Result{
		Kind:    command.ResultNotification,
		Event:   r.Event,
		Text:    r.AllText,
		Message: r.Message,
	}
}
