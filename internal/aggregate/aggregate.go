// Package aggregate builds the prioritized command snapshot handed to the engine before each session.
package aggregate

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/rbright/vcd/internal/command"
	"github.com/rbright/vcd/internal/registry"
)

// ForegroundResolver reports the pid of the focused application.
type ForegroundResolver interface {
	ForegroundPID(context.Context) (int, error)
}

// ForegroundFunc adapts a function to ForegroundResolver.
type ForegroundFunc func(context.Context) (int, error)

func (f ForegroundFunc) ForegroundPID(ctx context.Context) (int, error) {
	return f(ctx)
}

// CommandSource fetches the commands a pid registered for one group.
// A pid with no commands returns an empty slice and no error.
type CommandSource interface {
	Commands(ctx context.Context, pid int, group command.Group) ([]command.Command, error)
}

// Aggregator owns the current command snapshot.
type Aggregator struct {
	registry   *registry.Registry
	foreground ForegroundResolver
	source     CommandSource
	logger     *slog.Logger

	current *command.Set
}

// New constructs an aggregator with an empty snapshot.
func New(reg *registry.Registry, foreground ForegroundResolver, source CommandSource, logger *slog.Logger) *Aggregator {
	if foreground == nil {
		foreground = ForegroundFunc(func(context.Context) (int, error) { return 0, nil })
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Aggregator{
		registry:   reg,
		foreground: foreground,
		source:     source,
		logger:     logger,
		current:    &command.Set{},
	}
}

// ForegroundPID resolves the focused pid, treating failures as "no foreground".
func (a *Aggregator) ForegroundPID(ctx context.Context) int {
	pid, err := a.foreground.ForegroundPID(ctx)
	if err != nil {
		a.logger.Debug("foreground pid unavailable", "error", err.Error())
		return 0
	}
	return pid
}

// Collect rebuilds the snapshot from the registry and reassigns ids 1..N.
// The previous snapshot is discarded only once the new one is complete.
func (a *Aggregator) Collect(ctx context.Context) (*command.Set, error) {
	next := &command.Set{}
	if err := a.collectInto(ctx, next); err != nil {
		return nil, err
	}
	next.ReassignIDs()
	a.current = next

	a.logger.Debug("commands collected",
		"widget", len(next.Widget),
		"foreground", len(next.Foreground),
		"system", len(next.System),
		"system_exclusive", len(next.SystemExclusive),
		"background_groups", len(next.Background),
		"total", next.Count(),
	)
	return next, nil
}

func (a *Aggregator) collectInto(ctx context.Context, set *command.Set) error {
	fgPID := a.ForegroundPID(ctx)
	manager := a.registry.Manager()

	if manager.ExclusiveMode {
		if manager.Registered && manager.HasSystemCommands {
			cmds, err := a.fetch(ctx, manager.PID, command.GroupSystemExclusive)
			if err != nil {
				return err
			}
			set.SystemExclusive = cmds
		}
		return nil
	}

	if manager.Registered && manager.HasSystemCommands {
		cmds, err := a.fetch(ctx, manager.PID, command.GroupSystem)
		if err != nil {
			return err
		}
		set.System = cmds
	}

	if fgPID > 0 {
		if widget, err := a.registry.Widget(fgPID); err == nil && widget.WidgetCommands {
			cmds, err := a.fetch(ctx, fgPID, command.GroupWidget)
			if err != nil {
				return err
			}
			set.Widget = cmds
		}

		if client, err := a.registry.Client(fgPID); err == nil {
			if client.Foreground {
				cmds, err := a.fetch(ctx, fgPID, command.GroupForeground)
				if err != nil {
					return err
				}
				set.Foreground = cmds
			}
			if client.Exclusive {
				if client.Background {
					cmds, err := a.fetch(ctx, fgPID, command.GroupBackground)
					if err != nil {
						return err
					}
					if len(cmds) > 0 {
						set.Background = append(set.Background, command.BackgroundGroup{PID: fgPID, Commands: cmds})
					}
				}
				return nil
			}
		}
	}

	for _, client := range a.registry.Clients() {
		if !client.Background {
			continue
		}
		cmds, err := a.fetch(ctx, client.PID, command.GroupBackground)
		if err != nil {
			return err
		}
		if len(cmds) == 0 {
			continue
		}
		set.Background = append(set.Background, command.BackgroundGroup{PID: client.PID, Commands: cmds})
	}
	return nil
}

func (a *Aggregator) fetch(ctx context.Context, pid int, group command.Group) ([]command.Command, error) {
	if a.source == nil {
		return nil, nil
	}
	cmds, err := a.source.Commands(ctx, pid, group)
	if err != nil {
		return nil, fmt.Errorf("fetch %s commands for pid %d: %w", group, pid, err)
	}
	if len(cmds) == 0 {
		a.logger.Debug("no commands registered", "pid", pid, "group", group.String())
		return nil, nil
	}
	out := make([]command.Command, len(cmds))
	for i, cmd := range cmds {
		cmd.PID = pid
		cmd.Group = group
		out[i] = cmd
	}
	return out, nil
}

// Current returns the latest snapshot. Callers must not mutate it.
func (a *Aggregator) Current() *command.Set {
	return a.current
}

// Clear discards the current snapshot.
func (a *Aggregator) Clear() {
	a.current = &command.Set{}
}

// Count returns the command total of the current snapshot.
func (a *Aggregator) Count() int {
	return a.current.Count()
}

// Resolve returns a copy of the command with id from the current snapshot.
func (a *Aggregator) Resolve(id int) (command.Command, error) {
	return a.current.Resolve(id)
}

// Each iterates the current snapshot in resolution order.
func (a *Aggregator) Each(fn func(command.Command) bool) {
	a.current.Each(fn)
}
