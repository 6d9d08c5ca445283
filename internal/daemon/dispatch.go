package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbright/vcd/internal/command"
	"github.com/rbright/vcd/internal/ipc"
	"github.com/rbright/vcd/internal/session"
	"github.com/rbright/vcd/internal/vcerr"
)

type setCommandArgs struct {
	Type     string            `json:"type"`
	Commands []command.Command `json:"commands"`
}

type unsetCommandArgs struct {
	Type string `json:"type"`
}

type demandableArgs struct {
	PIDs []int `json:"pids"`
}

type audioTypeArgs struct {
	AudioType string `json:"audio_type"`
}

type managerStartArgs struct {
	Mode          string `json:"mode"`
	Exclusive     bool   `json:"exclusive"`
	StartByClient bool   `json:"start_by_client"`
}

type startRecordingArgs struct {
	WidgetCommand bool `json:"widget_command"`
}

type widgetStartArgs struct {
	StopBySilence bool `json:"stop_by_silence"`
}

// Handle runs one RPC on the loop. It implements ipc.Handler.
func (d *Daemon) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	var resp ipc.Response
	err := d.loop.Call(ctx, func() { resp = d.dispatch(ctx, req) })
	if err != nil {
		return ipc.Fail(fmt.Errorf("%s.%s: %v: %w", req.Role, req.Method, err, vcerr.ErrOperationFailed))
	}
	return resp
}

func (d *Daemon) dispatch(ctx context.Context, req ipc.Request) ipc.Response {
	if req.Role != ipc.RoleDaemon && req.PID <= 0 {
		return ipc.Fail(fmt.Errorf("%s.%s pid %d: %w", req.Role, req.Method, req.PID, vcerr.ErrInvalidArgument))
	}

	var (
		data any
		err  error
	)
	switch req.Role {
	case ipc.RoleManager:
		data, err = d.handleManager(ctx, req)
	case ipc.RoleClient:
		data, err = d.handleClient(ctx, req)
	case ipc.RoleWidget:
		data, err = d.handleWidget(ctx, req)
	case ipc.RoleDaemon:
		data, err = d.handleDaemon(req)
	default:
		err = fmt.Errorf("role %q: %w", req.Role, vcerr.ErrInvalidArgument)
	}
	if err != nil {
		d.logger.Debug("rpc failed", "role", string(req.Role), "method", req.Method, "pid", req.PID, "error", err.Error())
		return ipc.Fail(err)
	}
	return ipc.OK(data)
}

func unknownMethod(req ipc.Request) error {
	return fmt.Errorf("%s.%s: unknown method: %w", req.Role, req.Method, vcerr.ErrInvalidArgument)
}

func (d *Daemon) handleManager(ctx context.Context, req ipc.Request) (any, error) {
	if req.Method == ipc.MethodInitialize {
		if err := d.registry.RegisterManager(req.PID); err != nil {
			return nil, err
		}
		d.logger.Info("manager registered", "pid", req.PID)
		return d.status(), nil
	}

	if !d.registry.IsManager(req.PID) {
		return nil, fmt.Errorf("manager pid %d is not registered: %w", req.PID, vcerr.ErrInvalidArgument)
	}

	switch req.Method {
	case ipc.MethodFinalize:
		d.dropManager(ctx)
		return nil, nil

	case ipc.MethodSetCommand:
		var args setCommandArgs
		if err := req.Decode(&args); err != nil {
			return nil, err
		}
		group, err := systemGroup(args.Type)
		if err != nil {
			return nil, err
		}
		if err := d.store.SetCommands(ctx, req.PID, group, args.Commands); err != nil {
			return nil, err
		}
		return nil, d.registry.SetManagerSystemCommands(true)

	case ipc.MethodUnsetCommand:
		var args unsetCommandArgs
		if err := req.Decode(&args); err != nil {
			return nil, err
		}
		group, err := systemGroup(args.Type)
		if err != nil {
			return nil, err
		}
		if err := d.store.UnsetCommands(ctx, req.PID, group); err != nil {
			return nil, err
		}
		has, err := d.managerHasCommands(ctx, req.PID)
		if err != nil {
			return nil, err
		}
		return nil, d.registry.SetManagerSystemCommands(has)

	case ipc.MethodSetDemandableClients:
		var args demandableArgs
		if err := req.Decode(&args); err != nil {
			return nil, err
		}
		return nil, d.store.SetDemandable(ctx, args.PIDs)

	case ipc.MethodSetAudioType:
		var args audioTypeArgs
		if err := req.Decode(&args); err != nil {
			return nil, err
		}
		if d.active() {
			return nil, fmt.Errorf("set audio type in %s: %w", d.controller.State(), vcerr.ErrInvalidState)
		}
		if err := d.recorder.SetAudioType(args.AudioType); err != nil {
			return nil, err
		}
		d.logger.Info("audio type changed", "audio_type", d.recorder.CurrentDeviceID())
		return nil, nil

	case ipc.MethodGetAudioType:
		return audioTypeArgs{AudioType: d.recorder.CurrentDeviceID()}, nil

	case ipc.MethodSetClientInfo:
		return d.clients(), nil

	case ipc.MethodStart:
		var args managerStartArgs
		if err := req.Decode(&args); err != nil {
			return nil, err
		}
		mode, err := session.ParseMode(args.Mode)
		if err != nil {
			return nil, err
		}
		return nil, d.controller.Start(ctx, session.StartRequest{
			Mode:          mode,
			Exclusive:     args.Exclusive,
			StartByClient: args.StartByClient,
		})

	case ipc.MethodStop:
		return nil, d.controller.Stop(ctx)

	case ipc.MethodCancel:
		return nil, d.controller.Cancel(ctx)

	case ipc.MethodResultSelection:
		return nil, d.resultSelection(ctx)

	case ipc.MethodGetResult:
		return d.store.LastResult(ctx)

	default:
		return nil, unknownMethod(req)
	}
}

func (d *Daemon) handleClient(ctx context.Context, req ipc.Request) (any, error) {
	if req.Method == ipc.MethodInitialize {
		if err := d.registry.AddClient(req.PID); err != nil {
			return nil, err
		}
		d.logger.Info("client registered", "pid", req.PID)
		return d.status(), nil
	}
	if !d.registry.IsClient(req.PID) {
		return nil, fmt.Errorf("client pid %d is not registered: %w", req.PID, vcerr.ErrInvalidArgument)
	}

	switch req.Method {
	case ipc.MethodFinalize:
		if err := d.registry.RemoveClient(req.PID); err != nil {
			return nil, err
		}
		d.forget(ctx, req.PID)
		d.logger.Info("client finalized", "pid", req.PID)
		d.checkIdle()
		return nil, nil

	case ipc.MethodSetCommand:
		var args setCommandArgs
		if err := req.Decode(&args); err != nil {
			return nil, err
		}
		group, err := clientGroup(args.Type)
		if err != nil {
			return nil, err
		}
		if err := d.store.SetCommands(ctx, req.PID, group, args.Commands); err != nil {
			return nil, err
		}
		return nil, d.registry.SetClientSubscription(req.PID, group)

	case ipc.MethodUnsetCommand:
		var args unsetCommandArgs
		if err := req.Decode(&args); err != nil {
			return nil, err
		}
		group, err := clientGroup(args.Type)
		if err != nil {
			return nil, err
		}
		if err := d.store.UnsetCommands(ctx, req.PID, group); err != nil {
			return nil, err
		}
		return nil, d.registry.UnsetClientSubscription(req.PID, group)

	default:
		return nil, unknownMethod(req)
	}
}

func (d *Daemon) handleWidget(ctx context.Context, req ipc.Request) (any, error) {
	if req.Method == ipc.MethodInitialize {
		if err := d.registry.AddWidget(req.PID); err != nil {
			return nil, err
		}
		d.logger.Info("widget registered", "pid", req.PID)
		return d.status(), nil
	}
	if !d.registry.IsWidget(req.PID) {
		return nil, fmt.Errorf("widget pid %d is not registered: %w", req.PID, vcerr.ErrInvalidArgument)
	}

	switch req.Method {
	case ipc.MethodFinalize:
		if err := d.registry.RemoveWidget(req.PID); err != nil {
			return nil, err
		}
		d.forget(ctx, req.PID)
		d.logger.Info("widget finalized", "pid", req.PID)
		d.checkIdle()
		return nil, nil

	case ipc.MethodSetCommand:
		var args setCommandArgs
		if err := req.Decode(&args); err != nil {
			return nil, err
		}
		return nil, d.store.SetCommands(ctx, req.PID, command.GroupWidget, args.Commands)

	case ipc.MethodStartRecording:
		var args startRecordingArgs
		if len(req.Args) > 0 {
			if err := req.Decode(&args); err != nil {
				return nil, err
			}
		}
		var err error
		if args.WidgetCommand {
			err = d.registry.SetWidgetSubscription(req.PID)
		} else {
			err = d.registry.UnsetWidgetSubscription(req.PID)
		}
		if err != nil {
			return nil, err
		}
		return nil, d.controller.StartRecording(ctx)

	case ipc.MethodStart:
		var args widgetStartArgs
		if len(req.Args) > 0 {
			if err := req.Decode(&args); err != nil {
				return nil, err
			}
		}
		return nil, d.controller.StartByWidget(ctx, args.StopBySilence)

	case ipc.MethodStop:
		return nil, d.controller.Stop(ctx)

	case ipc.MethodCancel:
		return nil, d.controller.Cancel(ctx)

	default:
		return nil, unknownMethod(req)
	}
}

func (d *Daemon) handleDaemon(req ipc.Request) (any, error) {
	switch req.Method {
	case ipc.MethodStatus:
		return d.status(), nil
	default:
		return nil, unknownMethod(req)
	}
}

// resultSelection re-sends the last full result to every demandable client still registered.
func (d *Daemon) resultSelection(ctx context.Context) error {
	result, err := d.store.LastResult(ctx)
	if err != nil {
		return err
	}
	pids, err := d.store.Demandable(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, pid := range pids {
		if !d.registry.IsClient(pid) {
			continue
		}
		if err := d.notifier.SendResult(pid, result); err != nil {
			errs = append(errs, fmt.Errorf("send result to %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// dropManager releases the manager slot, cancelling an exclusive session it owns.
func (d *Daemon) dropManager(ctx context.Context) {
	pid, ok := d.registry.ManagerPID()
	if !ok {
		return
	}
	if d.controller.Exclusive() && d.active() {
		if err := d.controller.Cancel(ctx); err != nil {
			d.logger.Warn("cancel manager session failed", "pid", pid, "error", err.Error())
		}
	}
	_ = d.registry.UnregisterManager()
	d.forget(ctx, pid)
	d.logger.Info("manager finalized", "pid", pid)
	d.checkIdle()
}

// forget deletes every stored row of pid.
func (d *Daemon) forget(ctx context.Context, pid int) {
	if err := d.store.DeletePID(ctx, pid); err != nil {
		d.logger.Warn("delete stored commands failed", "pid", pid, "error", err.Error())
	}
}

// checkIdle stops the daemon when idle shutdown is enabled and nothing is registered.
func (d *Daemon) checkIdle() {
	if !d.idleShutdown || d.registry.ReferenceCount() > 0 || d.shutdown == nil {
		return
	}
	d.logger.Info("no registered clients; shutting down")
	d.shutdown()
}

func (d *Daemon) managerHasCommands(ctx context.Context, pid int) (bool, error) {
	for _, group := range []command.Group{command.GroupSystem, command.GroupSystemExclusive} {
		has, err := d.store.HasCommands(ctx, pid, group)
		if err != nil || has {
			return has, err
		}
	}
	return false, nil
}

func systemGroup(raw string) (command.Group, error) {
	if raw == "" {
		return command.GroupSystem, nil
	}
	group, err := command.ParseGroup(raw)
	if err != nil || (group != command.GroupSystem && group != command.GroupSystemExclusive) {
		return 0, fmt.Errorf("manager command type %q: %w", raw, vcerr.ErrInvalidArgument)
	}
	return group, nil
}

func clientGroup(raw string) (command.Group, error) {
	group, err := command.ParseGroup(raw)
	if err != nil || (group != command.GroupForeground && group != command.GroupBackground) {
		return 0, fmt.Errorf("client command type %q: %w", raw, vcerr.ErrInvalidArgument)
	}
	return group, nil
}
