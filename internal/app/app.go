// Package app dispatches vcd CLI commands.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rbright/vcd/internal/audio"
	"github.com/rbright/vcd/internal/cli"
	"github.com/rbright/vcd/internal/config"
	"github.com/rbright/vcd/internal/daemon"
	"github.com/rbright/vcd/internal/doctor"
	"github.com/rbright/vcd/internal/ipc"
	"github.com/rbright/vcd/internal/logging"
	"github.com/rbright/vcd/internal/version"
)

const forwardTimeout = 500 * time.Millisecond

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("vcd"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("vcd"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logRuntime, err := logging.New(cfgLoaded.Config.Log.Level)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandServe:
		return r.commandServe(ctx, parsed.SocketPath, cfgLoaded.Config, logger)
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandEngines:
		return r.commandEngines(cfgLoaded.Config, logger, parsed.JSON)
	case cli.CommandStatus:
		return r.commandStatus(ctx, parsed.SocketPath, parsed.JSON)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandEngines(cfg config.Config, logger *slog.Logger, asJSON bool) int {
	adapter := newEngineAdapter(cfg, logger, nil, nil)
	infos, err := adapter.DiscoverEngines(cfg.Engine.Dir, engineExtras(cfg)...)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if asJSON {
		return r.printJSON(infos)
	}

	for i, info := range infos {
		activeMark := " "
		if i == 0 {
			activeMark = "*"
		}
		network := "no"
		if info.UseNetwork {
			network = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s uuid=%s | name=%q | network=%s | path=%s\n",
			activeMark,
			info.UUID,
			info.Name,
			network,
			info.Path,
		)
	}
	return 0
}

func (r Runner) commandStatus(ctx context.Context, socketOverride string, asJSON bool) int {
	stopped := func() int {
		if asJSON {
			return r.printJSON(map[string]string{"state": "stopped"})
		}
		fmt.Fprintln(r.Stdout, "stopped")
		return 0
	}

	socketPath, err := ipc.SocketPath(socketOverride)
	if err != nil {
		return stopped()
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Role: ipc.RoleDaemon, Method: ipc.MethodStatus})
	if !handled {
		return stopped()
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	var st daemon.Status
	if err := resp.Decode(&st); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if st.State == "" {
		st.State = "none"
	}
	if asJSON {
		return r.printJSON(st)
	}
	fmt.Fprintln(r.Stdout, st.State)
	engineName := "none"
	if st.Engine != nil {
		engineName = st.Engine.Name
	}
	fmt.Fprintf(r.Stdout, "mode=%s exclusive=%t engine=%s audio_type=%s clients=%d widgets=%d manager=%t\n",
		st.Mode, st.Exclusive, engineName, st.AudioType, st.Clients, st.Widgets, st.Manager.Registered)
	return 0
}

func (r Runner) printJSON(v any) int {
	enc := json.NewEncoder(r.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// tryForward sends req to a running daemon. handled is false when no daemon is listening.
func tryForward(ctx context.Context, socketPath string, req ipc.Request) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, forwardTimeout)
	if err == nil {
		if respErr := resp.Err(); respErr != nil {
			return resp, true, respErr
		}
		return resp, true, nil
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward %s.%s: %w", req.Role, req.Method, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
