package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/rbright/vcd/internal/aggregate"
	"github.com/rbright/vcd/internal/audio"
	"github.com/rbright/vcd/internal/config"
	"github.com/rbright/vcd/internal/daemon"
	"github.com/rbright/vcd/internal/engine"
	"github.com/rbright/vcd/internal/engine/remote"
	"github.com/rbright/vcd/internal/httpapi"
	"github.com/rbright/vcd/internal/hypr"
	"github.com/rbright/vcd/internal/ipc"
	"github.com/rbright/vcd/internal/loop"
	"github.com/rbright/vcd/internal/notify"
	"github.com/rbright/vcd/internal/registry"
	"github.com/rbright/vcd/internal/store"
)

const (
	brokerConnectTimeout = 5 * time.Second
	ipcIdleTimeout       = 10 * time.Minute
)

func (r Runner) commandServe(ctx context.Context, socketOverride string, cfg config.Config, logger *slog.Logger) int {
	if err := serve(ctx, socketOverride, cfg, logger); err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: vcd daemon already running")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("serve failed", "error", err.Error())
		return 1
	}
	return 0
}

// serve owns the socket, wires the daemon, and blocks until it stops.
func serve(ctx context.Context, socketOverride string, cfg config.Config, logger *slog.Logger) error {
	socketPath, err := ipc.SocketPath(socketOverride)
	if err != nil {
		return err
	}
	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{ProbeTimeout: 180 * time.Millisecond, Attempts: 8})
	if err != nil {
		return err
	}
	defer func() {
		if err := ipc.Release(listener, socketPath); err != nil {
			logger.Warn("release daemon socket", "error", err.Error())
		}
	}()

	storePath, err := config.ResolveStorePath(cfg)
	if err != nil {
		return err
	}
	st, err := store.Open(storePath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	connectCtx, cancelConnect := context.WithTimeout(ctx, brokerConnectTimeout)
	hub, err := notify.Connect(connectCtx, notifyConfig(cfg), logger.With("component", "notify"))
	cancelConnect()
	if err != nil {
		return err
	}
	defer hub.Close()

	reg := registry.New()
	commands := aggregate.New(reg, hypr.Foreground{}, st, logger.With("component", "aggregate"))

	// The recorder and engine call back into the daemon, which needs both to be built.
	var d *daemon.Daemon
	recorder := audio.NewRecorder(audio.RecorderOptions{
		Input:        cfg.Audio.Input,
		Fallback:     cfg.Audio.Fallback,
		Logger:       logger.With("component", "audio"),
		OnFrame:      func(frame []byte) { d.OnFrame(frame) },
		OnInterrupt:  func(err error) { d.OnInterrupt(err) },
		StallTimeout: time.Duration(cfg.Audio.StallTimeoutMS) * time.Millisecond,
	})
	adapter := newEngineAdapter(cfg, logger, commands, recorder.CurrentDeviceID)

	d = daemon.New(daemon.Options{
		Logger:              logger.With("component", "daemon"),
		Loop:                loop.New(0),
		Registry:            reg,
		Commands:            commands,
		Engine:              adapter,
		Recorder:            recorder,
		Notifier:            hub,
		Store:               st,
		EngineDir:           cfg.Engine.Dir,
		EngineExtra:         engineExtras(cfg),
		CleanupInterval:     time.Duration(cfg.Daemon.CleanupIntervalMS) * time.Millisecond,
		IdleShutdown:        cfg.Daemon.IdleShutdown,
		ResultRetryLimit:    cfg.Daemon.ResultRetryLimit,
		ResultRetryInterval: time.Duration(cfg.Daemon.ResultRetryIntervalMS) * time.Millisecond,
	})

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	ipcErrCh := make(chan error, 1)
	go func() {
		srv := &ipc.Server{Handler: d, Logger: logger.With("component", "ipc"), IdleTimeout: ipcIdleTimeout}
		ipcErrCh <- srv.Serve(serverCtx, listener)
	}()

	httpErrCh := make(chan error, 1)
	if addr := strings.TrimSpace(cfg.HTTP.Addr); addr != "" {
		httpListener, err := net.Listen("tcp", addr)
		if err != nil {
			serverCancel()
			<-ipcErrCh
			return fmt.Errorf("listen status api %s: %w", addr, err)
		}
		go func() {
			httpErrCh <- httpapi.Serve(serverCtx, httpListener, httpapi.NewRouter(d, logger), logger.With("component", "httpapi"))
		}()
	} else {
		httpErrCh <- nil
	}

	logger.Info("daemon serving", "socket", socketPath, "store", storePath, "http", cfg.HTTP.Addr)
	runErr := d.Run(ctx)
	serverCancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := <-ipcErrCh; err != nil {
		errs = append(errs, fmt.Errorf("ipc server: %w", err))
	}
	if err := <-httpErrCh; err != nil {
		errs = append(errs, fmt.Errorf("status api: %w", err))
	}
	return errors.Join(errs...)
}

// newEngineAdapter builds an adapter that loads Go plugins from disk and remote engines over gRPC.
func newEngineAdapter(cfg config.Config, logger *slog.Logger, commands engine.Commands, deviceID func() string) *engine.Adapter {
	return engine.NewAdapter(engine.Options{
		Loader: engine.SchemeLoader{
			Default: engine.PluginLoader{},
			Schemes: map[string]engine.Loader{
				remote.Scheme: remote.Loader{
					DialTimeout: time.Duration(cfg.Engine.DialTimeoutMS) * time.Millisecond,
					CallTimeout: time.Duration(cfg.Engine.CallTimeoutMS) * time.Millisecond,
					Logger:      logger.With("component", "remote_engine"),
				},
			},
		},
		Language:      cfg.Language,
		Logger:        logger.With("component", "engine"),
		Commands:      commands,
		AudioDeviceID: deviceID,
	})
}

func engineExtras(cfg config.Config) []string {
	if strings.TrimSpace(cfg.Engine.Remote) == "" {
		return nil
	}
	return []string{remote.Path(cfg.Engine.Remote)}
}

func notifyConfig(cfg config.Config) notify.Config {
	return notify.Config{
		BrokerURL:    cfg.MQTT.Broker,
		ClientID:     cfg.MQTT.ClientID,
		Username:     cfg.MQTT.Username,
		Password:     cfg.MQTT.Password,
		TopicPrefix:  cfg.MQTT.TopicPrefix,
		HelloTimeout: time.Duration(cfg.MQTT.HelloTimeoutMS) * time.Millisecond,
	}
}
