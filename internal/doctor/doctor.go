// Package doctor runs runtime readiness diagnostics for config, session, engines, audio, and the broker.
package doctor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/vcd/internal/audio"
	"github.com/rbright/vcd/internal/config"
	"github.com/rbright/vcd/internal/engine"
	"github.com/rbright/vcd/internal/engine/remote"
	"github.com/rbright/vcd/internal/notify"
	"github.com/rbright/vcd/internal/store"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	message := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		message = fmt.Sprintf("%q not found; using defaults", cfg.Path)
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: message})

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "daemon socket directory available", "XDG_RUNTIME_DIR is empty"))

	checks = append(checks, checkEnv("HYPRLAND_INSTANCE_SIGNATURE", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "Hyprland session detected", "HYPRLAND_INSTANCE_SIGNATURE is empty; foreground commands disabled"))

	checks = append(checks, checkBinary("hyprctl", "foreground pid lookup"))
	checks = append(checks, checkEngines(cfg.Config))
	if strings.TrimSpace(cfg.Config.Engine.Remote) != "" {
		checks = append(checks, checkRemoteEngine(ctx, cfg.Config.Engine.Remote, probeTimeout))
	}
	checks = append(checks, checkStore(cfg.Config))
	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkBroker(ctx, cfg.Config, probeTimeout))

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkEngines runs plugin discovery over the engine directory.
func checkEngines(cfg config.Config) Check {
	adapter := engine.NewAdapter(engine.Options{
		Loader:   engine.PluginLoader{},
		Language: cfg.Language,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	infos, err := adapter.DiscoverEngines(cfg.Engine.Dir)
	if err != nil {
		return Check{Name: "engine.dir", Pass: strings.TrimSpace(cfg.Engine.Remote) != "", Message: err.Error()}
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return Check{Name: "engine.dir", Pass: true, Message: fmt.Sprintf("found %s (active: %s)", strings.Join(names, ", "), names[0])}
}

// checkRemoteEngine dials the remote engine and runs its health check.
func checkRemoteEngine(ctx context.Context, endpoint string, timeout time.Duration) Check {
	client, err := remote.Dial(ctx, remote.Config{Endpoint: endpoint, DialTimeout: timeout, CallTimeout: timeout})
	if err != nil {
		return Check{Name: "engine.remote", Pass: false, Message: err.Error()}
	}
	_ = client.Close()
	return Check{Name: "engine.remote", Pass: true, Message: fmt.Sprintf("ready at %s", endpoint)}
}

// checkStore opens the state database, creating it when missing.
func checkStore(cfg config.Config) Check {
	path, err := config.ResolveStorePath(cfg)
	if err != nil {
		return Check{Name: "store", Pass: false, Message: err.Error()}
	}
	st, err := store.Open(path)
	if err != nil {
		return Check{Name: "store", Pass: false, Message: err.Error()}
	}
	_ = st.Close()
	return Check{Name: "store", Pass: true, Message: fmt.Sprintf("opened %s", path)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkBroker connects to the MQTT broker with a throwaway client id.
func checkBroker(ctx context.Context, cfg config.Config, timeout time.Duration) Check {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hub, err := notify.Connect(ctx, notify.Config{
		BrokerURL:   cfg.MQTT.Broker,
		ClientID:    fmt.Sprintf("%s-doctor-%d", cfg.MQTT.ClientID, os.Getpid()),
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, nil)
	if err != nil {
		return Check{Name: "mqtt.broker", Pass: false, Message: err.Error()}
	}
	hub.Close()
	return Check{Name: "mqtt.broker", Pass: true, Message: fmt.Sprintf("connected to %s", cfg.MQTT.Broker)}
}
