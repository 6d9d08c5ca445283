// Package hypr resolves the focused application through hyprctl.
package hypr

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ActiveWindow contains the fields needed to identify the foreground application.
type ActiveWindow struct {
	Address string `json:"address"`
	Class   string `json:"class"`
	PID     int    `json:"pid"`
}

// Foreground reports the pid owning the active Hyprland window.
type Foreground struct {
	// Timeout bounds each hyprctl call. Zero means one second.
	Timeout time.Duration
}

// ForegroundPID returns the active window pid, or 0 when no window has focus.
func (f Foreground) ForegroundPID(ctx context.Context) (int, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	window, err := QueryActiveWindow(ctx)
	if err != nil {
		return 0, err
	}
	return window.PID, nil
}

// QueryActiveWindow fetches and validates the active-window contract from hyprctl.
// An empty workspace yields a zero window and no error.
func QueryActiveWindow(ctx context.Context) (ActiveWindow, error) {
	output, err := runHyprctlJSON(ctx, "activewindow")
	if err != nil {
		return ActiveWindow{}, err
	}

	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" || trimmed == "{}" || trimmed == "Invalid" {
		return ActiveWindow{}, nil
	}

	var window ActiveWindow
	if err := json.Unmarshal(output, &window); err != nil {
		return ActiveWindow{}, fmt.Errorf("decode hyprctl activewindow json: %w", err)
	}
	window.Address = strings.TrimSpace(window.Address)
	window.Class = strings.TrimSpace(window.Class)
	if window.PID < 0 {
		return ActiveWindow{}, fmt.Errorf("hyprctl activewindow returned pid %d", window.PID)
	}
	return window, nil
}

// runHyprctlJSON executes a JSON-returning hyprctl subcommand.
func runHyprctlJSON(ctx context.Context, target string) ([]byte, error) {
	return runHyprctlOutput(ctx, "-j", target)
}

func runHyprctlOutput(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "hyprctl", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed == "" {
			return nil, fmt.Errorf("hyprctl %v failed: %w", args, err)
		}
		return nil, fmt.Errorf("hyprctl %v failed: %w (%s)", args, err, trimmed)
	}
	return out, nil
}
