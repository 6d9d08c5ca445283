package doctor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rbright/vcd/internal/config"
	"github.com/rbright/vcd/internal/engine/remote"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestReportOKAllPassing(t *testing.T) {
	report := Report{Checks: []Check{{Name: "one", Pass: true}, {Name: "two", Pass: true}}}
	require.True(t, report.OK())
}

func TestCheckEnv(t *testing.T) {
	t.Setenv("TEST_DOCTOR_ENV", "abc")

	check := checkEnv(
		"TEST_DOCTOR_ENV",
		func(v string) bool { return strings.TrimSpace(v) != "" },
		"looks good",
		"unexpected",
	)

	require.True(t, check.Pass)
	require.Equal(t, "looks good", check.Message)
}

func TestCheckBinaryFound(t *testing.T) {
	check := checkBinary("sh", "shell available")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "shell available")
}

func TestCheckBinaryMissing(t *testing.T) {
	check := checkBinary("definitely-not-a-real-binary", "unused")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "binary not found")
}

func TestCheckEnginesEmptyDirFails(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Dir = t.TempDir()

	check := checkEngines(cfg)
	require.False(t, check.Pass)
	require.Equal(t, "engine.dir", check.Name)
	require.Contains(t, check.Message, "no valid engine")
}

func TestCheckEnginesEmptyDirPassesWithRemote(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Dir = t.TempDir()
	cfg.Engine.Remote = "127.0.0.1:50071"

	check := checkEngines(cfg)
	require.True(t, check.Pass)
}

func TestCheckRemoteEngineReady(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := grpc.NewServer()
	remote.RegisterEngineServer(server, remote.HandlerFunc(func(context.Context, string, *structpb.Struct) (*structpb.Struct, error) {
		return &structpb.Struct{}, nil
	}))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	check := checkRemoteEngine(context.Background(), lis.Addr().String(), 2*time.Second)
	require.True(t, check.Pass, check.Message)
	require.Contains(t, check.Message, "ready at")
}

func TestCheckRemoteEngineUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	check := checkRemoteEngine(context.Background(), addr, 200*time.Millisecond)
	require.False(t, check.Pass)
	require.Equal(t, "engine.remote", check.Name)
}

func TestCheckStoreCreatesDatabase(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "state", "vcd.db")

	check := checkStore(cfg)
	require.True(t, check.Pass, check.Message)
	_, err := os.Stat(cfg.Store.Path)
	require.NoError(t, err)
}

func TestCheckAudioSelectionFailureWithInvalidPulseServer(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	check := checkAudioSelection(context.Background(), config.Default())
	require.False(t, check.Pass)
	require.Contains(t, check.Name, "audio.device")
}

func TestCheckBrokerUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.MQTT.Broker = "tcp://127.0.0.1:1"

	check := checkBroker(context.Background(), cfg, 200*time.Millisecond)
	require.False(t, check.Pass)
	require.Equal(t, "mqtt.broker", check.Name)
}

func TestRunIncludesCoreChecks(t *testing.T) {
	binDir := t.TempDir()
	fakeHypr := filepath.Join(binDir, "hyprctl")
	require.NoError(t, os.WriteFile(fakeHypr, []byte("#!/usr/bin/env sh\nexit 0\n"), 0o755))
	t.Setenv("PATH", binDir+":"+os.Getenv("PATH"))
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	t.Setenv("HYPRLAND_INSTANCE_SIGNATURE", "abc123")

	cfg := config.Default()
	cfg.Engine.Dir = t.TempDir()
	cfg.Store.Path = filepath.Join(t.TempDir(), "vcd.db")
	cfg.MQTT.Broker = "tcp://127.0.0.1:1"

	report := Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg, Exists: true})
	require.False(t, report.OK())

	byName := map[string]Check{}
	for _, check := range report.Checks {
		byName[check.Name] = check
	}
	require.True(t, byName["config"].Pass)
	require.True(t, byName["hyprctl"].Pass)
	require.True(t, byName["store"].Pass)
	require.False(t, byName["engine.dir"].Pass)
	require.False(t, byName["audio.device"].Pass)
	require.False(t, byName["mqtt.broker"].Pass)
	require.NotContains(t, byName, "engine.remote")
}
