package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/pacer/internal/threat"
)

const baseConfig = `
[transport]
backend = %q
url = %q
poll_interval_ms = 50

[stages]
analyzer_timeout_seconds = 1
orchestrator_timeout_seconds = 1

[coordinator]
loop_interval_seconds = 1
join_timeout_seconds = 5
lock_file = %q
monitor_schedule = %q
monitor_source = "test"

[demo]
sources = ["test"]
interval_seconds = 0
settle_seconds = 2

[logging]
format = "json"
level = "warn"
`

type testConfig struct {
	backend  string
	url      string
	lockFile string
	schedule string
}

func writeConfig(t *testing.T, tc testConfig) string {
	t.Helper()
	if tc.backend == "" {
		tc.backend = "memory"
	}
	path := filepath.Join(t.TempDir(), "pacer.toml")
	body := fmt.Sprintf(baseConfig, tc.backend, tc.url, tc.lockFile, tc.schedule)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runCLI(ctx context.Context, t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("REDIS_URL", "")
	t.Setenv("PACER_LOG_LEVEL", "")

	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func TestSingleModeCompletes(t *testing.T) {
	cfg := writeConfig(t, testConfig{})
	out, _, err := runCLI(context.Background(), t, "--config", cfg, "--source", "test")
	require.NoError(t, err)

	assert.Contains(t, out, "Backend: memory")
	assert.Contains(t, out, "analyzer")
	assert.Contains(t, out, "orchestrator")
	assert.Contains(t, out, "Pipeline completed")
	assert.Contains(t, out, "Active Monitoring")
	assert.Contains(t, out, "db-server-01.yourcompany.local")
}

func TestSingleModeDefaultSourceIsolates(t *testing.T) {
	cfg := writeConfig(t, testConfig{})
	out, _, err := runCLI(context.Background(), t, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Network Isolation")
	assert.Contains(t, out, "isolate_host")
}

func TestSingleModeFailsWithoutSubscribers(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := writeConfig(t, testConfig{backend: "redis-pubsub", url: "redis://" + mr.Addr()})

	out, _, err := runCLI(context.Background(), t, "--config", cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errPipelineFailed)
	assert.Contains(t, out, "Pipeline failed at producer")
}

func TestRejectsInvalidFlags(t *testing.T) {
	cfg := writeConfig(t, testConfig{})

	_, _, err := runCLI(context.Background(), t, "--config", cfg, "--mode", "batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")

	_, _, err = runCLI(context.Background(), t, "--config", cfg, "--source", "nessus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source")
}

func TestDemoMode(t *testing.T) {
	cfg := writeConfig(t, testConfig{})

	start := time.Now()
	out, _, err := runCLI(context.Background(), t, "--config", cfg, "--mode", "demo")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
	assert.Contains(t, out, "Active Monitoring on db-server-01.yourcompany.local")
	assert.Contains(t, out, "Coordinator: stopped")
}

func TestContinuousModeRunsScheduledMonitor(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "state", "pacer.lock")
	cfg := writeConfig(t, testConfig{lockFile: lock, schedule: "@every 1s"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	out, _, err := runCLI(ctx, t, "--config", cfg, "--mode", "continuous")
	require.NoError(t, err)

	assert.Contains(t, out, "Active Monitoring")
	assert.Contains(t, out, "Coordinator: stopped")
	assert.FileExists(t, lock)
}

func TestMonitorTaskRetriesUndeliveredEvents(t *testing.T) {
	calls := 0
	task := monitorTask(func(context.Context) error {
		calls++
		if calls < 3 {
			return threat.ErrNotPublished
		}
		return nil
	})
	require.NoError(t, task.Execute(context.Background()))
	assert.Equal(t, 3, calls)

	calls = 0
	task = monitorTask(func(context.Context) error {
		calls++
		return threat.ErrUnknownSource
	})
	assert.ErrorIs(t, task.Execute(context.Background()), threat.ErrUnknownSource)
	assert.Equal(t, 1, calls)

	calls = 0
	task = monitorTask(func(context.Context) error {
		calls++
		return threat.ErrNotPublished
	})
	assert.ErrorIs(t, task.Execute(context.Background()), threat.ErrNotPublished)
	assert.Equal(t, monitorRetries+1, calls)
}

func TestContinuousModeRefusesSecondInstance(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "pacer.lock")
	held := flock.New(lock)
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	cfg := writeConfig(t, testConfig{lockFile: lock})
	_, _, err = runCLI(context.Background(), t, "--config", cfg, "--mode", "continuous")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another continuous instance")
}

func TestPublishCommand(t *testing.T) {
	cfg := writeConfig(t, testConfig{})

	out, _, err := runCLI(context.Background(), t, "--config", cfg, "publish", "threat-raw", `{"host":"srv-01","severity":"HIGH"}`)
	require.NoError(t, err)
	assert.Equal(t, "Published to threat-raw via memory\n", out)

	_, _, err = runCLI(context.Background(), t, "--config", cfg, "publish", "threat-raw", `[1,2]`)
	assert.Error(t, err)

	_, _, err = runCLI(context.Background(), t, "--config", cfg, "publish", "threat-raw", `null`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON object")
}

func TestPublishToRedisList(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := writeConfig(t, testConfig{backend: "redis", url: "redis://" + mr.Addr()})

	_, _, err := runCLI(context.Background(), t, "--config", cfg, "publish", "threat-raw", `{"host":"srv-01"}`)
	require.NoError(t, err)

	items, err := mr.List("threat-raw")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items[0], `"host":"srv-01"`)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pacer.toml")

	out, _, err := runCLI(context.Background(), t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, _, err = runCLI(context.Background(), t, "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = runCLI(context.Background(), t, "config", "init", path, "--overwrite")
	require.NoError(t, err)

	out, _, err = runCLI(context.Background(), t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# source: "+path))
	assert.Contains(t, out, "[transport]")
	assert.Contains(t, out, "threat-analyzed")
}

func TestConfigShowDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.toml")
	out, _, err := runCLI(context.Background(), t, "--config", missing, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# source: defaults")
}
