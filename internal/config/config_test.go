package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/vnykmshr/pacer/internal/config"
	pcerrors "github.com/vnykmshr/pacer/pkg/common/errors"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("REDIS_URL", "")
	t.Setenv("PACER_LOG_LEVEL", "")
	t.Chdir(t.TempDir())
	return home
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pacer.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	home := isolate(t)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if resolved != filepath.Join(home, ".config", "pacer", "config.toml") {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Transport.Backend != "redis" {
		t.Fatalf("unexpected backend: %q", cfg.Transport.Backend)
	}
	if cfg.Transport.URL != "redis://localhost:6379" {
		t.Fatalf("unexpected url: %q", cfg.Transport.URL)
	}
	if cfg.Channels.Raw != "threat-raw" || cfg.Channels.Analyzed != "threat-analyzed" {
		t.Fatalf("unexpected channels: %+v", cfg.Channels)
	}
	if got := cfg.Stages.AnalyzerTimeout().Seconds(); got != 30 {
		t.Fatalf("unexpected analyzer timeout: %v", got)
	}
	if got := cfg.Stages.OrchestratorTimeout().Seconds(); got != 15 {
		t.Fatalf("unexpected orchestrator timeout: %v", got)
	}
	if got := cfg.Coordinator.JoinTimeout().Seconds(); got != 5 {
		t.Fatalf("unexpected join timeout: %v", got)
	}
	if got := cfg.Transport.PollInterval().Milliseconds(); got != 1000 {
		t.Fatalf("unexpected poll interval: %v", got)
	}
	if cfg.Coordinator.LockFile != filepath.Join(home, ".local", "state", "pacer", "pacer.lock") {
		t.Fatalf("lock file not expanded: %q", cfg.Coordinator.LockFile)
	}
	if cfg.API.Bind != "" {
		t.Fatalf("expected api disabled by default, got %q", cfg.API.Bind)
	}
}

func TestLoadProjectFile(t *testing.T) {
	isolate(t)
	if err := os.WriteFile("pacer.toml", []byte("[transport]\nbackend = \"memory\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || !strings.HasSuffix(resolved, "pacer.toml") {
		t.Fatalf("expected project config, got %q exists=%v", resolved, exists)
	}
	if cfg.Transport.Backend != "memory" {
		t.Fatalf("unexpected backend: %q", cfg.Transport.Backend)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
[transport]
backend = "SQLite"
sqlite_path = "~/queue.db"

[channels]
raw = "in"
analyzed = "mid"
dead_letter = "dead"

[logging]
format = "JSON"
level = "Debug"
`)

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Transport.Backend != "sqlite" {
		t.Fatalf("backend not normalized: %q", cfg.Transport.Backend)
	}
	if !filepath.IsAbs(cfg.Transport.SQLitePath) || strings.Contains(cfg.Transport.SQLitePath, "~") {
		t.Fatalf("sqlite path not expanded: %q", cfg.Transport.SQLitePath)
	}
	if cfg.Channels.DeadLetter != "dead" {
		t.Fatalf("unexpected dead letter channel: %q", cfg.Channels.DeadLetter)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging not normalized: %+v", cfg.Logging)
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("REDIS_URL", "redis://cache:6380/1")
	t.Setenv("PACER_LOG_LEVEL", "WARN")
	path := writeConfig(t, "[transport]\nurl = \"redis://ignored:6379\"\n")

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Transport.URL != "redis://cache:6380/1" {
		t.Fatalf("REDIS_URL not applied: %q", cfg.Transport.URL)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("PACER_LOG_LEVEL not applied: %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown backend", "[transport]\nbackend = \"kafka\"\n", "transport.backend"},
		{"zero poll", "[transport]\npoll_interval_ms = 0\n", "transport.poll_interval_ms"},
		{"bad strategy", "[transport]\nmemory_strategy = \"spill\"\n", "transport.memory_strategy"},
		{"shared channel", "[channels]\nraw = \"a\"\nanalyzed = \"a\"\n", "channels.analyzed"},
		{"dead letter reuse", "[channels]\ndead_letter = \"threat-raw\"\n", "channels.dead_letter"},
		{"bad demo source", "[demo]\nsources = [\"shodan\"]\n", "demo.sources[0]"},
		{"bad level", "[logging]\nlevel = \"loud\"\n", "logging.level"},
		{"api without burst", "[api]\nbind = \":0\"\nburst = 0\n", "api.burst"},
		{"bad monitor schedule", "[coordinator]\nmonitor_schedule = \"every tuesday\"\n", "coordinator.monitor_schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, _, _, err := config.Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !pcerrors.IsValidationError(err) {
				t.Fatalf("expected validation error, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	isolate(t)
	_, _, _, err := config.Load(writeConfig(t, "[transport]\nbakend = \"memory\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}

	def := config.Default()
	if cfg.Transport.Backend != def.Transport.Backend || cfg.Demo.IntervalSeconds != def.Demo.IntervalSeconds {
		t.Fatal("sample config diverges from defaults")
	}
}

func TestEncode(t *testing.T) {
	isolate(t)
	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("encoded config does not parse: %v", err)
	}
	if decoded.Channels.Raw != cfg.Channels.Raw {
		t.Fatalf("channel lost in encoding: %q", decoded.Channels.Raw)
	}
}
