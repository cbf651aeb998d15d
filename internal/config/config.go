package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Transport selects and tunes the message bus backend.
type Transport struct {
	Backend               string `toml:"backend"`
	URL                   string `toml:"url"`
	KeyPrefix             string `toml:"key_prefix"`
	SQLitePath            string `toml:"sqlite_path"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
	PublishTimeoutSeconds int    `toml:"publish_timeout_seconds"`
	PollIntervalMillis    int    `toml:"poll_interval_ms"`
	MemoryCapacity        int    `toml:"memory_capacity"`
	MemoryStrategy        string `toml:"memory_strategy"`
}

// Gossip configures the libp2p host used by the gossip backend.
type Gossip struct {
	ListenAddrs     []string `toml:"listen_addrs"`
	Bootstrap       []string `toml:"bootstrap"`
	Rendezvous      string   `toml:"rendezvous"`
	EnableMDNS      bool     `toml:"enable_mdns"`
	IdentityKeyFile string   `toml:"identity_key_file"`
}

// Channels names the pipeline channels.
type Channels struct {
	Raw        string `toml:"raw"`
	Analyzed   string `toml:"analyzed"`
	DeadLetter string `toml:"dead_letter"`
}

// Stages holds per-stage receive timeouts.
type Stages struct {
	AnalyzerTimeoutSeconds     int `toml:"analyzer_timeout_seconds"`
	OrchestratorTimeoutSeconds int `toml:"orchestrator_timeout_seconds"`
}

// Coordinator tunes continuous mode.
type Coordinator struct {
	LoopIntervalSeconds int    `toml:"loop_interval_seconds"`
	JoinTimeoutSeconds  int    `toml:"join_timeout_seconds"`
	LockFile            string `toml:"lock_file"`
	MonitorSchedule     string `toml:"monitor_schedule"`
	MonitorSource       string `toml:"monitor_source"`
}

// Demo configures demo mode injections.
type Demo struct {
	Sources         []string `toml:"sources"`
	IntervalSeconds int      `toml:"interval_seconds"`
	SettleSeconds   int      `toml:"settle_seconds"`
}

// API configures the admin HTTP server. An empty Bind disables it.
type API struct {
	Bind      string  `toml:"bind"`
	RateLimit float64 `toml:"rate_limit"`
	Burst     int     `toml:"burst"`
}

// Metrics configures the Prometheus registry.
type Metrics struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   string `toml:"file"`
}

// Config encapsulates all configuration values for pacer.
type Config struct {
	Transport   Transport   `toml:"transport"`
	Gossip      Gossip      `toml:"gossip"`
	Channels    Channels    `toml:"channels"`
	Stages      Stages      `toml:"stages"`
	Coordinator Coordinator `toml:"coordinator"`
	Demo        Demo        `toml:"demo"`
	API         API         `toml:"api"`
	Metrics     Metrics     `toml:"metrics"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path of the per-user config file.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/pacer/config.toml")
}

// Load locates, parses, normalizes and validates a configuration file. A
// missing file is not an error; defaults and environment overrides apply.
// It returns the resolved path and whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("pacer.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// ConnectTimeout returns the backend connect timeout.
func (t Transport) ConnectTimeout() time.Duration {
	return time.Duration(t.ConnectTimeoutSeconds) * time.Second
}

// PublishTimeout returns the per-publish timeout.
func (t Transport) PublishTimeout() time.Duration {
	return time.Duration(t.PublishTimeoutSeconds) * time.Second
}

// PollInterval returns the subscriber poll interval.
func (t Transport) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMillis) * time.Millisecond
}

// AnalyzerTimeout returns the analyzer receive timeout.
func (s Stages) AnalyzerTimeout() time.Duration {
	return time.Duration(s.AnalyzerTimeoutSeconds) * time.Second
}

// OrchestratorTimeout returns the orchestrator receive timeout.
func (s Stages) OrchestratorTimeout() time.Duration {
	return time.Duration(s.OrchestratorTimeoutSeconds) * time.Second
}

// LoopInterval returns the continuous-mode pause between iterations.
func (c Coordinator) LoopInterval() time.Duration {
	return time.Duration(c.LoopIntervalSeconds) * time.Second
}

// JoinTimeout returns how long shutdown waits for stage loops.
func (c Coordinator) JoinTimeout() time.Duration {
	return time.Duration(c.JoinTimeoutSeconds) * time.Second
}

// Interval returns the gap between demo injections.
func (d Demo) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds) * time.Second
}

// Settle returns how long demo mode waits after the last injection.
func (d Demo) Settle() time.Duration {
	return time.Duration(d.SettleSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
