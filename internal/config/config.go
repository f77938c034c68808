// Package config loads opticd configuration from a YAML file with OPTIC_*
// environment overrides applied on top of built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/optic-one/opticd/internal/monitor"
	"github.com/optic-one/opticd/internal/pressure"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Cache     CacheConfig     `yaml:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Session   SessionConfig   `yaml:"session"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Preload   PreloadConfig   `yaml:"preload"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type OllamaConfig struct {
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	VisionModel string `yaml:"vision_model"`
}

type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// ConcurrencyLimits maps each pressure level to the maximum number of
// simultaneous inference sessions.
type ConcurrencyLimits struct {
	Normal   int `yaml:"normal"`
	Elevated int `yaml:"elevated"`
	Low      int `yaml:"low"`
	Critical int `yaml:"critical"`
}

// Limits renders the per-level ceilings as the map the scheduler consumes.
func (c ConcurrencyLimits) Limits() map[pressure.Level]int {
	return map[pressure.Level]int{
		pressure.Normal:   c.Normal,
		pressure.Elevated: c.Elevated,
		pressure.Low:      c.Low,
		pressure.Critical: c.Critical,
	}
}

type SchedulerConfig struct {
	MaxConcurrent ConcurrencyLimits `yaml:"max_concurrent"`
	QueueDepth    int               `yaml:"queue_depth"`
}

type SessionConfig struct {
	TimeoutSeconds int  `yaml:"timeout_seconds"`
	AutoRetry      bool `yaml:"auto_retry"`
}

// Timeout returns the session watchdog duration.
func (c SessionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type MonitorConfig struct {
	PollIntervalSeconds int                `yaml:"poll_interval_seconds"`
	Thresholds          monitor.Thresholds `yaml:"thresholds"`
}

// PollInterval returns the probe polling period.
func (c MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// PreloadConfig lists common prompts warmed into the response cache at
// startup while pressure is Normal.
type PreloadConfig struct {
	Enabled bool     `yaml:"enabled"`
	Prompts []string `yaml:"prompts"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			Model:       "phi3.5",
			VisionModel: "llava",
		},
		Cache: CacheConfig{
			Capacity: 100,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent: ConcurrencyLimits{Normal: 3, Elevated: 2, Low: 1, Critical: 0},
			QueueDepth:    5,
		},
		Session: SessionConfig{
			TimeoutSeconds: 30,
			AutoRetry:      true,
		},
		Monitor: MonitorConfig{
			PollIntervalSeconds: 5,
			Thresholds:          monitor.DefaultThresholds(),
		},
		Preload: PreloadConfig{
			Enabled: true,
			Prompts: []string{
				"What time is it?",
				"What's the weather?",
				"Help me navigate",
				"Read this text",
				"Translate this",
			},
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".local", "share", "opticd")
	}
	return "./data"
}

// Load reads the config file (if present) over defaults, then applies
// environment overrides. The file is searched at $OPTIC_CONFIG, then
// $XDG_CONFIG_HOME/opticd/config.yaml, then ~/.config/opticd/config.yaml.
func Load() (Config, error) {
	return loadFromPath(findConfigPath())
}

func findConfigPath() string {
	if p := os.Getenv("OPTIC_CONFIG"); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "opticd", "config.yaml")
}

func loadFromPath(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// No file is fine; defaults apply.
		default:
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides lets OPTIC_* environment variables win over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPTIC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("OPTIC_OLLAMA_BASE_URL"); v != "" {
		cfg.Ollama.BaseURL = v
	}
	if v := os.Getenv("OPTIC_OLLAMA_MODEL"); v != "" {
		cfg.Ollama.Model = v
	}
	if v := os.Getenv("OPTIC_OLLAMA_VISION_MODEL"); v != "" {
		cfg.Ollama.VisionModel = v
	}
	if v := os.Getenv("OPTIC_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("OPTIC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive, got %d", cfg.Cache.Capacity)
	}
	if cfg.Scheduler.QueueDepth <= 0 {
		return fmt.Errorf("scheduler.queue_depth must be positive, got %d", cfg.Scheduler.QueueDepth)
	}
	mc := cfg.Scheduler.MaxConcurrent
	for name, v := range map[string]int{
		"normal": mc.Normal, "elevated": mc.Elevated, "low": mc.Low, "critical": mc.Critical,
	} {
		if v < 0 {
			return fmt.Errorf("scheduler.max_concurrent.%s must be >= 0, got %d", name, v)
		}
	}
	if cfg.Session.TimeoutSeconds <= 0 {
		return fmt.Errorf("session.timeout_seconds must be positive, got %d", cfg.Session.TimeoutSeconds)
	}
	if cfg.Monitor.PollIntervalSeconds <= 0 {
		return fmt.Errorf("monitor.poll_interval_seconds must be positive, got %d", cfg.Monitor.PollIntervalSeconds)
	}
	return nil
}
