package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Mount modes for the guest mounter library.
const (
	MountNone     = "none"
	MountRO       = "ro"
	MountROStrict = "ro_strict"
	MountRW       = "rw"
)

type Limits struct {
	MaxFilesOpen    int    `yaml:"max_files_open"`
	SpaceLimit      string `yaml:"space_limit"`
	MaxRequests     int    `yaml:"max_requests"`
	MaxWebsockets   int    `yaml:"max_websockets"`
	HTTPTimeoutMs   int    `yaml:"http_timeout_ms"`
	MaxResponseSize string `yaml:"max_response_size"`
}

// Mount is a host directory mounted into every computer at boot.
type Mount struct {
	Path     string `yaml:"path"`
	Source   string `yaml:"source"`
	ReadOnly bool   `yaml:"read_only"`
}

type Config struct {
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
	DBPath  string `yaml:"db_path"`
	DataDir string `yaml:"data_dir"`

	ROMPath       string `yaml:"rom_path"` // empty uses the embedded ROM
	ROMReadOnly   bool   `yaml:"rom_read_only"`
	DebugROM      bool   `yaml:"debug_rom"`
	StandardsMode bool   `yaml:"standards_mode"`

	AbortTimeoutMs      int `yaml:"abort_timeout_ms"` // 0 picks the mode default
	WatchdogIntervalMs  int `yaml:"watchdog_interval_ms"`
	WatchdogEscalations int `yaml:"watchdog_escalations"`
	WaitGrace           int `yaml:"wait_grace"`

	Limits Limits `yaml:"limits"`

	MountMode  string   `yaml:"mount_mode"`
	MountAllow []string `yaml:"mount_allow"`
	MountDeny  []string `yaml:"mount_deny"`
	Mounts     []Mount  `yaml:"mounts"`

	FreedRetentionSeconds int   `yaml:"freed_retention_seconds"`
	ReaperIntervalSeconds int   `yaml:"reaper_interval_seconds"`
	Workers               int   `yaml:"workers"`
	HTTPEnabled           bool  `yaml:"http_enabled"`
	Autostart             []int `yaml:"autostart"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:              "127.0.0.1:8080",
		DBPath:              "./rechenkasten.db",
		DataDir:             "./data",
		ROMReadOnly:         true,
		WatchdogIntervalMs:  1000,
		WatchdogEscalations: 5,
		WaitGrace:           -15,
		Limits: Limits{
			MaxFilesOpen:    128,
			SpaceLimit:      "1MB",
			MaxRequests:     16,
			MaxWebsockets:   4,
			HTTPTimeoutMs:   20000,
			MaxResponseSize: "8MB",
		},
		MountMode:             MountROStrict,
		FreedRetentionSeconds: 60,
		ReaperIntervalSeconds: 30,
		Workers:               4,
		HTTPEnabled:           true,
	}
}

func Load(yamlPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that would only fail later at boot.
func (c *Config) Validate() error {
	switch c.MountMode {
	case MountNone, MountRO, MountROStrict, MountRW:
	default:
		return fmt.Errorf("invalid mount_mode %q", c.MountMode)
	}
	if _, err := units.RAMInBytes(c.Limits.SpaceLimit); err != nil {
		return fmt.Errorf("invalid limits.space_limit: %w", err)
	}
	if _, err := units.RAMInBytes(c.Limits.MaxResponseSize); err != nil {
		return fmt.Errorf("invalid limits.max_response_size: %w", err)
	}
	for _, m := range c.Mounts {
		if m.Path == "" || m.Source == "" {
			return fmt.Errorf("mount needs path and source: %+v", m)
		}
	}
	return nil
}

// AbortTimeout is how long a guest may run without yielding.
func (c *Config) AbortTimeout() time.Duration {
	if c.AbortTimeoutMs > 0 {
		return time.Duration(c.AbortTimeoutMs) * time.Millisecond
	}
	if c.StandardsMode {
		return 7 * time.Second
	}
	return 17 * time.Second
}

func (c *Config) WatchdogInterval() time.Duration {
	if c.WatchdogIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(c.WatchdogIntervalMs) * time.Millisecond
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Limits.HTTPTimeoutMs) * time.Millisecond
}

func (c *Config) FreedRetention() time.Duration {
	return time.Duration(c.FreedRetentionSeconds) * time.Second
}

func (c *Config) ReaperInterval() time.Duration {
	if c.ReaperIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ReaperIntervalSeconds) * time.Second
}

// SpaceLimitBytes is the quota of a computer's data directory.
func (c *Config) SpaceLimitBytes() int64 {
	n, err := units.RAMInBytes(c.Limits.SpaceLimit)
	if err != nil {
		return 1 << 20
	}
	return n
}

func (c *Config) MaxResponseBytes() int64 {
	n, err := units.RAMInBytes(c.Limits.MaxResponseSize)
	if err != nil {
		return 8 << 20
	}
	return n
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RECHENKASTEN_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("RECHENKASTEN_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("RECHENKASTEN_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RECHENKASTEN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RECHENKASTEN_ROM_PATH"); v != "" {
		cfg.ROMPath = v
	}
	if v := os.Getenv("RECHENKASTEN_ROM_READ_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ROMReadOnly = b
		}
	}
	if v := os.Getenv("RECHENKASTEN_DEBUG_ROM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DebugROM = b
		}
	}
	if v := os.Getenv("RECHENKASTEN_STANDARDS_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.StandardsMode = b
		}
	}
	if v := os.Getenv("RECHENKASTEN_ABORT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AbortTimeoutMs = n
		}
	}
	if v := os.Getenv("RECHENKASTEN_MAX_FILES_OPEN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxFilesOpen = n
		}
	}
	if v := os.Getenv("RECHENKASTEN_SPACE_LIMIT"); v != "" {
		cfg.Limits.SpaceLimit = v
	}
	if v := os.Getenv("RECHENKASTEN_MAX_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxRequests = n
		}
	}
	if v := os.Getenv("RECHENKASTEN_MOUNT_MODE"); v != "" {
		cfg.MountMode = v
	}
	if v := os.Getenv("RECHENKASTEN_MOUNT_ALLOW"); v != "" {
		cfg.MountAllow = strings.Split(v, ",")
	}
	if v := os.Getenv("RECHENKASTEN_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("RECHENKASTEN_HTTP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.HTTPEnabled = b
		}
	}
	if v := os.Getenv("RECHENKASTEN_AUTOSTART"); v != "" {
		var ids []int
		for _, s := range strings.Split(v, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
				ids = append(ids, n)
			}
		}
		cfg.Autostart = ids
	}
}
