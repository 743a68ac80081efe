package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Bind           string
	CORSOrigin     string
	LogLevel       zerolog.Level
	StateDir       string
	PresetsFile    string
	InventoryFile  string
	DiskRefresh    string
	RequestSweep   string
	RequestTTL     time.Duration
	BridgeQueue    int
	MetricsEnabled bool
}

// DraftsPath is where client drafts are persisted.
func (c Config) DraftsPath() string { return filepath.Join(c.StateDir, "drafts.json") }

func Defaults() Config {
	return Config{
		Bind:           "127.0.0.1:9100",
		LogLevel:       zerolog.InfoLevel,
		StateDir:       "/var/lib/nosvol",
		DiskRefresh:    "@every 30s",
		RequestSweep:   "@every 10s",
		RequestTTL:     2 * time.Minute,
		BridgeQueue:    256,
		MetricsEnabled: true,
	}
}

type fileConfig struct {
	HTTP struct {
		Bind       string `yaml:"bind"`
		CORSOrigin string `yaml:"corsOrigin"`
	} `yaml:"http"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	State struct {
		Dir string `yaml:"dir"`
	} `yaml:"state"`
	Presets struct {
		File string `yaml:"file"`
	} `yaml:"presets"`
	Disks struct {
		Inventory string `yaml:"inventory"`
		Refresh   string `yaml:"refresh"`
	} `yaml:"disks"`
	Bridge struct {
		Queue      int    `yaml:"queue"`
		Sweep      string `yaml:"sweep"`
		RequestTTL string `yaml:"requestTTL"`
	} `yaml:"bridge"`
	Metrics struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// FromEnv loads the file named by NOS_VOL_CONFIG, if any, then applies env
// overrides.
func FromEnv() (Config, error) {
	return Load(os.Getenv("NOS_VOL_CONFIG"))
}

// Load builds the config from defaults, then the YAML file at path (a
// missing file is not an error), then NOS_VOL_* environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	setString(&cfg.Bind, fc.HTTP.Bind)
	setString(&cfg.CORSOrigin, fc.HTTP.CORSOrigin)
	if fc.Logging.Level != "" {
		l, err := zerolog.ParseLevel(fc.Logging.Level)
		if err != nil {
			return fmt.Errorf("config %s: logging.level: %w", path, err)
		}
		cfg.LogLevel = l
	}
	setString(&cfg.StateDir, fc.State.Dir)
	setString(&cfg.PresetsFile, fc.Presets.File)
	setString(&cfg.InventoryFile, fc.Disks.Inventory)
	setString(&cfg.DiskRefresh, fc.Disks.Refresh)
	setString(&cfg.RequestSweep, fc.Bridge.Sweep)
	if fc.Bridge.Queue > 0 {
		cfg.BridgeQueue = fc.Bridge.Queue
	}
	if fc.Bridge.RequestTTL != "" {
		d, err := time.ParseDuration(fc.Bridge.RequestTTL)
		if err != nil {
			return fmt.Errorf("config %s: bridge.requestTTL: %w", path, err)
		}
		cfg.RequestTTL = d
	}
	if fc.Metrics.Enabled != nil {
		cfg.MetricsEnabled = *fc.Metrics.Enabled
	}
	return nil
}

// applyEnv ignores values that do not parse, as FromEnv always has.
func applyEnv(cfg *Config) {
	setString(&cfg.Bind, os.Getenv("NOS_VOL_BIND"))
	setString(&cfg.CORSOrigin, os.Getenv("NOS_VOL_CORS_ORIGIN"))
	if v := os.Getenv("NOS_VOL_LOG"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			cfg.LogLevel = l
		}
	}
	setString(&cfg.StateDir, os.Getenv("NOS_VOL_STATE_DIR"))
	setString(&cfg.PresetsFile, os.Getenv("NOS_VOL_PRESETS"))
	setString(&cfg.InventoryFile, os.Getenv("NOS_VOL_INVENTORY"))
	setString(&cfg.DiskRefresh, os.Getenv("NOS_VOL_DISK_REFRESH"))
	if v := os.Getenv("NOS_VOL_BRIDGE_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BridgeQueue = n
		}
	}
	if v := os.Getenv("NOS_VOL_REQUEST_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RequestTTL = d
		}
	}
	if v := os.Getenv("NOS_VOL_METRICS"); v != "" {
		cfg.MetricsEnabled = parseBool(v, cfg.MetricsEnabled)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func parseBool(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
