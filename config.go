package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"felicad/dedup"
	"felicad/dispatch"
	"felicad/indicator"
	"felicad/mqtt"
	"felicad/port"
	"felicad/reader"
	"felicad/sound"
	"felicad/status"
	"felicad/telemetry"
)

// Config is the main configuration structure for felicad.
type Config struct {
	// Node name used in MQTT topics
	ClientID string `yaml:"client_id" env:"FELICAD_CLIENT_ID"`

	Log LogConfig `yaml:"log"`

	// Reader backends; the PC/SC and libpafe pair when empty
	Readers []reader.Config `yaml:"readers"`

	// Hub topology override
	Ports port.Config `yaml:"ports"`

	// sysfs mount point, for tests and containers
	SysRoot string `yaml:"sys_root"`

	Dedup     dedup.Config     `yaml:"dedup"`
	API       dispatch.Config  `yaml:"api"`
	Sound     sound.Config     `yaml:"sound"`
	Indicator indicator.Config `yaml:"indicator"`
	MQTT      mqtt.Config      `yaml:"mqtt"`
	Status    status.Config    `yaml:"status"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// LogConfig selects the log level and output format (text or json).
type LogConfig struct {
	Level  string `yaml:"level" env:"FELICAD_LOG_LEVEL"`
	Format string `yaml:"format" env:"FELICAD_LOG_FORMAT"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Log:     LogConfig{Level: "info", Format: "text"},
		SysRoot: "/sys",
		Dedup:   dedup.DefaultConfig(),
		API: dispatch.Config{
			URL:     dispatch.DefaultURL,
			Timeout: dispatch.DefaultTimeout,
		},
		Sound: sound.DefaultConfig(),
	}
}

// LoadConfig reads path over the defaults, then applies environment
// overrides. A missing file is not an error: loaded reports whether
// the file was found.
func LoadConfig(path string) (cfg Config, loaded bool, err error) {
	cfg = DefaultConfig()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, true, fmt.Errorf("decode config %s: %w", path, err)
		}
		loaded = true
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, false, fmt.Errorf("open config: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, loaded, fmt.Errorf("parse env: %w", err)
	}

	if len(cfg.Readers) == 0 {
		cfg.Readers = reader.DefaultConfigs()
	}
	if cfg.ClientID == "" {
		host, _ := os.Hostname()
		cfg.ClientID = "felicad-" + host
	}
	return cfg, loaded, nil
}

func newLogger(cfg LogConfig) (*logrus.Logger, error) {
	log := logrus.New()

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(lvl)

	switch cfg.Format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return log, nil
}
