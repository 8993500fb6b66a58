// Package config loads zenceliumd's configuration. Layering follows the
// original project's file-backed ConfigParser: built-in defaults, then an
// optional YAML file overlay, then environment variables, each overriding
// the last, using gopkg.in/yaml.v3 in place of Python's configparser.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting zenceliumd's wiring needs.
type Config struct {
	// HTTPAddr is the address the WebSocket upgrade endpoint listens on.
	HTTPAddr string `yaml:"http_addr"`

	// CatalogPath is the SQLite database file for the reference catalog
	// store. Empty means in-memory.
	CatalogPath string `yaml:"catalog_path"`

	// NATSURL is the pub/sub bus address. Empty disables NATS and falls
	// back to the in-process bus (single-binary / test mode).
	NATSURL string `yaml:"nats_url"`

	// JWTSecret validates the optional session-login bearer token carried
	// at WebSocket upgrade time. Empty disables
	// session-login; agents must then always send an explicit login frame.
	JWTSecret string `yaml:"jwt_secret"`

	// LogLevel is any zerolog level name.
	LogLevel string `yaml:"log_level"`

	// LogPretty selects console-formatted logs over JSON.
	LogPretty bool `yaml:"log_pretty"`

	// DefaultFrameMaxSize is the initial max-frame-size filter value for
	// new connections (1,024 bytes).
	DefaultFrameMaxSize int `yaml:"default_frame_max_size"`

	// StaleBusBackoff is how long the bus receiver sleeps after an empty
	// poll (≈10 ms).
	StaleBusBackoff time.Duration `yaml:"-"`

	// UnsubscribedBackoff is how long the bus receiver sleeps while not
	// yet subscribed (≈100 ms).
	UnsubscribedBackoff time.Duration `yaml:"-"`
}

// Defaults returns the built-in configuration before any file or
// environment overlay is applied.
func Defaults() Config {
	return Config{
		HTTPAddr:            ":8765",
		CatalogPath:         "",
		NATSURL:             "",
		JWTSecret:           "",
		LogLevel:            "info",
		LogPretty:           false,
		DefaultFrameMaxSize: 1024,
		StaleBusBackoff:     10 * time.Millisecond,
		UnsubscribedBackoff: 100 * time.Millisecond,
	}
}

// Load builds the effective configuration: defaults, overlaid by the YAML
// file at path (if path is non-empty and the file exists), overlaid by
// environment variables. It never errors on a missing file — config files
// are optional, matching the original's "ensure file exists, else use
// defaults" behavior minus the auto-create (this core has no CLI to invoke
// that from).
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, err
			}
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	cfg.HTTPAddr = getEnv("ZENCELIUM_HTTP_ADDR", cfg.HTTPAddr)
	cfg.CatalogPath = getEnv("ZENCELIUM_CATALOG_PATH", cfg.CatalogPath)
	cfg.NATSURL = getEnv("ZENCELIUM_NATS_URL", cfg.NATSURL)
	cfg.JWTSecret = getEnv("ZENCELIUM_JWT_SECRET", cfg.JWTSecret)
	cfg.LogLevel = getEnv("ZENCELIUM_LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = getEnv("ZENCELIUM_LOG_PRETTY", boolStr(cfg.LogPretty)) == "true"
	cfg.DefaultFrameMaxSize = getEnvInt("ZENCELIUM_DEFAULT_FRAME_MAX_SIZE", cfg.DefaultFrameMaxSize)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
