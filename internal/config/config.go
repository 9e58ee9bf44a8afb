package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server settings. Values come from an optional YAML file
// with environment variable overrides for deployment knobs.
type Config struct {
	HTTPPort string `yaml:"http_port"`
	NATSURL  string `yaml:"nats_url"`

	// UseNATS selects the JetStream event bus; when false the in-process
	// bus is used and the server runs single-node.
	UseNATS bool `yaml:"use_nats"`

	MaxParticipants int `yaml:"max_participants"`

	// RejectImplausible controls the plausibility policy: reject the
	// progress report outright instead of only logging the flag.
	RejectImplausible bool `yaml:"reject_implausible"`

	ReconnectGrace      time.Duration `yaml:"reconnect_grace"`
	SessionEvictDelay   time.Duration `yaml:"session_evict_delay"`
	LeaderboardInterval time.Duration `yaml:"leaderboard_interval"`
}

func Default() Config {
	return Config{
		HTTPPort:            "8080",
		NATSURL:             "nats://localhost:4222",
		UseNATS:             false,
		MaxParticipants:     200,
		RejectImplausible:   false,
		ReconnectGrace:      2 * time.Minute,
		SessionEvictDelay:   5 * time.Minute,
		LeaderboardInterval: time.Second,
	}
}

// Load reads the YAML file at path (if it exists) over the defaults,
// then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	if v := os.Getenv("USE_NATS"); v != "" {
		cfg.UseNATS, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("REJECT_IMPLAUSIBLE"); v != "" {
		cfg.RejectImplausible, _ = strconv.ParseBool(v)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
