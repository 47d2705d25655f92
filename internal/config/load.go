package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Environment variable names for overrides. Secrets can be kept out of
// the config file entirely.
const (
	EnvConfig        = "EVA_SUBMISSION_CONFIG"
	EnvListenAddr    = "EVA_SUBMISSION_LISTEN_ADDR"
	EnvDatabasePath  = "EVA_SUBMISSION_DB_PATH"
	EnvAdminToken    = "EVA_SUBMISSION_ADMIN_TOKEN"
	EnvTokenUsername = "EVA_SUBMISSION_TOKEN_USERNAME"
	EnvTokenPassword = "EVA_SUBMISSION_TOKEN_PASSWORD"
)

// Load reads and parses a TOML config file, applies environment
// overrides, validates the result, and returns it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise
// returns defaults with environment overrides applied. Validation still
// runs either way.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)

		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config: validation failed: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.Server.ListenAddr = v
	}

	if v := os.Getenv(EnvDatabasePath); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv(EnvAdminToken); v != "" {
		cfg.Server.AdminToken = v
	}

	if v := os.Getenv(EnvTokenUsername); v != "" {
		cfg.Token.Username = v
	}

	if v := os.Getenv(EnvTokenPassword); v != "" {
		cfg.Token.Password = v
	}
}
