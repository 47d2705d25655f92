package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Validate checks all configuration values and returns all errors
// found. It accumulates every error rather than stopping at the first,
// so a broken file can be fixed in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateToken(&cfg.Token)...)
	errs = append(errs, validateSchemas(&cfg.Schemas)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateProviders(cfg.Providers)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}

	if _, err := time.ParseDuration(s.ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout: %w", err))
	}

	return errs
}

func validateToken(t *TokenConfig) []error {
	var errs []error

	for name, value := range map[string]string{
		"token.lifetime":         t.Lifetime,
		"token.refresh_interval": t.RefreshInterval,
		"token.expiry_margin":    t.ExpiryMargin,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errs
}

func validateSchemas(s *SchemasConfig) []error {
	var errs []error

	if _, err := time.ParseDuration(s.FlushInterval); err != nil {
		errs = append(errs, fmt.Errorf("schemas.flush_interval: %w", err))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		errs = append(errs, fmt.Errorf("logging.level %q: %w", l.Level, err))
	}

	switch l.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q: must be auto, text, or json", l.Format))
	}

	return errs
}

func validateProviders(providers []ProviderConfig) []error {
	var errs []error

	seen := make(map[string]bool)

	for i, p := range providers {
		if p.LoginType == "" {
			errs = append(errs, fmt.Errorf("provider[%d]: login_type must not be empty", i))

			continue
		}

		if seen[p.LoginType] {
			errs = append(errs, fmt.Errorf("provider[%d]: duplicate login_type %q", i, p.LoginType))
		}

		seen[p.LoginType] = true

		if p.UserinfoURL == "" {
			errs = append(errs, fmt.Errorf("provider %s: userinfo_url must not be empty", p.LoginType))
		}

		if p.UserIDField == "" {
			errs = append(errs, fmt.Errorf("provider %s: user_id_field must not be empty", p.LoginType))
		}

		// Device flow is all-or-nothing per provider.
		deviceFields := 0
		for _, v := range []string{p.DeviceAuthURL, p.TokenURL, p.ClientID} {
			if v != "" {
				deviceFields++
			}
		}

		if deviceFields != 0 && deviceFields != 3 {
			errs = append(errs, fmt.Errorf(
				"provider %s: device_auth_url, token_url, and client_id must be set together", p.LoginType))
		}
	}

	return errs
}

// Duration parses a duration field that Validate has already accepted.
// Call only on validated configs.
func Duration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}

	return d
}
