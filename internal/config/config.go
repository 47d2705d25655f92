// Package config implements TOML configuration loading and validation
// for the submission service. It supports a three-layer override chain
// (defaults -> config file -> environment variables).
package config

// Config is the top-level configuration structure parsed from a TOML
// file.
type Config struct {
	Server    ServerConfig     `toml:"server"`
	Database  DatabaseConfig   `toml:"database"`
	Token     TokenConfig      `toml:"token"`
	Storage   StorageConfig    `toml:"storage"`
	Schemas   SchemasConfig    `toml:"schemas"`
	Logging   LoggingConfig    `toml:"logging"`
	Providers []ProviderConfig `toml:"provider"`
}

// ServerConfig controls the HTTP listener and the administrative
// surface.
type ServerConfig struct {
	ListenAddr      string `toml:"listen_addr"`
	AdminToken      string `toml:"admin_token"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// DatabaseConfig locates the SQLite database file.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// TokenConfig controls the shared downstream token: where to fetch it,
// the credential used, and the refresh cadence.
type TokenConfig struct {
	Endpoint        string `toml:"endpoint"`
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	Lifetime        string `toml:"lifetime"`
	RefreshInterval string `toml:"refresh_interval"`
	ExpiryMargin    string `toml:"expiry_margin"`
}

// StorageConfig points at the remote storage backend that holds
// submission upload directories.
type StorageConfig struct {
	BaseURL        string `toml:"base_url"`
	UploadRootPath string `toml:"upload_root_path"`
}

// SchemasConfig points at the schema source host and the project
// registry, and controls the full-cache eviction schedule.
type SchemasConfig struct {
	SourceBaseURL   string `toml:"source_base_url"`
	RegistryBaseURL string `toml:"registry_base_url"`
	FlushInterval   string `toml:"flush_interval"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ProviderConfig describes one identity provider: its userinfo endpoint
// and the JSON field names its identity documents use. Device-flow
// fields are only set for providers that support it. Providers are
// tried in the order they appear in the config file.
type ProviderConfig struct {
	LoginType           string `toml:"login_type"`
	UserinfoURL         string `toml:"userinfo_url"`
	UserIDField         string `toml:"user_id_field"`
	FirstNameField      string `toml:"first_name_field"`
	LastNameField       string `toml:"last_name_field"`
	EmailField          string `toml:"email_field"`
	SecondaryEmailField string `toml:"secondary_email_field"`

	DeviceAuthURL string `toml:"device_auth_url"`
	TokenURL      string `toml:"token_url"`
	ClientID      string `toml:"client_id"`
	Scope         string `toml:"scope"`
}
