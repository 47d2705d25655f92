package config

// Default values for configuration options. These are "layer 0" of the
// override chain and keep a minimal config file viable.
const (
	defaultListenAddr      = ":8080"
	defaultShutdownTimeout = "30s"
	defaultDatabasePath    = "eva-submission.db"
	defaultTokenLifetime   = "1h"
	defaultRefreshInterval = "45m"
	defaultExpiryMargin    = "5m"
	defaultUploadRootPath  = "upload"
	defaultFlushInterval   = "48h"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding so unset fields retain
// their defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      defaultListenAddr,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Database: DatabaseConfig{
			Path: defaultDatabasePath,
		},
		Token: TokenConfig{
			Lifetime:        defaultTokenLifetime,
			RefreshInterval: defaultRefreshInterval,
			ExpiryMargin:    defaultExpiryMargin,
		},
		Storage: StorageConfig{
			UploadRootPath: defaultUploadRootPath,
		},
		Schemas: SchemasConfig{
			FlushInterval: defaultFlushInterval,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
