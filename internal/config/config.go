package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Downloads DownloadsConfig `mapstructure:"downloads"`
	Offline   bool            `mapstructure:"offline"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the Subsonic server connection settings
type ServerConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// SaltAuth selects token authentication (salt + md5) over sending the
	// password in the clear. Some very old servers only accept the latter.
	SaltAuth bool `mapstructure:"salt_auth"`
	// VerifyCert can be disabled for servers with self-signed certificates.
	VerifyCert bool `mapstructure:"verify_cert"`
}

// CacheConfig holds local cache settings
type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// DownloadsConfig holds download orchestration settings
type DownloadsConfig struct {
	ConcurrentLimit int `mapstructure:"concurrent_limit"`
	// PrefetchAmount is how many upcoming songs to download ahead of the
	// current one when caching a play queue.
	PrefetchAmount int `mapstructure:"prefetch_amount"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			SaltAuth:   true,
			VerifyCert: true,
		},
		Cache: CacheConfig{
			Dir: defaultCachePath(),
		},
		Downloads: DownloadsConfig{
			ConcurrentLimit: 5,
			PrefetchAmount:  3,
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "cadenza", "cadenza.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "cadenza", "cadenza.log")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "cadenza")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "cadenza")
	}
}

// defaultCachePath returns the default cache directory for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "cadenza", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "cadenza", "cache")
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultConfigPath())
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("CADENZA")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the config file
func Save(cfg *Config) error {
	configPath := defaultConfigPath()

	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set("server.url", cfg.Server.URL)
	viper.Set("server.username", cfg.Server.Username)
	viper.Set("server.password", cfg.Server.Password)
	viper.Set("server.salt_auth", cfg.Server.SaltAuth)
	viper.Set("server.verify_cert", cfg.Server.VerifyCert)

	viper.Set("cache.dir", cfg.Cache.Dir)

	viper.Set("downloads.concurrent_limit", cfg.Downloads.ConcurrentLimit)
	viper.Set("downloads.prefetch_amount", cfg.Downloads.PrefetchAmount)

	viper.Set("offline", cfg.Offline)

	viper.Set("logging.file", cfg.Logging.File)
	viper.Set("logging.level", cfg.Logging.Level)

	configFile := filepath.Join(configPath, "config.yaml")
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// IsConfigured returns true if the server URL and username are set
func (c *Config) IsConfigured() bool {
	return c.Server.URL != "" && c.Server.Username != ""
}
