package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance. When configFile is empty the
// usual locations are searched for config.yaml.
func New(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/sms-filter/")
		v.AddConfigPath("$HOME/.sms-filter")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("SMS_FILTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Classifier defaults
	v.SetDefault("classifier.type", "contextual")
	v.SetDefault("classifier.model_path", "")

	// Contextual refiner defaults
	v.SetDefault("context.capacity", 100)
	v.SetDefault("context.business_hours_start", 9)
	v.SetDefault("context.business_hours_end", 18)
	v.SetDefault("context.timezone", "Local")
	v.SetDefault("context.frequency_window", "1h")
	v.SetDefault("context.frequency_limit", 5)
	v.SetDefault("context.recent_window", "1h")
	v.SetDefault("context.recent_limit", 50)
	v.SetDefault("context.concurrency", 4)
	v.SetDefault("context.important_senders", []string{})

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.driver", "sqlite3")
	v.SetDefault("storage.path", "/data/sms_filter.db")
	v.SetDefault("storage.cleanup_frequency", "1h")

	// Audit defaults
	v.SetDefault("audit.retention", "2160h")

	// Reputation breaker defaults
	v.SetDefault("reputation.breaker.max_requests", 1)
	v.SetDefault("reputation.breaker.interval", "1m")
	v.SetDefault("reputation.breaker.timeout", "30s")
	v.SetDefault("reputation.breaker.consecutive_failures", 5)

	// Batch defaults
	v.SetDefault("batch.concurrency", 8)

	// Preferences defaults; a preferences file overrides these
	v.SetDefault("preferences.file", "")
	v.SetDefault("preferences.watch", true)
	v.SetDefault("preferences.filtering_mode", "moderate")
	v.SetDefault("preferences.spam_tolerance", "moderate")
	v.SetDefault("preferences.important_types", []string{"banking"})
	v.SetDefault("preferences.feedback_learning", true)

	// Ingest defaults
	v.SetDefault("ingest.max_body_size", 4096)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	d, err := time.ParseDuration(c.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
