package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Option customises the viper instance built by Load.
type Option func(*viper.Viper)

// WithEnvPrefix namespaces automatic environment lookups, e.g. CHILLSYNC_SERVER_PORT.
func WithEnvPrefix(prefix string) Option {
	return func(v *viper.Viper) {
		v.SetEnvPrefix(prefix)
	}
}

// WithConfigFile points viper at an explicit file and skips the search paths.
func WithConfigFile(path string) Option {
	return func(v *viper.Viper) {
		if path != "" {
			v.SetConfigFile(path)
		}
	}
}

// Load reads configuration from a yaml file (optional) and environment variables.
// configPath is the directory searched first; "." and "./config" follow.
func Load(configPath, configName string, opts ...Option) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, opt := range opts {
		opt(v)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return v, nil
}

// GetEnv returns environment variable value or default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
