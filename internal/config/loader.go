package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SENSORPOD_MQTT_BROKER
const EnvPrefix = "SENSORPOD"

// LoaderConfig holds optional file overrides.
type LoaderConfig struct {
	ConfigFile string
	EnvFile    string
}

// LoaderOption is a functional option for Load.
type LoaderOption func(*LoaderConfig)

// WithConfigFile sets an explicit config file path.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// Load reads the YAML config file (if any), a .env file (if any) and
// SENSORPOD_* environment overrides, then applies defaults and validates.
func Load(opts ...LoaderOption) (*Config, error) {
	lc := LoaderConfig{EnvFile: ".env"}
	for _, opt := range opts {
		opt(&lc)
	}

	if lc.EnvFile != "" && exists(lc.EnvFile) {
		// existing environment variables win over the file
		if err := godotenv.Load(lc.EnvFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", lc.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	if lc.ConfigFile != "" {
		v.SetConfigFile(lc.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers the keys that may be overridden from the environment
func setDefaults(v *viper.Viper) {
	v.SetDefault("instance_id", "")
	v.SetDefault("shutdown_timeout_s", 0)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.output", "")
	v.SetDefault("logging.fallback", "")
	v.SetDefault("logging.console", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.encoding", "")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("journal.path", "")
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
