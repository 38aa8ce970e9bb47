// Package appconfig holds CLI-level application settings — review server
// port, idle-uploader timeout override, log format — distinct from the
// per-deployment YAML profiles loaded by internal/profile.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the application-level settings, independent of any profile.
type Config struct {
	ReviewPort          int    `mapstructure:"review_port"`
	UploaderIdleTimeout int    `mapstructure:"uploader_idle_timeout_sec"`
	LogFormat           string `mapstructure:"log_format"`
	LogFile             string `mapstructure:"log_file"`
	ProfilePath         string `mapstructure:"profile_path"`
}

var (
	cfg        *Config
	configPath string
)

// Init loads application settings from built-in defaults,
// ~/.config/wharf/config.yaml, and environment variables (WHARF_*), in
// that order of increasing precedence: env overrides file, file overrides
// defaults.
func Init() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "wharf")
	configPath = filepath.Join(configDir, "config.yaml")

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("review_port", 3000)
	viper.SetDefault("uploader_idle_timeout_sec", 300)
	viper.SetDefault("log_format", "text")
	viper.SetDefault("profile_path", "wharf.yaml")

	viper.SetEnvPrefix("WHARF")
	_ = viper.BindEnv("review_port", "WHARF_REVIEW_PORT")
	_ = viper.BindEnv("uploader_idle_timeout_sec", "WHARF_IDLE_TIMEOUT_SEC")
	_ = viper.BindEnv("log_format", "WHARF_LOG_FORMAT")
	_ = viper.BindEnv("log_file", "WHARF_LOG_FILE")
	_ = viper.BindEnv("profile_path", "WHARF_PROFILE_PATH")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unmarshalling config: %w", err)
	}

	return nil
}

// Get returns the loaded configuration, defaulting it first if Init was
// never called (e.g. in tests).
func Get() *Config {
	if cfg == nil {
		cfg = &Config{
			ReviewPort:          3000,
			UploaderIdleTimeout: 300,
			LogFormat:           "text",
			ProfilePath:         "wharf.yaml",
		}
	}
	return cfg
}

// GetConfigPath returns the path Init resolved the config file to.
func GetConfigPath() string {
	return configPath
}
