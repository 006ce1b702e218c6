package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Ning0612/siteupdater/internal/core/checksum"
	"github.com/Ning0612/siteupdater/internal/domain"
	"github.com/Ning0612/siteupdater/internal/transport"
)

// EnvPrefix prefixes environment overrides, e.g. SITEUPDATER_ROOT
const EnvPrefix = "SITEUPDATER"

// DefaultConfigPaths returns the default paths to search for config files
func DefaultConfigPaths() []string {
	paths := []string{
		".",
		"./configs",
	}

	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "siteupdater"))
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "siteupdater"))
		paths = append(paths, filepath.Join(homeDir, ".siteupdater"))
	}

	return paths
}

func newViper() *viper.Viper {
	v := viper.New()

	retry := transport.DefaultRetryPolicy()
	v.SetDefault("root", "")
	v.SetDefault("state_dir", "")
	v.SetDefault("checksum", string(checksum.SHA256))
	v.SetDefault("ignore", []string{})
	v.SetDefault("tie_break", string(domain.TieBreakHighestVersion))
	v.SetDefault("retry.attempts", retry.Attempts)
	v.SetDefault("retry.base_delay", retry.BaseDelay)
	v.SetDefault("retry.max_delay", retry.MaxDelay)
	v.SetDefault("fetch_concurrency", 4)
	v.SetDefault("gdrive.client_id", "")
	v.SetDefault("gdrive.client_secret", "")
	v.SetDefault("gdrive.token_path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", 10)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.compress", true)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads and parses a configuration file
// If path is empty, searches default locations for config.yaml
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return nil, domain.ErrConfigNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return decode(v)
}

// LoadFromString parses configuration from a YAML string
func LoadFromString(yamlContent string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
