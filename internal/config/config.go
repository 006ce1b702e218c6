package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mitchellh/go-homedir"

	"github.com/Ning0612/siteupdater/internal/core/checksum"
	"github.com/Ning0612/siteupdater/internal/domain"
	"github.com/Ning0612/siteupdater/internal/logger"
	"github.com/Ning0612/siteupdater/internal/transport"
)

// StateDirName is the default state directory inside the root
const StateDirName = ".siteupdater"

// Config represents the complete configuration of one installation
type Config struct {
	// Root is the local installation tree
	Root string `mapstructure:"root"`

	// StateDir holds the sqlite state and the lock file (default: <root>/.siteupdater)
	StateDir string `mapstructure:"state_dir"`

	// Checksum names the content hash algorithm
	Checksum checksum.Algorithm `mapstructure:"checksum"`

	// Ignore lists glob patterns of paths that are never managed
	Ignore []string `mapstructure:"ignore"`

	// TieBreak picks between competing non-default sites
	TieBreak domain.TieBreak `mapstructure:"tie_break"`

	// Retry bounds transport retries
	Retry transport.RetryPolicy `mapstructure:"retry"`

	// FetchConcurrency bounds parallel manifest downloads
	FetchConcurrency int `mapstructure:"fetch_concurrency"`

	// Sites are the update sites to synchronize with, in rank order
	Sites []domain.UpdateSite `mapstructure:"sites"`

	// GDrive holds OAuth client settings for gdrive:// sites
	GDrive GDriveConfig `mapstructure:"gdrive"`

	// Log configures the logger
	Log LogConfig `mapstructure:"log"`
}

// GDriveConfig holds Google Drive OAuth settings
type GDriveConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenPath    string `mapstructure:"token_path"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string            `mapstructure:"level"`
	Format string            `mapstructure:"format"`
	File   logger.FileConfig `mapstructure:"file"`
}

// Validate checks if the configuration is complete and consistent
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("%w: root cannot be empty", domain.ErrConfigInvalid)
	}
	if !checksum.IsSupported(c.Checksum) {
		return fmt.Errorf("%w: unsupported checksum algorithm: %s", domain.ErrConfigInvalid, c.Checksum)
	}
	if !c.TieBreak.IsValid() {
		return fmt.Errorf("%w: invalid tie_break policy: %s", domain.ErrConfigInvalid, c.TieBreak)
	}
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("%w: fetch_concurrency must be positive, got %d", domain.ErrConfigInvalid, c.FetchConcurrency)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("%w: retry.attempts must be positive, got %d", domain.ErrConfigInvalid, c.Retry.Attempts)
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("%w: retry delays cannot be negative", domain.ErrConfigInvalid)
	}

	names := make(map[string]bool)
	for _, s := range c.Sites {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%w: site %q needs a name without spaces or slashes and a url", domain.ErrConfigInvalid, s.Name)
		}
		if names[s.Name] {
			return fmt.Errorf("%w: duplicate site name: %s", domain.ErrConfigInvalid, s.Name)
		}
		names[s.Name] = true
	}
	if !names[domain.DefaultSiteName] {
		return fmt.Errorf("%w: the %q site must be configured", domain.ErrConfigInvalid, domain.DefaultSiteName)
	}

	return nil
}

// GetSite returns a configured site by name
func (c *Config) GetSite(name string) (*domain.UpdateSite, error) {
	for i := range c.Sites {
		if c.Sites[i].Name == name {
			return &c.Sites[i], nil
		}
	}
	return nil, &domain.UnknownSiteError{Name: name}
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if expanded, err := homedir.Expand(path); err == nil {
		path = expanded
	}
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}

// normalize expands paths and fills values derived from other keys
func (c *Config) normalize() {
	c.Root = ExpandPath(c.Root)
	if c.StateDir == "" && c.Root != "" {
		c.StateDir = filepath.Join(c.Root, StateDirName)
	}
	c.StateDir = ExpandPath(c.StateDir)
	c.GDrive.TokenPath = ExpandPath(c.GDrive.TokenPath)
	c.Log.File.Path = ExpandPath(c.Log.File.Path)

	// 狀態目錄在安裝樹內時不可被掃描
	rel, err := filepath.Rel(c.Root, c.StateDir)
	if err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
		pattern := filepath.ToSlash(rel) + "/**"
		if !slices.Contains(c.Ignore, pattern) {
			c.Ignore = append(c.Ignore, pattern)
		}
	}
}
