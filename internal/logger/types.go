package logger

import (
	"io"
	"log/slog"
	"strings"
)

// Logger 統一日誌介面
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	Sync() error
	Shutdown() error
}

// Level 沿用 slog 的級別數值
type Level slog.Level

const (
	LevelDebug = Level(slog.LevelDebug)
	LevelInfo  = Level(slog.LevelInfo)
	LevelWarn  = Level(slog.LevelWarn)
	LevelError = Level(slog.LevelError)
)

func (l Level) String() string {
	return strings.ToLower(slog.Level(l).String())
}

// ParseLevel accepts the slog level names plus "warning"; anything else is info
func ParseLevel(s string) Level {
	name := strings.TrimSpace(s)
	if strings.EqualFold(name, "warning") {
		return LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return LevelInfo
	}
	return Level(l)
}

// Format 日誌格式
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

func (f Format) String() string {
	if f == FormatJSON {
		return string(FormatJSON)
	}
	return string(FormatText)
}

// ParseFormat returns FormatJSON for "json" in any case, FormatText otherwise
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// Output 日誌輸出目標
type Output int

const (
	OutputStdout Output = iota
	OutputStderr
	OutputFile
)

// Config 日誌配置
type Config struct {
	Level   Level
	Format  Format
	Outputs []OutputConfig
	File    FileConfig
}

// OutputConfig selects one destination. Writer replaces stdout/stderr,
// mostly in tests.
type OutputConfig struct {
	Type   Output
	Writer io.Writer
}

// FileConfig is the `log.file` section of the config file
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// NewConfig builds the CLI logger config: stderr always, plus the rotated
// file when it is enabled. stdout stays free for command output.
func NewConfig(level, format string, file FileConfig) Config {
	cfg := Config{
		Level:   ParseLevel(level),
		Format:  ParseFormat(format),
		Outputs: []OutputConfig{{Type: OutputStderr}},
		File:    file,
	}
	if file.Enabled {
		cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: OutputFile})
	}
	return cfg
}
