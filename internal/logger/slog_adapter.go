package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SlogLogger writes through a slog handler whose ReplaceAttr hook sanitizes
// every message and attribute before it reaches any output
type SlogLogger struct {
	logger *slog.Logger
	// closers is nil on children created by With
	closers []io.Closer
}

// NewSlogLogger opens every output in config and builds the handler over them
func NewSlogLogger(config Config) (*SlogLogger, error) {
	w, closers, err := openOutputs(config)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:       slog.Level(config.Level),
		ReplaceAttr: NewSanitizer().ReplaceAttr,
	}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &SlogLogger{logger: slog.New(handler), closers: closers}, nil
}

// openOutputs returns a writer fanning out to every configured output and
// the ones the logger has to close. stdout and stderr are never closed.
func openOutputs(config Config) (io.Writer, []io.Closer, error) {
	var writers []io.Writer
	var closers []io.Closer

	for _, out := range config.Outputs {
		switch out.Type {
		case OutputStdout, OutputStderr:
			w := out.Writer
			if w == nil {
				w = os.Stderr
				if out.Type == OutputStdout {
					w = os.Stdout
				}
			}
			writers = append(writers, w)
			if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
				closers = append(closers, c)
			}

		case OutputFile:
			if !config.File.Enabled {
				continue
			}
			fw, err := openLogFile(config.File)
			if err != nil {
				closeAll(closers)
				return nil, nil, fmt.Errorf("failed to open log file: %w", err)
			}
			writers = append(writers, fw)
			closers = append(closers, fw)
		}
	}

	switch len(writers) {
	case 0:
		return os.Stderr, nil, nil
	case 1:
		return writers[0], closers, nil
	default:
		return io.MultiWriter(writers...), closers, nil
	}
}

// openLogFile returns a size rotated log file; its directory is created here
func openLogFile(fc FileConfig) (*lumberjack.Logger, error) {
	if fc.Path == "" {
		return nil, errors.New("log file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(fc.Path), 0755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.MaxSizeMB,
		MaxAge:     fc.MaxAgeDays,
		MaxBackups: fc.MaxBackups,
		Compress:   fc.Compress,
	}, nil
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// With returns a child sharing the outputs; shutting it down closes nothing
func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{logger: l.logger.With(args...)}
}

// Sync is a no-op: the handlers write unbuffered and lumberjack writes
// straight to the file
func (l *SlogLogger) Sync() error {
	return nil
}

// Shutdown closes the outputs owned by this logger. Calling it again is a no-op.
func (l *SlogLogger) Shutdown() error {
	closers := l.closers
	l.closers = nil
	return closeAll(closers)
}
