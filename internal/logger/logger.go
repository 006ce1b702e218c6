package logger

import (
	"errors"
	"sync"
)

// ErrAlreadyInitialized is returned by Init until Shutdown has run
var ErrAlreadyInitialized = errors.New("logger already initialized; call Shutdown() before re-initializing")

// global holds the process logger; current is nil until Init
var global struct {
	sync.RWMutex
	current Logger
}

// Init 建立全域 logger，每個行程只能有一個
func Init(config Config) error {
	global.Lock()
	defer global.Unlock()

	if global.current != nil {
		return ErrAlreadyInitialized
	}
	l, err := NewSlogLogger(config)
	if err != nil {
		return err
	}
	global.current = l
	return nil
}

// Get returns the global logger, or a NullLogger before Init
func Get() Logger {
	global.RLock()
	defer global.RUnlock()

	if global.current == nil {
		return &NullLogger{}
	}
	return global.current
}

// With 是 Get().With 的簡寫
func With(args ...any) Logger {
	return Get().With(args...)
}

func Sync() error {
	return Get().Sync()
}

// Shutdown closes the global logger's outputs and clears it.
// Without a logger it does nothing.
func Shutdown() error {
	global.Lock()
	l := global.current
	global.current = nil
	global.Unlock()

	if l == nil {
		return nil
	}
	return l.Shutdown()
}

// Replace swaps in l and returns a function restoring the previous logger
func Replace(l Logger) (restore func()) {
	global.Lock()
	prev := global.current
	global.current = l
	global.Unlock()

	return func() {
		global.Lock()
		global.current = prev
		global.Unlock()
	}
}

// NullLogger discards everything
type NullLogger struct{}

func (n *NullLogger) Debug(msg string, args ...any) {}
func (n *NullLogger) Info(msg string, args ...any)  {}
func (n *NullLogger) Warn(msg string, args ...any)  {}
func (n *NullLogger) Error(msg string, args ...any) {}
func (n *NullLogger) With(args ...any) Logger       { return n }
func (n *NullLogger) Sync() error                   { return nil }
func (n *NullLogger) Shutdown() error               { return nil }
