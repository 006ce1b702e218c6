package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	// LockFileName is the name of the lock file inside the state directory
	LockFileName = ".siteupdater.lock"
	// DefaultStaleTimeout is how old a foreign-host lock must be before it is ignored
	DefaultStaleTimeout = 30 * time.Minute
)

// LockInfo is the content of the lock file
type LockInfo struct {
	Token     string    `json:"token"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartTime time.Time `json:"start_time"`
	Command   string    `json:"command,omitempty"`
}

// FileLock guards a state directory against concurrent commands
type FileLock struct {
	lockPath     string
	staleTimeout time.Duration
	clock        clockwork.Clock
	info         *LockInfo
}

// NewFileLock creates a lock for lockDir, creating the directory if needed.
// An empty lockDir uses the user config directory.
func NewFileLock(lockDir string) (*FileLock, error) {
	if lockDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config dir: %w", err)
		}
		lockDir = filepath.Join(configDir, "siteupdater")
	}

	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	return &FileLock{
		lockPath:     filepath.Join(lockDir, LockFileName),
		staleTimeout: DefaultStaleTimeout,
		clock:        clockwork.NewRealClock(),
	}, nil
}

// SetStaleTimeout sets the duration after which a foreign-host lock is considered stale
func (l *FileLock) SetStaleTimeout(d time.Duration) {
	l.staleTimeout = d
}

// SetClock replaces the clock used for start times and stale checks
func (l *FileLock) SetClock(c clockwork.Clock) {
	l.clock = c
}

// Path returns the lock file location
func (l *FileLock) Path() string {
	return l.lockPath
}

// Acquire takes the lock for command. Re-acquiring a lock this instance
// already holds only updates the command name.
func (l *FileLock) Acquire(command string) error {
	if l.info != nil {
		existing, err := l.readLockInfo()
		if err == nil && existing.Token == l.info.Token {
			existing.Command = command
			if err := l.writeLockInfo(existing); err != nil {
				return err
			}
			l.info.Command = command
			return nil
		}
		l.info = nil
	}

	existing, err := l.readLockInfo()
	switch {
	case err == nil && l.isStale(existing):
		if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	case err == nil:
		return &LockError{Holder: existing, Reason: "lock is held by another process"}
	case !os.IsNotExist(err):
		// 無法解析的鎖檔視為殘留
		var syntaxErr *json.SyntaxError
		if !errors.As(err, &syntaxErr) {
			return err
		}
		if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove unreadable lock: %w", err)
		}
	}

	hostname, _ := os.Hostname()
	info := &LockInfo{
		Token:     uuid.NewString(),
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartTime: l.clock.Now(),
		Command:   command,
	}

	// O_EXCL makes creation atomic across processes
	file, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			holder, readErr := l.readLockInfo()
			if readErr != nil {
				return fmt.Errorf("lock acquisition race condition: %w", err)
			}
			return &LockError{Holder: holder, Reason: "lock acquired by another process during acquisition"}
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(info); err != nil {
		os.Remove(l.lockPath)
		return fmt.Errorf("failed to write lock info: %w", err)
	}

	l.info = info
	return nil
}

// Release removes the lock file if this instance still owns it
func (l *FileLock) Release() error {
	if l.info == nil {
		return nil
	}
	token := l.info.Token
	l.info = nil

	existing, err := l.readLockInfo()
	if err != nil {
		return nil
	}
	if existing.Token != token {
		return fmt.Errorf("lock was taken over by PID %d on %s", existing.PID, existing.Hostname)
	}

	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Held reports whether this instance currently owns the lock
func (l *FileLock) Held() bool {
	if l.info == nil {
		return false
	}
	existing, err := l.readLockInfo()
	return err == nil && existing.Token == l.info.Token
}

// IsLocked checks if any live holder owns the lock
func (l *FileLock) IsLocked() bool {
	info, err := l.readLockInfo()
	if err != nil {
		return false
	}
	return !l.isStale(info)
}

// GetHolder returns information about the current lock holder
func (l *FileLock) GetHolder() (*LockInfo, error) {
	info, err := l.readLockInfo()
	if err != nil {
		return nil, err
	}
	if l.isStale(info) {
		return nil, fmt.Errorf("lock is stale")
	}
	return info, nil
}

// ForceRelease removes the lock file regardless of its holder.
// Only use when the holder is known to have crashed.
func (l *FileLock) ForceRelease() error {
	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to force remove lock: %w", err)
	}
	l.info = nil
	return nil
}

func (l *FileLock) readLockInfo() (*LockInfo, error) {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("invalid lock file format: %w", err)
	}
	return &info, nil
}

func (l *FileLock) writeLockInfo(info *LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	tmp := l.lockPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, l.lockPath)
}

// isStale reports whether the holder is gone. On the same host only a dead
// process counts; a foreign host lock expires after staleTimeout.
func (l *FileLock) isStale(info *LockInfo) bool {
	hostname, _ := os.Hostname()
	if info.Hostname == hostname {
		return !pidAlive(info.PID)
	}
	return l.clock.Since(info.StartTime) > l.staleTimeout
}

// LockError is returned when another holder owns the lock
type LockError struct {
	Holder *LockInfo
	Reason string
}

func (e *LockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("cannot acquire lock: %s (held by PID %d on %s since %s, command: %s)",
			e.Reason,
			e.Holder.PID,
			e.Holder.Hostname,
			e.Holder.StartTime.Format(time.RFC3339),
			e.Holder.Command,
		)
	}
	return fmt.Sprintf("cannot acquire lock: %s", e.Reason)
}

// IsLockError checks if an error is a LockError
func IsLockError(err error) bool {
	var lockErr *LockError
	return errors.As(err, &lockErr)
}
