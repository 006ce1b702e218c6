package lock

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Ning0612/siteupdater/internal/testutil"
)

func newLock(t *testing.T, dir string) *FileLock {
	t.Helper()
	lock, err := NewFileLock(dir)
	if err != nil {
		t.Fatalf("NewFileLock failed: %v", err)
	}
	return lock
}

func TestNewFileLock(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock := newLock(t, filepath.Join(dir, "state"))

	expectedPath := filepath.Join(dir, "state", LockFileName)
	if lock.Path() != expectedPath {
		t.Errorf("expected lock path %s, got %s", expectedPath, lock.Path())
	}
	if lock.staleTimeout != DefaultStaleTimeout {
		t.Errorf("expected timeout %v, got %v", DefaultStaleTimeout, lock.staleTimeout)
	}
	if _, err := os.Stat(filepath.Join(dir, "state")); err != nil {
		t.Errorf("lock directory was not created: %v", err)
	}
}

func TestAcquireRelease(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock := newLock(t, dir)

	if err := lock.Acquire("upload"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); os.IsNotExist(err) {
		t.Error("lock file does not exist after acquire")
	}
	if !lock.IsLocked() || !lock.Held() {
		t.Error("lock should be held")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Error("lock file still exists after release")
	}
	if lock.IsLocked() || lock.Held() {
		t.Error("lock should not be held after release")
	}

	// Releasing twice is a no-op
	if err := lock.Release(); err != nil {
		t.Errorf("second Release failed: %v", err)
	}
}

func TestAcquireTwice_SameInstance(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock := newLock(t, dir)

	if err := lock.Acquire("upload"); err != nil {
		t.Fatalf("First Acquire failed: %v", err)
	}
	token := lock.info.Token

	if err := lock.Acquire("update"); err != nil {
		t.Fatalf("Second Acquire by same instance should succeed: %v", err)
	}

	holder, err := lock.GetHolder()
	if err != nil {
		t.Fatalf("GetHolder failed: %v", err)
	}
	if holder.Command != "update" {
		t.Errorf("expected command 'update', got '%s'", holder.Command)
	}
	if holder.Token != token {
		t.Error("re-acquire must keep the session token")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release after re-acquire failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Error("lock file still exists after release")
	}
}

func TestLockError_SecondInstance(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock1 := newLock(t, dir)
	lock2 := newLock(t, dir)

	if err := lock1.Acquire("upload-complete-site"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock1.Release()

	err := lock2.Acquire("upload")
	if err == nil {
		t.Fatal("expected error when lock is held")
	}
	if !IsLockError(err) {
		t.Fatalf("expected LockError, got: %T", err)
	}
	lockErr := err.(*LockError)
	if lockErr.Holder == nil || lockErr.Holder.Command != "upload-complete-site" {
		t.Errorf("expected holder command in error, got %+v", lockErr.Holder)
	}
	if lock2.Held() {
		t.Error("failed acquire must not report the lock as held")
	}
}

func TestConcurrentAcquire(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	const goroutines = 10
	var wg sync.WaitGroup
	var start sync.WaitGroup
	start.Add(1)
	acquired := make([]bool, goroutines)
	errs := make([]error, goroutines)
	locks := make([]*FileLock, goroutines)

	for i := 0; i < goroutines; i++ {
		locks[i] = newLock(t, dir)
	}

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			start.Wait()
			if err := locks[idx].Acquire("concurrent"); err != nil {
				errs[idx] = err
				return
			}
			acquired[idx] = true
		}(i)
	}
	start.Done()
	wg.Wait()

	acquireCount := 0
	lockErrorCount := 0
	for i := 0; i < goroutines; i++ {
		if acquired[i] {
			acquireCount++
			locks[i].Release()
		}
		if errs[i] != nil && IsLockError(errs[i]) {
			lockErrorCount++
		}
	}

	if acquireCount != 1 {
		t.Errorf("expected exactly 1 acquire, got %d", acquireCount)
	}
	if lockErrorCount != goroutines-1 {
		t.Errorf("expected %d lock errors, got %d", goroutines-1, lockErrorCount)
	}
}

func TestGetHolder(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	lock := newLock(t, dir)
	lock.SetClock(clock)

	if _, err := lock.GetHolder(); err == nil {
		t.Error("expected error when no lock is held")
	}

	if err := lock.Acquire("status"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	holder, err := lock.GetHolder()
	if err != nil {
		t.Fatalf("GetHolder failed: %v", err)
	}
	if holder.PID != os.Getpid() {
		t.Errorf("expected PID %d, got %d", os.Getpid(), holder.PID)
	}
	hostname, _ := os.Hostname()
	if holder.Hostname != hostname {
		t.Errorf("expected hostname %s, got %s", hostname, holder.Hostname)
	}
	if holder.Command != "status" {
		t.Errorf("expected command status, got %s", holder.Command)
	}
	if !holder.StartTime.Equal(clock.Now()) {
		t.Errorf("expected start time %v, got %v", clock.Now(), holder.StartTime)
	}
	if holder.Token == "" {
		t.Error("expected a session token")
	}
}

func TestForceRelease(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock := newLock(t, dir)
	if err := lock.Acquire("update"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := lock.ForceRelease(); err != nil {
		t.Fatalf("ForceRelease failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Error("lock file should be removed after force release")
	}
	if lock.IsLocked() {
		t.Error("lock should not be held after force release")
	}
}

func TestRelease_TakenOver(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock1 := newLock(t, dir)
	if err := lock1.Acquire("upload"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	lock2 := newLock(t, dir)
	if err := lock2.ForceRelease(); err != nil {
		t.Fatalf("ForceRelease failed: %v", err)
	}
	if err := lock2.Acquire("update"); err != nil {
		t.Fatalf("Acquire after force release failed: %v", err)
	}
	defer lock2.Release()

	if err := lock1.Release(); err == nil {
		t.Error("releasing a lock taken over by another instance should fail")
	}
	if !lock2.Held() {
		t.Error("the new holder must keep its lock file")
	}
}

func TestStaleDetection_ProcessDead(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock := newLock(t, dir)

	hostname, _ := os.Hostname()
	staleInfo := &LockInfo{
		Token:     "dead",
		PID:       999999,
		Hostname:  hostname,
		StartTime: time.Now().Add(-1 * time.Hour),
		Command:   "upload",
	}
	if err := lock.writeLockInfo(staleInfo); err != nil {
		t.Fatalf("failed to write stale lock info: %v", err)
	}
	if !lock.isStale(staleInfo) {
		t.Error("lock with dead process should be stale")
	}

	if err := lock.Acquire("update"); err != nil {
		t.Fatalf("should acquire stale lock: %v", err)
	}
	defer lock.Release()

	holder, err := lock.GetHolder()
	if err != nil {
		t.Fatalf("GetHolder failed: %v", err)
	}
	if holder.PID != os.Getpid() {
		t.Error("expected current process to be holder")
	}
}

func TestStaleDetection_AliveNeverStale(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	clock := clockwork.NewFakeClock()
	lock := newLock(t, dir)
	lock.SetClock(clock)
	lock.SetStaleTimeout(time.Minute)

	if err := lock.Acquire("upload-complete-site"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	clock.Advance(time.Hour)

	if !lock.IsLocked() {
		t.Error("a lock of a living process should not be considered stale")
	}
	lock2 := newLock(t, dir)
	lock2.SetClock(clock)
	if err := lock2.Acquire("upload"); !IsLockError(err) {
		t.Errorf("expected LockError, got: %v", err)
	}
}

func TestStaleDetection_DifferentHost(t *testing.T) {
	tests := []struct {
		name      string
		age       time.Duration
		wantStale bool
	}{
		{name: "recent", age: time.Minute, wantStale: false},
		{name: "expired", age: time.Hour, wantStale: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, cleanup := testutil.TempDir(t)
			defer cleanup()

			clock := clockwork.NewFakeClock()
			lock := newLock(t, dir)
			lock.SetClock(clock)
			lock.SetStaleTimeout(30 * time.Minute)

			foreign := &LockInfo{
				Token:     "foreign",
				PID:       12345,
				Hostname:  "foreign-host-" + testutil.RandomString(8),
				StartTime: clock.Now().Add(-tt.age),
				Command:   "upload",
			}
			if err := lock.writeLockInfo(foreign); err != nil {
				t.Fatalf("failed to write foreign lock info: %v", err)
			}

			err := lock.Acquire("update")
			if tt.wantStale && err != nil {
				t.Fatalf("should acquire stale foreign lock: %v", err)
			}
			if !tt.wantStale && !IsLockError(err) {
				t.Fatalf("expected LockError, got %v", err)
			}
			lock.Release()
		})
	}
}

func TestAcquire_UnreadableLockFile(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock := newLock(t, dir)
	if err := os.WriteFile(lock.Path(), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := lock.Acquire("status"); err != nil {
		t.Fatalf("should replace unreadable lock file: %v", err)
	}
	defer lock.Release()

	if !lock.Held() {
		t.Error("expected lock to be held")
	}
}

func TestSetStaleTimeout(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock := newLock(t, dir)

	customTimeout := 5 * time.Minute
	lock.SetStaleTimeout(customTimeout)

	if lock.staleTimeout != customTimeout {
		t.Errorf("expected timeout %v, got %v", customTimeout, lock.staleTimeout)
	}
}

func TestPidAlive(t *testing.T) {
	if !pidAlive(os.Getpid()) {
		t.Error("the current process should be alive")
	}
	if pidAlive(0) || pidAlive(-1) {
		t.Error("non-positive PIDs are never alive")
	}
}
