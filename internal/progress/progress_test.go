package progress

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// recorder collects every update a reporter emits
type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) callback(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) ofType(t UpdateType) []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Update
	for _, u := range r.updates {
		if u.Type == t {
			out = append(out, u)
		}
	}
	return out
}

func (r *recorder) last() Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

// An upload of two files as the engine drives it
func TestCallbackReporter_UploadSession(t *testing.T) {
	rec := &recorder{}
	clock := clockwork.NewFakeClock()
	reporter := NewCallbackReporterWithClock(rec.callback, clock)

	reporter.SetTotal(2, 1500)

	for i, f := range []struct {
		path string
		data string
	}{
		{"jars/core.jar", strings.Repeat("c", 1000)},
		{"macros/a.ijm", strings.Repeat("m", 500)},
	} {
		reporter.Start(f.path, int64(len(f.data)))
		clock.Advance(time.Second)
		if _, err := io.Copy(io.Discard, NewProgressReader(strings.NewReader(f.data), reporter)); err != nil {
			t.Fatalf("copy failed: %v", err)
		}
		reporter.Complete()
		reporter.OverallProgress(i+1, int64(1000*(i+1)))
	}

	starts := rec.ofType(UpdateStart)
	if len(starts) != 2 || starts[0].CurrentFile != "jars/core.jar" || starts[1].CurrentTotal != 500 {
		t.Errorf("unexpected start updates %+v", starts)
	}
	if starts[0].FilesTotal != 2 || starts[0].BytesTotal != 1500 {
		t.Errorf("totals not carried on updates: %+v", starts[0])
	}

	progress := rec.ofType(UpdateProgress)
	if len(progress) == 0 {
		t.Fatal("reading through ProgressReader should report progress")
	}
	lastProgress := progress[len(progress)-1]
	if lastProgress.CurrentBytes != 500 || lastProgress.BytesCompleted != 1500 {
		t.Errorf("unexpected last progress %+v", lastProgress)
	}

	completes := rec.ofType(UpdateComplete)
	if len(completes) != 2 {
		t.Fatalf("expected 2 completions, got %d", len(completes))
	}
	if completes[1].FilesCompleted != 2 || completes[1].BytesCompleted != 1500 {
		t.Errorf("unexpected completion %+v", completes[1])
	}
	if completes[0].BytesPerSecond != 1000 {
		t.Errorf("expected 1000 B/s on a one second transfer, got %v", completes[0].BytesPerSecond)
	}

	overall := rec.last()
	if overall.Type != UpdateOverall || overall.FilesCompleted != 2 || overall.FilesTotal != 2 {
		t.Errorf("unexpected overall update %+v", overall)
	}
}

// Manifest downloads start with an unknown size
func TestCallbackReporter_CompleteUnknownSize(t *testing.T) {
	rec := &recorder{}
	reporter := NewCallbackReporter(rec.callback)

	reporter.Start("db.json.gz", 0)
	reporter.Update(321)
	reporter.Complete()

	u := rec.last()
	if u.CurrentTotal != 321 || u.BytesCompleted != 321 {
		t.Errorf("bytes seen by Update should count, got %+v", u)
	}
}

func TestCallbackReporter_Error(t *testing.T) {
	rec := &recorder{}
	reporter := NewCallbackReporter(rec.callback)
	pushErr := errors.New("quota exceeded")

	reporter.Start("files/jars/core.jar-2", 200)
	reporter.Update(50)
	reporter.Error(pushErr)

	u := rec.last()
	if u.Type != UpdateError || !errors.Is(u.Error, pushErr) {
		t.Fatalf("unexpected update %+v", u)
	}
	if u.CurrentBytes != 0 || u.CurrentTotal != 0 || u.FilesCompleted != 0 {
		t.Errorf("failed transfer must not count, got %+v", u)
	}
}

// The callback may call back into the reporter without deadlocking
func TestCallbackReporter_ReentrantCallback(t *testing.T) {
	var reporter *CallbackReporter
	done := make(chan struct{})
	reporter = NewCallbackReporter(func(u Update) {
		if u.Type == UpdateComplete {
			reporter.OverallProgress(u.FilesCompleted, u.BytesCompleted)
		}
	})

	go func() {
		reporter.Start("a.txt", 1)
		reporter.Complete()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback re-entering the reporter deadlocked")
	}
}

func TestCallbackReporter_Concurrent(t *testing.T) {
	rec := &recorder{}
	reporter := NewCallbackReporter(rec.callback)
	reporter.SetTotal(20, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reporter.Start("f", 10)
			reporter.Update(5)
			reporter.Complete()
		}()
	}
	wg.Wait()

	completes := rec.ofType(UpdateComplete)
	if len(completes) != 20 {
		t.Fatalf("expected 20 completions, got %d", len(completes))
	}
	// callbacks run outside the lock, so only the highest count is fixed
	highest := 0
	for _, u := range completes {
		highest = max(highest, u.FilesCompleted)
	}
	if highest != 20 {
		t.Errorf("expected 20 files completed, got %d", highest)
	}
}

func TestTextReporter(t *testing.T) {
	buf := &bytes.Buffer{}
	clock := clockwork.NewFakeClock()
	reporter := NewTextReporterWithClock(buf, clock)

	reporter.SetTotal(2, 3072)
	reporter.Start("jars/core.jar", 2048)
	clock.Advance(2 * time.Second)
	reporter.Update(1024)
	reporter.Complete()
	reporter.Start("macros/a.ijm", 1024)
	reporter.Error(errors.New("connection reset"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected one line per finished or failed file, got %q", buf.String())
	}
	for _, want := range []string{"jars/core.jar", "2.0 KB", "(1/2)", "1.0 KB/s"} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("completion line %q missing %q", lines[0], want)
		}
	}
	if !strings.Contains(lines[1], "macros/a.ijm") || !strings.Contains(lines[1], "failed: connection reset") {
		t.Errorf("unexpected error line %q", lines[1])
	}
}

func TestProgressReader_NilReporter(t *testing.T) {
	data, err := io.ReadAll(NewProgressReader(strings.NewReader("manifest"), nil))
	if err != nil || string(data) != "manifest" {
		t.Errorf("ReadAll = %q, %v", data, err)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.bytes); got != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.bytes, got, tt.expected)
		}
	}
	if got := FormatSpeed(2048); got != "2.0 KB/s" {
		t.Errorf("FormatSpeed(2048) = %q", got)
	}
}

func TestNullReporter(t *testing.T) {
	var r Reporter = NullReporter{}
	r.SetTotal(1, 1)
	r.Start("a", 1)
	r.Update(1)
	r.Complete()
	r.Error(errors.New("x"))
	r.OverallProgress(1, 1)
}
