package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Reporter receives progress of file transfers during a command
type Reporter interface {
	// Start begins tracking a transfer; totalBytes is 0 when unknown
	Start(path string, totalBytes int64)
	// Update reports the bytes moved so far for the current transfer
	Update(bytesTransferred int64)
	// Complete marks the current transfer as complete
	Complete()
	// Error reports a failure of the current transfer
	Error(err error)
	// SetTotal sets the number of files and bytes the command will move
	SetTotal(totalFiles int, totalBytes int64)
	// OverallProgress reports progress across the whole command
	OverallProgress(filesCompleted int, bytesCompleted int64)
}

// Callback is a function that receives progress updates
type Callback func(update Update)

// Update represents a progress update
type Update struct {
	Type           UpdateType
	CurrentFile    string
	CurrentBytes   int64
	CurrentTotal   int64
	FilesCompleted int
	FilesTotal     int
	BytesCompleted int64
	BytesTotal     int64
	BytesPerSecond float64
	Error          error
}

// UpdateType indicates the type of progress update
type UpdateType int

const (
	UpdateStart UpdateType = iota
	UpdateProgress
	UpdateComplete
	UpdateError
	UpdateOverall
)

// CallbackReporter implements Reporter with a callback function
type CallbackReporter struct {
	callback Callback
	clock    clockwork.Clock

	mu             sync.Mutex
	currentFile    string
	currentTotal   int64
	currentBytes   int64
	filesTotal     int
	bytesTotal     int64
	filesCompleted int
	bytesCompleted int64
	started        int64 // unix nanos of the current Start
}

// NewCallbackReporter creates a new CallbackReporter
func NewCallbackReporter(callback Callback) *CallbackReporter {
	return NewCallbackReporterWithClock(callback, clockwork.NewRealClock())
}

// NewCallbackReporterWithClock creates a CallbackReporter measuring speed with clock
func NewCallbackReporterWithClock(callback Callback, clock clockwork.Clock) *CallbackReporter {
	return &CallbackReporter{callback: callback, clock: clock}
}

// snapshot builds an update from the current counters; caller holds mu
func (r *CallbackReporter) snapshot(t UpdateType) Update {
	return Update{
		Type:           t,
		CurrentFile:    r.currentFile,
		CurrentBytes:   r.currentBytes,
		CurrentTotal:   r.currentTotal,
		FilesCompleted: r.filesCompleted,
		FilesTotal:     r.filesTotal,
		BytesCompleted: r.bytesCompleted,
		BytesTotal:     r.bytesTotal,
	}
}

// emit calls the callback outside the lock so it may call back into r
func (r *CallbackReporter) emit(u Update) {
	if r.callback != nil {
		r.callback(u)
	}
}

// SetTotal sets the total number of files and bytes to transfer
func (r *CallbackReporter) SetTotal(totalFiles int, totalBytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filesTotal = totalFiles
	r.bytesTotal = totalBytes
}

// Start begins tracking a new file transfer
func (r *CallbackReporter) Start(path string, totalBytes int64) {
	r.mu.Lock()
	r.currentFile = path
	r.currentTotal = totalBytes
	r.currentBytes = 0
	r.started = r.clock.Now().UnixNano()
	u := r.snapshot(UpdateStart)
	r.mu.Unlock()

	r.emit(u)
}

// Update reports progress on current transfer
func (r *CallbackReporter) Update(bytesTransferred int64) {
	r.mu.Lock()
	r.currentBytes = bytesTransferred
	u := r.snapshot(UpdateProgress)
	u.BytesCompleted += bytesTransferred
	u.BytesPerSecond = r.speed(bytesTransferred)
	r.mu.Unlock()

	r.emit(u)
}

// speed returns n bytes over the time since Start; caller holds mu
func (r *CallbackReporter) speed(n int64) float64 {
	elapsed := float64(r.clock.Now().UnixNano()-r.started) / 1e9
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed
}

// Complete marks the current transfer as complete. When the size was not
// known at Start the bytes seen by Update count instead.
func (r *CallbackReporter) Complete() {
	r.mu.Lock()
	if r.currentTotal == 0 {
		r.currentTotal = r.currentBytes
	}
	r.currentBytes = r.currentTotal
	r.filesCompleted++
	r.bytesCompleted += r.currentTotal
	u := r.snapshot(UpdateComplete)
	u.BytesPerSecond = r.speed(r.currentTotal)
	r.mu.Unlock()

	r.emit(u)
}

// Error reports an error on current transfer
func (r *CallbackReporter) Error(err error) {
	r.mu.Lock()
	u := r.snapshot(UpdateError)
	u.CurrentBytes = 0
	u.CurrentTotal = 0
	u.Error = err
	r.mu.Unlock()

	r.emit(u)
}

// OverallProgress reports overall progress
func (r *CallbackReporter) OverallProgress(filesCompleted int, bytesCompleted int64) {
	r.mu.Lock()
	u := Update{
		Type:           UpdateOverall,
		FilesCompleted: filesCompleted,
		FilesTotal:     r.filesTotal,
		BytesCompleted: bytesCompleted,
		BytesTotal:     r.bytesTotal,
	}
	r.mu.Unlock()

	r.emit(u)
}

// NewTextReporter prints one line per finished or failed transfer to w
func NewTextReporter(w io.Writer) *CallbackReporter {
	return NewTextReporterWithClock(w, clockwork.NewRealClock())
}

// NewTextReporterWithClock is NewTextReporter measuring speed with clock
func NewTextReporterWithClock(w io.Writer, clock clockwork.Clock) *CallbackReporter {
	var mu sync.Mutex
	return NewCallbackReporterWithClock(func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		switch u.Type {
		case UpdateComplete:
			fmt.Fprintf(w, "  %-50s %10s", u.CurrentFile, FormatBytes(u.CurrentTotal))
			if u.FilesTotal > 0 {
				fmt.Fprintf(w, "  (%d/%d)", u.FilesCompleted, u.FilesTotal)
			}
			if u.BytesPerSecond > 0 {
				fmt.Fprintf(w, "  %s", FormatSpeed(u.BytesPerSecond))
			}
			fmt.Fprintln(w)
		case UpdateError:
			fmt.Fprintf(w, "  %-50s failed: %v\n", u.CurrentFile, u.Error)
		}
	}, clock)
}

// ProgressReader wraps an io.Reader to track read progress
type ProgressReader struct {
	reader      io.Reader
	reporter    Reporter
	transferred int64
}

// NewProgressReader creates a new progress-tracking reader
func NewProgressReader(r io.Reader, reporter Reporter) *ProgressReader {
	return &ProgressReader{
		reader:   r,
		reporter: reporter,
	}
}

// Read implements io.Reader
func (pr *ProgressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.transferred += int64(n)
		if pr.reporter != nil {
			pr.reporter.Update(pr.transferred)
		}
	}
	return n, err
}

// NullReporter is a no-op reporter
type NullReporter struct{}

func (NullReporter) Start(path string, totalBytes int64)                      {}
func (NullReporter) Update(bytesTransferred int64)                            {}
func (NullReporter) Complete()                                                {}
func (NullReporter) Error(err error)                                          {}
func (NullReporter) SetTotal(totalFiles int, totalBytes int64)                {}
func (NullReporter) OverallProgress(filesCompleted int, bytesCompleted int64) {}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatSpeed formats bytes per second into human-readable string
func FormatSpeed(bytesPerSecond float64) string {
	return FormatBytes(int64(bytesPerSecond)) + "/s"
}
