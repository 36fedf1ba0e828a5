package uploader

import (
	"context"
	"io"
	"time"

	"github.com/parnexcodes/droppush/internal/portal"
)

// Tone colors the single status line
type Tone string

const (
	ToneInfo  Tone = "info"
	ToneOK    Tone = "ok"
	ToneError Tone = "error"
	ToneWarn  Tone = "warn"
)

// StatusLine is the most recent outcome, shown independently of per-item state
type StatusLine struct {
	Message string `json:"message"`
	Tone    Tone   `json:"tone"`
}

// UploadResult represents the terminal outcome of one queue item
type UploadResult struct {
	ItemID       string        `json:"item_id"`
	Relpath      string        `json:"relpath"`
	FinalRelpath string        `json:"final_relpath,omitempty"`
	UploadID     string        `json:"upload_id,omitempty"`
	Size         int64         `json:"size"`
	Status       Status        `json:"status"`
	ServerSHA256 string        `json:"server_sha256,omitempty"`
	Duration     time.Duration `json:"duration"`
	Error        error         `json:"-"`
	ErrorMessage string        `json:"error,omitempty"`
	UploadTime   time.Time     `json:"upload_time"`
}

// ProgressInfo represents upload progress information
type ProgressInfo struct {
	ItemID        string  `json:"item_id"`
	Relpath       string  `json:"relpath"`
	BytesUploaded int64   `json:"bytes_uploaded"`
	TotalBytes    int64   `json:"total_bytes"`
	Percentage    int     `json:"percentage"`
	QueueUploaded int64   `json:"queue_uploaded"`
	QueueTotal    int64   `json:"queue_total"`
	Speed         float64 `json:"speed"` // bytes per second
}

// Observer receives orchestrator events. Calls are made outside the
// orchestrator's locks, possibly from a transport goroutine.
type Observer interface {
	HandleStatus(status StatusLine) error
	HandleProgress(progress ProgressInfo) error
	HandleResult(result UploadResult) error
}

// Source is a local byte source with a known size
type Source interface {
	Name() string
	RelativePathHint() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// Candidate is a source proposed for the queue together with its
// destination-facing relative path
type Candidate struct {
	Source  Source
	Relpath string
}

// Entry is one node of a dropped tree
type Entry interface {
	Name() string
	FullPath() string
	IsFile() bool
	IsDir() bool
	File(ctx context.Context) (Source, error)
	Reader() (DirReader, error)
}

// DirReader lists a directory in batches. An empty batch means the listing
// is exhausted; a single call is not guaranteed to return every child.
type DirReader interface {
	ReadEntries(ctx context.Context) ([]Entry, error)
}

// Options configures a DefaultUploader
type Options struct {
	// Policy overrides the policy granted at claim time when set
	Policy portal.Policy
	// Checksum sends the SHA-256 of each source as client_sha256
	Checksum bool
	// FailFast aborts the rest of a run after the first failed item
	FailFast bool
	// SampleInterval is the throughput sampling period
	SampleInterval time.Duration
	Observer       Observer
}

// DefaultOptions returns the fail-fast defaults
func DefaultOptions() Options {
	return Options{
		FailFast:       true,
		SampleInterval: DefaultSampleInterval,
	}
}

// RunSummary describes one run. A close failure is reported in CloseErr and
// never as the run's error, since every transfer already succeeded.
type RunSummary struct {
	Attempted     int   `json:"attempted"`
	Completed     int   `json:"completed"`
	Failed        int   `json:"failed"`
	UploadedBytes int64 `json:"uploaded_bytes"`
	Closed        bool  `json:"closed"`
	CloseErr      error `json:"-"`
}
