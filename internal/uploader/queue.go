package uploader

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/parnexcodes/droppush/internal/logging"
)

// Status is the lifecycle state of a queue item
type Status string

const (
	StatusQueued       Status = "queued"
	StatusInitializing Status = "initializing"
	StatusUploading    Status = "uploading"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
)

var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status][]Status{
	StatusQueued:       {StatusInitializing},
	StatusInitializing: {StatusUploading, StatusFailed},
	StatusUploading:    {StatusDone, StatusFailed},
}

// CanTransition reports whether s may move to next
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Active reports whether an item in s holds the single transfer slot
func (s Status) Active() bool {
	return s == StatusInitializing || s == StatusUploading
}

// Label is the short human form used in listings
func (s Status) Label() string {
	switch s {
	case StatusQueued:
		return "Queued"
	case StatusInitializing:
		return "Starting"
	case StatusUploading:
		return "Uploading"
	case StatusDone:
		return "Done"
	case StatusFailed:
		return "Failed"
	default:
		return string(s)
	}
}

// QueueItem is a snapshot of one queued file
type QueueItem struct {
	ID           string `json:"id"`
	Source       Source `json:"-"`
	Relpath      string `json:"relpath"`
	Size         int64  `json:"size"`
	Status       Status `json:"status"`
	Progress     int    `json:"progress"`
	UploadID     string `json:"upload_id,omitempty"`
	FinalRelpath string `json:"final_relpath,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Queue holds items in enqueue order together with the byte counters.
// Items are never removed.
type Queue struct {
	mu        sync.Mutex
	items     []*QueueItem
	index     map[string]*QueueItem
	total     int64
	uploaded  int64
	completed int64
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{index: make(map[string]*QueueItem)}
}

// Add appends candidates as queued items and returns their snapshots.
// Candidates without a source are ignored.
func (q *Queue) Add(candidates []Candidate) []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	added := make([]QueueItem, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Source == nil {
			continue
		}
		relpath := NormalizeRelpath(candidate.Relpath)
		if relpath == "" {
			relpath = NormalizeRelpath(candidate.Source.RelativePathHint())
		}
		if relpath == "" {
			relpath = candidate.Source.Name()
		}
		item := &QueueItem{
			ID:      uuid.NewString(),
			Source:  candidate.Source,
			Relpath: relpath,
			Size:    candidate.Source.Size(),
			Status:  StatusQueued,
		}
		q.items = append(q.items, item)
		q.index[item.ID] = item
		q.total += item.Size
		added = append(added, *item)
	}
	return added
}

// Items returns snapshots of every item in enqueue order
func (q *Queue) Items() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshot(func(*QueueItem) bool { return true })
}

// Pending returns snapshots of the items still queued
func (q *Queue) Pending() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshot(func(item *QueueItem) bool { return item.Status == StatusQueued })
}

func (q *Queue) snapshot(keep func(*QueueItem) bool) []QueueItem {
	out := make([]QueueItem, 0, len(q.items))
	for _, item := range q.items {
		if keep(item) {
			out = append(out, *item)
		}
	}
	return out
}

// Get returns a snapshot of one item
func (q *Queue) Get(id string) (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.index[id]
	if !ok {
		return QueueItem{}, false
	}
	return *item, true
}

// Transition moves an item to next, rejecting anything outside the state machine
func (q *Queue) Transition(id string, next Status) error {
	q.mu.Lock()
	item, ok := q.index[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("queue item %s not found", id)
	}
	prev := item.Status
	if !prev.CanTransition(next) {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
	}
	item.Status = next
	if next == StatusInitializing || next == StatusUploading {
		item.Progress = 0
	}
	q.mu.Unlock()

	logging.QueueTransition(id, string(prev), string(next))
	return nil
}

// Fail moves an active item to failed and records why
func (q *Queue) Fail(id string, cause error) error {
	if err := q.Transition(id, StatusFailed); err != nil {
		return err
	}
	q.mu.Lock()
	if cause != nil {
		q.index[id].Error = cause.Error()
	}
	q.mu.Unlock()
	return nil
}

// SetUploadID records the upload ID issued for the item's current attempt
func (q *Queue) SetUploadID(id, uploadID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item, ok := q.index[id]; ok {
		item.UploadID = uploadID
	}
}

// BeginRun recomputes the completed-bytes base from items already done and
// resets the uploaded counter to it.
func (q *Queue) BeginRun() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	var completed int64
	for _, item := range q.items {
		if item.Status == StatusDone {
			completed += item.Size
		}
	}
	q.completed = completed
	q.uploaded = completed
	return completed
}

// SetProgress records bytesSent for an uploading item. Events for items
// that are no longer uploading are ignored.
func (q *Queue) SetProgress(id string, bytesSent int64) (ProgressInfo, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.index[id]
	if !ok || item.Status != StatusUploading {
		return ProgressInfo{}, false
	}
	item.Progress = percent(bytesSent, item.Size)
	q.uploaded = q.completed + bytesSent
	return q.progressLocked(item, bytesSent), true
}

// Complete marks an uploading item done and folds its size into the
// completed-bytes base.
func (q *Queue) Complete(id string, finalRelpath string) (ProgressInfo, error) {
	if err := q.Transition(id, StatusDone); err != nil {
		return ProgressInfo{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.index[id]
	item.Progress = 100
	item.FinalRelpath = finalRelpath
	q.completed += item.Size
	q.uploaded = q.completed
	return q.progressLocked(item, item.Size), nil
}

func (q *Queue) progressLocked(item *QueueItem, bytesSent int64) ProgressInfo {
	return ProgressInfo{
		ItemID:        item.ID,
		Relpath:       item.Relpath,
		BytesUploaded: bytesSent,
		TotalBytes:    item.Size,
		Percentage:    item.Progress,
		QueueUploaded: q.uploaded,
		QueueTotal:    q.total,
	}
}

// TotalBytes is the sum of sizes of every item ever added
func (q *Queue) TotalBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// UploadedBytes is the cumulative uploaded counter
func (q *Queue) UploadedBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.uploaded
}

// Len returns the number of items ever added
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// QueuedCount returns the number of items still queued
func (q *Queue) QueuedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, item := range q.items {
		if item.Status == StatusQueued {
			count++
		}
	}
	return count
}

// OverallProgress is uploaded/total as a 0-100 percentage
func (q *Queue) OverallProgress() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.total <= 0 {
		return 0
	}
	value := int(math.Round(float64(q.uploaded) / float64(q.total) * 100))
	if value > 100 {
		return 100
	}
	return value
}

func percent(sent, size int64) int {
	if size <= 0 {
		return 100
	}
	value := int(math.Round(float64(sent) / float64(size) * 100))
	if value > 100 {
		return 100
	}
	if value < 0 {
		return 0
	}
	return value
}
