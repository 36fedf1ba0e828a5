package uploader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parnexcodes/droppush/internal/logging"
	"github.com/parnexcodes/droppush/internal/portal"
)

var ErrRunInProgress = errors.New("upload run in progress")

// DefaultUploader owns the queue of one portal session and drives it
// through preflight and sequential transfers
type DefaultUploader struct {
	session  *portal.Session
	queue    *Queue
	checker  *PreflightChecker
	sampler  *ThroughputSampler
	observer Observer
	opts     Options

	mu      sync.Mutex
	running bool
	policy  portal.Policy
	status  StatusLine
}

// NewDefaultUploader creates an orchestrator for session
func NewDefaultUploader(session *portal.Session, opts Options) *DefaultUploader {
	policy := opts.Policy
	if policy == "" {
		policy = session.Policy()
	}
	return &DefaultUploader{
		session:  session,
		queue:    NewQueue(),
		checker:  NewPreflightChecker(session),
		sampler:  NewThroughputSampler(opts.SampleInterval),
		observer: opts.Observer,
		opts:     opts,
		policy:   policy,
	}
}

// Claim claims the portal, adopts its policy unless one was configured, and
// preflights anything queued so far
func (u *DefaultUploader) Claim(ctx context.Context) error {
	if u.session.PortalID() == "" {
		u.setStatus("Invalid portal URL.", ToneError)
		return portal.NewLocalError(portal.StageClaim, "invalid portal URL", nil)
	}

	u.setStatus("Claiming portal...", ToneInfo)
	if err := u.session.Claim(ctx); err != nil {
		u.setStatus(portal.UserMessage(err), ToneError)
		return err
	}

	u.mu.Lock()
	if u.opts.Policy == "" {
		u.policy = u.session.Policy()
	}
	u.mu.Unlock()

	u.setStatus("Portal ready. Add files to upload.", ToneOK)
	if err := u.preflight(ctx); err != nil {
		logging.ErrorContext("preflight_after_claim", err, nil)
	}
	return nil
}

// Add enqueues candidates and re-runs the advisory preflight when the
// session is claimed and idle. Preflight failures here are only logged.
func (u *DefaultUploader) Add(ctx context.Context, candidates []Candidate) []QueueItem {
	added := u.queue.Add(candidates)
	if len(added) == 0 {
		return added
	}
	if err := u.preflight(ctx); err != nil {
		logging.ErrorContext("preflight_after_add", err, map[string]interface{}{
			"added": len(added),
		})
	}
	return added
}

// Preflight refreshes the conflict set for the queued items. It does
// nothing while a run is in progress.
func (u *DefaultUploader) Preflight(ctx context.Context) error {
	return u.preflight(ctx)
}

func (u *DefaultUploader) preflight(ctx context.Context) error {
	if u.Running() {
		logging.PreflightSkipped("run in progress")
		u.checker.Clear()
		return nil
	}
	return u.checker.Check(ctx, u.queue.Pending())
}

// SetPolicy changes the policy for the next run
func (u *DefaultUploader) SetPolicy(policy portal.Policy) error {
	if _, err := portal.ParsePolicy(string(policy)); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		return ErrRunInProgress
	}
	u.policy = policy
	return nil
}

// Run uploads every queued item in enqueue order, one at a time. A second
// call while a run is active returns immediately with an empty summary.
func (u *DefaultUploader) Run(ctx context.Context) (RunSummary, error) {
	var summary RunSummary

	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return summary, nil
	}
	if !u.session.Claimed() {
		u.mu.Unlock()
		if u.session.Closed() {
			return summary, portal.ErrSessionClosed
		}
		return summary, portal.ErrNotClaimed
	}
	pending := u.queue.Pending()
	if len(pending) == 0 {
		u.mu.Unlock()
		return summary, nil
	}
	u.running = true
	policy := u.policy
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.running = false
		u.mu.Unlock()
	}()

	if err := u.checker.Check(ctx, pending); err != nil {
		u.setStatus(fmt.Sprintf("Preflight failed: %s", portal.UserMessage(err)), ToneError)
		return summary, err
	}

	u.queue.BeginRun()
	u.sampler.Start(u.queue.UploadedBytes)

	var firstErr error
	for _, item := range pending {
		summary.Attempted++
		result, err := u.transfer(ctx, item, policy)
		u.notifyResult(result)
		if err != nil {
			summary.Failed++
			u.setStatus(fmt.Sprintf("Upload failed: %s", portal.UserMessage(err)), ToneError)
			if firstErr == nil {
				firstErr = err
			}
			if u.opts.FailFast {
				break
			}
			continue
		}
		summary.Completed++
	}

	u.sampler.Stop()
	summary.UploadedBytes = u.queue.UploadedBytes()
	if firstErr != nil {
		return summary, firstErr
	}

	if u.session.Reusable() {
		u.setStatus("All uploads complete. Portal remains open.", ToneOK)
		return summary, nil
	}

	if err := u.session.Close(ctx); err != nil {
		summary.CloseErr = err
		u.setStatus(fmt.Sprintf("Uploads complete. Portal close failed: %s", portal.UserMessage(err)), ToneWarn)
		return summary, nil
	}
	summary.Closed = true
	u.setStatus("All uploads complete. Portal closed.", ToneOK)
	return summary, nil
}

// transfer drives one item through initialize and byte transfer. The
// returned result is terminal whether or not err is nil.
func (u *DefaultUploader) transfer(ctx context.Context, item QueueItem, policy portal.Policy) (UploadResult, error) {
	start := time.Now()
	result := UploadResult{
		ItemID:  item.ID,
		Relpath: item.Relpath,
		Size:    item.Size,
	}

	fail := func(stage portal.Stage, err error) (UploadResult, error) {
		logging.UploadError(item.Relpath, stage.String(), err)
		if failErr := u.queue.Fail(item.ID, err); failErr != nil {
			logging.ErrorContext("queue_transition", failErr, map[string]interface{}{
				"item_id": item.ID,
			})
		}
		result.Status = StatusFailed
		result.Error = err
		result.ErrorMessage = portal.UserMessage(err)
		result.Duration = time.Since(start)
		result.UploadTime = time.Now()
		return result, err
	}

	if err := u.queue.Transition(item.ID, StatusInitializing); err != nil {
		return fail(portal.StageInitialize, err)
	}

	var checksum *string
	if u.opts.Checksum {
		sum, err := checksumSource(item.Source)
		if err != nil {
			return fail(portal.StageInitialize, portal.NewLocalError(portal.StageInitialize, "failed to read source", err))
		}
		checksum = &sum
	}

	uploadID := uuid.NewString()
	u.queue.SetUploadID(item.ID, uploadID)
	result.UploadID = uploadID
	logging.UploadStart(item.Relpath, item.Size, uploadID)

	initResp, err := u.session.InitUpload(ctx, portal.TransferRequest{
		UploadID:       uploadID,
		Relpath:        item.Relpath,
		Size:           item.Size,
		ClientChecksum: checksum,
		Policy:         policy,
	})
	if err != nil {
		return fail(portal.StageInitialize, err)
	}

	if err := u.queue.Transition(item.ID, StatusUploading); err != nil {
		return fail(portal.StageTransfer, err)
	}
	if progress, ok := u.queue.SetProgress(item.ID, 0); ok {
		u.notifyProgress(progress)
	}

	reader, err := item.Source.Open()
	if err != nil {
		return fail(portal.StageTransfer, portal.NewLocalError(portal.StageTransfer, "failed to open source", err))
	}
	defer reader.Close()

	body := &progressReader{
		reader: io.LimitReader(reader, item.Size),
		size:   item.Size,
		onProgress: func(sent int64) {
			if progress, ok := u.queue.SetProgress(item.ID, sent); ok {
				logging.UploadProgress(item.Relpath, sent, item.Size)
				u.notifyProgress(progress)
			}
		},
	}

	commit, err := u.session.PutUpload(ctx, initResp.PutURL, body, item.Size)
	if err != nil {
		return fail(portal.StageTransfer, err)
	}

	finalRelpath := commit.FinalRelpath
	if finalRelpath == "" {
		finalRelpath = item.Relpath
	}
	progress, err := u.queue.Complete(item.ID, finalRelpath)
	if err != nil {
		return fail(portal.StageTransfer, err)
	}
	u.notifyProgress(progress)

	result.Status = StatusDone
	result.FinalRelpath = finalRelpath
	result.ServerSHA256 = commit.ServerSHA256
	result.Duration = time.Since(start)
	result.UploadTime = time.Now()
	logging.UploadComplete(item.Relpath, finalRelpath, result.Duration)
	return result, nil
}

func checksumSource(source Source) (string, error) {
	reader, err := source.Open()
	if err != nil {
		return "", err
	}
	defer reader.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, reader); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func (u *DefaultUploader) setStatus(message string, tone Tone) {
	status := StatusLine{Message: message, Tone: tone}
	u.mu.Lock()
	u.status = status
	u.mu.Unlock()

	if u.observer == nil {
		return
	}
	if err := u.observer.HandleStatus(status); err != nil {
		logging.ErrorContext("status_handler", err, nil)
	}
}

func (u *DefaultUploader) notifyProgress(progress ProgressInfo) {
	if u.observer == nil {
		return
	}
	progress.Speed = u.sampler.Rate()
	if err := u.observer.HandleProgress(progress); err != nil {
		logging.ErrorContext("progress_handler", err, nil)
	}
}

func (u *DefaultUploader) notifyResult(result UploadResult) {
	if u.observer == nil {
		return
	}
	if err := u.observer.HandleResult(result); err != nil {
		logging.ErrorContext("result_handler", err, nil)
	}
}

// Session returns the portal session
func (u *DefaultUploader) Session() *portal.Session { return u.session }

// Items returns snapshots of every queued item in enqueue order
func (u *DefaultUploader) Items() []QueueItem { return u.queue.Items() }

// TotalBytes is the size of every item ever enqueued
func (u *DefaultUploader) TotalBytes() int64 { return u.queue.TotalBytes() }

// UploadedBytes is the cumulative uploaded byte counter
func (u *DefaultUploader) UploadedBytes() int64 { return u.queue.UploadedBytes() }

// OverallProgress is uploaded over total bytes as a 0-100 percentage
func (u *DefaultUploader) OverallProgress() int { return u.queue.OverallProgress() }

// Speed is the current sampled throughput in bytes per second
func (u *DefaultUploader) Speed() float64 { return u.sampler.Rate() }

// Conflicts returns the latest preflight conflicts
func (u *DefaultUploader) Conflicts() []portal.Conflict { return u.checker.Conflicts() }

// ConflictSummary describes the conflicts under the current policy
func (u *DefaultUploader) ConflictSummary() string {
	return u.checker.Summary(u.Policy())
}

// Policy returns the conflict policy the next run will use
func (u *DefaultUploader) Policy() portal.Policy {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.policy
}

// Running reports whether a run is in progress
func (u *DefaultUploader) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

// Status returns the latest status line
func (u *DefaultUploader) Status() StatusLine {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

// progressReader wraps an io.Reader to track read progress
type progressReader struct {
	reader     io.Reader
	size       int64
	bytesRead  int64
	onProgress func(int64)
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.bytesRead += int64(n)
		pr.onProgress(pr.bytesRead)
	}
	return n, err
}

// Size lets the transport declare an exact Content-Length
func (pr *progressReader) Size() int64 {
	return pr.size
}
