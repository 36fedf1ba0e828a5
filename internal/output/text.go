package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/parnexcodes/droppush/internal/uploader"
)

// TextHandler implements Handler for human-readable text output
type TextHandler struct {
	output       io.Writer
	progress     io.Writer
	showProgress bool

	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	total int64
}

// NewTextHandler creates a new text handler
func NewTextHandler(w io.Writer, progress io.Writer, showProgress bool) *TextHandler {
	return &TextHandler{
		output:       w,
		progress:     progress,
		showProgress: showProgress && progress != nil,
	}
}

var toneLabels = map[uploader.Tone]string{
	uploader.ToneInfo:  "..",
	uploader.ToneOK:    "OK",
	uploader.ToneWarn:  "WARN",
	uploader.ToneError: "ERROR",
}

// HandleStatus prints the status line
func (t *TextHandler) HandleStatus(status uploader.StatusLine) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearBar()

	label, ok := toneLabels[status.Tone]
	if !ok {
		label = strings.ToUpper(string(status.Tone))
	}
	_, err := fmt.Fprintf(t.output, "[%s] %s\n", label, status.Message)
	return err
}

// HandleProgress advances a single bar over the bytes of the whole queue
func (t *TextHandler) HandleProgress(progress uploader.ProgressInfo) error {
	if !t.showProgress {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bar == nil || t.total != progress.QueueTotal {
		t.finishBar()
		t.total = progress.QueueTotal
		t.bar = progressbar.NewOptions64(progress.QueueTotal,
			progressbar.OptionSetWriter(t.progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	t.bar.Describe(describeProgress(progress))
	return t.bar.Set64(progress.QueueUploaded)
}

// describeProgress labels the bar with the current item and the sampled rate
func describeProgress(progress uploader.ProgressInfo) string {
	return fmt.Sprintf("%s %d%% %s", progress.Relpath, progress.Percentage, formatSpeed(progress.Speed))
}

// HandleResult prints one line per finished item
func (t *TextHandler) HandleResult(result uploader.UploadResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearBar()

	if result.Status != uploader.StatusDone {
		message := result.ErrorMessage
		if message == "" && result.Error != nil {
			message = result.Error.Error()
		}
		_, err := fmt.Fprintf(t.output, "FAILED %s: %s\n", result.Relpath, message)
		return err
	}

	destination := result.Relpath
	if result.FinalRelpath != "" && result.FinalRelpath != result.Relpath {
		destination = fmt.Sprintf("%s -> %s", result.Relpath, result.FinalRelpath)
	}
	_, err := fmt.Fprintf(t.output, "DONE %s (%s) [%s]\n",
		destination,
		formatBytes(result.Size),
		result.Duration.Round(time.Millisecond),
	)
	return err
}

// HandleSummary prints the run totals
func (t *TextHandler) HandleSummary(summary uploader.RunSummary) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finishBar()

	_, err := fmt.Fprintf(t.output, "Uploaded %d of %d file(s), %s sent",
		summary.Completed, summary.Attempted, formatBytes(summary.UploadedBytes))
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		fmt.Fprintf(t.output, ", %d failed", summary.Failed)
	}
	if summary.Closed {
		fmt.Fprint(t.output, ", portal closed")
	}
	_, err = fmt.Fprintln(t.output)
	return err
}

// Close closes the text handler
func (t *TextHandler) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finishBar()
	return nil
}

// clearBar erases the bar so a line can be printed; callers hold mu
func (t *TextHandler) clearBar() {
	if t.bar != nil {
		_ = t.bar.Clear()
	}
}

func (t *TextHandler) finishBar() {
	if t.bar != nil {
		_ = t.bar.Finish()
		fmt.Fprintln(t.progress)
		t.bar = nil
	}
}
