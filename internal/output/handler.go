package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/parnexcodes/droppush/internal/uploader"
)

// Handler renders orchestrator events in one output format
type Handler interface {
	uploader.Observer
	HandleSummary(summary uploader.RunSummary) error
	Close() error
}

// NewHandler creates a new output handler for the specified format. Results
// go to out; the text progress bar goes to progress.
func NewHandler(format string, out io.Writer, progress io.Writer, showProgress bool) (Handler, error) {
	switch strings.ToLower(format) {
	case "json":
		return NewJSONHandler(out, showProgress), nil
	case "text":
		return NewTextHandler(out, progress, showProgress), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// formatBytes formats bytes into human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatSpeed renders a bytes-per-second rate
func formatSpeed(bps float64) string {
	if bps <= 0 {
		return "0 B/s"
	}
	return formatBytes(int64(bps)) + "/s"
}
