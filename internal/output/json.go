package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/parnexcodes/droppush/internal/uploader"
)

// JSONHandler implements Handler as a stream of newline-delimited events
type JSONHandler struct {
	mu       sync.Mutex
	encoder  *json.Encoder
	progress bool
}

type event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type summaryEvent struct {
	uploader.RunSummary
	CloseError string `json:"close_error,omitempty"`
}

// NewJSONHandler creates a new JSON handler
func NewJSONHandler(w io.Writer, showProgress bool) *JSONHandler {
	return &JSONHandler{
		encoder:  json.NewEncoder(w),
		progress: showProgress,
	}
}

func (j *JSONHandler) emit(kind string, data interface{}) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.encoder.Encode(event{Type: kind, Data: data})
}

func (j *JSONHandler) HandleStatus(status uploader.StatusLine) error {
	return j.emit("status", status)
}

// HandleProgress emits progress events only when progress output is enabled
func (j *JSONHandler) HandleProgress(progress uploader.ProgressInfo) error {
	if !j.progress {
		return nil
	}
	return j.emit("progress", progress)
}

func (j *JSONHandler) HandleResult(result uploader.UploadResult) error {
	return j.emit("result", result)
}

func (j *JSONHandler) HandleSummary(summary uploader.RunSummary) error {
	data := summaryEvent{RunSummary: summary}
	if summary.CloseErr != nil {
		data.CloseError = summary.CloseErr.Error()
	}
	return j.emit("summary", data)
}

// Close closes the JSON handler
func (j *JSONHandler) Close() error {
	return nil
}
