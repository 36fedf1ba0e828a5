package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parnexcodes/droppush/internal/uploader"
)

func TestNewHandler(t *testing.T) {
	var out bytes.Buffer

	h, err := NewHandler("JSON", &out, nil, false)
	require.NoError(t, err)
	assert.IsType(t, &JSONHandler{}, h)

	h, err = NewHandler("text", &out, &out, true)
	require.NoError(t, err)
	assert.IsType(t, &TextHandler{}, h)

	_, err = NewHandler("xml", &out, nil, false)
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KiB", formatBytes(1024))
	assert.Equal(t, "1.5 MiB", formatBytes(1536*1024))
	assert.Equal(t, "0 B/s", formatSpeed(0))
	assert.Equal(t, "2.0 KiB/s", formatSpeed(2048))
}

func TestTextHandler_Lines(t *testing.T) {
	var out, bar bytes.Buffer
	h := NewTextHandler(&out, &bar, true)

	require.NoError(t, h.HandleStatus(uploader.StatusLine{Message: "Portal ready. Add files to upload.", Tone: uploader.ToneOK}))
	require.NoError(t, h.HandleProgress(uploader.ProgressInfo{Relpath: "a.txt", BytesUploaded: 5, TotalBytes: 10, Percentage: 50, QueueUploaded: 5, QueueTotal: 20, Speed: 1536}))
	require.NoError(t, h.HandleResult(uploader.UploadResult{Relpath: "a.txt", FinalRelpath: "a_1.txt", Size: 2048, Status: uploader.StatusDone, Duration: 1500 * time.Millisecond}))
	require.NoError(t, h.HandleResult(uploader.UploadResult{Relpath: "b.txt", Status: uploader.StatusFailed, ErrorMessage: "network error"}))
	require.NoError(t, h.HandleSummary(uploader.RunSummary{Attempted: 2, Completed: 1, Failed: 1, UploadedBytes: 2048}))
	require.NoError(t, h.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "[OK] Portal ready. Add files to upload.", lines[0])
	assert.Equal(t, "DONE a.txt -> a_1.txt (2.0 KiB) [1.5s]", lines[1])
	assert.Equal(t, "FAILED b.txt: network error", lines[2])
	assert.Equal(t, "Uploaded 1 of 2 file(s), 2.0 KiB sent, 1 failed", lines[3])

	assert.Contains(t, bar.String(), "a.txt 50% 1.5 KiB/s", "the sampled rate is shown on the bar")
}

func TestDescribeProgress(t *testing.T) {
	assert.Equal(t, "docs/a.txt 0% 0 B/s", describeProgress(uploader.ProgressInfo{Relpath: "docs/a.txt"}))
	assert.Equal(t, "b.bin 99% 2.0 MiB/s", describeProgress(uploader.ProgressInfo{Relpath: "b.bin", Percentage: 99, Speed: 2 * 1024 * 1024}))
}

func TestTextHandler_ProgressDisabled(t *testing.T) {
	var out, bar bytes.Buffer
	h := NewTextHandler(&out, &bar, false)

	require.NoError(t, h.HandleProgress(uploader.ProgressInfo{Relpath: "a", QueueUploaded: 1, QueueTotal: 2}))
	require.NoError(t, h.Close())
	assert.Empty(t, bar.String())
	assert.Empty(t, out.String())
}

func TestJSONHandler_Events(t *testing.T) {
	var out bytes.Buffer
	h := NewJSONHandler(&out, false)

	require.NoError(t, h.HandleStatus(uploader.StatusLine{Message: "Claiming portal...", Tone: uploader.ToneInfo}))
	require.NoError(t, h.HandleProgress(uploader.ProgressInfo{Relpath: "skipped"}))
	require.NoError(t, h.HandleResult(uploader.UploadResult{Relpath: "a.txt", Status: uploader.StatusDone, Size: 3}))
	require.NoError(t, h.HandleSummary(uploader.RunSummary{Attempted: 1, Completed: 1, CloseErr: errors.New("Bad Gateway")}))

	var kinds []string
	var summary map[string]interface{}
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var ev struct {
			Type string                 `json:"type"`
			Data map[string]interface{} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		kinds = append(kinds, ev.Type)
		if ev.Type == "summary" {
			summary = ev.Data
		}
	}

	assert.Equal(t, []string{"status", "result", "summary"}, kinds)
	require.NotNil(t, summary)
	assert.Equal(t, "Bad Gateway", summary["close_error"])
	assert.Equal(t, float64(1), summary["completed"])
}
