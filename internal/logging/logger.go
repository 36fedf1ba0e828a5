package logging

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

type Logger struct {
	*logrus.Logger
	verbose bool
}

var defaultLogger *Logger

// Categories for consistent logging
const (
	CategoryNetwork   = "NETWORK"
	CategoryPortal    = "PORTAL"
	CategoryPreflight = "PREFLIGHT"
	CategoryFiles     = "FILES"
	CategoryConfig    = "CONFIG"
	CategoryUpload    = "UPLOAD"
	CategoryCLI       = "CLI"
	CategoryError     = "ERROR"
)

// Init initializes the logging system with verbose flag and output destination
func Init(verbose bool, output io.Writer) {
	logger := logrus.New()

	if output != nil {
		logger.SetOutput(output)
	} else {
		logger.SetOutput(os.Stderr)
	}

	if isTTY(logger.Out) && verbose {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
			ForceColors:     true,
		})
	} else if isTTY(logger.Out) {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: false,
			ForceColors:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		// Only show errors and above in non-verbose mode
		logger.SetLevel(logrus.ErrorLevel)
	}

	logger.SetReportCaller(false)

	defaultLogger = &Logger{
		Logger:  logger,
		verbose: verbose,
	}
}

func isTTY(output io.Writer) bool {
	file, ok := output.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// IsVerbose returns whether verbose logging is enabled
func IsVerbose() bool {
	if defaultLogger == nil {
		return false
	}
	return defaultLogger.verbose
}

func (l *Logger) logWithCategory(level logrus.Level, category string, message string, fields logrus.Fields) {
	if l == nil {
		return
	}
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["category"] = category

	l.WithFields(fields).Log(level, message)
}

// Network Operations Logging Functions
func HTTPRequest(method, url string, headers map[string]string) {
	if !IsVerbose() {
		return
	}
	fields := logrus.Fields{
		"method": method,
		"url":    url,
	}
	if len(headers) > 0 {
		fields["headers"] = headers
	}
	defaultLogger.logWithCategory(logrus.DebugLevel, CategoryNetwork, "HTTP request", fields)
}

func HTTPResponse(statusCode int, body string, duration time.Duration) {
	if !IsVerbose() {
		return
	}
	fields := logrus.Fields{
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}
	if body != "" {
		if len(body) > 200 {
			body = body[:200] + "..."
		}
		fields["body"] = body
	}
	defaultLogger.logWithCategory(logrus.DebugLevel, CategoryNetwork, "HTTP response", fields)
}

// Portal Session Logging Functions
func PortalClaim(portalID string, policy string, reusable bool, err error) {
	if err != nil {
		defaultLogger.logWithCategory(logrus.ErrorLevel, CategoryPortal, "Portal claim failed", logrus.Fields{
			"portal_id": portalID,
			"error":     err,
		})
		return
	}
	defaultLogger.logWithCategory(logrus.InfoLevel, CategoryPortal, "Portal claimed", logrus.Fields{
		"portal_id": portalID,
		"policy":    policy,
		"reusable":  reusable,
	})
}

func PortalClose(portalID string, err error) {
	if err != nil {
		defaultLogger.logWithCategory(logrus.WarnLevel, CategoryPortal, "Portal close failed", logrus.Fields{
			"portal_id": portalID,
			"error":     err,
		})
		return
	}
	defaultLogger.logWithCategory(logrus.InfoLevel, CategoryPortal, "Portal closed", logrus.Fields{
		"portal_id": portalID,
	})
}

func PreflightResult(itemCount int, conflictCount int, err error) {
	if !IsVerbose() {
		return
	}
	fields := logrus.Fields{
		"items":     itemCount,
		"conflicts": conflictCount,
	}
	if err != nil {
		fields["error"] = err
		defaultLogger.logWithCategory(logrus.WarnLevel, CategoryPreflight, "Preflight failed", fields)
		return
	}
	defaultLogger.logWithCategory(logrus.DebugLevel, CategoryPreflight, "Preflight complete", fields)
}

func PreflightSkipped(reason string) {
	if !IsVerbose() {
		return
	}
	defaultLogger.logWithCategory(logrus.DebugLevel, CategoryPreflight, "Preflight skipped", logrus.Fields{
		"reason": reason,
	})
}

// File Operations Logging Functions
func FileScan(paths []string) {
	if !IsVerbose() {
		return
	}
	defaultLogger.logWithCategory(logrus.DebugLevel, CategoryFiles, "Scanning files", logrus.Fields{
		"path_count": len(paths),
		"paths":      paths,
	})
}

func FileFound(relpath string, size int64) {
	if !IsVerbose() {
		return
	}
	defaultLogger.logWithCategory(logrus.DebugLevel, CategoryFiles, "File found", logrus.Fields{
		"relpath": relpath,
		"size":    size,
	})
}

func EntrySkipped(fullPath string, reason string, err error) {
	if !IsVerbose() {
		return
	}
	fields := logrus.Fields{
		"path":   fullPath,
		"reason": reason,
	}
	if err != nil {
		fields["error"] = err
	}
	defaultLogger.logWithCategory(logrus.WarnLevel, CategoryFiles, "Entry skipped", fields)
}

func FileValidation(path string, validationType string, err error) {
	if !IsVerbose() {
		return
	}
	level := logrus.DebugLevel
	message := "File validation passed"
	if err != nil {
		level = logrus.WarnLevel
		message = "File validation failed"
	}
	defaultLogger.logWithCategory(level, CategoryFiles, message, logrus.Fields{
		"path":            path,
		"validation_type": validationType,
		"error":           err,
	})
}

// Configuration Logging Functions
func ConfigLoad(source string, values interface{}) {
	defaultLogger.logWithCategory(logrus.DebugLevel, CategoryConfig, "Loading configuration", logrus.Fields{
		"source": source,
		"values": values,
	})
}

// Upload Process Logging Functions
func UploadStart(relpath string, size int64, uploadID string) {
	defaultLogger.logWithCategory(logrus.InfoLevel, CategoryUpload, "Starting upload", logrus.Fields{
		"relpath":   relpath,
		"size":      size,
		"upload_id": uploadID,
	})
}

func UploadProgress(relpath string, bytesSent int64, total int64) {
	if !IsVerbose() {
		return
	}
	percentage := 100.0
	if total > 0 {
		percentage = float64(bytesSent) / float64(total) * 100
	}
	defaultLogger.logWithCategory(logrus.DebugLevel, CategoryUpload, "Upload progress", logrus.Fields{
		"relpath":    relpath,
		"bytes_sent": bytesSent,
		"total":      total,
		"percentage": percentage,
	})
}

func UploadComplete(relpath string, finalRelpath string, duration time.Duration) {
	defaultLogger.logWithCategory(logrus.InfoLevel, CategoryUpload, "Upload completed", logrus.Fields{
		"relpath":       relpath,
		"final_relpath": finalRelpath,
		"duration_ms":   duration.Milliseconds(),
	})
}

func UploadError(relpath string, stage string, err error) {
	defaultLogger.logWithCategory(logrus.ErrorLevel, CategoryUpload, "Upload failed", logrus.Fields{
		"relpath": relpath,
		"stage":   stage,
		"error":   err,
	})
}

func QueueTransition(itemID string, from string, to string) {
	if !IsVerbose() {
		return
	}
	defaultLogger.logWithCategory(logrus.DebugLevel, CategoryUpload, "Queue transition", logrus.Fields{
		"item_id": itemID,
		"from":    from,
		"to":      to,
	})
}

func ThroughputSample(bytesPerSecond float64) {
	if !IsVerbose() {
		return
	}
	defaultLogger.logWithCategory(logrus.TraceLevel, CategoryUpload, "Throughput sample", logrus.Fields{
		"bytes_per_second": bytesPerSecond,
	})
}

// CLI and Flag Processing Logging Functions
func FlagProcessing(flag string, value interface{}) {
	defaultLogger.logWithCategory(logrus.DebugLevel, CategoryCLI, "Flag processing", logrus.Fields{
		"flag":  flag,
		"value": value,
	})
}

func CommandExecution(command string, args []string) {
	if !IsVerbose() {
		return
	}
	defaultLogger.logWithCategory(logrus.DebugLevel, CategoryCLI, "Command execution", logrus.Fields{
		"command": command,
		"args":    args,
	})
}

// Error Context Logging Functions
func ErrorContext(context string, err error, details map[string]interface{}) {
	if !IsVerbose() || err == nil {
		return
	}
	fields := logrus.Fields{
		"context": context,
		"error":   err,
	}
	for k, v := range details {
		fields[k] = v
	}
	defaultLogger.logWithCategory(logrus.ErrorLevel, CategoryError, "Error occurred", fields)
}
