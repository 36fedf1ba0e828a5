package portal

import (
	"errors"
	"fmt"
	"strings"
)

// Policy decides what the server does when a destination file already exists
type Policy string

const (
	PolicyOverwrite  Policy = "overwrite"
	PolicyAutorename Policy = "autorename"
)

// ParsePolicy accepts the two policy names case-insensitively
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case PolicyOverwrite:
		return PolicyOverwrite, nil
	case PolicyAutorename:
		return PolicyAutorename, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", value)
	}
}

// ConflictVerb describes how a conflicting file will be resolved
func (p Policy) ConflictVerb() string {
	if p == PolicyAutorename {
		return "auto-renamed"
	}
	return "overwritten"
}

// ClaimPolicy is the policy object returned by claim and info
type ClaimPolicy struct {
	Overwrite  bool `json:"overwrite"`
	Autorename bool `json:"autorename"`
}

// Default resolves the claim policy flags to a single policy; overwrite
// unless the server explicitly asks for autorename.
func (c ClaimPolicy) Default() Policy {
	if c.Autorename {
		return PolicyAutorename
	}
	return PolicyOverwrite
}

type ClaimResponse struct {
	PortalID    string      `json:"portal_id"`
	ClientToken string      `json:"client_token"`
	ExpiresAt   string      `json:"expires_at"`
	Policy      ClaimPolicy `json:"policy"`
	Reusable    *bool       `json:"reusable,omitempty"`
}

type InfoResponse struct {
	PortalID  string      `json:"portal_id"`
	ExpiresAt string      `json:"expires_at"`
	Policy    ClaimPolicy `json:"policy"`
	Reusable  *bool       `json:"reusable,omitempty"`
}

type PreflightItem struct {
	Relpath string `json:"relpath"`
	Size    int64  `json:"size"`
}

type PreflightRequest struct {
	Items []PreflightItem `json:"items"`
}

// Conflict is one destination collision reported by preflight
type Conflict struct {
	Relpath string `json:"relpath"`
	Reason  string `json:"reason"`
}

type PreflightResponse struct {
	TotalFiles int        `json:"total_files"`
	TotalBytes int64      `json:"total_bytes"`
	Conflicts  []Conflict `json:"conflicts"`
}

// TransferRequest initializes one upload slot. Policy is a snapshot taken
// when the request is built and is never re-read mid-transfer.
type TransferRequest struct {
	UploadID       string  `json:"upload_id"`
	Relpath        string  `json:"relpath"`
	Size           int64   `json:"size"`
	ClientChecksum *string `json:"client_sha256"`
	Policy         Policy  `json:"policy"`
}

type InitResponse struct {
	UploadID string `json:"upload_id"`
	PutURL   string `json:"put_url"`
}

// CommitResponse is the optional body of a successful byte transfer
type CommitResponse struct {
	Status        string `json:"status"`
	Relpath       string `json:"relpath"`
	ServerSHA256  string `json:"server_sha256"`
	BytesReceived int64  `json:"bytes_received"`
	FinalRelpath  string `json:"final_relpath"`
}

type UploadStatusResponse struct {
	UploadID      string  `json:"upload_id"`
	Status        string  `json:"status"`
	ServerSHA256  *string `json:"server_sha256"`
	FinalRelpath  *string `json:"final_relpath"`
	BytesReceived int64   `json:"bytes_received"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Stage identifies which exchange with the portal failed
type Stage int

const (
	StageUnknown Stage = iota
	StageClaim
	StagePreflight
	StageInitialize
	StageTransfer
	StageClose
	StageInfo
	StageStatus
)

func (s Stage) String() string {
	switch s {
	case StageClaim:
		return "claim"
	case StagePreflight:
		return "preflight"
	case StageInitialize:
		return "initialize"
	case StageTransfer:
		return "transfer"
	case StageClose:
		return "close"
	case StageInfo:
		return "info"
	case StageStatus:
		return "status"
	default:
		return "unknown"
	}
}

// ErrorType represents different categories of portal errors
type ErrorType int

const (
	ErrorTypeUnknown        ErrorType = iota
	ErrorTypeNetwork                  // Transport failure, no response
	ErrorTypeAPI                      // Non-success response
	ErrorTypeAuthentication           // Missing or invalid client token
	ErrorTypeNotFound                 // Portal or upload does not exist
	ErrorTypeConflict                 // Already claimed, already committed, active uploads
	ErrorTypeGone                     // Portal closed
	ErrorTypeLocal                    // Local source could not be read
)

// PortalError is a structured failure of one portal exchange
type PortalError struct {
	Stage      Stage
	Type       ErrorType
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface
func (pe *PortalError) Error() string {
	if pe.Cause != nil {
		return pe.Message + ": " + pe.Cause.Error()
	}
	return pe.Message
}

// Unwrap returns the underlying cause
func (pe *PortalError) Unwrap() error {
	return pe.Cause
}

// Is matches another PortalError of the same stage
func (pe *PortalError) Is(target error) bool {
	if t, ok := target.(*PortalError); ok {
		return pe.Stage == t.Stage
	}
	return false
}

// Stage sentinels for errors.Is
var (
	ErrClaim      = &PortalError{Stage: StageClaim, Message: "claim failed"}
	ErrPreflight  = &PortalError{Stage: StagePreflight, Message: "preflight failed"}
	ErrInitialize = &PortalError{Stage: StageInitialize, Message: "initialize failed"}
	ErrTransfer   = &PortalError{Stage: StageTransfer, Message: "transfer failed"}
	ErrClose      = &PortalError{Stage: StageClose, Message: "close failed"}
)

// NewPortalError creates a new PortalError
func NewPortalError(stage Stage, errorType ErrorType, statusCode int, message string, cause error) *PortalError {
	return &PortalError{
		Stage:      stage,
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

func NewNetworkError(stage Stage, cause error) *PortalError {
	return NewPortalError(stage, ErrorTypeNetwork, 0, "network error", cause)
}

func NewLocalError(stage Stage, message string, cause error) *PortalError {
	return NewPortalError(stage, ErrorTypeLocal, 0, message, cause)
}

// StageOf extracts the Stage from an error
func StageOf(err error) Stage {
	var pe *PortalError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return StageUnknown
}

// GetErrorType extracts the ErrorType from an error
func GetErrorType(err error) ErrorType {
	var pe *PortalError
	if errors.As(err, &pe) {
		return pe.Type
	}
	return ErrorTypeUnknown
}

// UserMessage returns the human-readable part of an error, without the
// transport cause chain for API failures.
func UserMessage(err error) string {
	var pe *PortalError
	if errors.As(err, &pe) {
		if pe.Type == ErrorTypeNetwork {
			return pe.Message
		}
		return pe.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func errorTypeForStatus(code int) ErrorType {
	switch code {
	case 401, 403:
		return ErrorTypeAuthentication
	case 404:
		return ErrorTypeNotFound
	case 409:
		return ErrorTypeConflict
	case 410:
		return ErrorTypeGone
	default:
		return ErrorTypeAPI
	}
}
