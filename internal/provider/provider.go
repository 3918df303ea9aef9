// Package provider defines the capability interfaces the engine uses to talk
// to external music-generation and text-generation backends, plus the typed
// results they return. Raw provider payloads are parsed once at this
// boundary; nothing above it sees provider-specific JSON.
package provider

import (
	"context"
	"strings"
	"time"
)

// Track is one generated audio variant.
type Track struct {
	Title    string  `json:"title"`
	AudioURL string  `json:"audio_url"`
	ImageURL string  `json:"image_url,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	ClipID   string  `json:"clip_id,omitempty"`
}

// StatusKind tags the status of a submitted music job.
type StatusKind int

const (
	// StatusPending covers the queued/running family, and any unrecognized
	// status without a failure marker.
	StatusPending StatusKind = iota
	// StatusReady means the job finished and at least the status says so.
	// Tracks may still be empty (treated as a soft failure by the engine).
	StatusReady
	// StatusFailed means the provider explicitly marked the job failed.
	StatusFailed
)

// Status is the parsed result of a status poll.
type Status struct {
	Kind   StatusKind
	State  string // provider's raw status text, lowercased
	Tracks []Track
}

// SubmitRequest carries everything a music backend needs for one job.
type SubmitRequest struct {
	Lyrics         string
	StylePrompt    string
	NegativePrompt string
	Title          string
	ModelVersion   string // backend-specific variant tag, may be empty
}

// MusicProvider is a music-generation backend.
type MusicProvider interface {
	// Submit starts a generation job and returns the provider's opaque task id.
	Submit(ctx context.Context, req SubmitRequest) (string, error)

	// CheckStatus polls a task. Transport-level problems come back as a
	// *ProviderError with IsRetryable set; they never surface as StatusFailed.
	CheckStatus(ctx context.Context, taskID string) (*Status, error)

	// Name returns the provider identifier ("comet", "foxai").
	Name() string

	// PollInterval is the delay between status polls for this backend.
	PollInterval() time.Duration

	// MaxPolls bounds how many polls a single job gets before the engine
	// restarts or abandons it.
	MaxPolls() int
}

// LLMProvider is a text-generation backend.
type LLMProvider interface {
	// Generate returns the raw model answer for a system + user prompt pair.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Name identifies the backend and model for logging ("gpt-5.1@comet").
	Name() string
}

// ProviderError is a typed provider failure.
type ProviderError struct {
	Provider      string `json:"provider"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	StatusCode    int    `json:"status_code,omitempty"`
	IsRetryable   bool   `json:"is_retryable"`
	OriginalError error  `json:"-"`
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	return e.Provider + " error: " + e.Message
}

// Unwrap returns the original error
func (e *ProviderError) Unwrap() error {
	return e.OriginalError
}

// Common error codes
const (
	ErrorCodeMissingKey     = "missing_api_key"
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeAuthentication = "authentication_error"
	ErrorCodeRateLimit      = "rate_limit_exceeded"
	ErrorCodeServerError    = "server_error"
	ErrorCodeTimeout        = "timeout"
	ErrorCodeBadResponse    = "bad_response"
	ErrorCodeNoTaskID       = "no_task_id"
	ErrorCodeUnknown        = "unknown_error"
)

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, original error) *ProviderError {
	return &ProviderError{
		Provider:      provider,
		Code:          code,
		Message:       message,
		OriginalError: original,
		IsRetryable:   isRetryableCode(code),
	}
}

// isRetryableCode determines if an error code is retryable
func isRetryableCode(code string) bool {
	switch code {
	case ErrorCodeRateLimit, ErrorCodeServerError, ErrorCodeTimeout:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err is a soft provider error: the poll schedule
// retries it without consuming restart budget.
func IsTransient(err error) bool {
	pe, ok := err.(*ProviderError)
	return ok && pe.IsRetryable
}

// hasFailureMarker reports whether a raw status string names a failure.
// Anything else unrecognized is deliberately treated as pending so unknown
// provider vocabulary never produces a false-positive failure.
func hasFailureMarker(status string) bool {
	s := strings.ToLower(status)
	return strings.Contains(s, "fail") || strings.Contains(s, "error")
}

var completeStates = map[string]bool{
	"success": true, "succeeded": true, "complete": true,
	"completed": true, "done": true, "ok": true,
}

var pendingStates = map[string]bool{
	"in_progress": true, "running": true, "processing": true,
	"pending": true, "queued": true, "working": true,
	"generating": true,
	// Comet reports this before the job is picked up.
	"not_start": true,
}
