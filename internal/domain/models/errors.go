package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the service and the trainer.
var (
	// ErrModelUnavailable means no model is loaded yet. Callers may retry.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrRequestTimeout means the deadline expired before scoring started.
	ErrRequestTimeout = errors.New("request deadline exceeded")
	// ErrFatalTraining marks any failure that must abort a training run.
	ErrFatalTraining = errors.New("fatal training error")
	// ErrArtifactMismatch means the model and scaler do not belong together.
	ErrArtifactMismatch = errors.New("model artifact mismatch")
)

// Error codes surfaced to HTTP callers.
const (
	CodeRequired         = "ERR_REQUIRED"
	CodeInvalid          = "ERR_INVALID"
	CodeInvalidBody      = "ERR_INVALID_BODY"
	CodeModelUnavailable = "ERR_MODEL_UNAVAILABLE"
	CodeTimeout          = "ERR_TIMEOUT"
	CodeDuplicate        = "ERR_DUPLICATE_SYMBOL"
	CodeInternal         = "ERR_INTERNAL"
)

// ValidationError is a caller input problem. It is never retried.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// PerEntryError describes the failure of one batch entry. It is reported
// inline and never fails the whole batch.
type PerEntryError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *PerEntryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// EntryErrorFrom classifies err into a PerEntryError.
func EntryErrorFrom(err error) *PerEntryError {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return &PerEntryError{Code: ve.Code, Message: ve.Message, Field: ve.Field}
	case errors.Is(err, ErrModelUnavailable):
		return &PerEntryError{Code: CodeModelUnavailable, Message: err.Error()}
	case errors.Is(err, ErrRequestTimeout):
		return &PerEntryError{Code: CodeTimeout, Message: err.Error()}
	default:
		return &PerEntryError{Code: CodeInternal, Message: err.Error()}
	}
}

// FatalTrainingError wraps the cause of an aborted training run together with
// the stage that failed.
type FatalTrainingError struct {
	Stage string
	Err   error
}

func (e *FatalTrainingError) Error() string {
	return fmt.Sprintf("training failed at %s: %v", e.Stage, e.Err)
}

func (e *FatalTrainingError) Unwrap() []error {
	return []error{ErrFatalTraining, e.Err}
}

// NewFatalTrainingError wraps err for stage.
func NewFatalTrainingError(stage string, err error) error {
	return &FatalTrainingError{Stage: stage, Err: err}
}
