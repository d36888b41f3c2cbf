package common

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrValidation   = errors.New("validation failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// ErrorKind is the sub-category of a pipeline failure.
type ErrorKind string

const (
	KindDownloadFailed ErrorKind = "download_failed"
	KindParseFailed    ErrorKind = "parse_failed"
	KindEmptyText      ErrorKind = "empty_text"

	KindRateLimited       ErrorKind = "rate_limited"
	KindAuthFailed        ErrorKind = "auth_failed"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindTimeout           ErrorKind = "timeout"
	KindRequestFailed     ErrorKind = "request_failed"

	KindTaxonomyFetchFailed ErrorKind = "taxonomy_fetch_failed"
	KindUpdateRejected      ErrorKind = "update_rejected"

	KindMissingSetting ErrorKind = "missing_required_setting"
)

type kindError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *kindError) format(category string) string {
	msg := fmt.Sprintf("%s error (%s)", category, e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// ExtractionError means no text source produced usable content.
type ExtractionError struct{ kindError }

func (e *ExtractionError) Error() string { return e.format(CategoryExtraction) }
func (e *ExtractionError) Unwrap() error { return e.Cause }

// ModelError is a failed or unusable model API call.
type ModelError struct {
	kindError
	StatusCode int
}

func (e *ModelError) Error() string { return e.format(CategoryModel) }
func (e *ModelError) Unwrap() error { return e.Cause }

// Transient reports whether the call may succeed if retried.
func (e *ModelError) Transient() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTimeout ||
		(e.Kind == KindRequestFailed && (e.StatusCode == 0 || e.StatusCode >= 500))
}

// ReconciliationError aborts an apply before or during the store update.
type ReconciliationError struct{ kindError }

func (e *ReconciliationError) Error() string { return e.format(CategoryReconciliation) }
func (e *ReconciliationError) Unwrap() error { return e.Cause }

// ConfigurationError prevents processing from starting at all.
type ConfigurationError struct {
	kindError
	Key string
}

func (e *ConfigurationError) Error() string { return e.format(CategoryConfiguration) }
func (e *ConfigurationError) Unwrap() error { return e.Cause }

func NewExtractionError(kind ErrorKind, message string, cause error) *ExtractionError {
	return &ExtractionError{kindError{Kind: kind, Message: message, Cause: cause}}
}

func NewModelError(kind ErrorKind, statusCode int, message string, cause error) *ModelError {
	return &ModelError{kindError: kindError{Kind: kind, Message: message, Cause: cause}, StatusCode: statusCode}
}

func NewReconciliationError(kind ErrorKind, message string, cause error) *ReconciliationError {
	return &ReconciliationError{kindError{Kind: kind, Message: message, Cause: cause}}
}

func NewConfigurationError(key, message string) *ConfigurationError {
	return &ConfigurationError{
		kindError: kindError{Kind: KindMissingSetting, Message: key + " " + message, Cause: ErrInvalidInput},
		Key:       key,
	}
}

const (
	CategoryExtraction     = "extraction"
	CategoryModel          = "model"
	CategoryReconciliation = "reconciliation"
	CategoryConfiguration  = "configuration"
	CategoryCancelled      = "cancelled"
	CategoryInternal       = "internal"
)

// Category returns the user-facing label of err.
func Category(err error) string {
	var (
		ee *ExtractionError
		me *ModelError
		re *ReconciliationError
		ce *ConfigurationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return CategoryConfiguration
	case errors.As(err, &ee):
		return CategoryExtraction
	case errors.As(err, &me):
		return CategoryModel
	case errors.As(err, &re):
		return CategoryReconciliation
	case errors.Is(err, context.Canceled):
		return CategoryCancelled
	}
	return CategoryInternal
}

// IsConfigurationError reports whether err should stop processing before it starts.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// GRPCStatus maps pipeline errors onto gRPC status errors.
func GRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var me *ModelError
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case IsConfigurationError(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &me) && me.Kind == KindRateLimited:
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.As(err, &me) && me.Kind == KindAuthFailed:
		return status.Error(codes.Unauthenticated, err.Error())
	case Category(err) == CategoryExtraction, Category(err) == CategoryReconciliation, Category(err) == CategoryModel:
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
