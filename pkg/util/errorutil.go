package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes surfaced to clients.
const (
	CodeValidation       = "VALIDATION_FAILED"
	CodePolicyDenied     = "POLICY_DENIED"
	CodeInvalidAssignee  = "INVALID_ASSIGNEE"
	CodeProfileMissing   = "PROFILE_MISSING"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInternal         = "INTERNAL_ERROR"
)

// Sentinels for errors.Is checks. Matching is by Code only.
var (
	ErrValidation       = &DomainError{Code: CodeValidation}
	ErrPolicyDenied     = &DomainError{Code: CodePolicyDenied}
	ErrInvalidAssignee  = &DomainError{Code: CodeInvalidAssignee}
	ErrProfileMissing   = &DomainError{Code: CodeProfileMissing}
	ErrStoreUnavailable = &DomainError{Code: CodeStoreUnavailable}
	ErrNotFound         = &DomainError{Code: CodeNotFound}
	ErrUnauthorized     = &DomainError{Code: CodeUnauthorized}
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewPolicyDenied(message string) error {
	return NewDomainError(CodePolicyDenied, message, http.StatusForbidden, nil)
}

func NewInvalidAssignee(message string) error {
	return NewDomainError(CodeInvalidAssignee, message, http.StatusBadRequest, nil)
}

func NewProfileMissing(userID string) error {
	return NewDomainError(CodeProfileMissing, "profile not found", http.StatusNotFound, map[string]any{"user_id": userID})
}

// NewStoreUnavailable wraps a backend failure. The cause is kept for logs only.
func NewStoreUnavailable(err error) error {
	return &DomainError{
		Code:       CodeStoreUnavailable,
		Message:    "store unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NewNotFound("resource", nil).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

// StoreError classifies an error returned by a repository. Misses become
// NOT_FOUND for the given resource, domain errors pass through, and anything
// else is treated as the backend being unavailable.
func StoreError(err error, resource string, details map[string]any) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NewNotFound(resource, details)
	}
	return NewStoreUnavailable(err)
}
