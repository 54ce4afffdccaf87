// Package util provides the shared logger and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for session and provisioning failures
var (
	ErrAuthFailed          = errors.New("authentication failed")
	ErrProvisionFailed     = errors.New("provisioning failed")
	ErrValidationFailed    = errors.New("validation failed")
	ErrChannelClosed       = errors.New("channel closed by remote end")
	ErrExpectTimeout       = errors.New("timed out waiting for expected output")
	ErrNotConnected        = errors.New("session not connected")
	ErrAlreadyDisconnected = errors.New("session already disconnected")
)

// AuthReason classifies why a handshake failed.
type AuthReason string

const (
	NoPromptObserved   AuthReason = "no prompt observed"
	CredentialRejected AuthReason = "credential rejected"
)

// AuthError reports a failed login handshake on a device channel.
type AuthError struct {
	Device string
	Reason AuthReason
	Detail string
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("device %q: authentication failed: %s", e.Device, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return ErrAuthFailed
}

// NewAuthError creates an authentication error
func NewAuthError(device string, reason AuthReason, detail string) *AuthError {
	return &AuthError{Device: device, Reason: reason, Detail: detail}
}

// ProvisionReason classifies why a provisioning stage failed.
type ProvisionReason string

const (
	ReasonTimeout              ProvisionReason = "timeout"
	ReasonStalled              ProvisionReason = "stalled"
	ReasonNonZeroExit          ProvisionReason = "non-zero exit"
	ReasonMissingSuccessMarker ProvisionReason = "missing success marker"
	ReasonHandshakeFailed      ProvisionReason = "handshake failed"
)

// ProvisionError reports a fatal failure in one stage of the firmware burn.
// Fragment carries the trailing channel output at the point of failure so the
// expected-versus-observed prompt can be diagnosed from the error alone.
type ProvisionError struct {
	Device   string
	Stage    string
	Reason   ProvisionReason
	Fragment string
	Err      error
}

func (e *ProvisionError) Error() string {
	msg := fmt.Sprintf("device %q: stage %s: %s", e.Device, e.Stage, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Fragment != "" {
		msg += fmt.Sprintf(" (last output: %q)", e.Fragment)
	}
	return msg
}

func (e *ProvisionError) Unwrap() error {
	return ErrProvisionFailed
}

// ValidationError represents one or more declared-attribute violations
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
