package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCanvasNotFound is returned when a canvas ID cannot be found in the store.
	ErrCanvasNotFound = errors.New("canvas not found")

	// ErrPatchNotFound is returned when a patch ID cannot be found in the store.
	ErrPatchNotFound = errors.New("patch not found")

	// ErrSessionNotFound is returned when an agent session ID cannot be found in the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTemplateNotFound is returned when a template ID is not in the catalog.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrCanvasLocked is the sentinel matched by every LockConflictError.
	ErrCanvasLocked = errors.New("canvas is locked by another agent session")

	// ErrInvalidTransition is returned when a patch cannot move to the requested state.
	ErrInvalidTransition = errors.New("invalid patch state transition")

	// ErrInvocationLimit is returned when a sandbox session exhausted its invocation budget.
	ErrInvocationLimit = errors.New("sandbox invocation limit reached")

	// ErrRetriesExhausted is returned when an agent turn gave up without a valid patch.
	ErrRetriesExhausted = errors.New("agent retries exhausted")

	// ErrCanceled is returned when an agent turn was canceled by the user.
	ErrCanceled = errors.New("agent turn canceled")
)

// ValidationError reports a proposed payload that fails the entity schema.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Value  any    `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// ValidationErrors collects every schema failure of one payload.
type ValidationErrors []*ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Field == "" {
			parts = append(parts, e.Reason)
			continue
		}
		parts = append(parts, e.Field+": "+e.Reason)
	}
	return fmt.Sprintf("validation failed (%d errors): %s", len(errs), strings.Join(parts, "; "))
}

// As lets errors.As find the first ValidationError inside the collection.
func (errs ValidationErrors) As(target any) bool {
	t, ok := target.(**ValidationError)
	if !ok || len(errs) == 0 {
		return false
	}
	*t = errs[0]
	return true
}

// ReferentialError reports a foreign key that does not resolve after remapping.
type ReferentialError struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
	Field  string `json:"field"`
	Ref    string `json:"ref"`
}

func (e *ReferentialError) Error() string {
	return fmt.Sprintf("%s %q: %s references unknown id %q", e.Entity, e.ID, e.Field, e.Ref)
}

// SandboxErrorKind distinguishes program faults from timeouts.
type SandboxErrorKind string

const (
	SandboxFault   SandboxErrorKind = "fault"
	SandboxTimeout SandboxErrorKind = "timeout"
)

// SandboxError reports a failed program run.
type SandboxError struct {
	Kind    SandboxErrorKind `json:"kind"`
	Stage   string           `json:"stage"`
	Message string           `json:"message"`
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("sandbox %s during %s: %s", e.Kind, e.Stage, e.Message)
}

// LockConflictError is returned when another holder owns the canvas lock.
type LockConflictError struct {
	CanvasID string `json:"canvasId"`
	HolderID string `json:"holderId"`
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("canvas %s is locked by session %s", e.CanvasID, e.HolderID)
}

func (e *LockConflictError) Is(target error) bool {
	return target == ErrCanvasLocked
}

// TransactionError wraps a persistence failure that rolled back a commit.
type TransactionError struct {
	CanvasID string
	Err      error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("canvas %s not updated: %v", e.CanvasID, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// Retryable reports whether an agent may try again with a corrected program.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var sandboxErr *SandboxError
	var validationErr *ValidationError
	var validationErrs ValidationErrors
	var refErr *ReferentialError
	switch {
	case errors.As(err, &sandboxErr),
		errors.As(err, &validationErrs),
		errors.As(err, &validationErr),
		errors.As(err, &refErr):
		return true
	}
	return false
}

// Diagnostic renders err as feedback text for the next generation attempt.
func Diagnostic(err error) string {
	var sandboxErr *SandboxError
	var validationErrs ValidationErrors
	switch {
	case errors.As(err, &sandboxErr):
		if sandboxErr.Kind == SandboxTimeout {
			return "The program did not finish before the time limit. Avoid unbounded loops and return the graph directly."
		}
		return fmt.Sprintf("The program failed while %s: %s", sandboxErr.Stage, sandboxErr.Message)
	case errors.As(err, &validationErrs):
		var b strings.Builder
		b.WriteString("The returned graph is invalid:")
		for _, e := range validationErrs {
			b.WriteString("\n- ")
			if e.Field != "" {
				b.WriteString(e.Field)
				b.WriteString(": ")
			}
			b.WriteString(e.Reason)
		}
		return b.String()
	}
	return err.Error()
}
