package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTimeConflict      = errors.New("time conflict")
	ErrInvalidService    = errors.New("invalid service")
	ErrInvalidTransition = errors.New("invalid transition")
)

// DateFormatError reports a malformed date or clock time input.
type DateFormatError struct {
	Field string
	Value string
}

func (e *DateFormatError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}

// ConflictError is returned when a candidate appointment overlaps an active one.
type ConflictError struct {
	Dimension ConflictDimension
	Window    TimeRange
	Message   string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrTimeConflict
}

// InvalidServiceError means the referenced service does not exist. It is a caller data
// error rather than a scheduling conflict.
type InvalidServiceError struct {
	ServiceID string
}

func (e *InvalidServiceError) Error() string {
	if e.ServiceID == "" {
		return "service not found"
	}
	return fmt.Sprintf("service %s not found", e.ServiceID)
}

func (e *InvalidServiceError) Is(target error) bool {
	return target == ErrInvalidService
}

type TransitionError struct {
	From   Status
	Event  Event
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s appointment in status %s: %s", e.Event, e.From, e.Reason)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
