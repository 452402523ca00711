package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrTargetNotFound is returned when the job names an unknown target.
	ErrTargetNotFound = errors.New("pipeline: target not found")
	// ErrForbidden is returned when the target belongs to another owner.
	ErrForbidden = errors.New("pipeline: target belongs to another owner")
)

// StoreError reports a persistence failure and the stage it happened in.
type StoreError struct {
	Stage Stage
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Stage, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
