package engine

import "fmt"

// ValidationError reports malformed input. The caller can correct the input
// and resubmit; nothing was mutated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// PrerequisiteMissingError reports an operation whose required predecessor
// artifact or state is absent.
type PrerequisiteMissingError struct {
	Op      string
	Missing string
}

func (e PrerequisiteMissingError) Error() string {
	return fmt.Sprintf("%s: missing prerequisite: %s", e.Op, e.Missing)
}

// InvalidTransitionError reports an operation that is not legal from the
// project's current status.
type InvalidTransitionError struct {
	Op     string
	Status string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s not allowed while status is %s", e.Op, e.Status)
}

// ConflictError reports a concurrent or duplicate operation collision.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string { return e.Reason }

// TerminalStateError reports an operation attempted on a completed or
// cancelled project.
type TerminalStateError struct {
	Status string
}

func (e TerminalStateError) Error() string {
	return fmt.Sprintf("project is %s; no further operations accepted", e.Status)
}
