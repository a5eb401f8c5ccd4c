package model

import (
	"errors"
	"fmt"
)

// ErrBuildFailure marks whole-exam failures. Match with errors.Is.
var ErrBuildFailure = errors.New("build failure")

// BuildError is a fatal exam construction failure: empty input or no
// question surviving every regeneration round.
type BuildError struct {
	Reason string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("build exam: %s: %v", e.Reason, e.Err)
	}
	return "build exam: " + e.Reason
}

// Unwrap returns both the sentinel and the cause.
func (e *BuildError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrBuildFailure, e.Err}
	}
	return []error{ErrBuildFailure}
}

// GenerationFailure records a dropped generation slot after retries ran out.
type GenerationFailure struct {
	Slot     int
	Type     QuestionType
	Section  string
	Attempts int
	Err      error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("generate slot %d (%s from %s) failed after %d attempts: %v",
		e.Slot, e.Type, e.Section, e.Attempts, e.Err)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }

// ValidationHardFailure is a blocking per-question rule violation.
type ValidationHardFailure struct {
	QuestionID string
	Check      string
	Problems   []string
}

func (e *ValidationHardFailure) Error() string {
	return fmt.Sprintf("question %s failed %s check: %v", e.QuestionID, e.Check, e.Problems)
}

// GradingProviderFailure is an open-ended scoring call that failed after retry.
// It never reaches the caller of Grade; it becomes diagnostic feedback.
type GradingProviderFailure struct {
	QuestionID string
	Err        error
}

func (e *GradingProviderFailure) Error() string {
	return fmt.Sprintf("grade question %s: %v", e.QuestionID, e.Err)
}

func (e *GradingProviderFailure) Unwrap() error { return e.Err }
