package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInputRejected      = errors.New("input rejected")
	ErrEntitlementDenied  = errors.New("entitlement denied")
	ErrStageFailure       = errors.New("stage failure")
	ErrTransportFailure   = errors.New("transport failure")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnknownCapability  = errors.New("unknown capability")
)

// Stage names a step of the content pipeline. It tags failures so callers can
// tell which external collaborator gave up.
type Stage string

const (
	StageExtract     Stage = "extract"
	StageDetect      Stage = "detect"
	StageTranslate   Stage = "translate"
	StageSynthesize  Stage = "synthesize"
	StageRecognize   Stage = "recognize"
	StageAnalyze     Stage = "analyze"
	StageReconstruct Stage = "reconstruct"
)

// StageError reports a pipeline stage that failed after exhausting its
// fallback. It matches ErrStageFailure with errors.Is.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s stage failed", e.Stage)
	}
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) Is(target error) bool {
	return target == ErrStageFailure
}

// NewStageError tags err with the stage it happened in.
func NewStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}
