package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidIntent     = errors.New("invalid intent")
	ErrGeneration        = errors.New("code generation failed")
	ErrRenderFailed      = errors.New("render failed")
	ErrRenderTimeout     = errors.New("render timed out")
	ErrArtifactMissing   = errors.New("rendered video not found")
	ErrGuardRejected     = errors.New("script rejected by guardrail")
	ErrInvalidTransition = errors.New("invalid task state transition")
	ErrAttemptLimit      = errors.New("attempt limit reached")
)
