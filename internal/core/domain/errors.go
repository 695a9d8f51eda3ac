package domain

import "errors"

// ============================================================================
// Data Source Errors
// ============================================================================

var (
	ErrSourceUnavailable = errors.New("training data source is unreachable")
	ErrSchemaMismatch    = errors.New("returned columns do not match the expected schema")
)

// ============================================================================
// Training Errors
// ============================================================================

var (
	ErrEmptyDataset     = errors.New("dataset has no rows")
	ErrInsufficientData = errors.New("dataset must contain at least one row of each label class")
	ErrTrainingFailed   = errors.New("training produced an unusable model")
)

// ============================================================================
// Artifact Store Errors
// ============================================================================

var (
	ErrArtifactNotFound  = errors.New("artifact version not found")
	ErrNoCurrentArtifact = errors.New("no artifact has been published yet")
	ErrVersionExists     = errors.New("artifact version already stored")
)

// ============================================================================
// Serving Errors
// ============================================================================

var (
	ErrRequestValidation = errors.New("request does not match the serving schema")
	ErrModelNotLoaded    = errors.New("no model artifact is loaded")
)

// ============================================================================
// Pipeline Errors
// ============================================================================

// Not found errors
var (
	ErrRunNotFound = errors.New("pipeline run not found")
)

// Policy and lifecycle errors
var (
	ErrMetricBelowThreshold = errors.New("holdout metric below acceptance threshold")
	ErrRunCancelled         = errors.New("pipeline run cancelled")
	ErrRunFinished          = errors.New("pipeline run already reached a terminal state")
	ErrInvalidTransition    = errors.New("illegal pipeline stage transition")
)

// Deployment and health errors
var (
	ErrDeployFailed       = errors.New("deployment of serving instances failed")
	ErrHealthCheckTimeout = errors.New("serving instances did not report the published version in time")
	ErrNoRollbackTarget   = errors.New("no previously published version to roll back to")
)

// ============================================================================
// Run Spec Errors
// ============================================================================

var (
	ErrInvalidRunSpec = errors.New("invalid run spec")
)
