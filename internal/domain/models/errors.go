package models

import "errors"

var (
	// ErrInvalidOutcome is returned for values outside 0..36 or non-integers.
	ErrInvalidOutcome = errors.New("invalid outcome")
	// ErrDuplicateOutcome is returned when a value equals the current latest outcome.
	ErrDuplicateOutcome = errors.New("duplicate outcome")
	// ErrInsufficientHistory means the feature extractor needs more history.
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrModelUnavailable means no usable model is loaded.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrModelNotFound is returned by the model store when nothing was saved yet.
	ErrModelNotFound = errors.New("model not found")
	// ErrStoreUnavailable wraps hot store I/O failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTrainingFailed   = errors.New("training failed")
	// ErrInsufficientSamples aborts training below the minimum sample count.
	ErrInsufficientSamples = errors.New("insufficient training samples")
	ErrMalformedRecord     = errors.New("malformed record")
	ErrPredictionNotFound  = errors.New("prediction not found")
)
