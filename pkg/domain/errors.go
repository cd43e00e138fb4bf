package domain

import "errors"

var (
	// ErrMissingMode is returned when params.velocity.mode is absent.
	ErrMissingMode = errors.New("'mode' must be set in params.velocity")

	// ErrUnknownMode is returned when a mode string is not one of
	// steady_state, stochastic or dynamical.
	ErrUnknownMode = errors.New("unknown velocity mode")

	// ErrMatrixRequired is returned when a request omits a count matrix.
	ErrMatrixRequired = errors.New("spliced and unspliced matrices are required")

	// ErrUnknownStep is returned for a step name outside the pipeline.
	ErrUnknownStep = errors.New("unknown pipeline step")
)
