package schemas

import "errors"

// Sentinel errors shared across the intake service, the lifecycle manager
// and the pipeline. Callers distinguish them with errors.Is.
var (
	// ErrJobNotFound reports an unknown job identifier.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition reports an operator action attempted against a
	// job that is not in the required source state. It is an explicit
	// rejection, never a silent no-op, so callers can tell "already
	// handled" apart from "succeeded".
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrValidation reports a rejected intake request. No state mutation
	// has occurred when it is returned.
	ErrValidation = errors.New("validation failed")

	// ErrCancelled is the distinguishable cancellation signal raised by the
	// pipeline when a job was terminated between stages. It is not a
	// failure: the job is already CANCELLED and must not be overwritten to
	// FAILED.
	ErrCancelled = errors.New("job cancelled")
)
