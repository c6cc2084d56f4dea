// Package errs holds the error types shared by the vocabulary, batcher,
// model, training loop and sampler.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCorpus   = errors.New("corpus has no symbols")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrNonFinite     = errors.New("non-finite value")
	ErrNoCheckpoint  = errors.New("no checkpoint found")
)

// InsufficientDataError means the corpus cannot fill a single B x S batch
// with a valid next-symbol target for every position.
type InsufficientDataError struct {
	Tokens int
	Batch  int
	Window int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d tokens cannot fill one %dx%d batch (need at least %d)",
		e.Tokens, e.Batch, e.Window, e.Batch*e.Window+1)
}

// DimensionMismatchError reports a checkpoint or input whose shape does not
// match the model it is paired with.
type DimensionMismatchError struct {
	What string
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: %s want %d, got %d", e.What, e.Want, e.Got)
}

// NumericDivergenceError is fatal: a loss, gradient or probability stopped
// being finite. Iteration and Batch locate the step for reproduction.
type NumericDivergenceError struct {
	Quantity  string
	Epoch     int
	Iteration int
	Batch     int
	Err       error
}

func (e *NumericDivergenceError) Error() string {
	msg := fmt.Sprintf("numeric divergence in %s at epoch %d, iteration %d, batch %d",
		e.Quantity, e.Epoch, e.Iteration, e.Batch)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NumericDivergenceError) Unwrap() error {
	if e.Err == nil {
		return ErrNonFinite
	}
	return e.Err
}

// CheckpointIOError wraps a failed checkpoint read or write.
type CheckpointIOError struct {
	Op   string // "read" or "write"
	Path string
	Err  error
}

func (e *CheckpointIOError) Error() string {
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CheckpointIOError) Unwrap() error { return e.Err }

// InvalidSamplingParameterError means top_n is outside [1, V].
type InvalidSamplingParameterError struct {
	TopN  int
	Vocab int
}

func (e *InvalidSamplingParameterError) Error() string {
	return fmt.Sprintf("invalid sampling parameter: top_n=%d must be in [1, %d]", e.TopN, e.Vocab)
}
