package callgraph

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownFunction is returned when a stack references a function
	// identifier that is absent from the function table.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrInvalidSample is returned for samples with a negative weight, an
	// empty stack, or a weight that overflows the grand total.
	ErrInvalidSample = errors.New("invalid sample")
)

type UnknownFunctionError struct {
	ID uint64
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("callgraph: %s: id %d", ErrUnknownFunction, e.ID)
}

func (e *UnknownFunctionError) Unwrap() error {
	return ErrUnknownFunction
}

type InvalidSampleError struct {
	// Index is the position of the sample in the input sequence.
	Index  int
	Value  int64
	Reason string
}

func (e *InvalidSampleError) Error() string {
	return fmt.Sprintf("callgraph: %s: sample %d: %s", ErrInvalidSample, e.Index, e.Reason)
}

func (e *InvalidSampleError) Unwrap() error {
	return ErrInvalidSample
}
