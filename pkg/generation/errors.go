package generation

import (
	"context"

	"github.com/pkg/errors"
)

// GenerationError is the single error kind a Generator reports. Error returns
// the description of the underlying cause so it can be shown to a user as-is.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	if e == nil || e.Err == nil {
		return "generation failed"
	}
	return e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Cause lets github.com/pkg/errors.Cause walk through the wrapper.
func (e *GenerationError) Cause() error { return e.Err }

// Wrap returns err as a *GenerationError tagged with op. A nil err stays nil
// and an existing *GenerationError is returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return err
	}
	return &GenerationError{Op: op, Err: err}
}

// IsCanceled reports whether err stems from context cancellation or deadline.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
