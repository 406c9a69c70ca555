package inference

import (
	"errors"
	"fmt"

	"github.com/docker/model-zoo/pkg/tensor"
)

var (
	// ErrUseAfterRelease is returned by every Model operation after Release.
	// It indicates a lifecycle bug in the caller.
	ErrUseAfterRelease = errors.New("inference model used after release")
	// ErrInvalidShape is matched by *InvalidShapeError.
	ErrInvalidShape = errors.New("invalid input shape")
	// ErrUnsupportedArtifact is matched by *UnsupportedArtifactError.
	ErrUnsupportedArtifact = errors.New("unsupported artifact")
	// ErrInferenceFailed is matched by *InferenceFailedError.
	ErrInferenceFailed = errors.New("inference failed")
)

// InvalidShapeError reports a reshape that conflicts with the artifact's
// declared signature.
type InvalidShapeError struct {
	Expected tensor.Shape
	Actual   tensor.Shape
	Reason   string
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("invalid input shape %s for signature %s: %s", e.Actual, e.Expected, e.Reason)
}

// Is implements error matching for InvalidShapeError.
func (e *InvalidShapeError) Is(target error) bool {
	return target == ErrInvalidShape
}

// UnsupportedArtifactError reports an artifact the engine could not load.
type UnsupportedArtifactError struct {
	Path   string
	Engine string
	Err    error
}

func (e *UnsupportedArtifactError) Error() string {
	return fmt.Sprintf("%s cannot load artifact %q: %v", e.Engine, e.Path, e.Err)
}

func (e *UnsupportedArtifactError) Unwrap() error {
	return e.Err
}

// Is implements error matching for UnsupportedArtifactError.
func (e *UnsupportedArtifactError) Is(target error) bool {
	return target == ErrUnsupportedArtifact
}

// InferenceFailedError reports a runtime rejection of a well-shaped input.
type InferenceFailedError struct {
	Path string
	Err  error
}

func (e *InferenceFailedError) Error() string {
	return fmt.Sprintf("inference on %q failed: %v", e.Path, e.Err)
}

func (e *InferenceFailedError) Unwrap() error {
	return e.Err
}

// Is implements error matching for InferenceFailedError.
func (e *InferenceFailedError) Is(target error) bool {
	return target == ErrInferenceFailed
}
