// Package inference wraps runtime sessions in owned, explicitly released
// model handles.
package inference

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/docker/model-zoo/pkg/logging"
	"github.com/docker/model-zoo/pkg/tensor"
)

// State is the lifecycle state of a Model.
type State uint8

const (
	// StateLoaded indicates an open session using the declared input shape.
	StateLoaded State = iota
	// StateReshaped indicates an open session whose input shape was overridden.
	StateReshaped
	// StateReleased indicates a released model. It is terminal.
	StateReleased
)

// String implements Stringer.String for State.
func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateReshaped:
		return "reshaped"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Model is an owned handle to one runtime session bound to one artifact.
// Models are meant for use by a single goroutine; two Models opened on the
// same artifact share nothing. Every successfully opened Model must be
// released exactly once.
type Model struct {
	// log is the associated logger.
	log logging.Logger
	// path is the artifact the session was opened from.
	path string
	// engine is the name of the engine that opened the session.
	engine string
	// mu guards all subsequent fields.
	mu sync.Mutex
	// session is the runtime session. It is nil once released.
	session Session
	// signature is the artifact's declared signature.
	signature Signature
	// active is the input shape enforced by Predict.
	active tensor.Shape
	// state is the lifecycle state.
	state State
}

// Open reads the artifact at path and opens a session on it with engine.
func Open(log logging.Logger, engine Engine, path string) (*Model, error) {
	if log == nil {
		log = logging.Discard()
	}
	if engine == nil {
		return nil, errors.New("no inference engine configured")
	}
	artifact, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %q: %w", path, err)
	}
	session, err := engine.OpenSession(artifact)
	if err != nil {
		return nil, &UnsupportedArtifactError{Path: path, Engine: engine.Name(), Err: err}
	}
	if session == nil {
		return nil, &UnsupportedArtifactError{Path: path, Engine: engine.Name(), Err: errors.New("engine returned no session")}
	}
	sig := session.Signature()
	sig.InputShape = sig.InputShape.Clone()
	log.Debugf("Opened %s session on %s with input %s %s", engine.Name(), path, sig.InputName, sig.InputShape)
	return &Model{
		log:       log,
		path:      path,
		engine:    engine.Name(),
		session:   session,
		signature: sig,
		active:    sig.InputShape.Clone(),
		state:     StateLoaded,
	}, nil
}

// Path returns the artifact path the model was opened from.
func (m *Model) Path() string {
	return m.path
}

// State returns the current lifecycle state.
func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Signature returns the artifact's declared signature.
func (m *Model) Signature() (Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateReleased {
		return Signature{}, ErrUseAfterRelease
	}
	sig := m.signature
	sig.InputShape = sig.InputShape.Clone()
	sig.OutputNames = append([]string(nil), sig.OutputNames...)
	return sig, nil
}

// InputShape returns the active input shape.
func (m *Model) InputShape() (tensor.Shape, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateReleased {
		return nil, ErrUseAfterRelease
	}
	return m.active.Clone(), nil
}

// Reshape re-binds the input shape used by subsequent Predict calls. The new
// shape must have the declared rank and agree with every fixed dimension of
// the signature. Unspecified dimensions of the signature may be fixed or left
// unspecified.
func (m *Model) Reshape(shape tensor.Shape) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateReleased {
		return ErrUseAfterRelease
	}
	declared := m.signature.InputShape
	if len(shape) != len(declared) {
		return &InvalidShapeError{
			Expected: declared.Clone(),
			Actual:   shape.Clone(),
			Reason:   fmt.Sprintf("rank %d does not match declared rank %d", len(shape), len(declared)),
		}
	}
	for i, d := range shape {
		switch {
		case d == 0 || d < tensor.Unspecified:
			return &InvalidShapeError{
				Expected: declared.Clone(),
				Actual:   shape.Clone(),
				Reason:   fmt.Sprintf("dimension %d has invalid size %d", i, d),
			}
		case declared[i] >= 0 && d != declared[i]:
			return &InvalidShapeError{
				Expected: declared.Clone(),
				Actual:   shape.Clone(),
				Reason:   fmt.Sprintf("dimension %d is fixed to %d", i, declared[i]),
			}
		}
	}
	if r, ok := m.session.(Reshaper); ok {
		if err := r.Reshape(shape.Clone()); err != nil {
			return &InvalidShapeError{
				Expected: declared.Clone(),
				Actual:   shape.Clone(),
				Reason:   err.Error(),
			}
		}
	}
	m.active = shape.Clone()
	m.state = StateReshaped
	m.log.Debugf("Reshaped %s input to %s", m.path, m.active)
	return nil
}

// Predict runs the session on input. The input must match the active shape.
// Predict blocks until the runtime returns.
func (m *Model) Predict(input *tensor.Tensor) (map[string]*tensor.Tensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateReleased {
		return nil, ErrUseAfterRelease
	}
	if input == nil {
		return nil, &tensor.ShapeMismatchError{
			Stage:    -1,
			Op:       "predict",
			Expected: m.active.Clone(),
			Actual:   nil,
			Detail:   "nil input",
		}
	}
	if !m.active.Matches(input.Shape()) {
		return nil, &tensor.ShapeMismatchError{
			Stage:    -1,
			Op:       "predict",
			Expected: m.active.Clone(),
			Actual:   input.Shape(),
		}
	}
	outputs, err := m.session.Run(map[string]*tensor.Tensor{m.signature.InputName: input})
	if err != nil {
		return nil, &InferenceFailedError{Path: m.path, Err: err}
	}
	return outputs, nil
}

// Release closes the session and frees its resources. The model is released
// even if closing the session fails. Calling Release again returns
// ErrUseAfterRelease.
func (m *Model) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateReleased {
		return ErrUseAfterRelease
	}
	session := m.session
	m.session = nil
	m.state = StateReleased
	if err := session.Close(); err != nil {
		m.log.Warnf("Closing %s session on %s: %v", m.engine, m.path, err)
		return fmt.Errorf("closing session: %w", err)
	}
	m.log.Debugf("Released %s", m.path)
	return nil
}
