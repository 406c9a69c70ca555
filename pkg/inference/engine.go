package inference

import (
	"github.com/docker/model-zoo/pkg/tensor"
)

// Signature describes the inputs and outputs an artifact declares.
type Signature struct {
	// InputName is the name of the single image input.
	InputName string `json:"input"`
	// InputShape is the declared input shape, excluding the batch dimension.
	// Unspecified dimensions accept any size.
	InputShape tensor.Shape `json:"input_shape"`
	// OutputNames lists the named outputs produced by a run.
	OutputNames []string `json:"outputs"`
}

// Engine is the interface implemented by inference runtimes. The model zoo
// never inspects engine-internal representations; it only hands over
// artifact bytes and named tensors.
type Engine interface {
	// Name returns the engine name, suitable for logs.
	Name() string
	// OpenSession parses an artifact and returns a session bound to it. A
	// returned error means the artifact is not loadable by this engine and
	// should carry the engine's diagnostic.
	OpenSession(artifact []byte) (Session, error)
}

// Session is a loaded runtime session. Sessions need not be safe for
// concurrent use; a Model serializes access to its session.
type Session interface {
	// Signature returns the artifact's declared signature.
	Signature() Signature
	// Run executes the session on named inputs and returns named outputs.
	// Run blocks until the runtime completes and is not cancellable.
	Run(inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error)
	// Close frees the session and every native resource it holds.
	Close() error
}

// Reshaper is implemented by sessions that must be told when the active
// input shape changes.
type Reshaper interface {
	Reshape(shape tensor.Shape) error
}
