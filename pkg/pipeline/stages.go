package pipeline

import (
	"errors"
	"fmt"

	"github.com/docker/model-zoo/pkg/tensor"
)

// TensorOp is an operation from tensor to tensor, the shape of every
// built-in stage.
type TensorOp = Operation[*tensor.Tensor, *tensor.Tensor]

var (
	errNilTensor      = errors.New("nil tensor")
	errStdLength      = errors.New("mean and std must have the same length")
	errZeroStd        = errors.New("std must be non-zero")
	errEmptyNormalize = errors.New("normalize needs at least one channel")
)

// Transpose reorders tensor axes. Axes must be a permutation of the input's
// dimension indices.
type Transpose struct {
	Axes []int
}

// Apply implements Operation.Apply.
func (s Transpose) Apply(in *tensor.Tensor) (*tensor.Tensor, error) {
	if in == nil {
		return nil, errNilTensor
	}
	return in.Transpose(s.Axes)
}

func (s Transpose) String() string {
	return fmt.Sprintf("transpose(axes=%v)", s.Axes)
}

// ChannelsLastToFirst converts HWC to CHW.
var ChannelsLastToFirst = Transpose{Axes: []int{2, 0, 1}}

// ChannelsFirstToLast converts CHW to HWC.
var ChannelsFirstToLast = Transpose{Axes: []int{1, 2, 0}}

// Normalize computes (in[c] - Mean[c]) / Std[c] along the last axis.
type Normalize struct {
	Mean []float32
	Std  []float32
}

// Apply implements Operation.Apply.
func (s Normalize) Apply(in *tensor.Tensor) (*tensor.Tensor, error) {
	if in == nil {
		return nil, errNilTensor
	}
	if len(s.Mean) == 0 {
		return nil, errEmptyNormalize
	}
	if len(s.Mean) != len(s.Std) {
		return nil, fmt.Errorf("%w: %d means, %d stds", errStdLength, len(s.Mean), len(s.Std))
	}
	for _, v := range s.Std {
		if v == 0 {
			return nil, errZeroStd
		}
	}
	shape := in.Shape()
	expected := channelShape(shape, len(s.Mean))
	if len(shape) == 0 || shape[len(shape)-1] != len(s.Mean) || in.Len() == 0 {
		return nil, &tensor.ShapeMismatchError{
			Stage:    -1,
			Op:       "normalize",
			Expected: expected,
			Actual:   shape,
			Detail:   fmt.Sprintf("expected %d channels", len(s.Mean)),
		}
	}
	return in.Map(func(v float32, c int) float32 {
		return (v - s.Mean[c]) / s.Std[c]
	}), nil
}

func (s Normalize) String() string {
	return fmt.Sprintf("normalize(mean=%v, std=%v)", s.Mean, s.Std)
}

// channelShape returns shape with every dimension unspecified except the last,
// which is fixed to channels.
func channelShape(shape tensor.Shape, channels int) tensor.Shape {
	rank := len(shape)
	if rank == 0 {
		rank = 1
	}
	expected := tensor.AnyOfRank(rank)
	expected[rank-1] = channels
	return expected
}

// ReverseChannels reverses the order of the last axis (RGB <-> BGR).
type ReverseChannels struct{}

// Apply implements Operation.Apply.
func (ReverseChannels) Apply(in *tensor.Tensor) (*tensor.Tensor, error) {
	if in == nil {
		return nil, errNilTensor
	}
	shape := in.Shape()
	if len(shape) == 0 || in.Len() == 0 {
		return nil, &tensor.ShapeMismatchError{
			Stage:    -1,
			Op:       "reverse-channels",
			Expected: tensor.AnyOfRank(max(len(shape), 1)),
			Actual:   shape,
			Detail:   "tensor is empty",
		}
	}
	channels := shape[len(shape)-1]
	src := in.Data()
	out := make([]float32, len(src))
	for i := 0; i < len(src); i += channels {
		for c := 0; c < channels; c++ {
			out[i+c] = src[i+channels-1-c]
		}
	}
	return tensor.New(shape, out)
}

func (ReverseChannels) String() string {
	return "reverse-channels"
}

// Call delegates to a collaborator-supplied transform. The pipeline treats
// Op as opaque; Name is its stage description and its only identity, so
// Equal considers two Calls with the same Name equal whatever their Ops. Give
// distinct transforms distinct names.
type Call struct {
	Name string
	Op   TensorOp
}

// Apply implements Operation.Apply.
func (s Call) Apply(in *tensor.Tensor) (*tensor.Tensor, error) {
	if s.Op == nil {
		return nil, fmt.Errorf("call(%s): no operation", s.Name)
	}
	return s.Op.Apply(in)
}

func (s Call) String() string {
	return "call(" + s.Name + ")"
}
