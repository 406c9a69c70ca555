// Package tensor provides the dense float32 tensor exchanged between
// preprocessing pipelines and inference sessions.
package tensor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Unspecified marks a dimension whose size is not fixed (for example a
// variable image height or width).
const Unspecified = -1

// Shape is an ordered list of dimension sizes. Negative entries are
// unspecified and only appear in declared shapes, never in a Tensor.
type Shape []int

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// Size returns the number of elements described by a fully specified shape.
// It returns -1 if any dimension is unspecified.
func (s Shape) Size() int {
	n := 1
	for _, d := range s {
		if d < 0 {
			return -1
		}
		n *= d
	}
	return n
}

// Specified reports whether every dimension has a fixed size.
func (s Shape) Specified() bool {
	for _, d := range s {
		if d < 0 {
			return false
		}
	}
	return true
}

// Equal reports whether two shapes are identical, wildcards included.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Matches reports whether actual conforms to s: same rank, and every fixed
// dimension of s equals the corresponding dimension of actual.
func (s Shape) Matches(actual Shape) bool {
	if len(s) != len(actual) {
		return false
	}
	for i, d := range s {
		if d >= 0 && d != actual[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	c := make(Shape, len(s))
	copy(c, s)
	return c
}

// String renders the shape as (224,224,3), using ? for unspecified sizes.
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		if d < 0 {
			parts[i] = "?"
		} else {
			parts[i] = strconv.Itoa(d)
		}
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// strides returns the row-major strides of a fully specified shape.
func (s Shape) strides() []int {
	st := make([]int, len(s))
	acc := 1
	for i := len(s) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= s[i]
	}
	return st
}

// Tensor is an immutable-by-convention dense tensor in row-major order.
// Operations never modify their input tensor; they allocate a new one.
type Tensor struct {
	shape Shape
	data  []float32
}

var errNegativeDim = errors.New("tensor dimensions must be fixed and non-negative")

// New creates a tensor over data. The data slice is copied.
func New(shape Shape, data []float32) (*Tensor, error) {
	if !shape.Specified() {
		return nil, fmt.Errorf("creating tensor of shape %s: %w", shape, errNegativeDim)
	}
	if len(data) != shape.Size() {
		return nil, &ShapeMismatchError{
			Stage:    -1,
			Op:       "new",
			Expected: shape.Clone(),
			Actual:   Shape{len(data)},
			Detail:   fmt.Sprintf("data holds %d elements, shape needs %d", len(data), shape.Size()),
		}
	}
	d := make([]float32, len(data))
	copy(d, data)
	return &Tensor{shape: shape.Clone(), data: d}, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape ...int) *Tensor {
	s := Shape(shape)
	if !s.Specified() {
		panic(fmt.Sprintf("tensor.Zeros: unspecified dimension in %s", s))
	}
	return &Tensor{shape: s.Clone(), data: make([]float32, s.Size())}
}

// FromFunc builds a tensor by evaluating f at every flat index.
func FromFunc(shape Shape, f func(i int) float32) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = f(i)
	}
	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape.Clone()
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.data)
}

// Data returns a copy of the underlying elements.
func (t *Tensor) Data() []float32 {
	d := make([]float32, len(t.data))
	copy(d, t.data)
	return d
}

// At returns the element at the given multi-dimensional index.
func (t *Tensor) At(idx ...int) float32 {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor.At: %d indices for rank %d", len(idx), len(t.shape)))
	}
	st := t.shape.strides()
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor.At: index %d out of range for dimension %d of %s", v, i, t.shape))
		}
		off += v * st[i]
	}
	return t.data[off]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: t.shape.Clone(), data: t.Data()}
}

// Equal reports whether both tensors have the same shape and bit-identical
// elements.
func (t *Tensor) Equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	if !t.shape.Equal(o.shape) {
		return false
	}
	for i := range t.data {
		if t.data[i] != o.data[i] {
			return false
		}
	}
	return true
}

// Map returns a new tensor with f applied to every element, given the index
// along the last axis (the channel for HWC layouts).
func (t *Tensor) Map(f func(v float32, channel int) float32) *Tensor {
	out := &Tensor{shape: t.shape.Clone(), data: make([]float32, len(t.data))}
	channels := 1
	if len(t.shape) > 0 {
		channels = t.shape[len(t.shape)-1]
	}
	for i, v := range t.data {
		c := 0
		if channels > 0 {
			c = i % channels
		}
		out.data[i] = f(v, c)
	}
	return out
}

// Transpose permutes the tensor's axes. axes must be a permutation of
// 0..rank-1.
func (t *Tensor) Transpose(axes []int) (*Tensor, error) {
	if err := ValidPermutation(axes, len(t.shape)); err != nil {
		return nil, &ShapeMismatchError{
			Stage:    -1,
			Op:       "transpose",
			Expected: AnyOfRank(len(axes)),
			Actual:   t.Shape(),
			Detail:   err.Error(),
		}
	}
	outShape := make(Shape, len(axes))
	for i, a := range axes {
		outShape[i] = t.shape[a]
	}
	out := &Tensor{shape: outShape, data: make([]float32, len(t.data))}
	if len(t.data) == 0 {
		return out, nil
	}

	inStrides := t.shape.strides()
	// srcStrides[i] is the input stride of output axis i.
	srcStrides := make([]int, len(axes))
	for i, a := range axes {
		srcStrides[i] = inStrides[a]
	}
	idx := make([]int, len(outShape))
	src := 0
	for dst := range out.data {
		out.data[dst] = t.data[src]
		// Advance the output index odometer and the matching source offset.
		for ax := len(idx) - 1; ax >= 0; ax-- {
			idx[ax]++
			src += srcStrides[ax]
			if idx[ax] < outShape[ax] {
				break
			}
			src -= srcStrides[ax] * idx[ax]
			idx[ax] = 0
		}
	}
	return out, nil
}

// ValidPermutation checks that axes is a permutation of 0..rank-1.
func ValidPermutation(axes []int, rank int) error {
	if len(axes) != rank {
		return fmt.Errorf("permutation %v has %d axes, tensor has rank %d", axes, len(axes), rank)
	}
	seen := make([]bool, rank)
	for _, a := range axes {
		if a < 0 || a >= rank || seen[a] {
			return fmt.Errorf("%v is not a permutation of 0..%d", axes, rank-1)
		}
		seen[a] = true
	}
	return nil
}

// InversePermutation returns the permutation that undoes axes.
func InversePermutation(axes []int) []int {
	inv := make([]int, len(axes))
	for i, a := range axes {
		inv[a] = i
	}
	return inv
}
