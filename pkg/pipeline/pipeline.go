// Package pipeline implements composable, type-checked data transformations.
//
// An Operation is a pure function from I to O. Operations are chained into a
// Pipeline, which records every stage as configuration data and defers
// execution until Apply is called. Pipelines are values: Then returns a new
// pipeline and never modifies the one it extends, so a pipeline shared by
// several descriptors or goroutines cannot be altered after it is returned.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/docker/model-zoo/pkg/tensor"
)

// Operation transforms an I into an O.
type Operation[I, O any] interface {
	Apply(in I) (O, error)
}

// OperationFunc adapts a plain function to the Operation interface.
type OperationFunc[I, O any] func(in I) (O, error)

// Apply implements Operation.Apply.
func (f OperationFunc[I, O]) Apply(in I) (O, error) {
	return f(in)
}

// named attaches a description to an operation.
type named[I, O any] struct {
	name string
	op   Operation[I, O]
}

func (n named[I, O]) Apply(in I) (O, error) {
	return n.op.Apply(in)
}

func (n named[I, O]) String() string {
	return n.name
}

// Named returns op described as name in pipeline stage listings.
func Named[I, O any](name string, op Operation[I, O]) Operation[I, O] {
	return named[I, O]{name: name, op: op}
}

// describe returns the stage description of op.
func describe(op any) string {
	if s, ok := op.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", op)
}

// composed is the result of Compose.
type composed[I, M, O any] struct {
	first  Operation[I, M]
	second Operation[M, O]
}

func (c composed[I, M, O]) Apply(in I) (O, error) {
	mid, err := c.first.Apply(in)
	if err != nil {
		var zero O
		return zero, err
	}
	return c.second.Apply(mid)
}

func (c composed[I, M, O]) String() string {
	return describe(c.first) + " | " + describe(c.second)
}

// Compose chains first and second. The intermediate type M is checked by the
// compiler, so incompatible operations cannot be composed.
func Compose[I, M, O any](first Operation[I, M], second Operation[M, O]) Operation[I, O] {
	return composed[I, M, O]{first: first, second: second}
}

// StageError wraps a non-shape error raised by a pipeline stage.
type StageError struct {
	Pipeline string
	Position int
	Stage    string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline %q stage %d (%s): %v", e.Pipeline, e.Position, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Pipeline is an ordered, immutable composition of operations from I to O.
type Pipeline[I, O any] struct {
	name   string
	stages []string
	run    func(I) (O, error)
}

// New starts an identity pipeline over I.
func New[I any](name string) Pipeline[I, I] {
	return Pipeline[I, I]{
		name: name,
		run:  func(in I) (I, error) { return in, nil },
	}
}

// Then returns a new pipeline that runs p followed by op.
func Then[I, M, O any](p Pipeline[I, M], op Operation[M, O]) Pipeline[I, O] {
	position := len(p.stages)
	stage := describe(op)

	stages := make([]string, position+1)
	copy(stages, p.stages)
	stages[position] = stage

	prev := p.run
	if prev == nil {
		prev = func(in I) (M, error) {
			var zero M
			return zero, errors.New("pipeline was not created with pipeline.New")
		}
	}
	name := p.name
	return Pipeline[I, O]{
		name:   name,
		stages: stages,
		run: func(in I) (O, error) {
			var zero O
			mid, err := prev(in)
			if err != nil {
				return zero, err
			}
			out, err := op.Apply(mid)
			if err != nil {
				return zero, stageError(name, position, stage, err)
			}
			return out, nil
		},
	}
}

func stageError(pipeline string, position int, stage string, err error) error {
	var sm *tensor.ShapeMismatchError
	if errors.As(err, &sm) && sm.Stage < 0 {
		return sm.AtStage(position, stage)
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Pipeline: pipeline, Position: position, Stage: stage, Err: err}
}

// Apply runs every stage left to right.
func (p Pipeline[I, O]) Apply(in I) (O, error) {
	if p.run == nil {
		var zero O
		return zero, errors.New("pipeline was not created with pipeline.New")
	}
	return p.run(in)
}

// Name returns the pipeline's name.
func (p Pipeline[I, O]) Name() string {
	return p.name
}

// Len returns the number of stages.
func (p Pipeline[I, O]) Len() int {
	return len(p.stages)
}

// Stages returns the ordered stage descriptions.
func (p Pipeline[I, O]) Stages() []string {
	s := make([]string, len(p.stages))
	copy(s, p.stages)
	return s
}

// String renders the pipeline as name[stage | stage | ...].
func (p Pipeline[I, O]) String() string {
	return p.name + "[" + strings.Join(p.stages, " | ") + "]"
}

// Equal reports whether a and b are structurally identical: same stages with
// the same configuration, in the same order. Stages are compared by their
// descriptions; opaque stages such as Call are compared by name only.
func Equal[I, O any](a, b Pipeline[I, O]) bool {
	if len(a.stages) != len(b.stages) {
		return false
	}
	for i := range a.stages {
		if a.stages[i] != b.stages[i] {
			return false
		}
	}
	return true
}
