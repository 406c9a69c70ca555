package tensor

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is matched by every *ShapeMismatchError.
var ErrShapeMismatch = errors.New("shape mismatch")

// ShapeMismatchError reports a tensor whose shape violates an operation's
// precondition.
type ShapeMismatchError struct {
	// Stage is the position of the failing pipeline stage, or -1 when the
	// check happened outside a pipeline.
	Stage int
	// Op describes the failing operation.
	Op string
	// Expected is the required shape; unspecified entries accept any size.
	Expected Shape
	// Actual is the offending shape.
	Actual Shape
	// Detail is an optional human-readable explanation.
	Detail string
}

func (e *ShapeMismatchError) Error() string {
	msg := fmt.Sprintf("shape mismatch in %s: expected %s, got %s", e.Op, e.Expected, e.Actual)
	if e.Stage >= 0 {
		msg = fmt.Sprintf("stage %d: %s", e.Stage, msg)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is implements error matching for ShapeMismatchError.
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// AtStage returns a copy of e attributed to the given pipeline stage.
func (e *ShapeMismatchError) AtStage(position int, op string) *ShapeMismatchError {
	c := *e
	c.Stage = position
	if op != "" {
		c.Op = op
	}
	return &c
}

// AnyOfRank returns a shape of the given rank with every dimension unspecified.
func AnyOfRank(rank int) Shape {
	s := make(Shape, rank)
	for i := range s {
		s[i] = Unspecified
	}
	return s
}
