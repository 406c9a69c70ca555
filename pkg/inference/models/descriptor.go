// Package models is the closed catalog of pretrained model descriptors.
//
// The exported descriptor variables are read-only: reassigning one does not
// change what Lookup, All or ByTask return, which were fixed when the package
// was initialized. Descriptors themselves are immutable.
package models

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/docker/model-zoo/pkg/pipeline"
	"github.com/docker/model-zoo/pkg/tensor"
)

// Task groups descriptors by model family.
type Task uint8

const (
	// TaskClassification is whole-image classification with a prediction head.
	TaskClassification Task = iota
	// TaskClassificationNoTop is a classification backbone with its output
	// layer removed, used as a feature extractor.
	TaskClassificationNoTop
	// TaskObjectDetection is multi-object detection.
	TaskObjectDetection
	// TaskFaceDetection is face bounding-box detection.
	TaskFaceDetection
	// TaskFaceAlignment is facial landmark regression.
	TaskFaceAlignment
	// TaskPoseDetection is human keypoint detection.
	TaskPoseDetection
)

// Tasks lists every task in declaration order.
var Tasks = []Task{
	TaskClassification,
	TaskClassificationNoTop,
	TaskObjectDetection,
	TaskFaceDetection,
	TaskFaceAlignment,
	TaskPoseDetection,
}

// String implements Stringer.String for Task.
func (t Task) String() string {
	switch t {
	case TaskClassification:
		return "classification"
	case TaskClassificationNoTop:
		return "classification-notop"
	case TaskObjectDetection:
		return "object-detection"
	case TaskFaceDetection:
		return "face-detection"
	case TaskFaceAlignment:
		return "face-alignment"
	case TaskPoseDetection:
		return "pose-detection"
	default:
		return fmt.Sprintf("task(%d)", uint8(t))
	}
}

// ParseTask returns the task named s.
func ParseTask(s string) (Task, error) {
	for _, t := range Tasks {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown task %q", s)
}

// MarshalJSON encodes the task by name.
func (t Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// Preprocessor is the tensor-to-tensor pipeline a descriptor requires.
type Preprocessor = pipeline.Pipeline[*tensor.Tensor, *tensor.Tensor]

// Descriptor is an immutable description of one pretrained model variant.
// Descriptors are only created by this package and never change after
// package initialization.
type Descriptor struct {
	name          string
	task          Task
	relativePath  string
	inputShape    tensor.Shape
	channelsFirst bool
	colorMode     pipeline.ColorMode
	convention    pipeline.InputConvention
	normalize     *pipeline.Normalize
	base          *Descriptor
	preprocessor  Preprocessor
}

// entry is the declarative form of a descriptor.
type entry struct {
	name          string
	task          Task
	path          string
	height, width int
	channelsFirst bool
	colorMode     pipeline.ColorMode
	convention    pipeline.InputConvention
	normalize     *pipeline.Normalize
}

// newDescriptor builds a descriptor and its preprocessor.
func newDescriptor(s entry) (*Descriptor, error) {
	if s.name == "" || s.path == "" {
		return nil, fmt.Errorf("descriptor needs a name and a path")
	}
	if path.IsAbs(s.path) || path.Clean(s.path) != s.path {
		return nil, fmt.Errorf("descriptor %s: relative path %q is not clean", s.name, s.path)
	}
	shape := tensor.Shape{s.height, s.width, 3}
	if s.channelsFirst {
		shape = tensor.Shape{3, s.height, s.width}
	}

	p := pipeline.New[*tensor.Tensor](s.name)
	rescale, err := s.convention.Operation()
	if err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", s.name, err)
	}
	p = pipeline.Then(p, pipeline.TensorOp(rescale))
	if s.normalize != nil {
		p = pipeline.Then(p, pipeline.TensorOp(*s.normalize))
	}
	if s.channelsFirst {
		p = pipeline.Then(p, pipeline.TensorOp(pipeline.ChannelsLastToFirst))
	}
	if _, err := s.colorMode.FromRGB(); err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", s.name, err)
	}

	return &Descriptor{
		name:          s.name,
		task:          s.task,
		relativePath:  s.path,
		inputShape:    shape,
		channelsFirst: s.channelsFirst,
		colorMode:     s.colorMode,
		convention:    s.convention,
		normalize:     s.normalize,
		preprocessor:  p,
	}, nil
}

// noHead derives a descriptor that truncates base's output layer. The color
// mode, convention, layout and preprocessor are copied from base verbatim;
// the spatial input dimensions become unspecified.
func noHead(name, relativePath string, base *Descriptor) (*Descriptor, error) {
	if base == nil {
		return nil, fmt.Errorf("no-head descriptor %s has no base", name)
	}
	if base.task != TaskClassification {
		return nil, fmt.Errorf("no-head descriptor %s: base %s is not a classifier", name, base.name)
	}
	if path.IsAbs(relativePath) || path.Clean(relativePath) != relativePath {
		return nil, fmt.Errorf("descriptor %s: relative path %q is not clean", name, relativePath)
	}
	shape := tensor.Shape{tensor.Unspecified, tensor.Unspecified, 3}
	if base.channelsFirst {
		shape = tensor.Shape{3, tensor.Unspecified, tensor.Unspecified}
	}
	return &Descriptor{
		name:          name,
		task:          TaskClassificationNoTop,
		relativePath:  relativePath,
		inputShape:    shape,
		channelsFirst: base.channelsFirst,
		colorMode:     base.colorMode,
		convention:    base.convention,
		normalize:     base.normalize,
		base:          base,
		preprocessor:  base.preprocessor,
	}, nil
}

// Name returns the descriptor's catalog name.
func (d *Descriptor) Name() string {
	return d.name
}

// Task returns the model family.
func (d *Descriptor) Task() Task {
	return d.task
}

// RelativePath returns the storage key of the artifact, relative to a cache
// directory or a remote root. It always uses forward slashes.
func (d *Descriptor) RelativePath() string {
	return d.relativePath
}

// InputShape returns the declared input shape, without batch dimension.
func (d *Descriptor) InputShape() tensor.Shape {
	return d.inputShape.Clone()
}

// ChannelsFirst reports whether the model expects CHW input.
func (d *Descriptor) ChannelsFirst() bool {
	return d.channelsFirst
}

// ColorMode returns the channel order the model was trained with.
func (d *Descriptor) ColorMode() pipeline.ColorMode {
	return d.colorMode
}

// Convention returns the model's pixel rescaling convention.
func (d *Descriptor) Convention() pipeline.InputConvention {
	return d.convention
}

// Preprocessor returns the pipeline that turns an RGB HWC tensor in the
// model's color mode into the tensor the artifact expects.
func (d *Descriptor) Preprocessor() Preprocessor {
	return d.preprocessor
}

// Base returns the descriptor a no-head variant was derived from, or nil.
func (d *Descriptor) Base() *Descriptor {
	return d.base
}

// spatial returns the declared height and width (possibly unspecified).
func (d *Descriptor) spatial() (height, width int) {
	if d.channelsFirst {
		return d.inputShape[1], d.inputShape[2]
	}
	return d.inputShape[0], d.inputShape[1]
}

func (d *Descriptor) String() string {
	return d.name
}

// MarshalJSON exposes the descriptor's metadata.
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	type descriptorJSON struct {
		Name          string                   `json:"name"`
		Task          Task                     `json:"task"`
		Path          string                   `json:"path"`
		InputShape    string                   `json:"input_shape"`
		ChannelsFirst bool                     `json:"channels_first"`
		ColorMode     pipeline.ColorMode       `json:"color_mode"`
		Convention    pipeline.InputConvention `json:"convention"`
		Preprocessing []string                 `json:"preprocessing"`
		Base          string                   `json:"base,omitempty"`
	}
	out := descriptorJSON{
		Name:          d.name,
		Task:          d.task,
		Path:          d.relativePath,
		InputShape:    d.inputShape.String(),
		ChannelsFirst: d.channelsFirst,
		ColorMode:     d.colorMode,
		Convention:    d.convention,
		Preprocessing: d.preprocessor.Stages(),
	}
	if d.base != nil {
		out.Base = d.base.name
	}
	return json.Marshal(out)
}
