package models

import (
	"errors"
	"fmt"
	"image"

	"github.com/docker/model-zoo/pkg/inference"
	"github.com/docker/model-zoo/pkg/pipeline"
	"github.com/docker/model-zoo/pkg/tensor"
)

// ImagePipeline turns a decoded image into the tensor a model consumes.
type ImagePipeline = pipeline.Pipeline[image.Image, *tensor.Tensor]

// CreatePreprocessing builds the image pipeline for d using the default
// bilinear resizer. See CreatePreprocessingWith.
func CreatePreprocessing(d *Descriptor, m *inference.Model) (ImagePipeline, error) {
	return CreatePreprocessingWith(d, m, nil)
}

// CreatePreprocessingWith builds resize, image-to-tensor, color-mode
// adaptation and the descriptor's preprocessor into one pipeline. The target
// height and width come from the model's active input shape, then from the
// descriptor's declared shape; dimensions unspecified by both keep the image
// size. m may be nil.
func CreatePreprocessingWith(d *Descriptor, m *inference.Model, r pipeline.Resizer) (ImagePipeline, error) {
	if d == nil {
		return ImagePipeline{}, errors.New("no descriptor")
	}
	height, width := d.spatial()
	if m != nil {
		active, err := m.InputShape()
		if err != nil {
			return ImagePipeline{}, err
		}
		if active.Rank() != d.inputShape.Rank() {
			return ImagePipeline{}, &tensor.ShapeMismatchError{
				Stage:    -1,
				Op:       "create-preprocessing",
				Expected: d.InputShape(),
				Actual:   active,
				Detail:   fmt.Sprintf("model %s does not match descriptor %s", m.Path(), d.name),
			}
		}
		h, w := active[0], active[1]
		if d.channelsFirst {
			h, w = active[1], active[2]
		}
		if h > 0 {
			height = h
		}
		if w > 0 {
			width = w
		}
	}

	color, err := d.colorMode.FromRGB()
	if err != nil {
		return ImagePipeline{}, fmt.Errorf("descriptor %s: %w", d.name, err)
	}

	p := pipeline.Then(pipeline.New[image.Image](d.name), pipeline.Resize(r, width, height))
	out := pipeline.Then(p, pipeline.ImageToTensor)
	out = pipeline.Then(out, color)
	out = pipeline.Then(out, pipeline.TensorOp(d.preprocessor))
	return out, nil
}
