package pipeline

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"

	"github.com/docker/model-zoo/pkg/tensor"
)

var errNilImage = errors.New("nil image")

// Decode decodes a PNG, JPEG or GIF image.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// Resizer scales an image to the given width and height.
type Resizer interface {
	Resize(img image.Image, width, height int) image.Image
}

// DrawResizer resizes with an x/image/draw interpolator.
type DrawResizer struct {
	// Interpolator defaults to draw.BiLinear.
	Interpolator draw.Interpolator
}

// Resize implements Resizer.Resize.
func (r DrawResizer) Resize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	interp := r.Interpolator
	if interp == nil {
		interp = draw.BiLinear
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	interp.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Resize returns the operation that scales images to width x height. A
// non-positive size keeps the source dimension.
func Resize(r Resizer, width, height int) Operation[image.Image, image.Image] {
	if r == nil {
		r = DrawResizer{}
	}
	return Named[image.Image, image.Image](fmt.Sprintf("resize(%dx%d)", width, height),
		OperationFunc[image.Image, image.Image](func(img image.Image) (image.Image, error) {
			if img == nil {
				return nil, errNilImage
			}
			w, h := width, height
			b := img.Bounds()
			if w <= 0 {
				w = b.Dx()
			}
			if h <= 0 {
				h = b.Dy()
			}
			return r.Resize(img, w, h), nil
		}))
}

// ImageToTensor converts an image to an HWC tensor of RGB values in [0,255].
var ImageToTensor Operation[image.Image, *tensor.Tensor] = Named[image.Image, *tensor.Tensor]("image-to-tensor",
	OperationFunc[image.Image, *tensor.Tensor](imageToTensor))

func imageToTensor(img image.Image) (*tensor.Tensor, error) {
	if img == nil {
		return nil, errNilImage
	}
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	if h == 0 || w == 0 {
		return nil, &tensor.ShapeMismatchError{
			Stage:    -1,
			Op:       "image-to-tensor",
			Expected: tensor.Shape{tensor.Unspecified, tensor.Unspecified, 3},
			Actual:   tensor.Shape{h, w, 3},
			Detail:   "image is empty",
		}
	}
	data := make([]float32, 0, h*w*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			data = append(data, float32(r>>8), float32(g>>8), float32(bl>>8))
		}
	}
	return tensor.New(tensor.Shape{h, w, 3}, data)
}
