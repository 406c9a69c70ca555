package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/docker/model-zoo/pkg/tensor"
)

// InputConvention identifies how a pretrained model expects pixel values to
// be rescaled and recentered.
type InputConvention uint8

const (
	// ConventionRaw leaves pixel values in [0,255].
	ConventionRaw InputConvention = iota
	// ConventionCaffe expects BGR pixels in [0,255] recentered by the ImageNet
	// channel means.
	ConventionCaffe
	// ConventionTF rescales pixels to [-1,1].
	ConventionTF
	// ConventionTorch rescales pixels to [0,1] and normalizes them with the
	// ImageNet mean and standard deviation.
	ConventionTorch
	// ConventionZeroOne rescales pixels to [0,1].
	ConventionZeroOne
)

// ImageNet statistics. CaffeMeans are in BGR order and on the [0,255] scale;
// TorchMean and TorchStd are in RGB order on the [0,1] scale.
var (
	CaffeMeans = []float32{103.939, 116.779, 123.68}
	TorchMean  = []float32{0.485, 0.456, 0.406}
	TorchStd   = []float32{0.229, 0.224, 0.225}
)

// String implements Stringer.String for InputConvention.
func (c InputConvention) String() string {
	switch c {
	case ConventionRaw:
		return "raw"
	case ConventionCaffe:
		return "caffe"
	case ConventionTF:
		return "tf"
	case ConventionTorch:
		return "torch"
	case ConventionZeroOne:
		return "zero-one"
	default:
		return fmt.Sprintf("convention(%d)", uint8(c))
	}
}

// MarshalJSON encodes the convention by name.
func (c InputConvention) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func scale(factor, offset float32) func(v float32, _ int) float32 {
	return func(v float32, _ int) float32 { return v*factor + offset }
}

func mapOp(f func(v float32, c int) float32) TensorOp {
	return OperationFunc[*tensor.Tensor, *tensor.Tensor](func(in *tensor.Tensor) (*tensor.Tensor, error) {
		if in == nil {
			return nil, errNilTensor
		}
		return in.Map(f), nil
	})
}

// Operation returns the opaque rescaling stage for c. Unknown conventions are
// an error.
func (c InputConvention) Operation() (Call, error) {
	var op TensorOp
	switch c {
	case ConventionRaw:
		op = OperationFunc[*tensor.Tensor, *tensor.Tensor](func(in *tensor.Tensor) (*tensor.Tensor, error) {
			if in == nil {
				return nil, errNilTensor
			}
			return in.Clone(), nil
		})
	case ConventionCaffe:
		op = Normalize{Mean: CaffeMeans, Std: []float32{1, 1, 1}}
	case ConventionTF:
		op = mapOp(scale(1/127.5, -1))
	case ConventionTorch:
		op = Compose[*tensor.Tensor, *tensor.Tensor, *tensor.Tensor](
			mapOp(scale(1.0/255, 0)),
			Normalize{Mean: TorchMean, Std: TorchStd},
		)
	case ConventionZeroOne:
		op = mapOp(scale(1.0/255, 0))
	default:
		return Call{}, fmt.Errorf("unknown input convention %d", uint8(c))
	}
	return Call{Name: c.String(), Op: op}, nil
}

// ColorMode is the channel order a model was trained with.
type ColorMode uint8

const (
	// RGB orders channels red, green, blue.
	RGB ColorMode = iota
	// BGR orders channels blue, green, red.
	BGR
)

// String implements Stringer.String for ColorMode.
func (m ColorMode) String() string {
	switch m {
	case RGB:
		return "rgb"
	case BGR:
		return "bgr"
	default:
		return fmt.Sprintf("color-mode(%d)", uint8(m))
	}
}

// MarshalJSON encodes the color mode by name.
func (m ColorMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// FromRGB returns the stage that converts an RGB tensor to mode m.
func (m ColorMode) FromRGB() (TensorOp, error) {
	switch m {
	case RGB:
		return Named[*tensor.Tensor, *tensor.Tensor]("color(rgb)", OperationFunc[*tensor.Tensor, *tensor.Tensor](
			func(in *tensor.Tensor) (*tensor.Tensor, error) {
				if in == nil {
					return nil, errNilTensor
				}
				return in, nil
			})), nil
	case BGR:
		return Named[*tensor.Tensor, *tensor.Tensor]("color(bgr)", ReverseChannels{}), nil
	default:
		return nil, fmt.Errorf("unknown color mode %d", uint8(m))
	}
}
