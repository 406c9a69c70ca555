package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/docker/model-zoo/pkg/pipeline"
	"github.com/docker/model-zoo/pkg/tensor"
)

// variable marks a spatial dimension the model accepts at any size.
const variable = tensor.Unspecified

// must panics if a catalog entry is malformed. The catalog is static, so a
// failure is a programming error caught by the package tests.
func must(d *Descriptor, err error) *Descriptor {
	if err != nil {
		panic(fmt.Sprintf("models: invalid catalog entry: %v", err))
	}
	return d
}

func classifier(name, path string, size int, mode pipeline.ColorMode, c pipeline.InputConvention) *Descriptor {
	return must(newDescriptor(entry{
		name:       name,
		task:       TaskClassification,
		path:       path,
		height:     size,
		width:      size,
		colorMode:  mode,
		convention: c,
	}))
}

// Classification models. Keras-converted models take HWC input.
var (
	ResNet18 = must(newDescriptor(entry{
		name: "ResNet18", task: TaskClassification, path: "models/onnx/cv/resnet/resnet18-v1.onnx",
		height: 224, width: 224, channelsFirst: true, colorMode: pipeline.RGB, convention: pipeline.ConventionTorch,
	}))
	ResNet34 = must(newDescriptor(entry{
		name: "ResNet34", task: TaskClassification, path: "models/onnx/cv/resnet/resnet34-v1.onnx",
		height: 224, width: 224, channelsFirst: true, colorMode: pipeline.RGB, convention: pipeline.ConventionTorch,
	}))
	ResNet50     = classifier("ResNet50", "models/onnx/cv/resnet/resnet50.onnx", 224, pipeline.BGR, pipeline.ConventionCaffe)
	ResNet101    = classifier("ResNet101", "models/onnx/cv/resnet/resnet101.onnx", 224, pipeline.BGR, pipeline.ConventionCaffe)
	ResNet152    = classifier("ResNet152", "models/onnx/cv/resnet/resnet152.onnx", 224, pipeline.BGR, pipeline.ConventionCaffe)
	ResNet50v2   = classifier("ResNet50v2", "models/onnx/cv/resnet/resnet50v2.onnx", 224, pipeline.RGB, pipeline.ConventionTF)
	ResNet101v2  = classifier("ResNet101v2", "models/onnx/cv/resnet/resnet101v2.onnx", 224, pipeline.RGB, pipeline.ConventionTF)
	ResNet152v2  = classifier("ResNet152v2", "models/onnx/cv/resnet/resnet152v2.onnx", 224, pipeline.RGB, pipeline.ConventionTF)
	VGG16        = classifier("VGG16", "models/onnx/cv/vgg/vgg16.onnx", 224, pipeline.BGR, pipeline.ConventionCaffe)
	VGG19        = classifier("VGG19", "models/onnx/cv/vgg/vgg19.onnx", 224, pipeline.BGR, pipeline.ConventionCaffe)
	MobileNet    = classifier("MobileNet", "models/onnx/cv/mobilenet/mobilenet.onnx", 224, pipeline.RGB, pipeline.ConventionTF)
	MobileNetV2  = classifier("MobileNetV2", "models/onnx/cv/mobilenet/mobilenetv2.onnx", 224, pipeline.RGB, pipeline.ConventionTF)
	DenseNet121  = classifier("DenseNet121", "models/onnx/cv/densenet/densenet121.onnx", 224, pipeline.RGB, pipeline.ConventionTorch)
	DenseNet169  = classifier("DenseNet169", "models/onnx/cv/densenet/densenet169.onnx", 224, pipeline.RGB, pipeline.ConventionTorch)
	DenseNet201  = classifier("DenseNet201", "models/onnx/cv/densenet/densenet201.onnx", 224, pipeline.RGB, pipeline.ConventionTorch)
	Xception     = classifier("Xception", "models/onnx/cv/xception/xception.onnx", 299, pipeline.RGB, pipeline.ConventionTF)
	InceptionV3  = classifier("InceptionV3", "models/onnx/cv/inception/inceptionv3.onnx", 299, pipeline.RGB, pipeline.ConventionTF)
	NASNetMobile = classifier("NASNetMobile", "models/onnx/cv/nasnet/nasnet-mobile.onnx", 224, pipeline.RGB, pipeline.ConventionTF)
	NASNetLarge  = classifier("NASNetLarge", "models/onnx/cv/nasnet/nasnet-large.onnx", 331, pipeline.RGB, pipeline.ConventionTF)

	// EfficientNet models embed their own rescaling layer.
	EfficientNetB0 = classifier("EfficientNetB0", "models/onnx/cv/efficientnet/efficientnet-b0.onnx", 224, pipeline.RGB, pipeline.ConventionRaw)
	EfficientNetB1 = classifier("EfficientNetB1", "models/onnx/cv/efficientnet/efficientnet-b1.onnx", 240, pipeline.RGB, pipeline.ConventionRaw)
	EfficientNetB2 = classifier("EfficientNetB2", "models/onnx/cv/efficientnet/efficientnet-b2.onnx", 260, pipeline.RGB, pipeline.ConventionRaw)
	EfficientNetB3 = classifier("EfficientNetB3", "models/onnx/cv/efficientnet/efficientnet-b3.onnx", 300, pipeline.RGB, pipeline.ConventionRaw)
	EfficientNetB4 = classifier("EfficientNetB4", "models/onnx/cv/efficientnet/efficientnet-b4.onnx", 380, pipeline.RGB, pipeline.ConventionRaw)
	EfficientNetB5 = classifier("EfficientNetB5", "models/onnx/cv/efficientnet/efficientnet-b5.onnx", 456, pipeline.RGB, pipeline.ConventionRaw)
	EfficientNetB6 = classifier("EfficientNetB6", "models/onnx/cv/efficientnet/efficientnet-b6.onnx", 528, pipeline.RGB, pipeline.ConventionRaw)
	EfficientNetB7 = classifier("EfficientNetB7", "models/onnx/cv/efficientnet/efficientnet-b7.onnx", 600, pipeline.RGB, pipeline.ConventionRaw)
)

// Classification backbones without their prediction head.
var (
	ResNet50Custom    = must(noHead("ResNet50Custom", "models/onnx/cv/custom/resnet50notop.onnx", ResNet50))
	ResNet101Custom   = must(noHead("ResNet101Custom", "models/onnx/cv/custom/resnet101notop.onnx", ResNet101))
	ResNet152Custom   = must(noHead("ResNet152Custom", "models/onnx/cv/custom/resnet152notop.onnx", ResNet152))
	MobileNetV2Custom = must(noHead("MobileNetV2Custom", "models/onnx/cv/custom/mobilenetv2notop.onnx", MobileNetV2))

	EfficientNetB0NoTop = must(noHead("EfficientNetB0NoTop", "models/onnx/cv/efficientnet/efficientnet-b0-notop.onnx", EfficientNetB0))
	EfficientNetB1NoTop = must(noHead("EfficientNetB1NoTop", "models/onnx/cv/efficientnet/efficientnet-b1-notop.onnx", EfficientNetB1))
	EfficientNetB2NoTop = must(noHead("EfficientNetB2NoTop", "models/onnx/cv/efficientnet/efficientnet-b2-notop.onnx", EfficientNetB2))
	EfficientNetB3NoTop = must(noHead("EfficientNetB3NoTop", "models/onnx/cv/efficientnet/efficientnet-b3-notop.onnx", EfficientNetB3))
	EfficientNetB4NoTop = must(noHead("EfficientNetB4NoTop", "models/onnx/cv/efficientnet/efficientnet-b4-notop.onnx", EfficientNetB4))
	EfficientNetB5NoTop = must(noHead("EfficientNetB5NoTop", "models/onnx/cv/efficientnet/efficientnet-b5-notop.onnx", EfficientNetB5))
	EfficientNetB6NoTop = must(noHead("EfficientNetB6NoTop", "models/onnx/cv/efficientnet/efficientnet-b6-notop.onnx", EfficientNetB6))
	EfficientNetB7NoTop = must(noHead("EfficientNetB7NoTop", "models/onnx/cv/efficientnet/efficientnet-b7-notop.onnx", EfficientNetB7))
)

// Object detection.
var (
	SSD = must(newDescriptor(entry{
		name: "SSD", task: TaskObjectDetection, path: "models/onnx/objectdetection/ssd.onnx",
		height: 1200, width: 1200, channelsFirst: true, colorMode: pipeline.RGB, convention: pipeline.ConventionTorch,
	}))
	SSDMobileNetV1 = must(newDescriptor(entry{
		name: "SSDMobileNetV1", task: TaskObjectDetection, path: "models/onnx/objectdetection/ssd-mobilenet-v1.onnx",
		height: variable, width: variable, colorMode: pipeline.RGB, convention: pipeline.ConventionRaw,
	}))
	EfficientDetD0 = must(newDescriptor(entry{
		name: "EfficientDetD0", task: TaskObjectDetection, path: "models/onnx/objectdetection/efficientdet/efficientdet-d0.onnx",
		height: 512, width: 512, colorMode: pipeline.RGB, convention: pipeline.ConventionRaw,
	}))
	EfficientDetD1 = must(newDescriptor(entry{
		name: "EfficientDetD1", task: TaskObjectDetection, path: "models/onnx/objectdetection/efficientdet/efficientdet-d1.onnx",
		height: 640, width: 640, colorMode: pipeline.RGB, convention: pipeline.ConventionRaw,
	}))
	EfficientDetD2 = must(newDescriptor(entry{
		name: "EfficientDetD2", task: TaskObjectDetection, path: "models/onnx/objectdetection/efficientdet/efficientdet-d2.onnx",
		height: 768, width: 768, colorMode: pipeline.RGB, convention: pipeline.ConventionRaw,
	}))
)

// ultraFaceNormalize maps [0,255] pixels to roughly [-1,1].
var ultraFaceNormalize = &pipeline.Normalize{
	Mean: []float32{127, 127, 127},
	Std:  []float32{128, 128, 128},
}

// Face detection and alignment.
var (
	UltraFace320 = must(newDescriptor(entry{
		name: "UltraFace320", task: TaskFaceDetection, path: "models/onnx/facedetection/ultraface/version-RFB-320.onnx",
		height: 240, width: 320, channelsFirst: true, colorMode: pipeline.RGB, convention: pipeline.ConventionRaw,
		normalize: ultraFaceNormalize,
	}))
	UltraFace640 = must(newDescriptor(entry{
		name: "UltraFace640", task: TaskFaceDetection, path: "models/onnx/facedetection/ultraface/version-RFB-640.onnx",
		height: 480, width: 640, channelsFirst: true, colorMode: pipeline.RGB, convention: pipeline.ConventionRaw,
		normalize: ultraFaceNormalize,
	}))
	Fan2D106 = must(newDescriptor(entry{
		name: "Fan2D106", task: TaskFaceAlignment, path: "models/onnx/facealignment/fan-2d106.onnx",
		height: 192, width: 192, channelsFirst: true, colorMode: pipeline.RGB, convention: pipeline.ConventionRaw,
	}))
)

// Pose detection.
var (
	MoveNetSinglePoseLighting = must(newDescriptor(entry{
		name: "MoveNetSinglePoseLighting", task: TaskPoseDetection, path: "models/onnx/poseestimation/movenet/singlepose-lighting.onnx",
		height: 192, width: 192, colorMode: pipeline.RGB, convention: pipeline.ConventionRaw,
	}))
	MoveNetSinglePoseThunder = must(newDescriptor(entry{
		name: "MoveNetSinglePoseThunder", task: TaskPoseDetection, path: "models/onnx/poseestimation/movenet/singlepose-thunder.onnx",
		height: 256, width: 256, colorMode: pipeline.RGB, convention: pipeline.ConventionRaw,
	}))
	MoveNetMultiPoseLighting = must(newDescriptor(entry{
		name: "MoveNetMultiPoseLighting", task: TaskPoseDetection, path: "models/onnx/poseestimation/movenet/multipose-lighting.onnx",
		height: variable, width: variable, colorMode: pipeline.RGB, convention: pipeline.ConventionRaw,
	}))
)

// catalog holds every descriptor in declaration order.
var catalog = []*Descriptor{
	ResNet18, ResNet34, ResNet50, ResNet101, ResNet152,
	ResNet50v2, ResNet101v2, ResNet152v2,
	VGG16, VGG19, MobileNet, MobileNetV2,
	DenseNet121, DenseNet169, DenseNet201,
	Xception, InceptionV3, NASNetMobile, NASNetLarge,
	EfficientNetB0, EfficientNetB1, EfficientNetB2, EfficientNetB3,
	EfficientNetB4, EfficientNetB5, EfficientNetB6, EfficientNetB7,

	ResNet50Custom, ResNet101Custom, ResNet152Custom, MobileNetV2Custom,
	EfficientNetB0NoTop, EfficientNetB1NoTop, EfficientNetB2NoTop, EfficientNetB3NoTop,
	EfficientNetB4NoTop, EfficientNetB5NoTop, EfficientNetB6NoTop, EfficientNetB7NoTop,

	SSD, SSDMobileNetV1, EfficientDetD0, EfficientDetD1, EfficientDetD2,

	UltraFace320, UltraFace640, Fan2D106,

	MoveNetSinglePoseLighting, MoveNetSinglePoseThunder, MoveNetMultiPoseLighting,
}

// byName indexes the catalog by lowercase name.
var byName = func() map[string]*Descriptor {
	m := make(map[string]*Descriptor, len(catalog))
	for _, d := range catalog {
		key := strings.ToLower(d.name)
		if _, dup := m[key]; dup {
			panic("models: duplicate catalog name " + d.name)
		}
		m[key] = d
	}
	return m
}()

// All returns every descriptor in catalog order.
func All() []*Descriptor {
	return append([]*Descriptor(nil), catalog...)
}

// ByTask returns the descriptors of one task family.
func ByTask(t Task) []*Descriptor {
	var out []*Descriptor
	for _, d := range catalog {
		if d.task == t {
			out = append(out, d)
		}
	}
	return out
}

// Lookup finds a descriptor by name, ignoring case.
func Lookup(name string) (*Descriptor, error) {
	d, ok := byName[strings.ToLower(name)]
	if !ok {
		return nil, &UnknownModelError{Name: name, Suggestions: suggest(name)}
	}
	return d, nil
}

// Names returns every catalog name, sorted.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for _, d := range catalog {
		names = append(names, d.name)
	}
	sort.Strings(names)
	return names
}

// suggest returns catalog names sharing a prefix with name.
func suggest(name string) []string {
	lower := strings.ToLower(name)
	if len(lower) < 3 {
		return nil
	}
	var out []string
	for _, d := range catalog {
		if strings.HasPrefix(strings.ToLower(d.name), lower[:3]) {
			out = append(out, d.name)
		}
	}
	return out
}
