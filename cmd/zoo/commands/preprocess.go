package commands

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/docker/model-zoo/pkg/inference/models"
	"github.com/docker/model-zoo/pkg/pipeline"
	"github.com/docker/model-zoo/pkg/tensor"
)

func newPreprocessCmd() *cobra.Command {
	var output string
	c := &cobra.Command{
		Use:   "preprocess MODEL IMAGE",
		Short: "Run a model's preprocessing on an image",
		Long: "Run a model's preprocessing on a PNG, JPEG or GIF image and print the\n" +
			"resulting tensor's shape and statistics. Variable input dimensions keep\n" +
			"the image's size.",
		Args: exactArgs("preprocess MODEL IMAGE", 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := models.Lookup(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			img, err := pipeline.Decode(f)
			if err != nil {
				return err
			}

			p, err := models.CreatePreprocessing(d, nil)
			if err != nil {
				return err
			}
			t, err := p.Apply(img)
			if err != nil {
				return err
			}

			stats := summarize(t)
			cmd.Printf("Pipeline: %s\n", p)
			cmd.Printf("Shape:    %s\n", t.Shape())
			cmd.Printf("Min:      %.4f\n", stats.min)
			cmd.Printf("Max:      %.4f\n", stats.max)
			cmd.Printf("Mean:     %.4f\n", stats.mean)

			if output != "" {
				if err := writeRaw(output, t); err != nil {
					return err
				}
				cmd.Printf("Wrote %d values to %s\n", t.Len(), output)
			}
			return nil
		},
	}
	c.Flags().StringVarP(&output, "output", "o", "", "Write the tensor as little-endian float32 values to a file")
	return c
}

type tensorStats struct {
	min, max, mean float64
}

func summarize(t *tensor.Tensor) tensorStats {
	data := t.Data()
	if len(data) == 0 {
		return tensorStats{}
	}
	s := tensorStats{min: math.Inf(1), max: math.Inf(-1)}
	var sum float64
	for _, v := range data {
		f := float64(v)
		s.min = math.Min(s.min, f)
		s.max = math.Max(s.max, f)
		sum += f
	}
	s.mean = sum / float64(len(data))
	return s
}

func writeRaw(path string, t *tensor.Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, t.Data()); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
