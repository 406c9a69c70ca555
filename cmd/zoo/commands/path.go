package commands

import (
	"github.com/spf13/cobra"

	"github.com/docker/model-zoo/pkg/inference/models"
)

func newPathCmd(opts *globalOptions) *cobra.Command {
	var resolve bool
	c := &cobra.Command{
		Use:   "path MODEL",
		Short: "Print the cache path of a model's artifact",
		Args:  exactArgs("path MODEL", 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := models.Lookup(args[0])
			if err != nil {
				return err
			}
			h, err := newHub(cmd, opts)
			if err != nil {
				return err
			}
			path := h.Path(d)
			if resolve {
				if path, err = h.Resolve(cmd.Context(), d); err != nil {
					return err
				}
			}
			cmd.Println(path)
			return nil
		},
	}
	c.Flags().BoolVar(&resolve, "resolve", false, "Download the artifact if it is not cached")
	return c
}
