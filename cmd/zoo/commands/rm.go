package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/docker/model-zoo/pkg/hub"
)

func newRemoveCmd(opts *globalOptions) *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "rm [MODEL...]",
		Short: "Remove cached model artifacts",
		Args:  requireArgs("rm [MODEL...]", 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			descriptors, err := lookupAll(args)
			if err != nil {
				return err
			}
			h, err := newHub(cmd, opts)
			if err != nil {
				return err
			}
			var errs []error
			for _, d := range descriptors {
				if err := h.Remove(d); err != nil {
					if force && errors.Is(err, hub.ErrNotCached) {
						continue
					}
					errs = append(errs, err)
					continue
				}
				cmd.Printf("Removed %s\n", d.Name())
			}
			return errors.Join(errs...)
		},
	}
	c.Flags().BoolVarP(&force, "force", "f", false, "Ignore models that are not cached")
	return c
}
