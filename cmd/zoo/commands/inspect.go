package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docker/model-zoo/pkg/inference/models"
)

func newInspectCmd(opts *globalOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "inspect MODEL",
		Short: "Display detailed information on one model",
		Args:  exactArgs("inspect MODEL", 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := models.Lookup(args[0])
			if err != nil {
				return err
			}
			h, err := newHub(cmd, opts)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(h.Status(d), "", "  ")
			if err != nil {
				return fmt.Errorf("encoding %s: %w", d.Name(), err)
			}
			cmd.Println(string(out))
			return nil
		},
	}
	return c
}
