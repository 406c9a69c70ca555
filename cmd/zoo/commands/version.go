package commands

import "github.com/spf13/cobra"

// Version is set at link time.
var Version = "dev"

func newVersionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "version",
		Short: "Show the model zoo version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("Model zoo version %s\n", Version)
		},
	}
	return c
}
