// Package commands implements the zoo command line.
package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/docker/model-zoo/pkg/config"
	"github.com/docker/model-zoo/pkg/hub"
	"github.com/docker/model-zoo/pkg/inference/models"
	"github.com/docker/model-zoo/pkg/logging"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	cacheDir string
	remote   string
	debug    bool
}

// NewRootCmd creates the zoo command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "zoo",
		Short:         "Pretrained model catalog and preprocessing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.cacheDir, "cache", "", "Model cache directory (overrides "+config.EnvCache+")")
	flags.StringVar(&opts.remote, "remote", "", "Remote artifact source (overrides "+config.EnvRemote+")")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newListCmd(opts),
		newPullCmd(opts),
		newPathCmd(opts),
		newInspectCmd(opts),
		newRemoveCmd(opts),
		newPreprocessCmd(),
	)
	return rootCmd
}

// newHub builds a hub from the environment and the global flags. Hub logs go
// to the command's error stream.
func newHub(cmd *cobra.Command, opts *globalOptions) (*hub.Hub, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if opts.cacheDir != "" {
		cfg.CacheDir = opts.cacheDir
	}
	if opts.remote != "" {
		cfg.Remote.URL = opts.remote
	}
	source, err := cfg.Source()
	if err != nil {
		return nil, fmt.Errorf("configuring remote: %w", err)
	}

	log := logging.New()
	log.SetOutput(cmd.ErrOrStderr())
	switch {
	case opts.debug:
		log.SetLevel(logrus.DebugLevel)
	case log.GetLevel() < logrus.DebugLevel:
		log.SetLevel(logrus.WarnLevel)
	}
	return hub.New(hub.Options{
		CacheDir: cfg.CacheDir,
		Source:   source,
		Logger:   log,
	})
}

// lookupAll resolves every name, failing on the first unknown one.
func lookupAll(names []string) ([]*models.Descriptor, error) {
	descriptors := make([]*models.Descriptor, 0, len(names))
	for _, name := range names {
		d, err := models.Lookup(name)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// requireArgs mirrors the usage errors of the docker CLI.
func requireArgs(use string, min int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < min {
			return fmt.Errorf(
				"'zoo %s' requires at least %d argument(s).\n\n"+
					"Usage:  zoo %s\n\n"+
					"See 'zoo %s --help' for more information",
				cmd.Name(), min, use, cmd.Name(),
			)
		}
		return nil
	}
}

// exactArgs is requireArgs with an upper bound.
func exactArgs(use string, n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf(
				"'zoo %s' requires %d argument(s).\n\n"+
					"Usage:  zoo %s\n\n"+
					"See 'zoo %s --help' for more information",
				cmd.Name(), n, use, cmd.Name(),
			)
		}
		return nil
	}
}
