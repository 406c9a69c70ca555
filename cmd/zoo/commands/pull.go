package commands

import (
	"fmt"
	"io"
	"sync"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/docker/model-zoo/pkg/distribution"
	"github.com/docker/model-zoo/pkg/hub"
	"github.com/docker/model-zoo/pkg/inference/models"
)

// maximumConcurrentPulls bounds the downloads started by one pull command.
const maximumConcurrentPulls = 2

func newPullCmd(opts *globalOptions) *cobra.Command {
	var quiet bool
	c := &cobra.Command{
		Use:   "pull MODEL [MODEL...]",
		Short: "Download model artifacts into the cache",
		Args:  requireArgs("pull MODEL [MODEL...]", 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			descriptors, err := lookupAll(args)
			if err != nil {
				return err
			}
			h, err := newHub(cmd, opts)
			if err != nil {
				return err
			}
			var progress io.Writer
			if !quiet {
				progress = cmd.ErrOrStderr()
			}
			return pullModels(cmd, h, descriptors, progress)
		},
	}
	c.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	return c
}

// pullModels pulls descriptors concurrently, printing each cache path once
// its artifact is available.
func pullModels(cmd *cobra.Command, h *hub.Hub, descriptors []*models.Descriptor, progress io.Writer) error {
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(maximumConcurrentPulls)
	for _, d := range descriptors {
		g.Go(func() error {
			var path string
			var err error
			if progress != nil {
				pw, done := progressPrinter(&mu, progress, d.Name())
				path, err = h.Pull(ctx, d, pw)
				pw.Close()
				<-done
			} else {
				path, err = h.Pull(ctx, d, nil)
			}
			if err != nil {
				return fmt.Errorf("pulling %s: %w", d.Name(), err)
			}
			mu.Lock()
			defer mu.Unlock()
			cmd.Printf("%s: %s\n", d.Name(), path)
			return nil
		})
	}
	return g.Wait()
}

// progressPrinter decodes the hub's progress stream for one model into
// human-readable lines on out.
func progressPrinter(mu *sync.Mutex, out io.Writer, name string) (*io.PipeWriter, <-chan struct{}) {
	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := distribution.DecodeMessages(pr, func(msg distribution.Message) error {
			if msg.Type != "progress" {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if msg.Total > 0 {
				fmt.Fprintf(out, "%s: %s / %s\n", name, units.HumanSize(float64(msg.Current)), units.HumanSize(float64(msg.Total)))
			} else {
				fmt.Fprintf(out, "%s: %s\n", name, units.HumanSize(float64(msg.Current)))
			}
			return nil
		})
		pr.CloseWithError(err)
	}()
	return pw, done
}
