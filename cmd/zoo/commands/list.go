package commands

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/docker/go-units"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/docker/model-zoo/pkg/hub"
	"github.com/docker/model-zoo/pkg/inference/models"
)

func newListCmd(opts *globalOptions) *cobra.Command {
	var jsonFormat, cachedOnly bool
	var task string
	c := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the models in the catalog",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			descriptors := models.All()
			if task != "" {
				t, err := models.ParseTask(task)
				if err != nil {
					return err
				}
				descriptors = models.ByTask(t)
			}
			h, err := newHub(cmd, opts)
			if err != nil {
				return err
			}
			statuses := make([]hub.ModelStatus, 0, len(descriptors))
			for _, d := range descriptors {
				status := h.Status(d)
				if cachedOnly && !status.Cached {
					continue
				}
				statuses = append(statuses, status)
			}
			if jsonFormat {
				out, err := json.MarshalIndent(statuses, "", "  ")
				if err != nil {
					return fmt.Errorf("encoding model list: %w", err)
				}
				cmd.Println(string(out))
				return nil
			}
			cmd.Print(modelTable(statuses))
			return nil
		},
	}
	c.Flags().BoolVar(&jsonFormat, "json", false, "List models in a JSON format")
	c.Flags().BoolVar(&cachedOnly, "cached", false, "Only list models whose artifacts are cached")
	c.Flags().StringVar(&task, "task", "", "Only list models for this task")
	return c
}

func modelTable(statuses []hub.ModelStatus) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)

	table.SetHeader([]string{"NAME", "TASK", "INPUT", "PREPROCESSING", "SIZE"})

	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.SetAutoWrapText(false)

	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,  // NAME
		tablewriter.ALIGN_LEFT,  // TASK
		tablewriter.ALIGN_LEFT,  // INPUT
		tablewriter.ALIGN_LEFT,  // PREPROCESSING
		tablewriter.ALIGN_RIGHT, // SIZE
	})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	for _, s := range statuses {
		d := s.Model
		size := "-"
		if s.Cached {
			size = units.CustomSize("%.2f%s", float64(s.Size), 1000.0, []string{"B", "kB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"})
		}
		table.Append([]string{
			d.Name(),
			d.Task().String(),
			d.InputShape().String(),
			d.ColorMode().String() + "/" + d.Convention().String(),
			size,
		})
	}

	table.Render()
	return buf.String()
}
