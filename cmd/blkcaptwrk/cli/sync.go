package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Inspect configured dataset-to-container syncs",
}

var syncListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured syncs",
	RunE: func(cmd *cobra.Command, args []string) error {
		entities, err := loadEntities()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tDATASET\tCONTAINER\tSCHEDULE")
		for _, s := range entities.Syncs {
			datasetName := s.DatasetID.String()
			if d, ok := entities.Dataset(s.DatasetID); ok {
				datasetName = d.DatasetName
			}
			containerName := s.ContainerID.String()
			if c, ok := entities.Container(s.ContainerID); ok {
				containerName = c.ContainerName
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.UUID, datasetName, containerName, scheduleOrDash(s.SyncSchedule))
		}
		return tw.Flush()
	},
}

func init() {
	syncCmd.AddCommand(syncListCmd)
}
