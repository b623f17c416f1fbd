package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sagelywizard/blkcaptwrk/pkg/model"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Inspect configured datasets",
}

var datasetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured datasets across every pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		entities, err := loadEntities()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tPATH\tSNAPSHOTTING\tPRUNING\tSCHEDULE")
		for _, p := range entities.Pools {
			for _, d := range p.Datasets {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					d.UUID, model.DisplayName(p.PoolName, d.DatasetName), d.DatasetPath,
					d.SnapshottingState, d.PruningState, scheduleOrDash(d.SnapshotSchedule))
			}
		}
		return tw.Flush()
	},
}

func scheduleOrDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func init() {
	datasetCmd.AddCommand(datasetListCmd)
}
