package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect configured pools",
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		entities, err := loadEntities()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tMOUNTPOINT\tDATASETS\tCONTAINERS")
		for _, p := range entities.Pools {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", p.UUID, p.PoolName, p.MountpointPath, len(p.Datasets), len(p.Containers))
		}
		return tw.Flush()
	},
}

func init() {
	poolCmd.AddCommand(poolListCmd)
}
