package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sagelywizard/blkcaptwrk/pkg/model"
)

var containerCmd = &cobra.Command{
	Use:   "container",
	Short: "Inspect configured containers",
}

var containerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured containers across every pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		entities, err := loadEntities()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tPATH\tPRUNING")
		for _, p := range entities.Pools {
			for _, c := range p.Containers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					c.UUID, model.DisplayName(p.PoolName, c.ContainerName), c.ContainerPath, c.PruningState)
			}
		}
		return tw.Flush()
	},
}

func init() {
	containerCmd.AddCommand(containerListCmd)
}
