package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var observerCmd = &cobra.Command{
	Use:   "observer",
	Short: "Inspect configured healthcheck observers",
}

var observerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured observers",
	RunE: func(cmd *cobra.Command, args []string) error {
		entities, err := loadEntities()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tOBSERVATIONS\tHEARTBEAT")
		for _, o := range entities.Observers {
			heartbeat := "-"
			if o.Heartbeat != nil {
				heartbeat = o.Heartbeat.Frequency.String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", o.UUID, o.ObserverName, len(o.Observations), heartbeat)
		}
		return tw.Flush()
	},
}

func init() {
	observerCmd.AddCommand(observerListCmd)
}
