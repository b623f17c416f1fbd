package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sagelywizard/blkcaptwrk/pkg/model"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Resolve a full UUID or unambiguous hyphen-stripped prefix to an entity and print it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entities, err := loadEntities()
		if err != nil {
			return err
		}
		id, err := entities.ResolveID(args[0])
		if err != nil {
			return err
		}
		kind, summary := describeEntity(entities, id)
		fmt.Printf("%s\t%s\t%s\n", id, kind, summary)
		return nil
	},
}

// describeEntity scans every entity collection for id and renders a one-line
// summary, mirroring the fields each list subcommand already prints.
func describeEntity(entities *model.Entities, id uuid.UUID) (model.EntityType, string) {
	for _, p := range entities.Pools {
		if p.UUID == id {
			return model.EntityPool, fmt.Sprintf("%s mountpoint=%s", p.PoolName, p.MountpointPath)
		}
		for _, d := range p.Datasets {
			if d.UUID == id {
				return model.EntityDataset, fmt.Sprintf("%s path=%s", model.DisplayName(p.PoolName, d.DatasetName), d.DatasetPath)
			}
		}
		for _, c := range p.Containers {
			if c.UUID == id {
				return model.EntityContainer, fmt.Sprintf("%s path=%s", model.DisplayName(p.PoolName, c.ContainerName), c.ContainerPath)
			}
		}
	}
	for _, s := range entities.Syncs {
		if s.UUID == id {
			return model.EntitySnapshotSync, s.Name()
		}
	}
	for _, o := range entities.Observers {
		if o.UUID == id {
			return model.EntityObserver, o.ObserverName
		}
	}
	return "", "unknown"
}

func init() {
	rootCmd.AddCommand(showCmd)
}
