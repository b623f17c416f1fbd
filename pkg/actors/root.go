package actors

import (
	"context"
	"fmt"
	"time"

	"github.com/sagelywizard/blkcaptwrk/pkg/actor"
	"github.com/sagelywizard/blkcaptwrk/pkg/core"
	"github.com/sagelywizard/blkcaptwrk/pkg/fsgateway"
	"github.com/sagelywizard/blkcaptwrk/pkg/model"
)

// maxRestarts bounds how many times the supervisor retries any one actor
// before giving up on it; every actor in the graph is equally disposable,
// so one constant covers all of them.
const maxRestarts = 5

// shutdownGracePeriod is how long a DatasetActor or ContainerActor keeps
// servicing its mailbox after the supervisor cancels its context, so a
// SyncActor mid-cycle at the moment of shutdown can still deliver its hold
// releases. Comfortably inside Supervisor.Shutdown's own timeout.
const shutdownGracePeriod = 5 * time.Second

// Root owns the supervisor and the live actor graph built from a loaded
// configuration tree, and is the single thing cmd/blkcaptwrk needs to start
// and stop the daemon.
type Root struct {
	Supervisor *actor.Supervisor
	Broker     *Broker

	datasets   map[string]*DatasetActor
	containers map[string]*ContainerActor
}

// Start loads every entity from dir, attaches it to the filesystem through
// gw, and spawns the full actor graph under a fresh supervisor: pools and
// their datasets/containers first, then syncs (which depend on both sides
// already running), then observers last.
func Start(ctx context.Context, gw fsgateway.Gateway, dir string) (*Root, error) {
	entities, err := model.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	sup := actor.NewSupervisor(ctx)
	broker := NewBroker()
	root := &Root{
		Supervisor: sup,
		Broker:     broker,
		datasets:   make(map[string]*DatasetActor),
		containers: make(map[string]*ContainerActor),
	}

	for _, poolEntity := range entities.Pools {
		pool, err := core.AttachPool(ctx, gw, poolEntity)
		if err != nil {
			return nil, fmt.Errorf("attach pool %s: %w", poolEntity.PoolName, err)
		}

		for _, datasetEntity := range poolEntity.Datasets {
			dataset, err := core.AttachDataset(ctx, gw, pool, datasetEntity)
			if err != nil {
				return nil, fmt.Errorf("attach dataset %s: %w", datasetEntity.DatasetName, err)
			}
			a := NewDatasetActor(dataset, broker)
			root.datasets[datasetEntity.UUID.String()] = a
			sup.Spawn("dataset/"+dataset.String(), maxRestarts, a.Run)
		}

		for _, containerEntity := range poolEntity.Containers {
			container, err := core.AttachContainer(ctx, gw, pool, containerEntity)
			if err != nil {
				return nil, fmt.Errorf("attach container %s: %w", containerEntity.ContainerName, err)
			}
			a := NewContainerActor(container, broker)
			root.containers[containerEntity.UUID.String()] = a
			sup.Spawn("container/"+container.String(), maxRestarts, a.Run)
		}
	}

	for _, syncEntity := range entities.Syncs {
		dataset, ok := root.datasets[syncEntity.DatasetID.String()]
		if !ok {
			return nil, fmt.Errorf("sync %s: unknown dataset %s", syncEntity.Name(), syncEntity.DatasetID)
		}
		container, ok := root.containers[syncEntity.ContainerID.String()]
		if !ok {
			return nil, fmt.Errorf("sync %s: unknown container %s", syncEntity.Name(), syncEntity.ContainerID)
		}
		a := NewSyncActor(syncEntity, dataset, container, broker)
		sup.Spawn("sync/"+syncEntity.Name(), maxRestarts, a.Run)
	}

	for _, observerEntity := range entities.Observers {
		a := NewObserverActor(observerEntity, broker)
		sup.Spawn("observer/"+observerEntity.ObserverName, maxRestarts, a.Run)
	}

	return root, nil
}
