package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Entities is the full in-memory configuration tree, the unit that is
// loaded from and saved to disk as one document.
type Entities struct {
	Pools     []BtrfsPoolEntity            `yaml:"btrfs_pools,omitempty"`
	Syncs     []SnapshotSyncEntity         `yaml:"snapshot_syncs,omitempty"`
	Observers []HealthchecksObserverEntity `yaml:"observers,omitempty"`
}

// AttachPool appends a pool to the tree, rejecting a duplicate name.
func (e *Entities) AttachPool(pool BtrfsPoolEntity) error {
	for _, p := range e.Pools {
		if p.PoolName == pool.PoolName {
			return fmt.Errorf("pool %q already exists", pool.PoolName)
		}
	}
	e.Pools = append(e.Pools, pool)
	return nil
}

// AttachSync appends a sync pairing, rejecting one whose dataset+container
// pair is already wired.
func (e *Entities) AttachSync(sync SnapshotSyncEntity) error {
	for _, s := range e.Syncs {
		if s.DatasetID == sync.DatasetID && s.ContainerID == sync.ContainerID {
			return fmt.Errorf("sync %s already exists", sync.Name())
		}
	}
	e.Syncs = append(e.Syncs, sync)
	return nil
}

// AttachObserver appends an observer, rejecting a duplicate name.
func (e *Entities) AttachObserver(observer HealthchecksObserverEntity) error {
	for _, o := range e.Observers {
		if o.ObserverName == observer.ObserverName {
			return fmt.Errorf("observer %q already exists", observer.ObserverName)
		}
	}
	e.Observers = append(e.Observers, observer)
	return nil
}

// Dataset looks up a dataset by id across every pool.
func (e *Entities) Dataset(id uuid.UUID) (BtrfsDatasetEntity, bool) {
	for _, p := range e.Pools {
		for _, d := range p.Datasets {
			if d.UUID == id {
				return d, true
			}
		}
	}
	return BtrfsDatasetEntity{}, false
}

// Container looks up a container by id across every pool.
func (e *Entities) Container(id uuid.UUID) (BtrfsContainerEntity, bool) {
	for _, p := range e.Pools {
		for _, c := range p.Containers {
			if c.UUID == id {
				return c, true
			}
		}
	}
	return BtrfsContainerEntity{}, false
}

// allIDs collects every entity id in the tree, alongside a human label for
// ambiguity error messages.
func (e *Entities) allIDs() map[uuid.UUID]string {
	ids := make(map[uuid.UUID]string)
	for _, p := range e.Pools {
		ids[p.UUID] = DisplayName(p.PoolName)
		for _, d := range p.Datasets {
			ids[d.UUID] = DisplayName(p.PoolName, d.DatasetName)
		}
		for _, c := range p.Containers {
			ids[c.UUID] = DisplayName(p.PoolName, c.ContainerName)
		}
	}
	for _, s := range e.Syncs {
		ids[s.UUID] = s.Name()
	}
	for _, o := range e.Observers {
		ids[o.UUID] = DisplayName(o.ObserverName)
	}
	return ids
}

// ResolveID resolves a full UUID string or an unambiguous hyphen-stripped
// prefix of one to the entity id it names. An empty, unknown, or ambiguous
// prefix is an error.
func (e *Entities) ResolveID(prefix string) (uuid.UUID, error) {
	if prefix == "" {
		return uuid.Nil, fmt.Errorf("empty id")
	}
	if full, err := uuid.Parse(prefix); err == nil {
		if _, ok := e.allIDs()[full]; ok {
			return full, nil
		}
		return uuid.Nil, fmt.Errorf("no entity with id %s", full)
	}

	needle := strings.ToLower(strings.ReplaceAll(prefix, "-", ""))
	var matches []uuid.UUID
	for id := range e.allIDs() {
		hay := strings.ReplaceAll(id.String(), "-", "")
		if strings.HasPrefix(hay, needle) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return uuid.Nil, fmt.Errorf("no entity id matches prefix %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return uuid.Nil, fmt.Errorf("prefix %q is ambiguous between %d entities", prefix, len(matches))
	}
}
