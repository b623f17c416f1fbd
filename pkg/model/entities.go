// Package model holds the persisted configuration entities for the
// block-capture daemon: pools, datasets, containers, snapshot syncs, and
// healthcheck observers. Entities are pure data; validation against the live
// filesystem happens one layer up, in pkg/core.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FeatureState toggles a dataset/container capability independent of
// whether the entity itself exists.
type FeatureState string

const (
	FeatureEnabled  FeatureState = "enabled"
	FeaturePaused   FeatureState = "paused"
	FeatureDisabled FeatureState = "disabled"
)

// ObservableEvent names the lifecycle events that can be routed to an
// external healthcheck.
type ObservableEvent string

const (
	EventDatasetSnapshot ObservableEvent = "dataset_snapshot"
	EventDatasetPrune    ObservableEvent = "dataset_prune"
	EventContainerPrune  ObservableEvent = "container_prune"
	EventDatasetSync     ObservableEvent = "dataset_sync"
)

// EntityType names the kind of a config entity, used in error messages and
// CLI output.
type EntityType string

const (
	EntityPool         EntityType = "pool"
	EntityDataset      EntityType = "dataset"
	EntityContainer    EntityType = "container"
	EntitySnapshotSync EntityType = "snapshot_sync"
	EntityObserver     EntityType = "observer"
)

// Entity is implemented by every top-level config object.
type Entity interface {
	ID() uuid.UUID
	Name() string
	EntityType() EntityType
}

// RetentionInterval is one bucket of a retention rule: a window of Count
// Interval-sized slots, in each of which the newest snapshot is kept.
type RetentionInterval struct {
	Interval time.Duration `yaml:"interval"`
	Count    int           `yaml:"count"`
}

// RetentionRule is pure data describing how long to keep snapshots.
type RetentionRule struct {
	Intervals          []RetentionInterval `yaml:"intervals"`
	KeepNewest         int                 `yaml:"keep_newest,omitempty"`
	EvaluationSchedule string              `yaml:"evaluation_schedule"`
}

// BtrfsPoolEntity is a configured CoW filesystem pool.
type BtrfsPoolEntity struct {
	UUID            uuid.UUID             `yaml:"id"`
	PoolName        string                `yaml:"name"`
	MountpointPath  string                `yaml:"mountpoint_path"`
	FilesystemUUID  uuid.UUID             `yaml:"filesystem_uuid"`
	DeviceUUIDSubs  []uuid.UUID           `yaml:"device_uuid_subs,omitempty"`
	Datasets        []BtrfsDatasetEntity  `yaml:"datasets,omitempty"`
	Containers      []BtrfsContainerEntity `yaml:"containers,omitempty"`
}

func NewBtrfsPoolEntity(name, mountpoint string, fsUUID uuid.UUID, deviceUUIDSubs []uuid.UUID) (BtrfsPoolEntity, error) {
	if name == "" {
		return BtrfsPoolEntity{}, fmt.Errorf("pool name must not be empty")
	}
	return BtrfsPoolEntity{
		UUID:           uuid.New(),
		PoolName:       name,
		MountpointPath: mountpoint,
		FilesystemUUID: fsUUID,
		DeviceUUIDSubs: deviceUUIDSubs,
	}, nil
}

func (p BtrfsPoolEntity) ID() uuid.UUID        { return p.UUID }
func (p BtrfsPoolEntity) Name() string         { return p.PoolName }
func (p BtrfsPoolEntity) EntityType() EntityType { return EntityPool }

// BtrfsDatasetEntity is a live subvolume that is the source of snapshots.
type BtrfsDatasetEntity struct {
	UUID               uuid.UUID      `yaml:"id"`
	DatasetName        string         `yaml:"name"`
	DatasetPath        string         `yaml:"path"`
	SubvolumeUUID      uuid.UUID      `yaml:"subvolume_uuid"`
	SnapshotSchedule   *string        `yaml:"snapshot_schedule,omitempty"`
	SnapshotRetention  *RetentionRule `yaml:"snapshot_retention,omitempty"`
	SnapshottingState  FeatureState   `yaml:"snapshotting_state"`
	PruningState       FeatureState   `yaml:"pruning_state"`
}

func NewBtrfsDatasetEntity(name, path string, subvolumeUUID uuid.UUID) (BtrfsDatasetEntity, error) {
	if name == "" {
		return BtrfsDatasetEntity{}, fmt.Errorf("dataset name must not be empty")
	}
	return BtrfsDatasetEntity{
		UUID:              uuid.New(),
		DatasetName:       name,
		DatasetPath:       path,
		SubvolumeUUID:     subvolumeUUID,
		SnapshottingState: FeatureDisabled,
		PruningState:      FeatureDisabled,
	}, nil
}

func (d BtrfsDatasetEntity) ID() uuid.UUID        { return d.UUID }
func (d BtrfsDatasetEntity) Name() string         { return d.DatasetName }
func (d BtrfsDatasetEntity) EntityType() EntityType { return EntityDataset }

// BtrfsContainerEntity is a subvolume that accepts received snapshots.
type BtrfsContainerEntity struct {
	UUID          uuid.UUID      `yaml:"id"`
	ContainerName string         `yaml:"name"`
	ContainerPath string         `yaml:"path"`
	SubvolumeUUID uuid.UUID      `yaml:"subvolume_uuid"`
	Retention     *RetentionRule `yaml:"retention,omitempty"`
	PruningState  FeatureState   `yaml:"pruning_state"`
}

func NewBtrfsContainerEntity(name, path string, subvolumeUUID uuid.UUID) (BtrfsContainerEntity, error) {
	if name == "" {
		return BtrfsContainerEntity{}, fmt.Errorf("container name must not be empty")
	}
	return BtrfsContainerEntity{
		UUID:          uuid.New(),
		ContainerName: name,
		ContainerPath: path,
		SubvolumeUUID: subvolumeUUID,
		PruningState:  FeatureDisabled,
	}, nil
}

func (c BtrfsContainerEntity) ID() uuid.UUID        { return c.UUID }
func (c BtrfsContainerEntity) Name() string         { return c.ContainerName }
func (c BtrfsContainerEntity) EntityType() EntityType { return EntityContainer }

// SnapshotSyncEntity is a directed replication pair between a dataset and a
// container.
type SnapshotSyncEntity struct {
	UUID         uuid.UUID `yaml:"id"`
	DatasetID    uuid.UUID `yaml:"dataset_id"`
	ContainerID  uuid.UUID `yaml:"container_id"`
	SyncSchedule *string   `yaml:"sync_schedule,omitempty"`
}

func (s SnapshotSyncEntity) ID() uuid.UUID { return s.UUID }
func (s SnapshotSyncEntity) Name() string {
	return fmt.Sprintf("%s->%s", s.DatasetID, s.ContainerID)
}
func (s SnapshotSyncEntity) EntityType() EntityType { return EntitySnapshotSync }

// HealthchecksHeartbeat pings a healthcheck on a fixed cadence independent
// of any observed event.
type HealthchecksHeartbeat struct {
	HealthcheckID uuid.UUID     `yaml:"healthcheck_id"`
	Frequency     time.Duration `yaml:"frequency"`
}

// HealthchecksObservation maps one (entity, event) pair to a healthcheck.
type HealthchecksObservation struct {
	EntityID      uuid.UUID       `yaml:"entity_id"`
	Event         ObservableEvent `yaml:"event"`
	HealthcheckID uuid.UUID       `yaml:"healthcheck_id"`
}

// HealthchecksObserverEntity groups a set of observations plus optional
// heartbeat and custom base URL.
type HealthchecksObserverEntity struct {
	UUID         uuid.UUID                 `yaml:"id"`
	ObserverName string                    `yaml:"name"`
	CustomURL    string                    `yaml:"custom_url,omitempty"`
	Heartbeat    *HealthchecksHeartbeat    `yaml:"heartbeat,omitempty"`
	Observations []HealthchecksObservation `yaml:"observations,omitempty"`
}

func (o HealthchecksObserverEntity) ID() uuid.UUID        { return o.UUID }
func (o HealthchecksObserverEntity) Name() string         { return o.ObserverName }
func (o HealthchecksObserverEntity) EntityType() EntityType { return EntityObserver }

// DisplayName renders the "pool/name" style identifier used in logs and CLI
// tables, matching the convention of the system being modeled.
func DisplayName(parts ...string) string {
	return strings.Join(parts, "/")
}
