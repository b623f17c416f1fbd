// Package core binds the persisted model entities to the live filesystem:
// a Pool wraps a mounted CoW filesystem, a Dataset wraps a live subvolume
// that snapshots are taken from, and a Container wraps a subvolume that
// receives them. Validation happens once, at attach time, via the
// fsgateway.Gateway; afterward these types hold known-good state.
package core

import (
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"

	blkerrors "github.com/sagelywizard/blkcaptwrk/pkg/blkcaptwrk/errors"
	"github.com/sagelywizard/blkcaptwrk/pkg/fsgateway"
	"github.com/sagelywizard/blkcaptwrk/pkg/model"
)

// metaDir is the hidden top-level directory blkcaptwrk bootstraps on every
// pool it attaches to, holding the per-dataset snapshot containers.
const metaDir = ".blkcapt"

// Pool wraps a validated, mounted CoW filesystem.
type Pool struct {
	Model model.BtrfsPoolEntity
	gw    fsgateway.Gateway
}

// AttachPool validates that mountpoint is the filesystem entity describes
// (or, for a brand new pool, probes it and fills in the entity), and
// bootstraps the `.blkcapt/snapshots` meta directory on first attach.
func AttachPool(ctx context.Context, gw fsgateway.Gateway, entity model.BtrfsPoolEntity) (*Pool, error) {
	probe, err := gw.QueryPool(ctx, entity.MountpointPath)
	if err != nil {
		return nil, blkerrors.New(blkerrors.FsProbeFailed, "core.attach_pool", err)
	}
	if entity.FilesystemUUID != uuid.Nil && entity.FilesystemUUID != probe.FilesystemUUID {
		return nil, blkerrors.New(blkerrors.ConfigInvalid, "core.attach_pool",
			fmt.Errorf("mountpoint %s is filesystem %s, not configured %s", entity.MountpointPath, probe.FilesystemUUID, entity.FilesystemUUID))
	}
	entity.FilesystemUUID = probe.FilesystemUUID

	snapshotsDir := path.Join(metaDir, "snapshots")
	if _, err := gw.SubvolumeByPath(ctx, entity.MountpointPath, snapshotsDir); err != nil {
		if !blkerrors.Is(err, blkerrors.SubvolumeNotFound) {
			return nil, blkerrors.New(blkerrors.FsProbeFailed, "core.attach_pool", err)
		}
		if err := gw.CreateSubvolume(ctx, path.Join(entity.MountpointPath, snapshotsDir)); err != nil {
			return nil, blkerrors.New(blkerrors.FsProbeFailed, "core.attach_pool", fmt.Errorf("bootstrap meta dir: %w", err))
		}
	}

	return &Pool{Model: entity, gw: gw}, nil
}

func (p *Pool) String() string {
	return p.Model.PoolName
}

// Dataset wraps a live subvolume that periodic snapshots are sourced from.
type Dataset struct {
	Model model.BtrfsDatasetEntity
	pool  *Pool
	gw    fsgateway.Gateway
}

// AttachDataset validates the dataset's configured path resolves to a
// subvolume on pool, and bootstraps its snapshot container directory under
// `<pool>/.blkcapt/snapshots/<dataset-id>/`.
func AttachDataset(ctx context.Context, gw fsgateway.Gateway, pool *Pool, entity model.BtrfsDatasetEntity) (*Dataset, error) {
	sv, err := gw.SubvolumeByPath(ctx, pool.Model.MountpointPath, entity.DatasetPath)
	if err != nil {
		return nil, blkerrors.New(blkerrors.SubvolumeNotFound, "core.attach_dataset", err)
	}
	entity.SubvolumeUUID = sv.UUID

	d := &Dataset{Model: entity, pool: pool, gw: gw}
	containerDir := d.snapshotContainerPath()
	if _, err := gw.SubvolumeByPath(ctx, pool.Model.MountpointPath, containerDir); err != nil {
		if !blkerrors.Is(err, blkerrors.SubvolumeNotFound) {
			return nil, blkerrors.New(blkerrors.FsProbeFailed, "core.attach_dataset", err)
		}
		if err := gw.CreateSubvolume(ctx, path.Join(pool.Model.MountpointPath, containerDir)); err != nil {
			return nil, blkerrors.New(blkerrors.FsProbeFailed, "core.attach_dataset", fmt.Errorf("bootstrap snapshot container: %w", err))
		}
	}
	return d, nil
}

func (d *Dataset) snapshotContainerPath() string {
	return path.Join(metaDir, "snapshots", d.Model.UUID.String())
}

// snapshotTimeLayout is the on-disk name format for dataset snapshots:
// a colon-free RFC3339-like timestamp, since ':' is awkward in filenames.
const snapshotTimeLayout = "2006-01-02T15-04-05Z"

// CreateSnapshot takes a new read-only snapshot of the dataset's live
// subvolume, named by the current time.
func (d *Dataset) CreateSnapshot(ctx context.Context, now time.Time) (Snapshot, error) {
	name := now.UTC().Format(snapshotTimeLayout)
	destRel := path.Join(d.snapshotContainerPath(), name)
	dest := path.Join(d.pool.Model.MountpointPath, destRel)
	src := path.Join(d.pool.Model.MountpointPath, d.Model.DatasetPath)

	if err := d.gw.CreateSnapshot(ctx, src, dest, true); err != nil {
		return Snapshot{}, blkerrors.New(blkerrors.TransferFailed, "core.create_snapshot", err)
	}
	sv, err := d.gw.SubvolumeByPath(ctx, d.pool.Model.MountpointPath, destRel)
	if err != nil {
		return Snapshot{}, blkerrors.New(blkerrors.FsProbeFailed, "core.create_snapshot", err)
	}
	return Snapshot{UUID: sv.UUID, ParentUUID: sv.ParentUUID, Datetime: now.UTC(), Path: destRel}, nil
}

// Snapshots lists every snapshot currently in the dataset's snapshot
// container, parsed from its btrfs listing and sorted oldest first. Entries
// whose name does not parse as a snapshot timestamp are skipped, matching
// how an operator-created stray subvolume would be silently ignored.
func (d *Dataset) Snapshots(ctx context.Context) ([]Snapshot, error) {
	subvols, err := d.gw.ListSubvolumes(ctx, path.Join(d.pool.Model.MountpointPath, d.snapshotContainerPath()))
	if err != nil {
		return nil, blkerrors.New(blkerrors.FsProbeFailed, "core.dataset_snapshots", err)
	}
	var out []Snapshot
	for _, sv := range subvols {
		t, ok := parseSnapshotName(path.Base(sv.Path))
		if !ok {
			continue
		}
		out = append(out, Snapshot{UUID: sv.UUID, ParentUUID: sv.ParentUUID, Datetime: t, Path: sv.Path})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Datetime.Equal(out[j].Datetime) {
			return out[i].Datetime.Before(out[j].Datetime)
		}
		return out[i].UUID.String() < out[j].UUID.String()
	})
	return out, nil
}

func parseSnapshotName(name string) (time.Time, bool) {
	t, err := time.Parse(snapshotTimeLayout, name)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (d *Dataset) String() string {
	return model.DisplayName(d.pool.String(), d.Model.DatasetName)
}

// DeleteSnapshot destroys snap's subvolume. Callers are responsible for
// checking snap is not held before calling this — the safety invariant
// lives in the actor that owns the hold set, not here.
func (d *Dataset) DeleteSnapshot(ctx context.Context, snap Snapshot) error {
	if err := d.gw.DeleteSubvolume(ctx, d.AbsolutePath(snap.Path)); err != nil {
		return blkerrors.New(blkerrors.TransferFailed, "core.delete_snapshot", err)
	}
	return nil
}

// AbsolutePath resolves a path stored relative to the pool's mountpoint
// (as Snapshot.Path is) to an absolute filesystem path.
func (d *Dataset) AbsolutePath(relPath string) string {
	return path.Join(d.pool.Model.MountpointPath, relPath)
}

// Send opens an incremental (or, with parent nil, full) send stream for
// snap.
func (d *Dataset) Send(ctx context.Context, snap Snapshot, parent *Snapshot) (fsgateway.ByteSource, error) {
	parentPath := ""
	if parent != nil {
		parentPath = d.AbsolutePath(parent.Path)
	}
	source, err := d.gw.SendSubvolume(ctx, d.AbsolutePath(snap.Path), parentPath)
	if err != nil {
		return nil, blkerrors.New(blkerrors.TransferFailed, "core.send_snapshot", err)
	}
	return source, nil
}

// Snapshot is a dataset-local, read-only point-in-time copy.
type Snapshot struct {
	UUID       uuid.UUID
	ParentUUID uuid.UUID
	Datetime   time.Time
	Path       string
}

func (s Snapshot) Name() string {
	return s.Datetime.UTC().Format(snapshotTimeLayout)
}
