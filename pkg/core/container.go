package core

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	blkerrors "github.com/sagelywizard/blkcaptwrk/pkg/blkcaptwrk/errors"
	"github.com/sagelywizard/blkcaptwrk/pkg/fsgateway"
	"github.com/sagelywizard/blkcaptwrk/pkg/model"
)

// receivedSnapshotSuffix marks a container-side subvolume as one produced
// by `btrfs receive`, as opposed to anything an operator might have placed
// there directly.
const receivedSnapshotSuffix = ".bcrcv"

// Container wraps a subvolume that accepts replicated snapshots, grouped
// into one subdirectory per source dataset.
type Container struct {
	Model model.BtrfsContainerEntity
	pool  *Pool
	gw    fsgateway.Gateway
}

// AttachContainer validates the container's configured path resolves to a
// subvolume on pool.
func AttachContainer(ctx context.Context, gw fsgateway.Gateway, pool *Pool, entity model.BtrfsContainerEntity) (*Container, error) {
	sv, err := gw.SubvolumeByPath(ctx, pool.Model.MountpointPath, entity.ContainerPath)
	if err != nil {
		return nil, blkerrors.New(blkerrors.SubvolumeNotFound, "core.attach_container", err)
	}
	entity.SubvolumeUUID = sv.UUID
	return &Container{Model: entity, pool: pool, gw: gw}, nil
}

// sourceDir returns the container-relative directory holding snapshots
// received from sourceDatasetID.
func (c *Container) sourceDir(sourceDatasetID uuid.UUID) string {
	return path.Join(c.Model.ContainerPath, sourceDatasetID.String())
}

// ReceivedSnapshot is a snapshot that arrived via a full or incremental
// transfer.
type ReceivedSnapshot struct {
	UUID         uuid.UUID
	ReceivedUUID uuid.UUID // the source dataset snapshot UUID this one was received from
	Datetime     time.Time
	Path         string
}

// Snapshots lists the snapshots a container has received for a given
// source dataset, sorted oldest first by filename timestamp.
func (c *Container) Snapshots(ctx context.Context, sourceDatasetID uuid.UUID) ([]ReceivedSnapshot, error) {
	subvols, err := c.gw.ListSubvolumes(ctx, path.Join(c.pool.Model.MountpointPath, c.sourceDir(sourceDatasetID)))
	if err != nil {
		return nil, blkerrors.New(blkerrors.FsProbeFailed, "core.container_snapshots", err)
	}
	var out []ReceivedSnapshot
	for _, sv := range subvols {
		base := path.Base(sv.Path)
		if !strings.HasSuffix(base, receivedSnapshotSuffix) {
			continue
		}
		t, ok := parseSnapshotName(strings.TrimSuffix(base, receivedSnapshotSuffix))
		if !ok {
			continue
		}
		out = append(out, ReceivedSnapshot{UUID: sv.UUID, ReceivedUUID: sv.ReceivedUUID, Datetime: t, Path: sv.Path})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Datetime.Equal(out[j].Datetime) {
			return out[i].Datetime.Before(out[j].Datetime)
		}
		return out[i].UUID.String() < out[j].UUID.String()
	})
	return out, nil
}

func (c *Container) String() string {
	return model.DisplayName(c.pool.String(), c.Model.ContainerName)
}

// DeleteSnapshot destroys a received snapshot's subvolume. Callers must
// check it is not held before calling this.
func (c *Container) DeleteSnapshot(ctx context.Context, snap ReceivedSnapshot) error {
	if err := c.gw.DeleteSubvolume(ctx, c.AbsolutePath(snap.Path)); err != nil {
		return blkerrors.New(blkerrors.TransferFailed, "core.delete_received_snapshot", err)
	}
	return nil
}

// AbsolutePath resolves a container-relative path to an absolute filesystem
// path.
func (c *Container) AbsolutePath(relPath string) string {
	return path.Join(c.pool.Model.MountpointPath, relPath)
}

// Receive opens a receive sink for an incoming transfer from
// sourceDatasetID, bootstrapping that source's grouping subvolume on first
// use.
func (c *Container) Receive(ctx context.Context, sourceDatasetID uuid.UUID) (fsgateway.ByteSink, error) {
	dir := c.sourceDir(sourceDatasetID)
	if _, err := c.gw.SubvolumeByPath(ctx, c.pool.Model.MountpointPath, dir); err != nil {
		if !blkerrors.Is(err, blkerrors.SubvolumeNotFound) {
			return nil, blkerrors.New(blkerrors.FsProbeFailed, "core.receive_snapshot", err)
		}
		if err := c.gw.CreateSubvolume(ctx, c.AbsolutePath(dir)); err != nil {
			return nil, blkerrors.New(blkerrors.FsProbeFailed, "core.receive_snapshot", fmt.Errorf("bootstrap source dir: %w", err))
		}
	}

	sink, err := c.gw.ReceiveSubvolume(ctx, c.AbsolutePath(dir))
	if err != nil {
		return nil, blkerrors.New(blkerrors.TransferFailed, "core.receive_snapshot", err)
	}
	return sink, nil
}

// FinalizeReceive appends the received-snapshot suffix to the subvolume a
// completed receive produced, so it becomes visible to Snapshots. Returns
// the finalized path, relative to the pool mountpoint.
func (c *Container) FinalizeReceive(ctx context.Context, sourceDatasetID uuid.UUID, receivedName string, datetime time.Time) (string, error) {
	dir := c.sourceDir(sourceDatasetID)
	oldPath := c.AbsolutePath(path.Join(dir, receivedName))
	newRel := path.Join(dir, datetime.UTC().Format(snapshotTimeLayout)+receivedSnapshotSuffix)
	newPath := c.AbsolutePath(newRel)
	if err := c.gw.RenameSubvolume(ctx, oldPath, newPath); err != nil {
		return "", blkerrors.New(blkerrors.CommandFailed, "core.finalize_receive", err)
	}
	return newRel, nil
}

func (s ReceivedSnapshot) Name() string {
	return s.Datetime.UTC().Format(snapshotTimeLayout) + receivedSnapshotSuffix
}
