package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sagelywizard/blkcaptwrk/pkg/fsgateway"
	"github.com/sagelywizard/blkcaptwrk/pkg/model"
)

const mountpoint = "/mnt/tank"

func newTestPool(t *testing.T) (*Pool, *fsgateway.FakeGateway) {
	t.Helper()
	gw := fsgateway.NewFakeGateway(uuid.New())
	pool, err := AttachPool(context.Background(), gw, model.BtrfsPoolEntity{PoolName: "tank", MountpointPath: mountpoint})
	if err != nil {
		t.Fatalf("AttachPool: %v", err)
	}
	return pool, gw
}

func TestAttachPoolBootstrapsMetaDir(t *testing.T) {
	pool, gw := newTestPool(t)
	if _, err := gw.SubvolumeByPath(context.Background(), mountpoint, ".blkcapt/snapshots"); err != nil {
		t.Fatalf("expected .blkcapt/snapshots to be bootstrapped: %v", err)
	}
	if pool.Model.FilesystemUUID == uuid.Nil {
		t.Fatal("expected pool to pick up the probed filesystem uuid")
	}
}

func TestAttachPoolRejectsMismatchedFilesystem(t *testing.T) {
	gw := fsgateway.NewFakeGateway(uuid.New())
	_, err := AttachPool(context.Background(), gw, model.BtrfsPoolEntity{
		PoolName:       "tank",
		MountpointPath: mountpoint,
		FilesystemUUID: uuid.New(),
	})
	if err == nil {
		t.Fatal("expected mismatched filesystem uuid to be rejected")
	}
}

func newTestDataset(t *testing.T) (*Dataset, *fsgateway.FakeGateway) {
	t.Helper()
	pool, gw := newTestPool(t)
	if err := gw.CreateSubvolume(context.Background(), mountpoint+"/docs"); err != nil {
		t.Fatalf("seed dataset subvolume: %v", err)
	}
	dataset, err := AttachDataset(context.Background(), gw, pool, model.BtrfsDatasetEntity{
		DatasetName: "docs",
		DatasetPath: "docs",
	})
	if err != nil {
		t.Fatalf("AttachDataset: %v", err)
	}
	return dataset, gw
}

func TestAttachDatasetBootstrapsSnapshotContainer(t *testing.T) {
	dataset, gw := newTestDataset(t)
	containerPath := dataset.snapshotContainerPath()
	if _, err := gw.SubvolumeByPath(context.Background(), mountpoint, containerPath); err != nil {
		t.Fatalf("expected snapshot container to be bootstrapped: %v", err)
	}
}

func TestCreateAndListSnapshots(t *testing.T) {
	dataset, _ := newTestDataset(t)
	ctx := context.Background()
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(15 * time.Minute)

	if _, err := dataset.CreateSnapshot(ctx, t1); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if _, err := dataset.CreateSnapshot(ctx, t2); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	snapshots, err := dataset.Snapshots(ctx)
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snapshots))
	}
	if snapshots[0].Name() != "2024-01-01T00-00-00Z" {
		t.Errorf("unexpected snapshot name %q", snapshots[0].Name())
	}
}

func TestSendOpensByteSourceForSnapshot(t *testing.T) {
	dataset, _ := newTestDataset(t)
	ctx := context.Background()
	snap, err := dataset.CreateSnapshot(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	source, err := dataset.Send(ctx, snap, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	defer source.Close()

	buf := make([]byte, 4096)
	n, _ := source.Read(buf)
	if n == 0 {
		t.Fatal("expected send stream to produce bytes")
	}
}
