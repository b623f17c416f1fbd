package actors

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sagelywizard/blkcaptwrk/pkg/core"
	"github.com/sagelywizard/blkcaptwrk/pkg/fsgateway"
	"github.com/sagelywizard/blkcaptwrk/pkg/model"
)

const testMountpoint = "/mnt/tank"

func newTestDatasetActor(t *testing.T) (*DatasetActor, *fsgateway.FakeGateway) {
	t.Helper()
	ctx := context.Background()
	gw := fsgateway.NewFakeGateway(uuid.New())
	pool, err := core.AttachPool(ctx, gw, model.BtrfsPoolEntity{PoolName: "tank", MountpointPath: testMountpoint})
	if err != nil {
		t.Fatalf("AttachPool: %v", err)
	}
	if err := gw.CreateSubvolume(ctx, testMountpoint+"/docs"); err != nil {
		t.Fatalf("seed dataset subvolume: %v", err)
	}
	dataset, err := core.AttachDataset(ctx, gw, pool, model.BtrfsDatasetEntity{
		DatasetName:       "docs",
		DatasetPath:       "docs",
		SnapshottingState: model.FeatureDisabled,
		PruningState:      model.FeatureDisabled,
	})
	if err != nil {
		t.Fatalf("AttachDataset: %v", err)
	}
	return NewDatasetActor(dataset, NewBroker()), gw
}

func TestDatasetActorGetSnapshotsReturnsLoadedSnapshots(t *testing.T) {
	actor, _ := newTestDatasetActor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := actor.Dataset.CreateSnapshot(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	done := make(chan struct{})
	go func() {
		actor.Run(ctx)
		close(done)
	}()

	reply := make(chan []core.Snapshot, 1)
	if err := actor.Addr().Send(ctx, getDatasetSnapshotsMsg{reply: reply}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case snaps := <-reply:
		if len(snaps) != 1 {
			t.Fatalf("expected 1 snapshot, got %d", len(snaps))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}

	cancel()
	<-done
}

func TestDatasetActorSenderAndHolderAcquireHolds(t *testing.T) {
	actor, _ := newTestDatasetActor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snap, err := actor.Dataset.CreateSnapshot(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	done := make(chan struct{})
	go func() {
		actor.Run(ctx)
		close(done)
	}()

	holderReply := make(chan holderReadyMsg, 1)
	if err := actor.Addr().Send(ctx, getSnapshotHolderMsg{sendUUID: snap.UUID, reply: holderReply}); err != nil {
		t.Fatalf("send holder request: %v", err)
	}
	holder := <-holderReply
	if holder.err != nil {
		t.Fatalf("unexpected holder error: %v", holder.err)
	}
	if holder.holderID == "" {
		t.Fatal("expected a non-empty holder id")
	}

	senderReply := make(chan senderReadyMsg, 1)
	if err := actor.Addr().Send(ctx, getSnapshotSenderMsg{sendUUID: snap.UUID, reply: senderReply}); err != nil {
		t.Fatalf("send sender request: %v", err)
	}
	sender := <-senderReply
	if sender.err != nil {
		t.Fatalf("unexpected sender error: %v", sender.err)
	}
	defer sender.source.Close()

	if _, err := io.Copy(io.Discard, sender.source); err != nil {
		t.Fatalf("drain sender stream: %v", err)
	}

	if err := actor.Addr().Send(ctx, releaseHoldMsg{holderID: holder.holderID}); err != nil {
		t.Fatalf("release holder hold: %v", err)
	}
	if err := actor.Addr().Send(ctx, releaseHoldMsg{holderID: sender.holderID}); err != nil {
		t.Fatalf("release sender hold: %v", err)
	}

	// Give the mailbox loop a beat to process both releases before asking
	// for shutdown, so drainHolds observes an empty hold set.
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done
}

func TestDatasetActorPruneSkipsHeldSnapshots(t *testing.T) {
	actor, _ := newTestDatasetActor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	snap, err := actor.Dataset.CreateSnapshot(ctx, old)
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	actor.Dataset.Model.SnapshotRetention = &model.RetentionRule{
		KeepNewest:         0,
		EvaluationSchedule: "1h",
	}
	actor.Dataset.Model.PruningState = model.FeatureEnabled

	done := make(chan struct{})
	go func() {
		actor.Run(ctx)
		close(done)
	}()

	holderReply := make(chan holderReadyMsg, 1)
	if err := actor.Addr().Send(ctx, getSnapshotHolderMsg{sendUUID: snap.UUID, reply: holderReply}); err != nil {
		t.Fatalf("send holder request: %v", err)
	}
	holder := <-holderReply
	if holder.err != nil {
		t.Fatalf("unexpected holder error: %v", holder.err)
	}

	if err := actor.Addr().Send(ctx, pruneTickMsg{}); err != nil {
		t.Fatalf("send prune tick: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	reply := make(chan []core.Snapshot, 1)
	if err := actor.Addr().Send(ctx, getDatasetSnapshotsMsg{reply: reply}); err != nil {
		t.Fatalf("send: %v", err)
	}
	snaps := <-reply
	if len(snaps) != 1 {
		t.Fatalf("expected the held snapshot to survive prune, got %d remaining", len(snaps))
	}

	if err := actor.Addr().Send(ctx, releaseHoldMsg{holderID: holder.holderID}); err != nil {
		t.Fatalf("release hold: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done
}
