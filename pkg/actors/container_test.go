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

func newTestContainerActor(t *testing.T) (*ContainerActor, *fsgateway.FakeGateway) {
	t.Helper()
	ctx := context.Background()
	gw := fsgateway.NewFakeGateway(uuid.New())
	pool, err := core.AttachPool(ctx, gw, model.BtrfsPoolEntity{PoolName: "tank", MountpointPath: testMountpoint})
	if err != nil {
		t.Fatalf("AttachPool: %v", err)
	}
	if err := gw.CreateSubvolume(ctx, testMountpoint+"/backups"); err != nil {
		t.Fatalf("seed container subvolume: %v", err)
	}
	container, err := core.AttachContainer(ctx, gw, pool, model.BtrfsContainerEntity{
		ContainerName: "backups",
		ContainerPath: "backups",
		PruningState:  model.FeatureDisabled,
	})
	if err != nil {
		t.Fatalf("AttachContainer: %v", err)
	}
	return NewContainerActor(container, NewBroker()), gw
}

func TestContainerActorReceiveAndFinalizeThroughMailbox(t *testing.T) {
	containerActor, gw := newTestContainerActor(t)
	_ = gw
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sourceDatasetID := uuid.New()

	done := make(chan struct{})
	go func() {
		containerActor.Run(ctx)
		close(done)
	}()

	receiverReply := make(chan receiverReadyMsg, 1)
	if err := containerActor.Addr().Send(ctx, getSnapshotReceiverMsg{sourceDatasetID: sourceDatasetID, reply: receiverReply}); err != nil {
		t.Fatalf("send receiver request: %v", err)
	}
	receiver := <-receiverReply
	if receiver.err != nil {
		t.Fatalf("unexpected receiver error: %v", receiver.err)
	}

	if _, err := io.WriteString(receiver.sink, "send:"+uuid.New().String()+":parent=:payload"); err != nil {
		t.Fatalf("write to sink: %v", err)
	}
	if err := receiver.sink.Close(); err != nil {
		t.Fatalf("close sink: %v", err)
	}
	receivedName, err := receiver.sink.ReceivedName()
	if err != nil {
		t.Fatalf("ReceivedName: %v", err)
	}

	receivedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := containerActor.Addr().Send(ctx, receiveFinishedMsg{
		holderID:        receiver.holderID,
		sourceDatasetID: sourceDatasetID,
		receivedName:    receivedName,
		datetime:        receivedAt,
	}); err != nil {
		t.Fatalf("send receive finished: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	snapsReply := make(chan []core.ReceivedSnapshot, 1)
	if err := containerActor.Addr().Send(ctx, getContainerSnapshotsMsg{sourceDatasetID: sourceDatasetID, reply: snapsReply}); err != nil {
		t.Fatalf("send snapshots request: %v", err)
	}
	snaps := <-snapsReply
	if len(snaps) != 1 {
		t.Fatalf("expected 1 finalized snapshot, got %d", len(snaps))
	}
	if !snaps[0].Datetime.Equal(receivedAt) {
		t.Fatalf("Datetime = %v, want %v", snaps[0].Datetime, receivedAt)
	}

	cancel()
	<-done
}

func TestContainerActorReceiveFinishedWithErrorLeavesHoldReleasedButUnfinalized(t *testing.T) {
	containerActor, _ := newTestContainerActor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sourceDatasetID := uuid.New()

	done := make(chan struct{})
	go func() {
		containerActor.Run(ctx)
		close(done)
	}()

	receiverReply := make(chan receiverReadyMsg, 1)
	if err := containerActor.Addr().Send(ctx, getSnapshotReceiverMsg{sourceDatasetID: sourceDatasetID, reply: receiverReply}); err != nil {
		t.Fatalf("send receiver request: %v", err)
	}
	receiver := <-receiverReply
	if receiver.err != nil {
		t.Fatalf("unexpected receiver error: %v", receiver.err)
	}

	if err := containerActor.Addr().Send(ctx, receiveFinishedMsg{
		holderID:        receiver.holderID,
		sourceDatasetID: sourceDatasetID,
		err:             io.ErrClosedPipe,
	}); err != nil {
		t.Fatalf("send receive finished: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	snapsReply := make(chan []core.ReceivedSnapshot, 1)
	if err := containerActor.Addr().Send(ctx, getContainerSnapshotsMsg{sourceDatasetID: sourceDatasetID, reply: snapsReply}); err != nil {
		t.Fatalf("send snapshots request: %v", err)
	}
	snaps := <-snapsReply
	if len(snaps) != 0 {
		t.Fatalf("expected no finalized snapshots after a failed receive, got %d", len(snaps))
	}

	cancel()
	<-done
}
