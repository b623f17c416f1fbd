package actors

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sagelywizard/blkcaptwrk/pkg/model"
)

// newTestSyncActor wires a fresh dataset and container actor together behind
// a SyncActor. Neither child actor is running yet: a DatasetActor loads its
// snapshot list once when Run starts, so tests seed source snapshots first
// and then call startPeers.
func newTestSyncActor(t *testing.T) (*SyncActor, *DatasetActor, *ContainerActor, uuid.UUID) {
	t.Helper()
	datasetActor, _ := newTestDatasetActor(t)
	containerActor, _ := newTestContainerActor(t)

	sourceDatasetID := uuid.New()
	sync := model.SnapshotSyncEntity{
		UUID:        uuid.New(),
		DatasetID:   sourceDatasetID,
		ContainerID: uuid.New(),
	}
	return NewSyncActor(sync, datasetActor, containerActor, NewBroker()), datasetActor, containerActor, sourceDatasetID
}

// startPeers runs both child actors so pickCandidate can round-trip through
// their mailboxes exactly as it does in production, stopping them when the
// test ends.
func startPeers(t *testing.T, datasetActor *DatasetActor, containerActor *ContainerActor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	datasetDone := make(chan struct{})
	go func() {
		datasetActor.Run(ctx)
		close(datasetDone)
	}()
	containerDone := make(chan struct{})
	go func() {
		containerActor.Run(ctx)
		close(containerDone)
	}()
	t.Cleanup(func() {
		cancel()
		<-datasetDone
		<-containerDone
	})
}

// receiveAs drives a full receiver-acquire/write/finalize round trip against
// containerActor so it records a ReceivedSnapshot whose ReceivedUUID is
// receivedUUID and whose finalized name sorts by datetime, mirroring what a
// successful SyncActor transfer leaves behind.
func receiveAs(t *testing.T, ctx context.Context, containerActor *ContainerActor, sourceDatasetID, receivedUUID uuid.UUID, datetime time.Time) {
	t.Helper()
	reply := make(chan receiverReadyMsg, 1)
	if err := containerActor.Addr().Send(ctx, getSnapshotReceiverMsg{sourceDatasetID: sourceDatasetID, reply: reply}); err != nil {
		t.Fatalf("send receiver request: %v", err)
	}
	receiver := <-reply
	if receiver.err != nil {
		t.Fatalf("unexpected receiver error: %v", receiver.err)
	}
	if _, err := io.WriteString(receiver.sink, fmt.Sprintf("send:%s:parent=:payload", receivedUUID)); err != nil {
		t.Fatalf("write to sink: %v", err)
	}
	if err := receiver.sink.Close(); err != nil {
		t.Fatalf("close sink: %v", err)
	}
	receivedName, err := receiver.sink.ReceivedName()
	if err != nil {
		t.Fatalf("ReceivedName: %v", err)
	}
	if err := containerActor.Addr().Send(ctx, receiveFinishedMsg{
		holderID:        receiver.holderID,
		sourceDatasetID: sourceDatasetID,
		receivedName:    receivedName,
		datetime:        datetime,
	}); err != nil {
		t.Fatalf("send receive finished: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
}

// TestPickCandidateIncrementalProgression exercises the A -> B -> C
// progression: each cycle should pick the oldest snapshot not yet received,
// parented on the source-side snapshot matching whatever was received last.
func TestPickCandidateIncrementalProgression(t *testing.T) {
	sync, datasetActor, containerActor, sourceDatasetID := newTestSyncActor(t)
	ctx := context.Background()

	timeA := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	timeB := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	timeC := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	a, err := datasetActor.Dataset.CreateSnapshot(ctx, timeA)
	if err != nil {
		t.Fatalf("seed snapshot A: %v", err)
	}
	b, err := datasetActor.Dataset.CreateSnapshot(ctx, timeB)
	if err != nil {
		t.Fatalf("seed snapshot B: %v", err)
	}
	c, err := datasetActor.Dataset.CreateSnapshot(ctx, timeC)
	if err != nil {
		t.Fatalf("seed snapshot C: %v", err)
	}
	startPeers(t, datasetActor, containerActor)

	// Nothing received yet: candidate is the oldest snapshot, full send.
	candidate, parent, err := sync.pickCandidate(ctx)
	if err != nil {
		t.Fatalf("pickCandidate: %v", err)
	}
	if candidate == nil || candidate.UUID != a.UUID {
		t.Fatalf("expected candidate A, got %+v", candidate)
	}
	if parent != nil {
		t.Fatalf("expected no parent on first cycle, got %+v", parent)
	}

	receiveAs(t, ctx, containerActor, sourceDatasetID, a.UUID, timeA)

	// A received: candidate is B, incremental against A.
	candidate, parent, err = sync.pickCandidate(ctx)
	if err != nil {
		t.Fatalf("pickCandidate after A: %v", err)
	}
	if candidate == nil || candidate.UUID != b.UUID {
		t.Fatalf("expected candidate B, got %+v", candidate)
	}
	if parent == nil || parent.UUID != a.UUID {
		t.Fatalf("expected parent A, got %+v", parent)
	}

	receiveAs(t, ctx, containerActor, sourceDatasetID, b.UUID, timeB)

	// B received: candidate is C, incremental against B.
	candidate, parent, err = sync.pickCandidate(ctx)
	if err != nil {
		t.Fatalf("pickCandidate after B: %v", err)
	}
	if candidate == nil || candidate.UUID != c.UUID {
		t.Fatalf("expected candidate C, got %+v", candidate)
	}
	if parent == nil || parent.UUID != b.UUID {
		t.Fatalf("expected parent B, got %+v", parent)
	}

	receiveAs(t, ctx, containerActor, sourceDatasetID, c.UUID, timeC)

	// Everything received: nothing left to do.
	candidate, _, err = sync.pickCandidate(ctx)
	if err != nil {
		t.Fatalf("pickCandidate after C: %v", err)
	}
	if candidate != nil {
		t.Fatalf("expected no candidate once fully synced, got %+v", candidate)
	}
}

// TestPickCandidateFallsBackToFullSendWhenParentMissing covers the case
// where the newest received snapshot's source-side parent has since vanished
// (pruned, or never existed on this source): pickCandidate must still return
// a candidate, with a nil parent signalling a full send rather than failing
// the cycle.
func TestPickCandidateFallsBackToFullSendWhenParentMissing(t *testing.T) {
	sync, datasetActor, containerActor, sourceDatasetID := newTestSyncActor(t)
	ctx := context.Background()

	timeA := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	timeB := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	a, err := datasetActor.Dataset.CreateSnapshot(ctx, timeA)
	if err != nil {
		t.Fatalf("seed snapshot A: %v", err)
	}
	if _, err := datasetActor.Dataset.CreateSnapshot(ctx, timeB); err != nil {
		t.Fatalf("seed snapshot B: %v", err)
	}
	startPeers(t, datasetActor, containerActor)

	// Record a receive whose ReceivedUUID doesn't match any live source
	// snapshot, standing in for a parent that has been pruned away.
	missingParent := uuid.New()
	receiveAs(t, ctx, containerActor, sourceDatasetID, missingParent, timeA)

	candidate, parent, err := sync.pickCandidate(ctx)
	if err != nil {
		t.Fatalf("pickCandidate: %v", err)
	}
	if candidate == nil || candidate.UUID != a.UUID {
		t.Fatalf("expected candidate A (oldest, still unreceived), got %+v", candidate)
	}
	if parent != nil {
		t.Fatalf("expected fallback to full send (nil parent), got %+v", parent)
	}
}

// TestPickCandidateIsDeterministic asserts the universal property behind
// both scenarios above: given the same source and received snapshot state,
// pickCandidate always returns the same choice.
func TestPickCandidateIsDeterministic(t *testing.T) {
	sync, datasetActor, containerActor, sourceDatasetID := newTestSyncActor(t)
	ctx := context.Background()

	timeA := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	timeB := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	a, err := datasetActor.Dataset.CreateSnapshot(ctx, timeA)
	if err != nil {
		t.Fatalf("seed snapshot A: %v", err)
	}
	b, err := datasetActor.Dataset.CreateSnapshot(ctx, timeB)
	if err != nil {
		t.Fatalf("seed snapshot B: %v", err)
	}
	startPeers(t, datasetActor, containerActor)
	receiveAs(t, ctx, containerActor, sourceDatasetID, a.UUID, timeA)

	firstCandidate, firstParent, err := sync.pickCandidate(ctx)
	if err != nil {
		t.Fatalf("pickCandidate (first): %v", err)
	}
	secondCandidate, secondParent, err := sync.pickCandidate(ctx)
	if err != nil {
		t.Fatalf("pickCandidate (second): %v", err)
	}

	if firstCandidate == nil || secondCandidate == nil || firstCandidate.UUID != secondCandidate.UUID {
		t.Fatalf("candidate choice is not deterministic: %+v vs %+v", firstCandidate, secondCandidate)
	}
	if firstCandidate.UUID != b.UUID {
		t.Fatalf("expected candidate B both times, got %+v", firstCandidate)
	}
	if (firstParent == nil) != (secondParent == nil) {
		t.Fatalf("parent choice is not deterministic: %+v vs %+v", firstParent, secondParent)
	}
	if firstParent == nil || firstParent.UUID != a.UUID {
		t.Fatalf("expected parent A both times, got %+v", firstParent)
	}
}
