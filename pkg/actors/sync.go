package actors

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/sagelywizard/blkcaptwrk/pkg/actor"
	"github.com/sagelywizard/blkcaptwrk/pkg/core"
	"github.com/sagelywizard/blkcaptwrk/pkg/fsgateway"
	"github.com/sagelywizard/blkcaptwrk/pkg/metrics"
	"github.com/sagelywizard/blkcaptwrk/pkg/model"
	"github.com/sagelywizard/blkcaptwrk/pkg/schedule"
)

type syncTickMsg struct{}

// SyncActor matches one (dataset, container) pair: it picks the next
// snapshot to transfer, coordinates holds on both sides, drives the
// send/receive pipeline, and reports the cycle's outcome as an observation.
// Each cycle runs to completion inside one Run-loop iteration rather than as
// a state machine split across separate message handlers — DatasetActor and
// ContainerActor each serialize their own mailbox, so the same
// acquire-then-release ordering holds without needing the cycle itself to
// yield between states.
type SyncActor struct {
	Model     model.SnapshotSyncEntity
	dataset   *DatasetActor
	container *ContainerActor
	broker    *Broker

	mailbox *actor.Mailbox[syncTickMsg]
	running bool
}

// NewSyncActor builds a SyncActor over its already-running dataset and
// container actors.
func NewSyncActor(sync model.SnapshotSyncEntity, dataset *DatasetActor, container *ContainerActor, broker *Broker) *SyncActor {
	return &SyncActor{
		Model:     sync,
		dataset:   dataset,
		container: container,
		broker:    broker,
		mailbox:   actor.NewMailbox[syncTickMsg](1),
	}
}

func (a *SyncActor) Addr() actor.Address[syncTickMsg] { return a.mailbox.Addr() }

// Run self-schedules its first tick, then runs one sync cycle per tick,
// dropping any tick that arrives while a cycle is already running.
func (a *SyncActor) Run(ctx context.Context) actor.TerminalState {
	addr := a.Addr()
	a.scheduleNext(ctx, addr)

	for {
		select {
		case <-ctx.Done():
			return actor.Cancelled
		case <-a.mailbox.Recv():
			if a.running {
				klog.InfoS("sync tick dropped, cycle already in progress", "sync", a.Model.ID())
				continue
			}
			a.running = true
			state := a.runCycle(ctx)
			// Ticks that queued up while the cycle ran overlapped it.
			for pending := true; pending; {
				select {
				case <-a.mailbox.Recv():
					klog.InfoS("sync tick dropped, cycle already in progress", "sync", a.Model.ID())
				default:
					pending = false
				}
			}
			a.running = false
			if ctx.Err() != nil {
				return actor.Cancelled
			}
			if state == actor.FailedFinal {
				return state
			}
			a.scheduleNext(ctx, addr)
		}
	}
}

func (a *SyncActor) scheduleNext(ctx context.Context, addr actor.Address[syncTickMsg]) {
	if a.Model.SyncSchedule == nil {
		return
	}
	sch, err := schedule.Parse(*a.Model.SyncSchedule)
	if err != nil {
		klog.ErrorS(err, "invalid sync schedule, not rescheduling", "sync", a.Model.ID())
		return
	}
	delay, ok := sch.NextDelay(time.Now())
	if !ok {
		return
	}
	actor.SendLater(ctx, addr, syncTickMsg{}, delay)
}

// runCycle is PickingCandidate -> AcquiringSourceHold -> AcquiringReceiver
// -> AcquiringSender -> Transferring -> ReleasingHolds, wrapped in a single
// DatasetSync observation.
func (a *SyncActor) runCycle(ctx context.Context) actor.TerminalState {
	var outcome actor.TerminalState = actor.Succeeded

	err := Observe(ctx, a.broker, a.Model.ID(), model.EventDatasetSync, func() error {
		candidate, parent, err := a.pickCandidate(ctx)
		if err != nil {
			outcome = actor.FailedFinal
			return err
		}
		if candidate == nil {
			return nil // nothing to do this cycle
		}

		sourceHolderID, _, _, err := a.acquireSourceHold(ctx, candidate.UUID, parentUUIDOf(parent))
		if err != nil {
			outcome = actor.FailedRetry
			return err
		}

		receiverHolderID, sink, err := a.acquireReceiver(ctx, parentUUIDOf(parent))
		if err != nil {
			a.releaseDatasetHold(ctx, sourceHolderID)
			outcome = actor.FailedRetry
			return err
		}

		senderHolderID, source, err := a.acquireSender(ctx, candidate.UUID, parentUUIDOf(parent))
		if err != nil {
			a.releaseDatasetHold(ctx, sourceHolderID)
			a.releaseContainerHold(ctx, receiverHolderID, false, "", time.Time{})
			outcome = actor.FailedRetry
			return err
		}

		written, transferErr := a.transfer(ctx, source, sink)

		a.releaseDatasetHold(ctx, sourceHolderID)
		a.releaseDatasetHold(ctx, senderHolderID)

		if transferErr != nil {
			a.releaseContainerHold(ctx, receiverHolderID, false, "", time.Time{})
			if ctx.Err() != nil {
				outcome = actor.Cancelled
			} else {
				outcome = actor.FailedRetry
			}
			return transferErr
		}

		receivedName, nameErr := sink.ReceivedName()
		if nameErr != nil {
			a.releaseContainerHold(ctx, receiverHolderID, false, "", time.Time{})
			outcome = actor.FailedRetry
			return nameErr
		}
		a.releaseContainerHold(ctx, receiverHolderID, true, receivedName, candidate.Datetime)

		metrics.SyncBytesTotal.WithLabelValues(a.Model.ID().String()).Add(float64(written))
		return nil
	})

	if err != nil {
		klog.ErrorS(err, "sync cycle failed", "sync", a.Model.ID())
	}
	return outcome
}

func parentUUIDOf(s *core.Snapshot) uuid.UUID {
	if s == nil {
		return uuid.Nil
	}
	return s.UUID
}

// pickCandidate queries both sides and returns the oldest source snapshot
// not yet received, plus the source-side snapshot matching the newest
// received snapshot's received-UUID, if any. A nil candidate means nothing
// is pending this cycle.
func (a *SyncActor) pickCandidate(ctx context.Context) (*core.Snapshot, *core.Snapshot, error) {
	sourceSnaps, err := a.getDatasetSnapshots(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list source snapshots: %w", err)
	}
	receivedSnaps, err := a.getContainerSnapshots(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list received snapshots: %w", err)
	}

	received := make(map[uuid.UUID]bool, len(receivedSnaps))
	for _, r := range receivedSnaps {
		received[r.ReceivedUUID] = true
	}

	var candidate *core.Snapshot
	for i := range sourceSnaps {
		if !received[sourceSnaps[i].UUID] {
			candidate = &sourceSnaps[i]
			break
		}
	}
	if candidate == nil {
		return nil, nil, nil
	}

	var parent *core.Snapshot
	if len(receivedSnaps) > 0 {
		newest := receivedSnaps[len(receivedSnaps)-1]
		for i := range sourceSnaps {
			if sourceSnaps[i].UUID == newest.ReceivedUUID {
				parent = &sourceSnaps[i]
				break
			}
		}
		// The received parent no longer exists on the source. Fall back to
		// a full transfer of the oldest unreceived snapshot rather than
		// hard-failing the cycle, and publish a Failed stage for the sync as
		// a warning.
		if parent == nil {
			klog.InfoS("sync parent missing on source, falling back to full send",
				"sync", a.Model.ID(), "missing_parent", newest.ReceivedUUID, "candidate", candidate.UUID)
			a.broker.Publish(ObservableEventMessage{Source: a.Model.ID(), Event: model.EventDatasetSync,
				Stage: StageFailed(fmt.Errorf("parent %s missing on source, falling back to full send", newest.ReceivedUUID))})
		}
	}

	return candidate, parent, nil
}

func (a *SyncActor) getDatasetSnapshots(ctx context.Context) ([]core.Snapshot, error) {
	reply := make(chan []core.Snapshot, 1)
	if err := a.dataset.Addr().Send(ctx, getDatasetSnapshotsMsg{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case snaps := <-reply:
		return snaps, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *SyncActor) getContainerSnapshots(ctx context.Context) ([]core.ReceivedSnapshot, error) {
	reply := make(chan []core.ReceivedSnapshot, 1)
	if err := a.container.Addr().Send(ctx, getContainerSnapshotsMsg{sourceDatasetID: a.Model.DatasetID, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case snaps := <-reply:
		return snaps, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *SyncActor) acquireSourceHold(ctx context.Context, sendUUID, parentUUID uuid.UUID) (holderID, snapPath, parentPath string, err error) {
	reply := make(chan holderReadyMsg, 1)
	if err := a.dataset.Addr().Send(ctx, getSnapshotHolderMsg{sendUUID: sendUUID, parentUUID: parentUUID, reply: reply}); err != nil {
		return "", "", "", err
	}
	select {
	case resp := <-reply:
		if resp.err != nil {
			return "", "", "", resp.err
		}
		return resp.holderID, resp.snapshotPath, resp.parentPath, nil
	case <-ctx.Done():
		return "", "", "", ctx.Err()
	}
}

func (a *SyncActor) acquireReceiver(ctx context.Context, parentUUID uuid.UUID) (string, fsgateway.ByteSink, error) {
	reply := make(chan receiverReadyMsg, 1)
	if err := a.container.Addr().Send(ctx, getSnapshotReceiverMsg{sourceDatasetID: a.Model.DatasetID, parentUUID: parentUUID, reply: reply}); err != nil {
		return "", nil, err
	}
	select {
	case resp := <-reply:
		if resp.err != nil {
			return "", nil, resp.err
		}
		return resp.holderID, resp.sink, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (a *SyncActor) acquireSender(ctx context.Context, sendUUID, parentUUID uuid.UUID) (string, fsgateway.ByteSource, error) {
	reply := make(chan senderReadyMsg, 1)
	if err := a.dataset.Addr().Send(ctx, getSnapshotSenderMsg{sendUUID: sendUUID, parentUUID: parentUUID, reply: reply}); err != nil {
		return "", nil, err
	}
	select {
	case resp := <-reply:
		if resp.err != nil {
			return "", nil, resp.err
		}
		return resp.holderID, resp.source, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

// transfer pumps source into sink, closing both sides promptly on
// cancellation so an interrupted btrfs send/receive process is killed
// rather than left running past shutdown.
func (a *SyncActor) transfer(ctx context.Context, source fsgateway.ByteSource, sink fsgateway.ByteSink) (int64, error) {
	type copyResult struct {
		n   int64
		err error
	}
	done := make(chan copyResult, 1)
	go func() {
		n, err := io.Copy(sink, source)
		done <- copyResult{n, err}
	}()

	var result copyResult
	select {
	case result = <-done:
	case <-ctx.Done():
		_ = source.Close()
		_ = sink.Close()
		return 0, ctx.Err()
	}

	closeSrcErr := source.Close()
	closeSinkErr := sink.Close()
	if result.err != nil {
		return result.n, result.err
	}
	if closeSrcErr != nil {
		return result.n, closeSrcErr
	}
	return result.n, closeSinkErr
}

// releaseDatasetHold and releaseContainerHold always use a background
// context: these run on the shutdown path as often as the happy path, and a
// hold release must be delivered even after the cycle's own ctx has been
// cancelled. DatasetActor and ContainerActor each keep servicing their
// mailbox for a grace period past cancellation specifically so these sends
// still land.
func (a *SyncActor) releaseDatasetHold(ctx context.Context, holderID string) {
	if holderID == "" {
		return
	}
	_ = a.dataset.Addr().Send(context.Background(), releaseHoldMsg{holderID: holderID})
}

func (a *SyncActor) releaseContainerHold(ctx context.Context, holderID string, ok bool, receivedName string, datetime time.Time) {
	if holderID == "" {
		return
	}
	msg := receiveFinishedMsg{holderID: holderID, sourceDatasetID: a.Model.DatasetID, receivedName: receivedName, datetime: datetime}
	if !ok {
		msg.err = fmt.Errorf("transfer did not complete")
	}
	_ = a.container.Addr().Send(context.Background(), msg)
}
