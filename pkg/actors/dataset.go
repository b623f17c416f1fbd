package actors

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/sagelywizard/blkcaptwrk/pkg/actor"
	blkerrors "github.com/sagelywizard/blkcaptwrk/pkg/blkcaptwrk/errors"
	"github.com/sagelywizard/blkcaptwrk/pkg/core"
	"github.com/sagelywizard/blkcaptwrk/pkg/fsgateway"
	"github.com/sagelywizard/blkcaptwrk/pkg/metrics"
	"github.com/sagelywizard/blkcaptwrk/pkg/model"
	"github.com/sagelywizard/blkcaptwrk/pkg/retention"
	"github.com/sagelywizard/blkcaptwrk/pkg/schedule"
)

type datasetMsg interface{ isDatasetMsg() }

type snapshotTickMsg struct{}

func (snapshotTickMsg) isDatasetMsg() {}

type pruneTickMsg struct{}

func (pruneTickMsg) isDatasetMsg() {}

// getDatasetSnapshotsMsg asks a DatasetActor for its current snapshot list.
type getDatasetSnapshotsMsg struct {
	reply chan []core.Snapshot
}

func (getDatasetSnapshotsMsg) isDatasetMsg() {}

// getSnapshotSenderMsg requests a byte source for sendUUID, incremental
// against parentUUID when it is not uuid.Nil.
type getSnapshotSenderMsg struct {
	sendUUID, parentUUID uuid.UUID
	reply                chan senderReadyMsg
}

func (getSnapshotSenderMsg) isDatasetMsg() {}

type senderReadyMsg struct {
	source   fsgateway.ByteSource
	holderID string
	err      error
}

// getSnapshotHolderMsg requests a passive hold on sendUUID (and parentUUID,
// if present) without opening any I/O — used by SyncActor to pin the
// source side of a receive before the sender itself is ready.
type getSnapshotHolderMsg struct {
	sendUUID, parentUUID uuid.UUID
	reply                chan holderReadyMsg
}

func (getSnapshotHolderMsg) isDatasetMsg() {}

type holderReadyMsg struct {
	holderID         string
	snapshotPath     string
	parentPath       string
	err              error
}

// releaseHoldMsg is sent by a sender or holder once it is done, so the
// owning actor can drop its hold record. Mirrors the source's
// SenderFinished/HolderFinished messages, unified since both only need the
// holder id.
type releaseHoldMsg struct {
	holderID string
}

func (releaseHoldMsg) isDatasetMsg() {}

// DatasetActor owns one dataset's snapshot list, runs its snapshot and
// prune schedules, and mints sender/holder handles for SyncActor.
type DatasetActor struct {
	Dataset *core.Dataset
	broker  *Broker

	mailbox *actor.Mailbox[datasetMsg]

	snapshots  []core.Snapshot
	holds      HoldSet
	nextHoldID int
}

// NewDatasetActor builds a DatasetActor over an already-attached dataset.
func NewDatasetActor(dataset *core.Dataset, broker *Broker) *DatasetActor {
	return &DatasetActor{
		Dataset: dataset,
		broker:  broker,
		mailbox: actor.NewMailbox[datasetMsg](8),
	}
}

// Addr returns the address other actors send requests to.
func (a *DatasetActor) Addr() actor.Address[datasetMsg] {
	return a.mailbox.Addr()
}

// Run is the actor's supervised body: loads the current snapshot list,
// schedules its first ticks, then services its mailbox until ctx is
// cancelled.
func (a *DatasetActor) Run(ctx context.Context) actor.TerminalState {
	snaps, err := a.Dataset.Snapshots(ctx)
	if err != nil {
		klog.ErrorS(err, "dataset actor failed to enumerate snapshots", "dataset", a.Dataset.String())
		return actor.FailedFinal
	}
	a.snapshots = snaps

	addr := a.Addr()
	if a.Dataset.Model.SnapshottingState == model.FeatureEnabled && a.Dataset.Model.SnapshotSchedule != nil {
		a.scheduleNext(ctx, addr, *a.Dataset.Model.SnapshotSchedule, snapshotTickMsg{}, "snapshot")
	}
	if a.Dataset.Model.PruningState == model.FeatureEnabled && a.Dataset.Model.SnapshotRetention != nil {
		a.scheduleNext(ctx, addr, a.Dataset.Model.SnapshotRetention.EvaluationSchedule, pruneTickMsg{}, "prune")
	}

	for {
		select {
		case <-ctx.Done():
			return a.gracefulStop(addr)
		case msg := <-a.mailbox.Recv():
			a.handle(ctx, addr, msg)
		}
	}
}

// gracefulStop runs after the supervisor cancels ctx. SyncActor cycles in
// flight at that instant still need to deliver their hold releases, which
// they send with a background context precisely so they survive past this
// actor's own cancellation; keep servicing the mailbox for a bounded grace
// window so those releases are not lost to the same shutdown that triggered
// them, then report whatever holds remain. With no hold outstanding it
// returns at once.
func (a *DatasetActor) gracefulStop(addr actor.Address[datasetMsg]) actor.TerminalState {
	if a.holds.Len() == 0 {
		return actor.Succeeded
	}
	grace := time.NewTimer(shutdownGracePeriod)
	defer grace.Stop()
	for {
		select {
		case msg := <-a.mailbox.Recv():
			a.handle(context.Background(), addr, msg)
			if a.holds.Len() == 0 {
				return actor.Succeeded
			}
		case <-grace.C:
			return a.drainHolds()
		}
	}
}

func (a *DatasetActor) scheduleNext(ctx context.Context, addr actor.Address[datasetMsg], expr string, msg datasetMsg, label string) {
	sch, err := schedule.Parse(expr)
	if err != nil {
		klog.ErrorS(err, "invalid schedule, not rescheduling", "dataset", a.Dataset.String(), "kind", label)
		return
	}
	delay, ok := sch.NextDelay(time.Now())
	if !ok {
		return
	}
	actor.SendLater(ctx, addr, msg, delay)
}

func (a *DatasetActor) handle(ctx context.Context, addr actor.Address[datasetMsg], msg datasetMsg) {
	switch m := msg.(type) {
	case snapshotTickMsg:
		a.handleSnapshotTick(ctx, addr)
	case pruneTickMsg:
		a.handlePruneTick(ctx, addr)
	case getDatasetSnapshotsMsg:
		out := make([]core.Snapshot, len(a.snapshots))
		copy(out, a.snapshots)
		m.reply <- out
	case getSnapshotSenderMsg:
		a.handleGetSender(ctx, m)
	case getSnapshotHolderMsg:
		a.handleGetHolder(m)
	case releaseHoldMsg:
		a.holds.RemoveByHolderID(m.holderID)
		a.reportHolds()
	}
}

func (a *DatasetActor) reportHolds() {
	metrics.HoldsActive.WithLabelValues("dataset").Set(float64(a.holds.Len()))
}

func (a *DatasetActor) handleSnapshotTick(ctx context.Context, addr actor.Address[datasetMsg]) {
	timer := metrics.StartOperation("dataset_snapshot")
	err := Observe(ctx, a.broker, a.Dataset.Model.ID(), model.EventDatasetSnapshot, func() error {
		snap, err := a.Dataset.CreateSnapshot(ctx, time.Now())
		if err != nil {
			return err
		}
		a.snapshots = append(a.snapshots, snap)
		klog.InfoS("snapshot created", "dataset", a.Dataset.String(), "time", snap.Datetime)
		return nil
	})
	if err != nil {
		timer.ObserveError()
		klog.ErrorS(err, "snapshot tick failed", "dataset", a.Dataset.String())
	} else {
		timer.ObserveSuccess()
	}
	if a.Dataset.Model.SnapshotSchedule != nil {
		a.scheduleNext(ctx, addr, *a.Dataset.Model.SnapshotSchedule, snapshotTickMsg{}, "snapshot")
	}
}

func (a *DatasetActor) handlePruneTick(ctx context.Context, addr actor.Address[datasetMsg]) {
	rule := a.Dataset.Model.SnapshotRetention
	if rule == nil {
		return
	}

	timer := metrics.StartOperation("dataset_prune")
	err := Observe(ctx, a.broker, a.Dataset.Model.ID(), model.EventDatasetPrune, func() error {
		result := retention.Prune(toRetentionSnapshots(a.snapshots), a.holds.UUIDs(), *rule, time.Now())
		return a.applyPrune(ctx, result)
	})
	if err != nil {
		timer.ObserveError()
		klog.ErrorS(err, "prune tick failed", "dataset", a.Dataset.String())
	} else {
		timer.ObserveSuccess()
	}
	a.scheduleNext(ctx, addr, rule.EvaluationSchedule, pruneTickMsg{}, "prune")
}

// applyPrune deletes everything result marks for deletion, then removes
// deleted UUIDs from the in-memory snapshot list. Failed deletes are
// aggregated, never silently dropped.
//
// retention.Prune is already given the live hold set and must never return a
// held snapshot in its Delete set; holds.Contains is checked again here,
// immediately before the delete call, as the last line of defense against
// that invariant breaking. A panic rather than a skip, because a held
// snapshot surviving retention's own filtering means the hold bookkeeping
// disagrees with itself and continuing would risk deleting live data.
func (a *DatasetActor) applyPrune(ctx context.Context, result retention.Result) error {
	deleted := make(map[uuid.UUID]bool, len(result.Delete))
	var failures []error
	for _, victim := range result.Delete {
		snap := a.findSnapshot(victim.UUID)
		if snap == nil {
			continue
		}
		if a.holds.Contains(snap.UUID) {
			panic(blkerrors.New(blkerrors.HoldViolation, "dataset.apply_prune",
				fmt.Errorf("retention marked held snapshot %s for deletion", snap.Name())))
		}
		if err := a.deleteSnapshot(ctx, *snap); err != nil {
			failures = append(failures, fmt.Errorf("delete %s: %w", snap.Name(), err))
			continue
		}
		deleted[victim.UUID] = true
	}

	if len(deleted) > 0 {
		kept := a.snapshots[:0]
		for _, snap := range a.snapshots {
			if !deleted[snap.UUID] {
				kept = append(kept, snap)
			}
		}
		a.snapshots = kept
	}

	if len(failures) > 0 {
		return fmt.Errorf("prune: %d snapshot(s) failed to delete: %v", len(failures), failures)
	}
	return nil
}

func (a *DatasetActor) findSnapshot(id uuid.UUID) *core.Snapshot {
	for i := range a.snapshots {
		if a.snapshots[i].UUID == id {
			return &a.snapshots[i]
		}
	}
	return nil
}

func (a *DatasetActor) handleGetSender(ctx context.Context, m getSnapshotSenderMsg) {
	sendSnap := a.findSnapshot(m.sendUUID)
	if sendSnap == nil {
		m.reply <- senderReadyMsg{err: fmt.Errorf("snapshot %s not found", m.sendUUID)}
		return
	}
	var parentSnap *core.Snapshot
	if m.parentUUID != uuid.Nil {
		parentSnap = a.findSnapshot(m.parentUUID)
		if parentSnap == nil {
			m.reply <- senderReadyMsg{err: fmt.Errorf("parent snapshot %s not found", m.parentUUID)}
			return
		}
	}

	source, err := a.Dataset.Send(ctx, *sendSnap, parentSnap)
	if err != nil {
		m.reply <- senderReadyMsg{err: err}
		return
	}

	holderID := a.allocHoldID()
	hold := Hold{HolderID: holderID, SnapshotID: sendSnap.UUID}
	if parentSnap != nil {
		hold.ParentID = parentSnap.UUID
	}
	a.holds.Insert(hold)
	a.reportHolds()

	m.reply <- senderReadyMsg{source: source, holderID: holderID}
}

func (a *DatasetActor) handleGetHolder(m getSnapshotHolderMsg) {
	sendSnap := a.findSnapshot(m.sendUUID)
	if sendSnap == nil {
		m.reply <- holderReadyMsg{err: fmt.Errorf("snapshot %s not found", m.sendUUID)}
		return
	}
	var parentSnap *core.Snapshot
	if m.parentUUID != uuid.Nil {
		parentSnap = a.findSnapshot(m.parentUUID)
		if parentSnap == nil {
			m.reply <- holderReadyMsg{err: fmt.Errorf("parent snapshot %s not found", m.parentUUID)}
			return
		}
	}

	holderID := a.allocHoldID()
	hold := Hold{HolderID: holderID, SnapshotID: sendSnap.UUID}
	resp := holderReadyMsg{holderID: holderID, snapshotPath: a.Dataset.AbsolutePath(sendSnap.Path)}
	if parentSnap != nil {
		hold.ParentID = parentSnap.UUID
		resp.parentPath = a.Dataset.AbsolutePath(parentSnap.Path)
	}
	a.holds.Insert(hold)
	a.reportHolds()
	m.reply <- resp
}

func (a *DatasetActor) allocHoldID() string {
	a.nextHoldID++
	return fmt.Sprintf("%s/hold-%d", a.Dataset.Model.ID(), a.nextHoldID)
}

func (a *DatasetActor) deleteSnapshot(ctx context.Context, snap core.Snapshot) error {
	return a.Dataset.DeleteSnapshot(ctx, snap)
}

// drainHolds is the stopped() behavior: nothing here actively owns a
// long-running child goroutine (SyncActor drives the transfer), so a
// DatasetActor's own shutdown is always clean; it reports Cancelled only
// when asked to stop with holds still outstanding, signalling to the root
// that in-flight transfers were interrupted rather than finished normally.
func (a *DatasetActor) drainHolds() actor.TerminalState {
	if a.holds.Len() > 0 {
		return actor.Cancelled
	}
	return actor.Succeeded
}

func toRetentionSnapshots(snaps []core.Snapshot) []retention.Snapshot {
	out := make([]retention.Snapshot, len(snaps))
	for i, s := range snaps {
		out[i] = retention.Snapshot{UUID: s.UUID, Timestamp: s.Datetime}
	}
	return out
}
