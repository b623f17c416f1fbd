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

type containerMsg interface{ isContainerMsg() }

type containerPruneTickMsg struct{}

func (containerPruneTickMsg) isContainerMsg() {}

type getContainerSnapshotsMsg struct {
	sourceDatasetID uuid.UUID
	reply           chan []core.ReceivedSnapshot
}

func (getContainerSnapshotsMsg) isContainerMsg() {}

// getSnapshotReceiverMsg asks for a receive sink for a transfer from
// sourceDatasetID, incremental against parentUUID when non-nil. parentUUID is
// the source-side UUID of the sync's chosen parent; the hold pins this
// container's received copy of it (the snapshot whose ReceivedUUID matches).
type getSnapshotReceiverMsg struct {
	sourceDatasetID uuid.UUID
	parentUUID      uuid.UUID
	reply           chan receiverReadyMsg
}

func (getSnapshotReceiverMsg) isContainerMsg() {}

type receiverReadyMsg struct {
	sink     fsgateway.ByteSink
	holderID string
	err      error
}

// receiveFinishedMsg reports the outcome of a transfer that was using a
// receiver this actor minted: on success it renames the received subvolume
// to carry the .bcrcv suffix before releasing the parent hold.
type receiveFinishedMsg struct {
	holderID        string
	sourceDatasetID uuid.UUID
	receivedName    string
	datetime        time.Time
	err             error
}

func (receiveFinishedMsg) isContainerMsg() {}

// ContainerActor owns one container's received-snapshot lists (one per
// source dataset), runs its prune schedule, and mints receive handles for
// SyncActor.
type ContainerActor struct {
	Container *core.Container
	broker    *Broker

	mailbox *actor.Mailbox[containerMsg]

	snapshots  map[uuid.UUID][]core.ReceivedSnapshot
	holds      HoldSet
	nextHoldID int
}

// NewContainerActor builds a ContainerActor over an already-attached
// container.
func NewContainerActor(container *core.Container, broker *Broker) *ContainerActor {
	return &ContainerActor{
		Container: container,
		broker:    broker,
		mailbox:   actor.NewMailbox[containerMsg](8),
		snapshots: make(map[uuid.UUID][]core.ReceivedSnapshot),
	}
}

// Addr returns the address other actors send requests to.
func (a *ContainerActor) Addr() actor.Address[containerMsg] {
	return a.mailbox.Addr()
}

// Run is the actor's supervised body.
func (a *ContainerActor) Run(ctx context.Context) actor.TerminalState {
	addr := a.Addr()
	if a.Container.Model.PruningState == model.FeatureEnabled && a.Container.Model.Retention != nil {
		a.scheduleNextPrune(ctx, addr)
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

// gracefulStop mirrors DatasetActor.gracefulStop: a SyncActor cycle in
// flight when the supervisor cancels ctx still needs to deliver its
// receiveFinishedMsg, sent with a background context so it survives past
// this actor's own cancellation.
func (a *ContainerActor) gracefulStop(addr actor.Address[containerMsg]) actor.TerminalState {
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

func (a *ContainerActor) scheduleNextPrune(ctx context.Context, addr actor.Address[containerMsg]) {
	sch, err := schedule.Parse(a.Container.Model.Retention.EvaluationSchedule)
	if err != nil {
		klog.ErrorS(err, "invalid prune schedule, not rescheduling", "container", a.Container.String())
		return
	}
	delay, ok := sch.NextDelay(time.Now())
	if !ok {
		return
	}
	actor.SendLater(ctx, addr, containerPruneTickMsg{}, delay)
}

func (a *ContainerActor) handle(ctx context.Context, addr actor.Address[containerMsg], msg containerMsg) {
	switch m := msg.(type) {
	case containerPruneTickMsg:
		a.handlePruneTick(ctx, addr)
	case getContainerSnapshotsMsg:
		a.handleGetSnapshots(ctx, m)
	case getSnapshotReceiverMsg:
		a.handleGetReceiver(ctx, m)
	case receiveFinishedMsg:
		a.handleReceiveFinished(ctx, m)
	}
}

func (a *ContainerActor) handleGetSnapshots(ctx context.Context, m getContainerSnapshotsMsg) {
	snaps, err := a.refreshSnapshots(ctx, m.sourceDatasetID)
	if err != nil {
		klog.ErrorS(err, "failed to enumerate received snapshots", "container", a.Container.String(), "source_dataset", m.sourceDatasetID)
	}
	out := make([]core.ReceivedSnapshot, len(snaps))
	copy(out, snaps)
	m.reply <- out
}

func (a *ContainerActor) refreshSnapshots(ctx context.Context, sourceDatasetID uuid.UUID) ([]core.ReceivedSnapshot, error) {
	snaps, err := a.Container.Snapshots(ctx, sourceDatasetID)
	if err != nil {
		return nil, err
	}
	a.snapshots[sourceDatasetID] = snaps
	return snaps, nil
}

func (a *ContainerActor) handlePruneTick(ctx context.Context, addr actor.Address[containerMsg]) {
	rule := a.Container.Model.Retention
	if rule == nil {
		return
	}

	timer := metrics.StartOperation("container_prune")
	err := Observe(ctx, a.broker, a.Container.Model.ID(), model.EventContainerPrune, func() error {
		var failures []error
		for sourceDatasetID := range a.snapshots {
			snaps, err := a.refreshSnapshots(ctx, sourceDatasetID)
			if err != nil {
				failures = append(failures, err)
				continue
			}
			if err := a.pruneSource(ctx, sourceDatasetID, snaps, *rule); err != nil {
				failures = append(failures, err)
			}
		}
		if len(failures) > 0 {
			return fmt.Errorf("container prune: %v", failures)
		}
		return nil
	})
	if err != nil {
		timer.ObserveError()
		klog.ErrorS(err, "prune tick failed", "container", a.Container.String())
	} else {
		timer.ObserveSuccess()
	}
	a.scheduleNextPrune(ctx, addr)
}

func (a *ContainerActor) pruneSource(ctx context.Context, sourceDatasetID uuid.UUID, snaps []core.ReceivedSnapshot, rule model.RetentionRule) error {
	asRetention := make([]retention.Snapshot, len(snaps))
	byUUID := make(map[uuid.UUID]core.ReceivedSnapshot, len(snaps))
	for i, s := range snaps {
		asRetention[i] = retention.Snapshot{UUID: s.UUID, Timestamp: s.Datetime}
		byUUID[s.UUID] = s
	}
	result := retention.Prune(asRetention, a.holds.UUIDs(), rule, time.Now())

	var failures []error
	kept := snaps[:0]
	deleted := make(map[uuid.UUID]bool)
	for _, victim := range result.Delete {
		snap, ok := byUUID[victim.UUID]
		if !ok {
			continue
		}
		if a.holds.Contains(snap.UUID) {
			panic(blkerrors.New(blkerrors.HoldViolation, "container.prune_source",
				fmt.Errorf("retention marked held snapshot %s for deletion", snap.Name())))
		}
		if err := a.Container.DeleteSnapshot(ctx, snap); err != nil {
			failures = append(failures, fmt.Errorf("delete %s: %w", snap.Name(), err))
			continue
		}
		deleted[victim.UUID] = true
	}
	for _, s := range snaps {
		if !deleted[s.UUID] {
			kept = append(kept, s)
		}
	}
	a.snapshots[sourceDatasetID] = kept

	if len(failures) > 0 {
		return fmt.Errorf("%v", failures)
	}
	return nil
}

func (a *ContainerActor) handleGetReceiver(ctx context.Context, m getSnapshotReceiverMsg) {
	sink, err := a.Container.Receive(ctx, m.sourceDatasetID)
	if err != nil {
		m.reply <- receiverReadyMsg{err: err}
		return
	}

	holderID := a.allocHoldID()
	hold := Hold{HolderID: holderID}
	if m.parentUUID != uuid.Nil {
		// Prune compares holds against this container's own snapshot UUIDs,
		// so pin the received copy of the parent, not the source-side UUID.
		for _, s := range a.snapshots[m.sourceDatasetID] {
			if s.ReceivedUUID == m.parentUUID {
				hold.SnapshotID = s.UUID
				break
			}
		}
	}
	a.holds.Insert(hold)
	a.reportHolds()

	m.reply <- receiverReadyMsg{sink: sink, holderID: holderID}
}

func (a *ContainerActor) reportHolds() {
	metrics.HoldsActive.WithLabelValues("container").Set(float64(a.holds.Len()))
}

func (a *ContainerActor) handleReceiveFinished(ctx context.Context, m receiveFinishedMsg) {
	defer a.reportHolds()
	defer a.holds.RemoveByHolderID(m.holderID)

	if m.err != nil {
		klog.ErrorS(m.err, "receive failed, incoming subvolume left for next scan", "container", a.Container.String())
		return
	}

	if _, err := a.Container.FinalizeReceive(ctx, m.sourceDatasetID, m.receivedName, m.datetime); err != nil {
		klog.ErrorS(err, "failed to finalize received snapshot", "container", a.Container.String())
		return
	}
	if _, err := a.refreshSnapshots(ctx, m.sourceDatasetID); err != nil {
		klog.ErrorS(err, "failed to rescan after receive", "container", a.Container.String())
	}
}

func (a *ContainerActor) allocHoldID() string {
	a.nextHoldID++
	return fmt.Sprintf("%s/hold-%d", a.Container.Model.ID(), a.nextHoldID)
}

func (a *ContainerActor) drainHolds() actor.TerminalState {
	if a.holds.Len() > 0 {
		return actor.Cancelled
	}
	return actor.Succeeded
}
