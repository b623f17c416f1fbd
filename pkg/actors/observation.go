// Package actors holds the domain-specific actor graph: DatasetActor,
// ContainerActor, SyncActor and its transfer state machine, ObserverActor,
// and the root supervisor that wires them together from persisted config.
// It is built entirely on the generic primitives in pkg/actor.
package actors

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sagelywizard/blkcaptwrk/pkg/actor"
	"github.com/sagelywizard/blkcaptwrk/pkg/model"
)

// ObservableEventStage is where in its lifecycle an observed operation is:
// about to start, finished cleanly, or finished with an error.
type ObservableEventStage struct {
	Kind string
	Err  string
}

func (s ObservableEventStage) String() string {
	if s.Kind == "failed" {
		return fmt.Sprintf("failed: %s", s.Err)
	}
	return s.Kind
}

var (
	StageStarting  = ObservableEventStage{Kind: "starting"}
	StageSucceeded = ObservableEventStage{Kind: "succeeded"}
)

// StageFailed builds a Failed stage carrying err's stringified chain, the
// form that gets surfaced to both the log and the outward health-check
// ping body.
func StageFailed(err error) ObservableEventStage {
	return ObservableEventStage{Kind: "failed", Err: err.Error()}
}

// ObservableEventMessage is published on the observation broker once per
// Observe call per stage: Starting, then Succeeded or Failed.
type ObservableEventMessage struct {
	Source uuid.UUID
	Event  model.ObservableEvent
	Stage  ObservableEventStage
}

// Broker is the shared pub/sub topic every observable operation publishes
// to and ObserverActor subscribes from. Replaces the source's process-wide
// singleton router with an explicit, passed-in dependency.
type Broker = actor.Broker[ObservableEventMessage]

// NewBroker creates the observation broker; one is constructed by the root
// supervisor and shared by every actor in the graph.
func NewBroker() *Broker {
	return actor.NewBroker[ObservableEventMessage](16)
}

// Observe wraps fn in the Starting/Succeeded/Failed envelope and publishes
// each stage to broker, returning fn's error untouched. DatasetActor,
// ContainerActor, and SyncActor all route their fallible operations through
// this single helper so every new operation gets start/success/failure
// signalling by construction.
func Observe(ctx context.Context, broker *Broker, source uuid.UUID, event model.ObservableEvent, fn func() error) error {
	broker.Publish(ObservableEventMessage{Source: source, Event: event, Stage: StageStarting})
	if err := fn(); err != nil {
		broker.Publish(ObservableEventMessage{Source: source, Event: event, Stage: StageFailed(err)})
		return err
	}
	broker.Publish(ObservableEventMessage{Source: source, Event: event, Stage: StageSucceeded})
	return nil
}

// ObservationRouter answers, for one observer entity, which healthcheck IDs
// a (source, event) pair should ping — a linear filter, matching the
// source's own router, now scoped to one observer instead of a global.
type ObservationRouter struct {
	observations []model.HealthchecksObservation
}

func NewObservationRouter(observations []model.HealthchecksObservation) *ObservationRouter {
	return &ObservationRouter{observations: observations}
}

// Route returns every healthcheck ID registered for (source, event).
func (r *ObservationRouter) Route(source uuid.UUID, event model.ObservableEvent) []uuid.UUID {
	var out []uuid.UUID
	for _, o := range r.observations {
		if o.EntityID == source && o.Event == event {
			out = append(out, o.HealthcheckID)
		}
	}
	return out
}
