package actors

import (
	"context"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/sagelywizard/blkcaptwrk/pkg/actor"
	"github.com/sagelywizard/blkcaptwrk/pkg/healthcheck"
	"github.com/sagelywizard/blkcaptwrk/pkg/metrics"
	"github.com/sagelywizard/blkcaptwrk/pkg/model"
)

type observerMsg interface{ isObserverMsg() }

type heartbeatTickMsg struct{}

func (heartbeatTickMsg) isObserverMsg() {}

// ObserverActor subscribes to the observation broker and turns routed
// events into healthchecks.io pings, plus an independent heartbeat ping on
// its own schedule. It has no request/reply protocol of its own — nothing
// ever needs to ask an ObserverActor for anything — so its mailbox only
// carries its self-scheduled heartbeat tick.
type ObserverActor struct {
	Model   model.HealthchecksObserverEntity
	broker  *Broker
	emitter *healthcheck.Emitter
	router  *ObservationRouter

	mailbox *actor.Mailbox[observerMsg]
}

// NewObserverActor builds an ObserverActor over an already-loaded observer
// entity.
func NewObserverActor(entity model.HealthchecksObserverEntity, broker *Broker) *ObserverActor {
	baseURL := entity.CustomURL
	if baseURL == "" {
		baseURL = healthcheck.DefaultBaseURL
	}
	return &ObserverActor{
		Model:   entity,
		broker:  broker,
		emitter: healthcheck.NewEmitter(baseURL),
		router:  NewObservationRouter(entity.Observations),
		mailbox: actor.NewMailbox[observerMsg](1),
	}
}

func (a *ObserverActor) Addr() actor.Address[observerMsg] { return a.mailbox.Addr() }

// Run subscribes to the observation broker, fires the heartbeat (if
// configured) on its own interval, and routes every published event to the
// healthcheck IDs registered for it until ctx is cancelled.
func (a *ObserverActor) Run(ctx context.Context) actor.TerminalState {
	sub := a.broker.Subscribe()
	defer sub.Unsubscribe()

	addr := a.Addr()
	if a.Model.Heartbeat != nil {
		actor.SendLater(ctx, addr, heartbeatTickMsg{}, 0)
	}

	for {
		select {
		case <-ctx.Done():
			return actor.Succeeded
		case msg, ok := <-sub.C():
			if !ok {
				return actor.Succeeded
			}
			a.routeEvent(ctx, msg)
		case _, ok := <-a.mailbox.Recv():
			if !ok {
				return actor.Succeeded
			}
			a.handleHeartbeat(ctx, addr)
		}
	}
}

func (a *ObserverActor) routeEvent(ctx context.Context, msg ObservableEventMessage) {
	ids := a.router.Route(msg.Source, msg.Event)
	for _, id := range ids {
		a.emit(ctx, id, msg.Stage)
	}
}

func (a *ObserverActor) handleHeartbeat(ctx context.Context, addr actor.Address[observerMsg]) {
	hb := a.Model.Heartbeat
	if hb == nil {
		return
	}
	a.emit(ctx, hb.HealthcheckID, StageSucceeded)
	actor.SendLater(ctx, addr, heartbeatTickMsg{}, hb.Frequency)
}

func (a *ObserverActor) emit(ctx context.Context, id uuid.UUID, stage ObservableEventStage) {
	suffix, body := pingArgs(stage)
	timer := metrics.StartOperation("healthcheck_emit")
	if err := a.emitter.Ping(ctx, id, suffix, body); err != nil {
		timer.ObserveError()
		metrics.ObservationEmitTotal.WithLabelValues("failed").Inc()
		klog.ErrorS(err, "healthcheck ping failed", "observer", a.Model.ObserverName, "healthcheck_id", id)
		return
	}
	timer.ObserveSuccess()
	metrics.ObservationEmitTotal.WithLabelValues("succeeded").Inc()
}

func pingArgs(stage ObservableEventStage) (suffix, body string) {
	switch stage.Kind {
	case "starting":
		return "/start", ""
	case "failed":
		return "/fail", stage.Err
	default:
		return "", ""
	}
}
