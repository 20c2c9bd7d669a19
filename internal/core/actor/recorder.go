package actor

import (
	"fmt"

	"github.com/dcastel/ecowatch/internal/core/domain"
	"github.com/dcastel/ecowatch/internal/core/port"
	"github.com/dcastel/ecowatch/internal/metrics"
	. "github.com/dcastel/ecowatch/internal/util/actorutil"
	"github.com/dcastel/ecowatch/pkg/ecoflow"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// RecorderActor drains monitor events from the event stream into the metrics
// registry and, when enabled, the history store. The subscription callback
// only forwards to the mailbox, so slow sqlite writes never block publishers.
type RecorderActor struct {
	eventStream  *eventstream.EventStream
	subscription *eventstream.Subscription

	recorder port.Recorder // nil when history is disabled
	metrics  *metrics.AppMetrics
	logger   *zap.Logger
}

func NewRecorderActor(eventStream *eventstream.EventStream, recorder port.Recorder, appMetrics *metrics.AppMetrics, logger *zap.Logger) *RecorderActor {
	return &RecorderActor{
		eventStream: eventStream,
		recorder:    recorder,
		metrics:     appMetrics,
		logger:      ActorLogger(domain.ACTOR_ID_RECORDER, logger),
	}
}

func (state *RecorderActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("recorder started")
		self := ctx.Self()
		state.subscription = state.eventStream.Subscribe(func(evt any) {
			ctx.Send(self, evt)
		})
	case *actor.Stopping, *actor.Restarting:
		if state.subscription != nil {
			state.eventStream.Unsubscribe(state.subscription)
			state.subscription = nil
		}
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_RECORDER,
			Healthy: true,
			State:   "idle",
		})
	case domain.ChargingStartedEvent:
		state.logger.Info("charging started", zap.Any("soc", msg.State.SOC))
		state.metrics.TransitionsTotal.WithLabelValues("start").Inc()
		state.persistTransition("start", msg.State)
	case domain.ChargingStoppedEvent:
		state.logger.Info("charging stopped", zap.Any("soc", msg.State.SOC))
		state.metrics.TransitionsTotal.WithLabelValues("stop").Inc()
		state.persistTransition("stop", msg.State)
	case domain.SnapshotUpdatedEvent:
		state.metrics.ObserveSnapshot(msg.Source, msg.State)
		if state.recorder != nil {
			if err := state.recorder.RecordSnapshot(msg.Source, msg.State); err != nil {
				state.logger.Error("recorder snapshot write failed", zap.Error(err))
			}
		}
	case domain.CommandPublishedEvent:
		result := "rejected"
		if msg.Accepted {
			result = "accepted"
		}
		state.metrics.CommandsTotal.WithLabelValues(msg.OperateType, result).Inc()
	case domain.StreamConnectedEvent:
		state.metrics.ConnectsTotal.Inc()
	case domain.StreamDisconnectedEvent:
		state.metrics.DisconnectsTotal.Inc()
	default:
		state.logger.Debug("recorder ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *RecorderActor) persistTransition(kind string, deviceState ecoflow.DeviceState) {
	if state.recorder == nil {
		return
	}
	if err := state.recorder.RecordTransition(kind, deviceState); err != nil {
		state.logger.Error("recorder transition write failed", zap.Error(err))
	}
}
