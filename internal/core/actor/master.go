package actor

import (
	"fmt"
	"log"
	"time"

	adactor "github.com/dcastel/ecowatch/internal/adapter/actor"
	"github.com/dcastel/ecowatch/internal/config"
	"github.com/dcastel/ecowatch/internal/core/domain"
	"github.com/dcastel/ecowatch/internal/core/port"
	"github.com/dcastel/ecowatch/internal/metrics"
	. "github.com/dcastel/ecowatch/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type StreamActorProvider func(*eventstream.EventStream) *adactor.StreamActor

// MasterActor supervises the stream, poller and recorder children and routes
// requests from the HTTP surface to the right child.
type MasterActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	streamActor        *actor.PID
	pollerActor        *actor.PID
	recorderActor      *actor.PID

	streamActorProvider StreamActorProvider
	quotaReader         port.QuotaReader
	recorder            port.Recorder
	metrics             *metrics.AppMetrics
	logger              *zap.Logger
}

type healthCheckResult struct {
	streamActorHealthy   bool
	pollerActorHealthy   bool
	recorderActorHealthy bool
	checksReceived       int
	respondTo            *actor.PID
}

func NewMasterActor(config config.Config, streamActorProvider StreamActorProvider, quotaReader port.QuotaReader,
	recorder port.Recorder, appMetrics *metrics.AppMetrics, logger *zap.Logger) *MasterActor {
	act := &MasterActor{
		config:              config,
		behavior:            actor.NewBehavior(),
		stash:               &Stash{},
		logger:              ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:         &eventstream.EventStream{},
		streamActorProvider: streamActorProvider,
		quotaReader:         quotaReader,
		recorder:            recorder,
		metrics:             appMetrics,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		streamActorPID, err := state.startStreamActor(ctx)
		if err != nil {
			panic(err)
		}
		state.streamActor = streamActorPID

		pollerActorPID, err := state.startPollerActor(ctx)
		if err != nil {
			panic(err)
		}
		state.pollerActor = pollerActorPID

		recorderActorPID, err := state.startRecorderActor(ctx)
		if err != nil {
			panic(err)
		}
		state.recorderActor = recorderActorPID

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.streamActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_STREAM,
				Healthy: false,
			}
		})
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.pollerActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_POLLER,
				Healthy: false,
			}
		})
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.recorderActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_RECORDER,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.GetDeviceStateRequest:
		state.logger.Debug("master@default GetDeviceStateRequest")
		ctx.Forward(state.streamActor)
	case domain.SetACOutputRequest:
		state.logger.Debug("master@default SetACOutputRequest")
		ctx.Forward(state.streamActor)
	case domain.SetUSBOutputRequest:
		state.logger.Debug("master@default SetUSBOutputRequest")
		ctx.Forward(state.streamActor)
	case domain.SetCarOutputRequest:
		state.logger.Debug("master@default SetCarOutputRequest")
		ctx.Forward(state.streamActor)
	case domain.GetQuotaRequest:
		state.logger.Debug("master@default GetQuotaRequest")
		ctx.Forward(state.pollerActor)
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// a silent child counts as unhealthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_STREAM:
				state.currentHealthCheck.streamActorHealthy = true
			case domain.ACTOR_ID_POLLER:
				state.currentHealthCheck.pollerActorHealthy = true
			case domain.ACTOR_ID_RECORDER:
				state.currentHealthCheck.recorderActorHealthy = true
			}
		}
		if state.currentHealthCheck.allReceived() {
			state.currentHealthCheck.respond(ctx)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// startStreamActor uses an exponential backoff supervisor: every restart
// re-fetches credentials, so a dead session always reconnects with a fresh
// bundle.
func (state *MasterActor) startStreamActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	streamProps := actor.PropsFromProducer(func() actor.Actor {
		return state.streamActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	streamActorPID, err := ctx.SpawnNamed(streamProps, domain.ACTOR_ID_STREAM)
	if err != nil {
		return nil, err
	}

	return streamActorPID, nil
}

func (state *MasterActor) startPollerActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	pollerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(&state.config, state.quotaReader, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	pollerActorPID, err := ctx.SpawnNamed(pollerProps, domain.ACTOR_ID_POLLER)
	if err != nil {
		return nil, err
	}

	return pollerActorPID, nil
}

func (state *MasterActor) startRecorderActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	recorderProps := actor.PropsFromProducer(func() actor.Actor {
		return NewRecorderActor(state.eventStream, state.recorder, state.metrics, state.logger)
	}, actor.WithSupervisor(supervisor))
	recorderActorPID, err := ctx.SpawnNamed(recorderProps, domain.ACTOR_ID_RECORDER)
	if err != nil {
		return nil, err
	}

	return recorderActorPID, nil
}

func (state *healthCheckResult) reset() {
	state.streamActorHealthy = false
	state.pollerActorHealthy = false
	state.recorderActorHealthy = false
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 3
}

func (state *healthCheckResult) allHealthy() bool {
	return state.streamActorHealthy && state.pollerActorHealthy && state.recorderActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
