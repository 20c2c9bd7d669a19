package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/dcastel/ecowatch/internal/config"
	"github.com/dcastel/ecowatch/internal/core/domain"
	"github.com/dcastel/ecowatch/internal/core/port"
	"github.com/dcastel/ecowatch/internal/util/actorutil"
	"github.com/dcastel/ecowatch/pkg/ecoflow"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// StreamMonitor is the slice of ecoflow.Monitor the actor drives. Tests
// substitute a fake.
type StreamMonitor interface {
	Start() error
	Stop()
	State() ecoflow.DeviceState
	Charging() *bool
	ConnState() ecoflow.ConnState
	SetACOutput(enabled bool, voltage int, freq int, xboost bool) bool
	SetUSBOutput(enabled bool) bool
	SetCarOutput(enabled bool) bool
}

type MonitorProvider func(creds ecoflow.Credentials, callbacks ecoflow.MonitorCallbacks) StreamMonitor

// StreamActor owns the MQTT stream session. Credentials are fetched on every
// start because a bundle is single-use: a supervisor restart therefore always
// re-certifies before reconnecting.
type StreamActor struct {
	config   *config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash

	credProvider    port.CredentialProvider
	monitorProvider MonitorProvider
	eventStream     *eventstream.EventStream
	monitor         StreamMonitor
	logger          *zap.Logger
}

type credentialsResult struct {
	creds *ecoflow.Credentials
	err   error
}

type streamConnected struct {
}

type streamConnectionLost struct {
	err error
}

type chargingChanged struct {
	charging bool
	state    ecoflow.DeviceState
}

type snapshotUpdated struct {
	state ecoflow.DeviceState
}

func NewStreamActor(config *config.Config, credProvider port.CredentialProvider,
	eventStream *eventstream.EventStream, logger *zap.Logger) *StreamActor {
	act := &StreamActor{
		config:       config,
		behavior:     actor.NewBehavior(),
		stash:        &actorutil.Stash{},
		credProvider: credProvider,
		eventStream:  eventStream,
		logger:       actorutil.ActorLogger(domain.ACTOR_ID_STREAM, logger),
	}
	act.monitorProvider = func(creds ecoflow.Credentials, callbacks ecoflow.MonitorCallbacks) StreamMonitor {
		return ecoflow.NewMonitor(creds, config.EcoFlow.DeviceSN, config.MonitorConfig.ChargingWattsThreshold, callbacks, logger)
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

// WithMonitorProvider overrides how the session monitor is built. Tests use
// it to substitute a fake behind the real startup flow.
func (state *StreamActor) WithMonitorProvider(provider MonitorProvider) *StreamActor {
	state.monitorProvider = provider
	return state
}

func (state *StreamActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *StreamActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("stream@starting started")

		actorutil.NewBackgroundTask(ctx, func() (*credentialsResult, error) {
			creds, err := state.credProvider.GetMQTTCredentials(context.Background())
			return &credentialsResult{creds: creds, err: err}, nil
		}).WithTimeout(20 * time.Second).Recover(func(err error) credentialsResult {
			return credentialsResult{err: err}
		}).PipeTo(ctx.Self())

	case credentialsResult:
		if msg.err != nil {
			// let the backoff supervisor restart us into a fresh fetch
			state.logger.Error("stream@starting credential fetch failed", zap.Error(msg.err))
			panic(msg.err)
		}
		state.logger.Debug("stream@starting credentials ready")
		state.monitor = state.monitorProvider(*msg.creds, state.monitorCallbacks(ctx))

		actorutil.NewBackgroundTaskErr(ctx, func() error {
			return state.monitor.Start()
		}).OnError(func(err error) {
			ctx.Send(ctx.Self(), streamConnectionLost{err: err})
		}).Run()
	case streamConnected:
		state.logger.Debug("stream@starting connected")
		state.eventStream.Publish(domain.StreamConnectedEvent{
			MonitorEventMixIn: domain.MonitorEventMixIn{At: time.Now()},
		})
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case streamConnectionLost:
		// boot failure: stop and let the supervisor decide
		state.logger.Error("stream@starting connection failed", zap.Error(msg.err))
		panic(msg.err)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("stream@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *StreamActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("stream@default ActorHealthRequest")
		connState := state.monitor.ConnState()
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_STREAM,
			Healthy: connState == ecoflow.StateConnected,
			State:   connState.String(),
		})
	case domain.GetDeviceStateRequest:
		state.logger.Debug("stream@default GetDeviceStateRequest")
		actorutil.ForRequest(msg).Respond(ctx, domain.GetDeviceStateResponse{
			State:     state.monitor.State(),
			Charging:  state.monitor.Charging(),
			ConnState: state.monitor.ConnState().String(),
		})
	case domain.SetACOutputRequest:
		state.logger.Debug("stream@default SetACOutputRequest", zap.Bool("enabled", msg.Enabled))
		accepted := state.monitor.SetACOutput(msg.Enabled, state.config.ACOutputConfig.Voltage,
			state.config.ACOutputConfig.Freq, state.config.ACOutputConfig.XBoost)
		state.publishCommandEvent("acOutCfg", accepted)
		actorutil.ForRequest(msg).Respond(ctx, domain.CommandResponse{Accepted: accepted})
	case domain.SetUSBOutputRequest:
		state.logger.Debug("stream@default SetUSBOutputRequest", zap.Bool("enabled", msg.Enabled))
		accepted := state.monitor.SetUSBOutput(msg.Enabled)
		state.publishCommandEvent("dcOutCfg", accepted)
		actorutil.ForRequest(msg).Respond(ctx, domain.CommandResponse{Accepted: accepted})
	case domain.SetCarOutputRequest:
		state.logger.Debug("stream@default SetCarOutputRequest", zap.Bool("enabled", msg.Enabled))
		accepted := state.monitor.SetCarOutput(msg.Enabled)
		state.publishCommandEvent("mpptCar", accepted)
		actorutil.ForRequest(msg).Respond(ctx, domain.CommandResponse{Accepted: accepted})
	case chargingChanged:
		state.logger.Debug("stream@default chargingChanged", zap.Bool("charging", msg.charging))
		at := domain.MonitorEventMixIn{At: time.Now()}
		if msg.charging {
			state.eventStream.Publish(domain.ChargingStartedEvent{MonitorEventMixIn: at, State: msg.state})
		} else {
			state.eventStream.Publish(domain.ChargingStoppedEvent{MonitorEventMixIn: at, State: msg.state})
		}
	case snapshotUpdated:
		state.eventStream.Publish(domain.SnapshotUpdatedEvent{
			MonitorEventMixIn: domain.MonitorEventMixIn{At: time.Now()},
			Source:            domain.SNAPSHOT_SOURCE_STREAM,
			State:             msg.state,
		})
	case streamConnected:
		// transport finished an automatic reconnect
		state.logger.Info("stream@default reconnected")
		state.eventStream.Publish(domain.StreamConnectedEvent{
			MonitorEventMixIn: domain.MonitorEventMixIn{At: time.Now()},
		})
	case streamConnectionLost:
		// transport keeps reconnecting with the live session credentials;
		// only a restart needs a fresh bundle
		state.logger.Warn("stream@default connection lost", zap.Error(msg.err))
		state.eventStream.Publish(domain.StreamDisconnectedEvent{
			MonitorEventMixIn: domain.MonitorEventMixIn{At: time.Now()},
			Error:             msg.err,
		})
	default:
		state.logger.Debug("stream@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// monitorCallbacks bridges transport-goroutine callbacks into mailbox
// messages. Nothing here may block or touch actor state directly.
func (state *StreamActor) monitorCallbacks(ctx actor.Context) ecoflow.MonitorCallbacks {
	self := ctx.Self()
	return ecoflow.MonitorCallbacks{
		OnChargingStart: func(s ecoflow.DeviceState) {
			ctx.Send(self, chargingChanged{charging: true, state: s})
		},
		OnChargingStop: func(s ecoflow.DeviceState) {
			ctx.Send(self, chargingChanged{charging: false, state: s})
		},
		OnSnapshot: func(s ecoflow.DeviceState) {
			ctx.Send(self, snapshotUpdated{state: s})
		},
		OnConnect: func() {
			ctx.Send(self, streamConnected{})
		},
		OnDisconnect: func(err error) {
			ctx.Send(self, streamConnectionLost{err: err})
		},
	}
}

func (state *StreamActor) publishCommandEvent(operateType string, accepted bool) {
	state.eventStream.Publish(domain.CommandPublishedEvent{
		MonitorEventMixIn: domain.MonitorEventMixIn{At: time.Now()},
		OperateType:       operateType,
		Accepted:          accepted,
	})
}

func (state *StreamActor) stop() {
	state.logger.Debug("stream: disconnect")
	if state.monitor != nil {
		state.monitor.Stop()
	}
}

// Dummy actor
func NewTestStreamActor(config *config.Config, monitorProvider MonitorProvider,
	eventStream *eventstream.EventStream, logger *zap.Logger) *StreamActor {
	act := &StreamActor{
		config:          config,
		behavior:        actor.NewBehavior(),
		stash:           &actorutil.Stash{},
		monitorProvider: monitorProvider,
		eventStream:     eventStream,
		logger:          actorutil.ActorLogger(domain.ACTOR_ID_STREAM, logger),
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *StreamActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.monitor = state.monitorProvider(ecoflow.Credentials{}, state.monitorCallbacks(ctx))
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_STREAM,
			Healthy: true,
			State:   "idle",
		})
	case domain.GetDeviceStateRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.GetDeviceStateResponse{
			State:     state.monitor.State(),
			Charging:  state.monitor.Charging(),
			ConnState: state.monitor.ConnState().String(),
		})
	case domain.SetACOutputRequest:
		accepted := state.monitor.SetACOutput(msg.Enabled, state.config.ACOutputConfig.Voltage,
			state.config.ACOutputConfig.Freq, state.config.ACOutputConfig.XBoost)
		state.publishCommandEvent("acOutCfg", accepted)
		actorutil.ForRequest(msg).Respond(ctx, domain.CommandResponse{Accepted: accepted})
	case domain.SetUSBOutputRequest:
		accepted := state.monitor.SetUSBOutput(msg.Enabled)
		state.publishCommandEvent("dcOutCfg", accepted)
		actorutil.ForRequest(msg).Respond(ctx, domain.CommandResponse{Accepted: accepted})
	case domain.SetCarOutputRequest:
		accepted := state.monitor.SetCarOutput(msg.Enabled)
		state.publishCommandEvent("mpptCar", accepted)
		actorutil.ForRequest(msg).Respond(ctx, domain.CommandResponse{Accepted: accepted})
	case chargingChanged:
		at := domain.MonitorEventMixIn{At: time.Now()}
		if msg.charging {
			state.eventStream.Publish(domain.ChargingStartedEvent{MonitorEventMixIn: at, State: msg.state})
		} else {
			state.eventStream.Publish(domain.ChargingStoppedEvent{MonitorEventMixIn: at, State: msg.state})
		}
	case snapshotUpdated:
		state.eventStream.Publish(domain.SnapshotUpdatedEvent{
			MonitorEventMixIn: domain.MonitorEventMixIn{At: time.Now()},
			Source:            domain.SNAPSHOT_SOURCE_STREAM,
			State:             msg.state,
		})
	}
}
