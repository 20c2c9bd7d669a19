package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/dcastel/ecowatch/internal/config"
	"github.com/dcastel/ecowatch/internal/core/domain"
	"github.com/dcastel/ecowatch/internal/core/port"
	. "github.com/dcastel/ecowatch/internal/util/actorutil"
	"github.com/dcastel/ecowatch/pkg/ecoflow"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/reugn/go-quartz/logger"
	"go.uber.org/zap"
)

// PollerActor periodically reads the full device property set over REST and
// publishes the resulting snapshot; it also serves on-demand quota requests
// from the HTTP surface.
type PollerActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	config      *config.Config
	quotaReader port.QuotaReader
	eventStream *eventstream.EventStream

	logger *zap.Logger
}

type pollTick struct {
}

type pollResult struct {
	quota   map[string]any
	err     error
	replyTo *actor.PID
}

func NewPollerActor(config *config.Config, quotaReader port.QuotaReader, eventStream *eventstream.EventStream, logger *zap.Logger) *PollerActor {
	act := &PollerActor{
		config:      config,
		quotaReader: quotaReader,
		behavior:    actor.NewBehavior(),
		stash:       &Stash{},
		logger:      ActorLogger(domain.ACTOR_ID_POLLER, logger),
		eventStream: eventStream,
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *PollerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *PollerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("poller@default started")
		if state.config.MonitorConfig.QuotaPollIntervalMillis > 0 {
			state.scheduler = scheduler.NewTimerScheduler(ctx)
			state.scheduler.RequestOnce(state.pollInterval(), ctx.Self(), pollTick{})
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("poller@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_POLLER,
			Healthy: true,
			State:   "idle",
		})
	case pollTick:
		state.logger.Debug("poller@default tick")
		state.fetchQuota(ctx, nil)
		state.scheduler.RequestOnce(state.pollInterval(), ctx.Self(), pollTick{})
		state.behavior.BecomeStacked(state.WaitingQuotaReceive)
	case domain.GetQuotaRequest:
		state.logger.Debug("poller@default GetQuotaRequest")
		state.fetchQuota(ctx, ForRequest(msg).ReplyTo(ctx))
		state.behavior.BecomeStacked(state.WaitingQuotaReceive)
	default:
		state.logger.Debug("poller@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) WaitingQuotaReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case pollResult:
		if msg.err != nil {
			state.logger.Error("poller@waiting quota fetch failed", zap.Error(msg.err))
			if msg.replyTo != nil {
				ctx.Send(msg.replyTo, domain.GetQuotaResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: msg.err},
				})
			}
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
			return
		}
		state.logger.Debug("poller@waiting quota received", zap.Int("keys", len(msg.quota)))

		snapshot := ecoflow.BuildDeviceState(msg.quota, state.config.MonitorConfig.ChargingWattsThreshold)
		if snapshot.HasData() {
			state.eventStream.Publish(domain.SnapshotUpdatedEvent{
				MonitorEventMixIn: domain.MonitorEventMixIn{At: time.Now()},
				Source:            domain.SNAPSHOT_SOURCE_POLL,
				State:             snapshot,
			})
		}
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, domain.GetQuotaResponse{Quota: msg.quota})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("poller@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) fetchQuota(ctx actor.Context, replyTo *actor.PID) {
	sn := state.config.EcoFlow.DeviceSN
	NewBackgroundTask(ctx, func() (*pollResult, error) {
		quota, err := state.quotaReader.GetDeviceQuota(context.Background(), sn)
		if err != nil {
			logger.Error(err)
		}
		return &pollResult{quota: quota, err: err, replyTo: replyTo}, nil
	}).WithTimeout(20 * time.Second).Recover(func(err error) pollResult {
		return pollResult{err: err, replyTo: replyTo}
	}).PipeTo(ctx.Self())
}

func (state *PollerActor) pollInterval() time.Duration {
	return time.Duration(state.config.MonitorConfig.QuotaPollIntervalMillis) * time.Millisecond
}
