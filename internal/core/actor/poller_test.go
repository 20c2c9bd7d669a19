package actor

import (
	"errors"
	"testing"
	"time"

	"github.com/dcastel/ecowatch/internal/core/domain"
	"github.com/dcastel/ecowatch/internal/util"
	"github.com/dcastel/ecowatch/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPollerActorPublishesSnapshots(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.MonitorConfig.QuotaPollIntervalMillis = 200

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	es := eventstream.EventStream{}
	events := make(chan any, 16)
	sub := es.Subscribe(func(evt any) {
		events <- evt
	})
	defer es.Unsubscribe(sub)

	quotaReader := fakeQuotaReader{quota: map[string]any{
		"pd.soc":                 64.0,
		"pd.wattsInSum":          150.0,
		"bms_emsStatus.chgState": 1.0,
	}}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(&cfg, quotaReader, &es, logger)
	})
	pid := context.Spawn(props)

	select {
	case evt := <-events:
		snap, ok := evt.(domain.SnapshotUpdatedEvent)
		assert.True(t, ok, "expected a SnapshotUpdatedEvent, got %T", evt)
		assert.Equal(t, domain.SNAPSHOT_SOURCE_POLL, snap.Source)
		assert.NotNil(t, snap.State.SOC)
		if assert.NotNil(t, snap.State.IsCharging) {
			assert.True(t, *snap.State.IsCharging)
		}
	case <-time.After(5 * time.Second):
		t.Error("no snapshot event received")
	}

	context.Stop(pid)
	as.Shutdown()
}

func TestPollerActorOnDemandQuota(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.MonitorConfig.QuotaPollIntervalMillis = 0 // no periodic ticks

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	es := eventstream.EventStream{}

	quotaReader := fakeQuotaReader{quota: map[string]any{"pd.soc": 30.0}}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(&cfg, quotaReader, &es, logger)
	})
	pid := context.Spawn(props)

	res, err := context.RequestFuture(pid, domain.GetQuotaRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := res.(domain.GetQuotaResponse)
	assert.True(t, ok)
	assert.False(t, resp.HasResponseError())
	assert.EqualValues(t, 30.0, resp.Quota["pd.soc"])

	context.Stop(pid)
	as.Shutdown()
}

func TestPollerActorQuotaError(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.MonitorConfig.QuotaPollIntervalMillis = 0

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	es := eventstream.EventStream{}

	quotaReader := fakeQuotaReader{err: errors.New("device offline")}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(&cfg, quotaReader, &es, logger)
	})
	pid := context.Spawn(props)

	res, err := context.RequestFuture(pid, domain.GetQuotaRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := res.(domain.GetQuotaResponse)
	assert.True(t, ok)
	assert.True(t, resp.HasResponseError())

	context.Stop(pid)
	as.Shutdown()
}
