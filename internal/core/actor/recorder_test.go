package actor

import (
	"testing"
	"time"

	"github.com/dcastel/ecowatch/internal/core/domain"
	"github.com/dcastel/ecowatch/internal/metrics"
	"github.com/dcastel/ecowatch/pkg/ecoflow"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRecorderActorCountsEvents(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	logger := zap.Must(zap.NewDevelopment())
	appMetrics := metrics.NewAppMetrics(metrics.NewRegistry())

	es := eventstream.EventStream{}
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewRecorderActor(&es, nil, appMetrics, logger)
	})
	pid := context.Spawn(props)

	time.Sleep(500 * time.Millisecond)

	at := domain.MonitorEventMixIn{At: time.Now()}
	soc := 64.0
	charging := true

	es.Publish(domain.CommandPublishedEvent{MonitorEventMixIn: at, OperateType: "dcOutCfg", Accepted: true})
	es.Publish(domain.CommandPublishedEvent{MonitorEventMixIn: at, OperateType: "acOutCfg", Accepted: false})
	es.Publish(domain.ChargingStartedEvent{MonitorEventMixIn: at, State: ecoflow.DeviceState{SOC: &soc}})
	es.Publish(domain.SnapshotUpdatedEvent{MonitorEventMixIn: at, Source: domain.SNAPSHOT_SOURCE_STREAM,
		State: ecoflow.DeviceState{SOC: &soc, IsCharging: &charging}})
	es.Publish(domain.StreamConnectedEvent{MonitorEventMixIn: at})

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(appMetrics.ConnectsTotal) == 1
	}, 5*time.Second, 50*time.Millisecond)

	assert.EqualValues(t, 1, testutil.ToFloat64(appMetrics.CommandsTotal.WithLabelValues("dcOutCfg", "accepted")))
	assert.EqualValues(t, 1, testutil.ToFloat64(appMetrics.CommandsTotal.WithLabelValues("acOutCfg", "rejected")))
	assert.EqualValues(t, 1, testutil.ToFloat64(appMetrics.TransitionsTotal.WithLabelValues("start")))
	assert.EqualValues(t, 1, testutil.ToFloat64(appMetrics.SnapshotsTotal.WithLabelValues(domain.SNAPSHOT_SOURCE_STREAM)))
	assert.EqualValues(t, 64, testutil.ToFloat64(appMetrics.SOCGauge))
	assert.EqualValues(t, 1, testutil.ToFloat64(appMetrics.ChargingGauge))

	context.Stop(pid)

	as.Shutdown()
}
