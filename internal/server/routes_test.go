package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	coreactor "github.com/dcastel/ecowatch/internal/core/actor"
	adactor "github.com/dcastel/ecowatch/internal/adapter/actor"
	"github.com/dcastel/ecowatch/internal/metrics"
	"github.com/dcastel/ecowatch/internal/util"
	"github.com/dcastel/ecowatch/pkg/ecoflow"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeQuotaReader struct {
	quota map[string]any
}

func (f fakeQuotaReader) GetDeviceQuota(_ context.Context, _ string) (map[string]any, error) {
	return f.quota, nil
}

func newTestServer(t *testing.T, monitor *ecoflow.TestMonitor) *httptest.Server {
	t.Helper()

	cfg := util.LoadTestConfig()
	logger := zap.NewNop()

	as := actor.NewActorSystem()
	rootContext := as.Root

	reg := metrics.NewRegistry()
	appMetrics := metrics.NewAppMetrics(reg)

	props := actor.PropsFromProducer(func() actor.Actor {
		return coreactor.NewMasterActor(cfg, func(es *eventstream.EventStream) *adactor.StreamActor {
			return adactor.NewTestStreamActor(&cfg, func(_ ecoflow.Credentials, callbacks ecoflow.MonitorCallbacks) adactor.StreamMonitor {
				monitor.Callbacks = callbacks
				return monitor
			}, es, logger)
		}, fakeQuotaReader{quota: map[string]any{"pd.soc": 99.0}}, nil, appMetrics, logger)
	})
	pid, err := rootContext.SpawnNamed(props, "master")
	require.NoError(t, err)

	time.Sleep(1 * time.Second)

	s := &Server{
		port:        0,
		rootContext: rootContext,
		masterActor: pid,
		metricsReg:  reg,
	}
	server := httptest.NewServer(s.RegisterRoutes())
	t.Cleanup(func() {
		server.Close()
		rootContext.Stop(pid)
		as.Shutdown()
	})
	return server
}

func TestHealthCheckRoute(t *testing.T) {

	monitor := &ecoflow.TestMonitor{}
	server := newTestServer(t, monitor)

	resp, err := http.Get(server.URL + "/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusRoute(t *testing.T) {

	monitor := &ecoflow.TestMonitor{}
	charging := true
	soc := 85.0
	voltage := 253054.0
	monitor.SetTestState(ecoflow.DeviceState{
		SOC:          &soc,
		ACOutVoltage: &voltage,
		IsCharging:   &charging,
	}, &charging)

	server := newTestServer(t, monitor)

	resp, err := http.Get(server.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := make([]byte, 4096)
	n, _ := resp.Body.Read(buf)
	body := string(buf[:n])
	assert.Contains(t, body, `"soc":85`)
	// millivolts rendered as volts
	assert.Contains(t, body, `"ac_out_voltage":253.054`)
	assert.Contains(t, body, `"conn_state":"connected"`)
}

func TestQuotaRoute(t *testing.T) {

	monitor := &ecoflow.TestMonitor{}
	server := newTestServer(t, monitor)

	resp, err := http.Get(server.URL + "/quota")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := make([]byte, 4096)
	n, _ := resp.Body.Read(buf)
	assert.Contains(t, string(buf[:n]), `"pd.soc":99`)
}

func TestControlRoutes(t *testing.T) {

	monitor := &ecoflow.TestMonitor{}
	server := newTestServer(t, monitor)

	resp, err := http.Post(server.URL+"/control/usb", "application/json", strings.NewReader(`{"enabled":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(server.URL+"/control/ac", "application/json", strings.NewReader(`{"enabled":false}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []string{"dcOutCfg", "acOutCfg"}, monitor.Commands())

	// missing body field is rejected
	resp, err = http.Post(server.URL+"/control/car", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsRoute(t *testing.T) {

	monitor := &ecoflow.TestMonitor{}
	server := newTestServer(t, monitor)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
