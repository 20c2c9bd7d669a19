package ecoflow

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testCreds = Credentials{
	Username: "cert_account",
	Password: "cert_password",
	Host:     "mqtt.invalid",
	Port:     8883,
	Protocol: "mqtts",
}

const testSN = "R331ZEB4ZEAL0528"

type monitorFixture struct {
	monitor *Monitor
	client  *TestStreamClient
	starts  []DeviceState
	stops   []DeviceState
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	fx := &monitorFixture{client: &TestStreamClient{}}
	fx.monitor = NewMonitorWithClient(testCreds, testSN, 10, MonitorCallbacks{
		OnChargingStart: func(s DeviceState) { fx.starts = append(fx.starts, s) },
		OnChargingStop:  func(s DeviceState) { fx.stops = append(fx.stops, s) },
	}, zap.NewNop(), fx.client)
	return fx
}

func (fx *monitorFixture) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, fx.monitor.Start())
	// the paho options wire OnConnect to handleConnect; with the test
	// client we invoke it directly
	fx.monitor.handleConnect()
}

func (fx *monitorFixture) deliver(t *testing.T, doc map[string]any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"params": doc})
	require.NoError(t, err)
	fx.client.Deliver(fx.monitor.quotaTopic, raw)
}

func TestMonitorSubscribesToQuotaTopic(t *testing.T) {

	assert := assert.New(t)

	fx := newMonitorFixture(t)
	fx.connect(t)

	assert.Equal(fmt.Sprintf("/open/%s/%s/quota", testCreds.Username, testSN), fx.client.SubscribedTopic())
	assert.True(fx.monitor.IsConnected())
}

func TestMonitorFirstDefiniteClassificationIsBaseline(t *testing.T) {

	assert := assert.New(t)

	fx := newMonitorFixture(t)
	fx.connect(t)

	fx.deliver(t, map[string]any{"bms_emsStatus": map[string]any{"chgState": 1}})

	assert.Empty(fx.starts, "baseline must not fire a callback")
	assert.Empty(fx.stops)
	if assert.NotNil(fx.monitor.Charging()) {
		assert.True(*fx.monitor.Charging())
	}
}

func TestMonitorTransitionSequence(t *testing.T) {

	assert := assert.New(t)

	fx := newMonitorFixture(t)
	fx.connect(t)

	chg := func(state int) map[string]any {
		return map[string]any{"bms_emsStatus": map[string]any{"chgState": state}}
	}

	// unknown, true, true, false, false, true
	fx.deliver(t, map[string]any{"pd": map[string]any{"soc": 85}}) // unknown: no event, no baseline
	fx.deliver(t, chg(1))                                          // baseline
	fx.deliver(t, chg(2))                                          // still charging, no event
	fx.deliver(t, chg(0))                                          // stop event
	fx.deliver(t, chg(4))                                          // still not charging
	fx.deliver(t, chg(1))                                          // start event

	assert.Len(fx.starts, 1)
	assert.Len(fx.stops, 1)
}

func TestMonitorUnknownClassificationLeavesStateUntouched(t *testing.T) {

	assert := assert.New(t)

	fx := newMonitorFixture(t)
	fx.connect(t)

	fx.deliver(t, map[string]any{"bms_emsStatus": map[string]any{"chgState": 1}})
	// telemetry without charging information must not reset the baseline
	fx.deliver(t, map[string]any{"inv": map[string]any{"outTemp": 41}})

	if assert.NotNil(fx.monitor.Charging()) {
		assert.True(*fx.monitor.Charging())
	}
}

func TestMonitorMergeKeepsUnrelatedKeys(t *testing.T) {

	require := require.New(t)

	fx := newMonitorFixture(t)
	fx.connect(t)

	fx.deliver(t, map[string]any{"pd": map[string]any{"soc": 85}})
	fx.deliver(t, map[string]any{"inv": map[string]any{"inputWatts": 320}})

	state := fx.monitor.State()
	require.NotNil(state.SOC)
	require.EqualValues(85, *state.SOC)
	require.NotNil(state.ACInWatts)
	require.EqualValues(320, *state.ACInWatts)
}

func TestMonitorIdempotentMerge(t *testing.T) {

	assert := assert.New(t)

	fx := newMonitorFixture(t)
	fx.connect(t)

	doc := map[string]any{
		"pd":            map[string]any{"soc": 72, "wattsInSum": 250},
		"bms_emsStatus": map[string]any{"chgState": 1},
	}
	fx.deliver(t, doc)
	first := fx.monitor.State()

	// QoS1 permits duplicates; a redelivery must change nothing
	fx.deliver(t, doc)

	assert.Equal(first, fx.monitor.State())
	assert.Empty(fx.starts)
	assert.Empty(fx.stops)
}

func TestMonitorDropsMalformedPayload(t *testing.T) {

	assert := assert.New(t)

	fx := newMonitorFixture(t)
	fx.connect(t)

	fx.client.Deliver(fx.monitor.quotaTopic, []byte("{not json"))
	fx.deliver(t, map[string]any{"pd": map[string]any{"soc": 60}})

	state := fx.monitor.State()
	assert.NotNil(state.SOC, "session must survive a malformed message")
}

func TestMonitorPayloadWithoutParamsWrapper(t *testing.T) {

	assert := assert.New(t)

	fx := newMonitorFixture(t)
	fx.connect(t)

	raw, _ := json.Marshal(map[string]any{"pd": map[string]any{"soc": 55}})
	fx.client.Deliver(fx.monitor.quotaTopic, raw)

	state := fx.monitor.State()
	if assert.NotNil(state.SOC) {
		assert.EqualValues(55, *state.SOC)
	}
}

func TestPublishCommandWhileDisconnected(t *testing.T) {

	assert := assert.New(t)

	fx := newMonitorFixture(t)

	ok := fx.monitor.PublishCommand("acOutCfg", 5, map[string]any{"enabled": 1})

	assert.False(ok)
	assert.Empty(fx.client.Published(), "transport must not be touched")
}

func TestPublishCommandPayload(t *testing.T) {

	require := require.New(t)

	fx := newMonitorFixture(t)
	fx.connect(t)

	ok := fx.monitor.PublishCommand("dcOutCfg", 1, map[string]any{"enabled": 1})
	require.True(ok)

	published := fx.client.Published()
	require.Len(published, 1)
	require.Equal(fmt.Sprintf("/open/%s/%s/set", testCreds.Username, testSN), published[0].Topic)
	require.EqualValues(1, published[0].QoS)

	var payload CommandPayload
	require.NoError(json.Unmarshal(published[0].Payload, &payload))
	require.Equal("dcOutCfg", payload.OperateType)
	require.Equal(1, payload.ModuleType)
	require.Equal("1.0", payload.Version)
	require.NotEmpty(payload.ID)
}

func TestPublishCommandIDsAreFresh(t *testing.T) {

	require := require.New(t)

	fx := newMonitorFixture(t)
	fx.connect(t)

	ids := map[string]int{}
	for range 20 {
		require.True(fx.monitor.SetUSBOutput(true))
	}
	for _, pub := range fx.client.Published() {
		var payload CommandPayload
		require.NoError(json.Unmarshal(pub.Payload, &payload))
		ids[payload.ID]++
	}
	require.Greater(len(ids), 1, "identifiers must be generated per call")
}

func TestSetACOutputAlwaysSendsAllFourParams(t *testing.T) {

	require := require.New(t)

	fx := newMonitorFixture(t)
	fx.connect(t)

	require.True(fx.monitor.SetACOutput(true, 230, 1, true))

	published := fx.client.Published()
	require.Len(published, 1)

	var payload CommandPayload
	require.NoError(json.Unmarshal(published[0].Payload, &payload))
	require.Equal("acOutCfg", payload.OperateType)
	require.Equal(5, payload.ModuleType)
	require.EqualValues(1, payload.Params["enabled"])
	require.EqualValues(1, payload.Params["xboost"])
	require.EqualValues(230, payload.Params["out_voltage"])
	require.EqualValues(1, payload.Params["out_freq"])
}

func TestMonitorStopIsIdempotent(t *testing.T) {

	assert := assert.New(t)

	fx := newMonitorFixture(t)
	fx.connect(t)

	fx.monitor.Stop()
	fx.monitor.Stop()

	assert.False(fx.monitor.IsConnected())
	assert.Error(fx.monitor.Start(), "a stopped monitor must not reconnect")
}

func TestMonitorIgnoresConnectAfterStop(t *testing.T) {

	assert := assert.New(t)

	var connects int
	client := &TestStreamClient{}
	m := NewMonitorWithClient(testCreds, testSN, 10, MonitorCallbacks{
		OnConnect: func() { connects++ },
	}, zap.NewNop(), client)

	assert.NoError(m.Start())
	m.Stop()

	// the transport delivers its connect callback after Stop won the race
	m.handleConnect()

	assert.Equal(0, connects)
	assert.Equal(StateDisconnected, m.ConnState(), "a stopped monitor must stay disconnected")
	assert.Empty(client.SubscribedTopic())
}

func TestMonitorConnectionLostCallback(t *testing.T) {

	assert := assert.New(t)

	var disconnects int
	client := &TestStreamClient{}
	m := NewMonitorWithClient(testCreds, testSN, 10, MonitorCallbacks{
		OnDisconnect: func(error) { disconnects++ },
	}, zap.NewNop(), client)

	assert.NoError(m.Start())
	m.handleConnect()
	m.handleConnectionLost(fmt.Errorf("broken pipe"))

	assert.Equal(1, disconnects)
	assert.Equal(StateConnecting, m.ConnState(), "transport auto-reconnect is in charge")

	// after Stop, late connection-lost events are ignored
	m.Stop()
	m.handleConnectionLost(fmt.Errorf("late event"))
	assert.Equal(1, disconnects)
}

func TestMonitorStartConnectFailure(t *testing.T) {

	assert := assert.New(t)

	client := &TestStreamClient{ConnectErr: fmt.Errorf("auth failed")}
	m := NewMonitorWithClient(testCreds, testSN, 10, MonitorCallbacks{}, zap.NewNop(), client)

	assert.Error(m.Start())
	assert.Equal(StateDisconnected, m.ConnState())
}
