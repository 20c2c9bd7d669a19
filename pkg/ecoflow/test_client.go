package ecoflow

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// TestStreamClient is an in-memory StreamClient for tests: it records
// published messages and lets tests inject inbound telemetry.
type TestStreamClient struct {
	ConnectErr error

	mu         sync.Mutex
	connected  bool
	subscribed string
	handler    mqtt.MessageHandler
	published  []TestPublish
}

type TestPublish struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

func (c *TestStreamClient) Connect() mqtt.Token {
	if c.ConnectErr != nil {
		return TestToken{Err: c.ConnectErr}
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return TestToken{}
}

func (c *TestStreamClient) Disconnect(_ uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *TestStreamClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.subscribed = topic
	c.handler = callback
	c.mu.Unlock()
	return TestToken{}
}

func (c *TestStreamClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	raw, _ := payload.([]byte)
	c.mu.Lock()
	c.published = append(c.published, TestPublish{Topic: topic, QoS: qos, Retained: retained, Payload: raw})
	c.mu.Unlock()
	return TestToken{}
}

func (c *TestStreamClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Deliver injects an inbound message to the registered subscription handler,
// the way the paho network goroutine would.
func (c *TestStreamClient) Deliver(topic string, payload []byte) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(nil, TestMessage{MsgTopic: topic, MsgPayload: payload})
	}
}

// SubscribedTopic returns the last topic passed to Subscribe.
func (c *TestStreamClient) SubscribedTopic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// Published returns a copy of all recorded publications.
func (c *TestStreamClient) Published() []TestPublish {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TestPublish, len(c.published))
	copy(out, c.published)
	return out
}

// TestToken is an immediately-completed mqtt.Token.
type TestToken struct {
	Err error
}

func (t TestToken) Wait() bool {
	return true
}

func (t TestToken) WaitTimeout(time.Duration) bool {
	return true
}

func (t TestToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t TestToken) Error() error {
	return t.Err
}

// TestMessage is an inbound mqtt.Message for tests.
type TestMessage struct {
	MsgTopic   string
	MsgPayload []byte
}

func (m TestMessage) Duplicate() bool {
	return false
}

func (m TestMessage) Qos() byte {
	return 1
}

func (m TestMessage) Retained() bool {
	return false
}

func (m TestMessage) Topic() string {
	return m.MsgTopic
}

func (m TestMessage) MessageID() uint16 {
	return 0
}

func (m TestMessage) Payload() []byte {
	return m.MsgPayload
}

func (m TestMessage) Ack() {
}

// TestMonitor is an in-memory session manager double: always connected,
// commands are recorded and accepted.
type TestMonitor struct {
	Callbacks MonitorCallbacks

	mu       sync.Mutex
	state    DeviceState
	charging *bool
	commands []string
}

func (m *TestMonitor) Start() error {
	return nil
}

func (m *TestMonitor) Stop() {
}

func (m *TestMonitor) State() DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *TestMonitor) Charging() *bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.charging
}

func (m *TestMonitor) ConnState() ConnState {
	return StateConnected
}

func (m *TestMonitor) SetACOutput(bool, int, int, bool) bool {
	return m.record("acOutCfg")
}

func (m *TestMonitor) SetUSBOutput(bool) bool {
	return m.record("dcOutCfg")
}

func (m *TestMonitor) SetCarOutput(bool) bool {
	return m.record("mpptCar")
}

func (m *TestMonitor) record(operateType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, operateType)
	return true
}

func (m *TestMonitor) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.commands))
	copy(out, m.commands)
	return out
}

// SetTestState seeds the snapshot and charging cell returned by State.
func (m *TestMonitor) SetTestState(state DeviceState, charging *bool) {
	m.mu.Lock()
	m.state = state
	m.charging = charging
	m.mu.Unlock()
}

// ensure interface compliance
var (
	_ StreamClient = (*TestStreamClient)(nil)
	_ mqtt.Token   = TestToken{}
	_ mqtt.Message = TestMessage{}
)
