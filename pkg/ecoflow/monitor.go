package ecoflow

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	commandVersion = "1.0"

	connectTimeout   = 10 * time.Second
	subscribeTimeout = 5 * time.Second
	publishTimeout   = 5 * time.Second
)

// ConnState is the session connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StreamClient is the slice of the paho client the monitor needs. Satisfied
// by mqtt.Client and by TestStreamClient.
type StreamClient interface {
	Connect() mqtt.Token
	Disconnect(quiesceMillis uint)
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	IsConnected() bool
}

// MonitorCallbacks are invoked from the transport's network goroutine.
// Handlers must hand work off to their own scheduler instead of blocking.
type MonitorCallbacks struct {
	OnChargingStart func(DeviceState)
	OnChargingStop  func(DeviceState)
	OnSnapshot      func(DeviceState)
	OnConnect       func()
	OnDisconnect    func(error)
}

// CommandPayload is a set-command published to the device control topic.
type CommandPayload struct {
	ID          string         `json:"id"`
	Version     string         `json:"version"`
	ModuleType  int            `json:"moduleType"`
	OperateType string         `json:"operateType"`
	Params      map[string]any `json:"params"`
}

// Monitor owns the persistent MQTT session for one device: it caches all
// inbound telemetry, detects charging transitions and publishes set-commands
// back to the device.
//
// The flat cache and the charging cell are guarded by one mutex; snapshots
// are built from a momentary copy so no live reference to the cache ever
// leaves the lock.
type Monitor struct {
	creds          Credentials
	deviceSN       string
	wattsThreshold float64
	callbacks      MonitorCallbacks
	logger         *zap.Logger

	quotaTopic string
	setTopic   string

	client StreamClient

	mu       sync.Mutex
	flat     map[string]any
	charging *bool
	state    ConnState
	stopped  bool
}

func NewMonitor(creds Credentials, deviceSN string, wattsThreshold float64, callbacks MonitorCallbacks, logger *zap.Logger) *Monitor {
	m := newMonitor(creds, deviceSN, wattsThreshold, callbacks, logger)
	m.client = mqtt.NewClient(m.clientOptions())
	return m
}

// NewMonitorWithClient builds a monitor on a caller-supplied stream client.
// The caller is responsible for wiring connect/connection-lost events.
func NewMonitorWithClient(creds Credentials, deviceSN string, wattsThreshold float64, callbacks MonitorCallbacks,
	logger *zap.Logger, client StreamClient) *Monitor {
	m := newMonitor(creds, deviceSN, wattsThreshold, callbacks, logger)
	m.client = client
	return m
}

func newMonitor(creds Credentials, deviceSN string, wattsThreshold float64, callbacks MonitorCallbacks, logger *zap.Logger) *Monitor {
	return &Monitor{
		creds:          creds,
		deviceSN:       deviceSN,
		wattsThreshold: wattsThreshold,
		callbacks:      callbacks,
		logger:         logger.With(zap.String("component", "monitor")),
		quotaTopic:     fmt.Sprintf("/open/%s/%s/quota", creds.Username, deviceSN),
		setTopic:       fmt.Sprintf("/open/%s/%s/set", creds.Username, deviceSN),
		flat:           map[string]any{},
		state:          StateDisconnected,
	}
}

func (m *Monitor) clientOptions() *mqtt.ClientOptions {
	scheme := "tcp"
	if m.creds.Protocol == "mqtts" || m.creds.Protocol == "ssl" {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, m.creds.Host, m.creds.Port))
	opts.SetClientID(openAPIClientID())
	opts.SetUsername(m.creds.Username)
	opts.SetPassword(m.creds.Password)
	opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	opts.SetKeepAlive(60 * time.Second)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(_ mqtt.Client) {
		m.handleConnect()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.handleConnectionLost(err)
	}
	return opts
}

func openAPIClientID() string {
	hex := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "OPEN_API_" + hex[:12]
}

// Start opens the session. A connect failure is returned to the caller and
// leaves the monitor disconnected; it never corrupts the state machine.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return errors.New("monitor is stopped")
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mu.Unlock()

	m.logger.Info("connecting to stream broker",
		zap.String("host", m.creds.Host), zap.Int("port", m.creds.Port))

	token := m.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		m.setState(StateDisconnected)
		return errors.New("stream connect timed out")
	}
	if err := token.Error(); err != nil {
		m.setState(StateDisconnected)
		return err
	}
	return nil
}

// Stop closes the session. Idempotent; the monitor performs no reconnection
// after Stop returns.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.state = StateDisconnected
	m.mu.Unlock()

	m.logger.Info("stopping stream session")
	m.client.Disconnect(500)
}

// setState transitions the connection state. A stopped monitor never
// re-enters StateConnected; a transport connect callback racing Stop is
// reported as refused so the caller can bail out.
func (m *Monitor) setState(state ConnState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped && state == StateConnected {
		return false
	}
	m.state = state
	return true
}

// handleConnect runs on every (re)connect, so the QoS1 subscription is
// restored after an automatic reconnection.
func (m *Monitor) handleConnect() {
	if !m.setState(StateConnected) {
		m.logger.Debug("ignoring connect on stopped monitor")
		return
	}
	m.logger.Info("stream connected, subscribing", zap.String("topic", m.quotaTopic))

	token := m.client.Subscribe(m.quotaTopic, 1, m.handleMessage)
	go func() {
		if !token.WaitTimeout(subscribeTimeout) {
			m.logger.Error("stream subscribe timed out", zap.String("topic", m.quotaTopic))
		} else if err := token.Error(); err != nil {
			m.logger.Error("stream subscribe failed", zap.Error(err))
		}
	}()

	if m.callbacks.OnConnect != nil {
		m.callbacks.OnConnect()
	}
}

func (m *Monitor) handleConnectionLost(err error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.mu.Unlock()

	m.logger.Warn("stream connection lost, transport will reconnect", zap.Error(err))
	if m.callbacks.OnDisconnect != nil {
		m.callbacks.OnDisconnect(err)
	}
}

// handleMessage runs on the transport's network goroutine. Malformed
// messages are dropped; nothing here may kill the delivery goroutine.
func (m *Monitor) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in telemetry handler", zap.Any("panic", r))
		}
	}()

	var payload map[string]any
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		m.logger.Debug("dropping malformed telemetry message", zap.Error(err))
		return
	}
	var doc any = payload
	if params, ok := payload["params"]; ok {
		doc = params
	}
	incoming := Flatten(doc)

	m.mu.Lock()
	for k, v := range incoming {
		m.flat[k] = v
	}
	snapshot := copyFlat(m.flat)
	previous := m.charging
	m.mu.Unlock()

	state := BuildDeviceState(snapshot, m.wattsThreshold)
	if m.callbacks.OnSnapshot != nil {
		m.callbacks.OnSnapshot(state)
	}
	if state.IsCharging == nil {
		return
	}

	m.mu.Lock()
	m.charging = state.IsCharging
	m.mu.Unlock()

	// first definite classification is the baseline, never an event
	if previous == nil {
		m.logger.Info("initial charging state",
			zap.Bool("charging", *state.IsCharging),
			zap.Any("soc", state.SOC), zap.Any("watts_in", state.WattsIn))
		return
	}

	if *state.IsCharging && !*previous {
		m.logger.Info("charging started", zap.Any("soc", state.SOC), zap.Any("watts_in", state.WattsIn))
		if m.callbacks.OnChargingStart != nil {
			m.callbacks.OnChargingStart(state)
		}
	} else if !*state.IsCharging && *previous {
		m.logger.Info("charging stopped", zap.Any("soc", state.SOC))
		if m.callbacks.OnChargingStop != nil {
			m.callbacks.OnChargingStop(state)
		}
	}
}

// PublishCommand publishes a set-command to the device control topic at QoS1.
// Returns false without touching the transport when the session is not
// connected. Device-side execution is not awaited.
func (m *Monitor) PublishCommand(operateType string, moduleType int, params map[string]any) bool {
	m.mu.Lock()
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected {
		m.logger.Warn("cannot send command, stream not connected", zap.String("operateType", operateType))
		return false
	}

	payload := CommandPayload{
		ID:          strconv.Itoa(100000 + rand.IntN(900000)),
		Version:     commandVersion,
		ModuleType:  moduleType,
		OperateType: operateType,
		Params:      params,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("cannot encode command", zap.Error(err))
		return false
	}

	token := m.client.Publish(m.setTopic, 1, false, raw)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			m.logger.Error("command publish timed out", zap.String("operateType", operateType))
		} else if err := token.Error(); err != nil {
			m.logger.Error("command publish failed", zap.Error(err))
		}
	}()

	m.logger.Info("command sent",
		zap.String("operateType", operateType),
		zap.Int("moduleType", moduleType),
		zap.Any("params", params))
	return true
}

// SetACOutput enables or disables the AC output. The firmware ignores
// partial updates, so all four parameters are always sent together.
// freq is 1 for 50 Hz, 2 for 60 Hz.
func (m *Monitor) SetACOutput(enabled bool, voltage int, freq int, xboost bool) bool {
	return m.PublishCommand("acOutCfg", 5, map[string]any{
		"enabled":     boolToInt(enabled),
		"xboost":      boolToInt(xboost),
		"out_voltage": voltage,
		"out_freq":    freq,
	})
}

// SetUSBOutput enables or disables the USB / DC 5-12 V output ports.
func (m *Monitor) SetUSBOutput(enabled bool) bool {
	return m.PublishCommand("dcOutCfg", 1, map[string]any{
		"enabled": boolToInt(enabled),
	})
}

// SetCarOutput enables or disables the 12 V car port.
func (m *Monitor) SetCarOutput(enabled bool) bool {
	return m.PublishCommand("mpptCar", 5, map[string]any{
		"enabled": boolToInt(enabled),
	})
}

// State returns a snapshot built from the current cache.
func (m *Monitor) State() DeviceState {
	m.mu.Lock()
	snapshot := copyFlat(m.flat)
	m.mu.Unlock()
	return BuildDeviceState(snapshot, m.wattsThreshold)
}

// Charging returns the last definite charging classification, nil if none
// has been observed yet.
func (m *Monitor) Charging() *bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.charging
}

func (m *Monitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

func (m *Monitor) ConnState() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func copyFlat(flat map[string]any) map[string]any {
	c := make(map[string]any, len(flat))
	for k, v := range flat {
		c[k] = v
	}
	return c
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
