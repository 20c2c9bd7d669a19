package domain

import (
	"fmt"
	"time"

	"github.com/dcastel/ecowatch/pkg/ecoflow"
)

const (
	SNAPSHOT_SOURCE_STREAM = "stream"
	SNAPSHOT_SOURCE_POLL   = "poll"
)

type MonitorEventMixIn struct {
	At time.Time
}

type MonitorEvent interface {
	MonitorEvent() string
	Timestamp() time.Time
}

func (e MonitorEventMixIn) MonitorEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e MonitorEventMixIn) Timestamp() time.Time {
	return e.At
}

type ChargingStartedEvent struct {
	MonitorEventMixIn
	State ecoflow.DeviceState
}

type ChargingStoppedEvent struct {
	MonitorEventMixIn
	State ecoflow.DeviceState
}

type StreamConnectedEvent struct {
	MonitorEventMixIn
}

type StreamDisconnectedEvent struct {
	MonitorEventMixIn
	Error error
}

type SnapshotUpdatedEvent struct {
	MonitorEventMixIn
	Source string
	State  ecoflow.DeviceState
}

type CommandPublishedEvent struct {
	MonitorEventMixIn
	OperateType string
	Accepted    bool
}
