package domain

import "github.com/dcastel/ecowatch/pkg/ecoflow"

const (
	ACTOR_ID_MASTER   = "master"
	ACTOR_ID_STREAM   = "stream"
	ACTOR_ID_POLLER   = "poller"
	ACTOR_ID_RECORDER = "recorder"
)

type GetDeviceStateRequest struct {
	ActorRequestMixIn
}

type GetDeviceStateResponse struct {
	ActorResponseMixIn
	State     ecoflow.DeviceState
	Charging  *bool
	ConnState string
}

type GetQuotaRequest struct {
	ActorRequestMixIn
}

type GetQuotaResponse struct {
	ActorResponseMixIn
	Quota map[string]any
}

type SetACOutputRequest struct {
	ActorRequestMixIn
	Enabled bool
}

type SetUSBOutputRequest struct {
	ActorRequestMixIn
	Enabled bool
}

type SetCarOutputRequest struct {
	ActorRequestMixIn
	Enabled bool
}

// CommandResponse answers any of the Set*OutputRequest messages. Accepted
// means the command was handed to the transport, not that the device
// executed it.
type CommandResponse struct {
	ActorResponseMixIn
	Accepted bool
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
