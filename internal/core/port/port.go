package port

import (
	"context"

	"github.com/dcastel/ecowatch/pkg/ecoflow"
)

// CredentialProvider hands out one-time stream credentials. A bundle is not
// reusable: a restarted session must fetch a fresh one.
type CredentialProvider interface {
	GetMQTTCredentials(ctx context.Context) (*ecoflow.Credentials, error)
}

// QuotaReader reads a point-in-time full property set for a device.
type QuotaReader interface {
	GetDeviceQuota(ctx context.Context, deviceSN string) (map[string]any, error)
}

// Recorder persists snapshots and charging transitions.
type Recorder interface {
	RecordSnapshot(source string, state ecoflow.DeviceState) error
	RecordTransition(kind string, state ecoflow.DeviceState) error
	Close() error
}
