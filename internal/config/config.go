package config

import (
	"errors"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	EcoFlow  EcoFlowConfig `mapstructure:"ecoflow"`

	MonitorConfig  MonitorConfig  `mapstructure:"monitor"`
	ACOutputConfig ACOutputConfig `mapstructure:"ac_output"`
	HistoryConfig  HistoryConfig  `mapstructure:"history"`
	Port           uint           `mapstructure:"port"`
	HttpLog        bool           `mapstructure:"http_log"`
}

type EcoFlowConfig struct {
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	DeviceSN  string `mapstructure:"device_sn"`
	APIHost   string `mapstructure:"api_host"`
}

type MonitorConfig struct {
	ChargingWattsThreshold  float64 `mapstructure:"charging_watts_threshold"`
	QuotaPollIntervalMillis uint32  `mapstructure:"quota_poll_interval_millis"`
}

// ACOutputConfig holds the fixed voltage/frequency/xboost sent with every AC
// output command. The firmware rejects partial updates.
type ACOutputConfig struct {
	Voltage int  `mapstructure:"voltage"`
	Freq    int  `mapstructure:"freq"`
	XBoost  bool `mapstructure:"xboost"`
}

type HistoryConfig struct {
	Enable bool   `mapstructure:"enable"`
	DBPath string `mapstructure:"db_path"`
}

func CheckAPIHost(host string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(host), "/")
	if trimmed == "" {
		return "", errors.New("api host cannot be empty")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "https://" + trimmed
	}
	return trimmed, nil
}
