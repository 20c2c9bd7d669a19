package util

import (
	"github.com/dcastel/ecowatch/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		EcoFlow: config.EcoFlowConfig{
			AccessKey: "test_access_key",
			SecretKey: "test_secret_key",
			DeviceSN:  "R331ZEB4ZEAL0000",
			APIHost:   "https://api-e.ecoflow.com",
		},
		MonitorConfig: config.MonitorConfig{
			ChargingWattsThreshold:  10,
			QuotaPollIntervalMillis: 5000,
		},
		ACOutputConfig: config.ACOutputConfig{
			Voltage: 230,
			Freq:    1,
			XBoost:  true,
		},
		HistoryConfig: config.HistoryConfig{
			Enable: false,
		},
		Port: 8080,
	}
}
