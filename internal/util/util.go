package util

import (
	"github.com/berfenger/lynx2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Lynx: config.LynxConfig{
			BaseURL:        "http://127.0.0.1:59999",
			APIKey:         "test-api-key",
			InstallationID: 42,
			ClientID:       2086,
			MQTTBroker:     "tcp://127.0.0.1:59998",
			MQTTUsername:   "box:2086",
			TimeoutMillis:  2000,
		},
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "lynx2mqtt",
		},
		PollerConfig: config.PollerConfig{
			PollIntervalMillis: 5000,
		},
		HistoryConfig: config.HistoryConfig{
			Enabled: false,
		},
		Port: 8080,
	}
}
