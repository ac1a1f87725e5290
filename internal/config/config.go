package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	Lynx     LynxConfig `mapstructure:"lynx"`
	MQTT     MQTTConfig `mapstructure:"mqtt"`

	PollerConfig  PollerConfig  `mapstructure:"poller"`
	HistoryConfig HistoryConfig `mapstructure:"history"`
	Port          uint          `mapstructure:"port"`
	HttpLog       bool          `mapstructure:"http_log"`
}

type LynxConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	InstallationID int64  `mapstructure:"installation_id"`
	// ClientID is the Lynx client id used as the write topic prefix when the
	// MQTT username does not embed one.
	ClientID       int64  `mapstructure:"client_id"`
	MQTTBroker     string `mapstructure:"mqtt_broker"`
	MQTTUsername   string `mapstructure:"mqtt_username"`
	TimeoutMillis  uint32 `mapstructure:"timeout_millis"`
}

type PollerConfig struct {
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// CheckLynxConfig validates the fields without which the bridge cannot talk
// to the installation. The error names the offending field.
func CheckLynxConfig(cfg LynxConfig) error {
	if cfg.APIKey == "" {
		return errors.New("lynx.api_key is required")
	}
	if cfg.InstallationID <= 0 {
		return errors.New("lynx.installation_id is required and must be > 0")
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("lynx.base_url %q is not a valid http(s) url", cfg.BaseURL)
		}
	}
	return nil
}

// WriteTopicPrefixFallback is used when lynx.mqtt_username carries no client
// id. Falls back to the configured client id, then the installation id.
func (cfg LynxConfig) WriteTopicPrefixFallback() string {
	if cfg.ClientID > 0 {
		return fmt.Sprintf("%d", cfg.ClientID)
	}
	return fmt.Sprintf("%d", cfg.InstallationID)
}
