package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/lynx2mqtt/internal/adapter/actor"
	"github.com/berfenger/lynx2mqtt/internal/adapter/history"
	"github.com/berfenger/lynx2mqtt/internal/config"
	"github.com/berfenger/lynx2mqtt/internal/core/actor"
	"github.com/berfenger/lynx2mqtt/internal/core/port"
	"github.com/berfenger/lynx2mqtt/internal/metrics"
	"github.com/berfenger/lynx2mqtt/internal/server"
	"github.com/berfenger/lynx2mqtt/internal/util/actorutil"
	"github.com/berfenger/lynx2mqtt/pkg/lynx"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	metrics.Init()

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// init Lynx actor provider
	lynxProv, err := lynxActorProvider(cfg, logger)
	if err != nil {
		panic(err)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, lynxProv, mqttActorProvider(cfg, logger),
			historyWriterProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => LYNX2MQTT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("LYNX2MQTT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("lynx2mqtt")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check lynx access params
	if err := config.CheckLynxConfig(cfg.Lynx); err != nil {
		return nil, err
	}

	// check bounds
	if cfg.PollerConfig.PollIntervalMillis < 1000 {
		return nil, errors.New("config param poller.poll_interval_millis should be >= 1000")
	}
	if cfg.HistoryConfig.Enabled &&
		(cfg.HistoryConfig.URL == "" || cfg.HistoryConfig.Org == "" || cfg.HistoryConfig.Bucket == "") {
		return nil, errors.New("config params history.url, history.org and history.bucket are required when history.enabled")
	}

	return &cfg, nil
}

func lynxActorProvider(cfg *config.Config, logger *zap.Logger) (actor.LynxActorProvider, error) {

	requestTimeout := time.Duration(cfg.Lynx.TimeoutMillis) * time.Millisecond

	client, err := lynx.CreateHTTPClient(cfg.Lynx.BaseURL, cfg.Lynx.APIKey, requestTimeout,
		logger, []lynx.Instrument{metrics.LynxInstrument()})
	if err != nil {
		return nil, err
	}

	// switch write-through needs broker credentials, read-only without them
	var publisher lynx.CommandPublisher
	if cfg.Lynx.MQTTUsername != "" {
		pub, err := lynx.CreateCommandPublisher(commandBroker(cfg.Lynx), cfg.Lynx.MQTTUsername,
			cfg.Lynx.APIKey, cfg.Lynx.WriteTopicPrefixFallback(), nil)
		if err != nil {
			return nil, err
		}
		publisher = pub
	}

	return func() *adactor.LynxActor {
		return adactor.NewLynxActor(client, publisher, cfg.Lynx.InstallationID, requestTimeout, logger)
	}, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(eventStream *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, eventStream, logger)
	}
}

func historyWriterProvider(cfg *config.Config, logger *zap.Logger) actor.HistoryWriterProvider {
	if !cfg.HistoryConfig.Enabled {
		return nil
	}
	return func() port.HistoryWriter {
		return history.NewInfluxHistoryWriter(cfg.HistoryConfig, logger)
	}
}

// commandBroker falls back to the Lynx cloud broker next to the API host.
func commandBroker(cfg config.LynxConfig) string {
	if cfg.MQTTBroker != "" {
		return cfg.MQTTBroker
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = lynx.DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return "ssl://" + u.Hostname() + ":8883"
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("lynx.base_url", lynx.DefaultBaseURL)
	viper.SetDefault("lynx.timeout_millis", 10000)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "lynx2mqtt")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("poller.poll_interval_millis", 60000)
	viper.SetDefault("history.enabled", false)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.Lynx.APIKey = "*redacted*"
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.HistoryConfig.Token = "*redacted*"
	slog.Info("Using", "config", cfg)
}
