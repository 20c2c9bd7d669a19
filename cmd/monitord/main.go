package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/dcastel/ecowatch/internal/adapter/actor"
	"github.com/dcastel/ecowatch/internal/config"
	"github.com/dcastel/ecowatch/internal/core/actor"
	"github.com/dcastel/ecowatch/internal/core/port"
	"github.com/dcastel/ecowatch/internal/history"
	"github.com/dcastel/ecowatch/internal/metrics"
	"github.com/dcastel/ecowatch/internal/server"
	"github.com/dcastel/ecowatch/internal/util/actorutil"
	"github.com/dcastel/ecowatch/pkg/ecoflow"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

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

	logger.Info("starting ecowatch", zap.String("version", versioninfo.Short()))

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// REST client serves both credentials and quota polls
	restClient := ecoflow.NewRestClient(cfg.EcoFlow.APIHost, cfg.EcoFlow.AccessKey, cfg.EcoFlow.SecretKey, logger)

	// metrics
	metricsReg := metrics.NewRegistry()
	appMetrics := metrics.NewAppMetrics(metricsReg)

	// history store
	var recorder port.Recorder
	if cfg.HistoryConfig.Enable {
		repo, err := history.NewRepository(cfg.HistoryConfig, logger)
		if err != nil {
			logger.Fatal("could not open history store", zap.Error(err))
		}
		defer repo.Close()
		recorder = repo
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterActor(*cfg, streamActorProvider(cfg, restClient, logger), restClient, recorder, appMetrics, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid, metricsReg)
	done := make(chan bool, 1)

	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func streamActorProvider(cfg *config.Config, credProvider port.CredentialProvider, logger *zap.Logger) actor.StreamActorProvider {
	return func(es *eventstream.EventStream) *adactor.StreamActor {
		return adactor.NewStreamActor(cfg, credProvider, es, logger)
	}
}

func initConfig() (*config.Config, error) {

	// alias PORT => ECOWATCH_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("ECOWATCH_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("ecowatch")
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

	// required credentials
	if cfg.EcoFlow.AccessKey == "" || cfg.EcoFlow.SecretKey == "" {
		return nil, errors.New("config params ecoflow.access_key and ecoflow.secret_key are required")
	}
	if cfg.EcoFlow.DeviceSN == "" {
		return nil, errors.New("config param ecoflow.device_sn is required")
	}

	// check and fix API host
	apiHost, err := config.CheckAPIHost(cfg.EcoFlow.APIHost)
	if err != nil {
		return nil, err
	}
	cfg.EcoFlow.APIHost = apiHost

	// check bounds
	if cfg.MonitorConfig.ChargingWattsThreshold < 0 {
		return nil, errors.New("config param monitor.charging_watts_threshold should be >= 0")
	}
	if cfg.MonitorConfig.QuotaPollIntervalMillis > 0 && cfg.MonitorConfig.QuotaPollIntervalMillis < 1000 {
		return nil, errors.New("config param monitor.quota_poll_interval_millis should be 0 or >= 1000")
	}
	if cfg.ACOutputConfig.Freq != 1 && cfg.ACOutputConfig.Freq != 2 {
		return nil, errors.New("config param ac_output.freq should be 1 (50Hz) or 2 (60Hz)")
	}
	if cfg.HistoryConfig.Enable && cfg.HistoryConfig.DBPath == "" {
		return nil, errors.New("config param history.db_path is required when history is enabled")
	}

	return &cfg, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("ecoflow.api_host", "https://api-e.ecoflow.com")
	viper.SetDefault("monitor.charging_watts_threshold", 10)
	viper.SetDefault("monitor.quota_poll_interval_millis", 60000)
	viper.SetDefault("ac_output.voltage", 230)
	viper.SetDefault("ac_output.freq", 1)
	viper.SetDefault("ac_output.xboost", true)
	viper.SetDefault("history.enable", false)
	viper.SetDefault("history.db_path", "ecowatch.db")
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.EcoFlow.AccessKey = "*redacted*"
	cfg.EcoFlow.SecretKey = "*redacted*"
	slog.Info("Using", "config", cfg)
}
