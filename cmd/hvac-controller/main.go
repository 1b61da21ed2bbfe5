package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/modbus-hvac/db"
	"github.com/thatsimonsguy/modbus-hvac/internal/api"
	"github.com/thatsimonsguy/modbus-hvac/internal/config"
	"github.com/thatsimonsguy/modbus-hvac/internal/controller"
	"github.com/thatsimonsguy/modbus-hvac/internal/datadog"
	"github.com/thatsimonsguy/modbus-hvac/internal/exchange"
	"github.com/thatsimonsguy/modbus-hvac/internal/logging"
	"github.com/thatsimonsguy/modbus-hvac/internal/notifications"
	"github.com/thatsimonsguy/modbus-hvac/internal/project"
	"github.com/thatsimonsguy/modbus-hvac/internal/store"
	"github.com/thatsimonsguy/modbus-hvac/internal/transport"
	"github.com/thatsimonsguy/modbus-hvac/system/shutdown"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logFile, err := logging.Init(cfg.LogLevel, cfg.LogFile, cfg.LogConsole)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logFile.Close()

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("state_file", cfg.StateFile).
		Str("db", cfg.DBPath).
		Msg("Starting HVAC controller")
	if cfg.SafeMode {
		log.Warn().Msg("SAFE MODE ENABLED: register writes are logged and never sent")
	}

	datadog.InitMetrics(datadog.Config{
		Enabled:   cfg.Datadog.Enabled,
		AgentAddr: cfg.Datadog.AgentAddr,
		Namespace: cfg.Datadog.Namespace,
		Tags:      cfg.Datadog.Tags,
	})
	notifications.Init(cfg.Ntfy)

	docs, err := project.LoadDocuments(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load device documents")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	p, err := project.Build(cfg, docs, project.OpenClient, transport.NewMetrics(reg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build project")
	}
	shutdown.Register(p.Devices, cfg.SafeMode)

	st := store.New(cfg.StateFile)
	if err := st.Restore(p.Groups, p.Devices); err != nil {
		log.Warn().Err(err).Msg("Failed to restore snapshot, starting with defaults")
	}

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		shutdown.ShutdownWithError(err, "Failed to open exchange database")
		return
	}
	defer conn.Close()
	sqlStore := exchange.NewSQLStore(conn)
	publishers := exchange.Multi{st, sqlStore}

	if cfg.MQTT.Enabled() {
		mq, err := exchange.ConnectMQTT(cfg.MQTT)
		if err != nil {
			log.Warn().Err(err).Msg("MQTT unavailable, publishing to local stores only")
		} else {
			defer mq.Close()
			publishers = append(publishers, mq)
		}
	}

	ctrl := controller.New(p, controller.Options{Publisher: publishers, Overrides: sqlStore})

	server := api.NewServer(ctrl, reg)
	go func() {
		if err := server.Start(cfg.APIPort); err != nil {
			shutdown.ShutdownWithError(err, "REST API server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctrl.Run(ctx, cfg.PollInterval())

	log.Info().Msg("Shutting down")
	shutdown.Shutdown()
}
