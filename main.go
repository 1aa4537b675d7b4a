package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/flurbudurbur/localsync/internal/config"
	"github.com/flurbudurbur/localsync/internal/connector"
	"github.com/flurbudurbur/localsync/internal/database"
	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/events"
	"github.com/flurbudurbur/localsync/internal/http"
	"github.com/flurbudurbur/localsync/internal/logger"
	"github.com/flurbudurbur/localsync/internal/scheduler"
	"github.com/flurbudurbur/localsync/internal/server"
	"github.com/flurbudurbur/localsync/internal/status"
	"github.com/flurbudurbur/localsync/internal/sync"

	"github.com/asaskevich/EventBus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/r3labs/sse/v2"
	"github.com/spf13/pflag"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

// appSchema is the demo application data model.
var appSchema = domain.Schema{Tables: []domain.Table{
	{Name: "lists", Columns: []domain.Column{
		{Name: "name", Type: domain.ColumnText},
		{Name: "created_at", Type: domain.ColumnText},
	}},
	{Name: "todos", Columns: []domain.Column{
		{Name: "list_id", Type: domain.ColumnText},
		{Name: "description", Type: domain.ColumnText},
		{Name: "completed", Type: domain.ColumnInteger},
		{Name: "created_at", Type: domain.ColumnText},
	}},
	{Name: "drafts", Columns: []domain.Column{
		{Name: "body", Type: domain.ColumnText},
	}, LocalOnly: true},
}}

func main() {
	var configPath string
	pflag.StringVar(&configPath, "config", "", "path to configuration directory")
	pflag.Parse()

	// read config
	cfg := config.New(configPath, version)

	// init new logger
	log := logger.New(cfg.Config)

	// init dynamic config
	cfg.DynamicReload(log)

	// setup server-sent-events
	serverEvents := sse.New()
	serverEvents.CreateStreamWithOpts(logger.LogStream, sse.StreamOpts{MaxEntries: 1000, AutoReplay: true})
	serverEvents.CreateStreamWithOpts(http.StatusStream, sse.StreamOpts{MaxEntries: 1, AutoReplay: true})
	serverEvents.CreateStream(http.TablesStream)

	// register SSE writer
	log.RegisterSSEWriter(serverEvents)

	// setup internal eventbus
	bus := EventBus.New()

	// open database connection
	db, err := database.NewDB(cfg.Config, log, bus)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create new db")
	}

	if err := db.Open(); err != nil {
		log.Fatal().Err(err).Msg("could not open db connection")
	}

	if err := db.ApplySchema(context.Background(), appSchema); err != nil {
		log.Fatal().Err(err).Msg("could not apply schema")
	}

	log.Info().Msgf("Starting localsync")
	log.Info().Msgf("Version: %s", version)
	log.Info().Msgf("Commit: %s", commit)
	log.Info().Msgf("Build date: %s", date)
	log.Info().Msgf("Log-level: %s", cfg.Config.Logging.Level)
	log.Info().Msgf("Using database: %s", cfg.Config.Database.Path)

	syncCfg := cfg.Config.Sync

	// setup services
	var (
		syncStateRepo = database.NewSyncStateRepo(log, db)
		statusService = status.NewService(log, syncStateRepo)
		metrics       = connector.NewMetrics(prometheus.DefaultRegisterer)
		backend       = connector.NewBackend(log, connector.BackendConfig{
			Endpoint:       syncCfg.Endpoint,
			Token:          syncCfg.Token,
			UserID:         syncCfg.UserID,
			InitialBackoff: syncCfg.BackoffInitial(),
			MaxBackoff:     syncCfg.BackoffMax(),
		}, metrics)
		adapter     = connector.NewAdapter(log, backend, db, syncCfg.CredentialErrors, metrics)
		syncService = sync.NewService(log, adapter, db.Crud(), statusService, sync.Options{
			RetryInitialInterval: syncCfg.BackoffInitial(),
			RetryMaxInterval:     syncCfg.BackoffMax(),
		})
		schedulingService = scheduler.NewService(log, cfg.Config, syncService, statusService, db.Crud())
	)

	// register event subscribers
	events.NewSubscribers(log, bus, syncService)

	dispatcher, err := events.NewDispatcher(log, bus)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create change dispatcher")
	}

	relayCtx, stopRelay := context.WithCancel(context.Background())
	go http.NewStreamRelay(log, serverEvents, statusService, dispatcher, nil).Run(relayCtx)

	errorChannel := make(chan error)

	go func() {
		httpServer := http.NewServer(
			log,
			cfg,
			serverEvents,
			db,
			version,
			commit,
			date,
			statusService,
			syncService,
			db.Crud(),
			syncStateRepo,
			prometheus.DefaultGatherer,
		)
		errorChannel <- httpServer.Open()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	srv := server.NewServer(log, cfg.Config, schedulingService, statusService, syncService)
	if err := srv.Start(); err != nil {
		log.Fatal().Stack().Err(err).Msg("could not start server")
		return
	}

	shutdown := func() {
		srv.Shutdown()
		stopRelay()
		if err := dispatcher.Close(); err != nil {
			log.Error().Err(err).Msg("could not close change dispatcher")
		}
		serverEvents.Close()
		if err := db.Close(); err != nil {
			log.Error().Stack().Err(err).Msg("could not close db connection")
		}
	}

	for {
		select {
		case err := <-errorChannel:
			log.Error().Err(err).Msg("http server stopped")
			shutdown()
			os.Exit(1)
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				log.Log().Msg("shutting down server sighup")
				shutdown()
				os.Exit(1)
			case syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM:
				log.Info().Msgf("Shutting down server due to %s...", sig)
				shutdown()
				os.Exit(0)
			}
		}
	}
}
