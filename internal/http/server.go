package http

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/flurbudurbur/localsync/internal/config"
	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/r3labs/sse/v2"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

type Server struct {
	log    zerolog.Logger
	logger logLevelSetter
	sse    *sse.Server
	db     DBPinger

	config *config.AppConfig

	version string
	commit  string
	date    string

	statusService statusService
	syncService   syncService
	crudRepo      domain.CrudRepo
	checkpoints   checkpointReader
	metrics       prometheus.Gatherer
}

func NewServer(
	log logger.Logger,
	config *config.AppConfig,
	sse *sse.Server,
	db DBPinger,
	version string,
	commit string,
	date string,
	statusSvc statusService,
	syncSvc syncService,
	crudRepo domain.CrudRepo,
	checkpoints checkpointReader,
	metrics prometheus.Gatherer,
) Server {
	if sse != nil {
		sse.Headers = map[string]string{
			"Content-Type":      "text/event-stream",
			"Cache-Control":     "no-cache",
			"Connection":        "keep-alive",
			"X-Accel-Buffering": "no",
		}
	}

	return Server{
		log:     log.With().Str("module", "http").Logger(),
		logger:  log,
		config:  config,
		sse:     sse,
		db:      db,
		version: version,
		commit:  commit,
		date:    date,

		statusService: statusSvc,
		syncService:   syncSvc,
		crudRepo:      crudRepo,
		checkpoints:   checkpoints,
		metrics:       metrics,
	}
}

func (s Server) Open() error {
	c := s.config.Current()
	addr := fmt.Sprintf("%v:%v", c.Server.Host, c.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	server := http.Server{
		Handler: s.Handler(),
	}

	s.log.Info().Msgf("Starting server. Listening on %s", listener.Addr().String())

	return server.Serve(listener)
}

func (s Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware(&s.log))

	c := cors.New(cors.Options{
		AllowCredentials:   true,
		AllowedMethods:     []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowOriginFunc:    func(origin string) bool { return true },
		OptionsPassthrough: true,
		Debug:              false,
	})

	r.Use(c.Handler)

	encoder := encoder{}

	routes := func(r chi.Router) {
		r.Route("/api", func(r chi.Router) {
			r.Route("/healthz", newHealthHandler(encoder, s.db).Routes)
			r.Route("/config", newConfigHandler(encoder, s, s.config, s.logger).Routes)
			r.Route("/status", newStatusHandler(encoder, s.statusService).Routes)
			r.Route("/crud", newCrudHandler(encoder, s.crudRepo, s.checkpoints, s.config.Current().Sync.BatchLimit()).Routes)
			r.Route("/sync", newSyncHandler(encoder, s.syncService, s.statusService).Routes)

			r.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
				if s.sse == nil {
					encoder.StatusNotFound(r.Context(), w)
					return
				}
				s.sse.ServeHTTP(w, r)
			})
		})

		if s.metrics != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
		}
	}

	baseURL := strings.TrimSuffix(s.config.Current().Server.BaseURL, "/")
	if baseURL == "" {
		routes(r)
		return r
	}
	if !strings.HasPrefix(baseURL, "/") {
		baseURL = "/" + baseURL
	}

	r.Route(baseURL, routes)

	return r
}
