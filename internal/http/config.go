package http

import (
	"encoding/json"
	"net/http"

	"github.com/flurbudurbur/localsync/internal/config"
	"github.com/flurbudurbur/localsync/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type configJson struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	LogLevel            string `json:"log_level"`
	LogPath             string `json:"log_path"`
	LogMaxSize          int    `json:"log_max_size"`
	LogMaxBackups       int    `json:"log_max_backups"`
	BaseURL             string `json:"base_url"`
	DatabasePath        string `json:"database_path"`
	SyncEndpoint        string `json:"sync_endpoint"`
	CrudBatchLimit      int    `json:"crud_batch_limit"`
	UploadRetryInterval string `json:"upload_retry_interval"`
	CredentialErrors    string `json:"credential_errors"`
	Version             string `json:"version"`
	Commit              string `json:"commit"`
	Date                string `json:"date"`
}

type logLevelSetter interface {
	SetLogLevel(level string)
}

type configHandler struct {
	encoder encoder

	cfg    *config.AppConfig
	server Server
	log    logLevelSetter
}

func newConfigHandler(encoder encoder, server Server, cfg *config.AppConfig, log logLevelSetter) *configHandler {
	return &configHandler{
		encoder: encoder,
		cfg:     cfg,
		server:  server,
		log:     log,
	}
}

func (h configHandler) Routes(r chi.Router) {
	r.Get("/", h.getConfig)
	r.Patch("/", h.updateConfig)
}

func (h configHandler) getConfig(w http.ResponseWriter, r *http.Request) {
	c := h.cfg.Current()

	conf := configJson{
		Host:                c.Server.Host,
		Port:                c.Server.Port,
		LogLevel:            c.Logging.Level,
		LogPath:             c.Logging.Path,
		LogMaxSize:          c.Logging.MaxFileSize,
		LogMaxBackups:       c.Logging.MaxBackupCount,
		BaseURL:             c.Server.BaseURL,
		DatabasePath:        c.Database.Path,
		SyncEndpoint:        c.Sync.Endpoint,
		CrudBatchLimit:      c.Sync.BatchLimit(),
		UploadRetryInterval: c.Sync.RetryInterval().String(),
		CredentialErrors:    string(c.Sync.CredentialErrors),
		Version:             h.server.version,
		Commit:              h.server.commit,
		Date:                h.server.date,
	}

	render.JSON(w, r, conf)
}

// updateConfig applies changes in memory only, config.toml is left untouched.
func (h configHandler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var data domain.ConfigUpdate

	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.encoder.StatusError(w, http.StatusBadRequest, err)
		return
	}

	if data.LogLevel != nil {
		h.cfg.SetLogLevel(*data.LogLevel)
		if h.log != nil {
			h.log.SetLogLevel(*data.LogLevel)
		}
	}

	h.encoder.NoContent(w)
}
