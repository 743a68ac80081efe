package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nithronos/nosvol/internal/config"
	"nithronos/nosvol/internal/metrics"
	"nithronos/nosvol/internal/reconcile"
	"nithronos/nosvol/internal/topology"
	"nithronos/nosvol/internal/transport"
)

func Logger(cfg config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return log.Logger.Level(cfg.LogLevel).With().Timestamp().Logger()
}

// Loop is the part of reconcile.Loop the HTTP layer drives.
type Loop interface {
	Do(ctx context.Context, name string, fn func(*reconcile.Controller) error) (reconcile.Result, error)
	Dispatch(ctx context.Context, ev reconcile.Event) (reconcile.Result, error)
	Read(ctx context.Context, fn func(*reconcile.Controller) error) error
	Snapshot(ctx context.Context) (reconcile.Snapshot, error)
	Subscribe() (<-chan reconcile.Snapshot, func())
}

type Deps struct {
	Logger  zerolog.Logger
	Loop    Loop
	Bridge  *transport.Bridge
	Presets *topology.Registry
	// Gatherer serves /metrics when set.
	Gatherer   prometheus.Gatherer
	CORSOrigin string
	// NewID mints draft IDs when a create request omits one.
	NewID func() string
}

type api struct {
	logger  zerolog.Logger
	loop    Loop
	bridge  *transport.Bridge
	presets *topology.Registry
	newID   func() string
}

func NewRouter(d Deps) http.Handler {
	if d.Presets == nil {
		d.Presets = topology.DefaultRegistry()
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	a := &api{
		logger:  d.Logger.With().Str("component", "http").Logger(),
		loop:    d.Loop,
		bridge:  d.Bridge,
		presets: d.Presets,
		newID:   d.NewID,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(zerologMiddleware(a.logger))

	origin := d.CORSOrigin
	if origin == "" {
		origin = "http://localhost:5173"
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	})
	r.Use(c.Handler)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": "0.1.0"})
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(d.Gatherer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", a.handleState)
		r.Get("/state/stream", a.handleStream)

		r.Post("/volumes", a.handleInitialize)
		r.Post("/volumes/refresh", a.handleFetchVolumes)
		r.Route("/volumes/{id}", func(r chi.Router) {
			r.Patch("/", a.handleUpdate)
			r.Delete("/", a.handleRevert)
			r.Post("/focus", a.handleFocus)
			r.Post("/blur", a.handleBlur)
			r.Post("/submit", a.handleSubmit)
			r.Post("/destroy", a.handleIntendDestroy)
			r.Post("/disks/select", a.handleSelectDisk)
			r.Post("/disks/deselect", a.handleDeselectDisk)
			r.Post("/preset", a.handleApplyPreset)
			r.Put("/topology", a.handleUpdateTopology)
			r.Delete("/topology", a.handleRevertTopology)
			r.Get("/breakdown", a.handleVolumeBreakdown)
			r.Post("/vdevs/{purpose}/add", a.handleAddVdevDisk)
			r.Post("/vdevs/{purpose}/remove", a.handleRemoveVdevDisk)
			r.Post("/vdevs/{purpose}/nuke", a.handleNukeVdev)
			r.Post("/vdevs/{purpose}/type", a.handleChangeVdevType)
		})
		r.Post("/destroy/cancel", a.handleCancelDestroy)
		r.Post("/destroy/confirm", a.handleConfirmDestroy)
		r.Post("/disks/refresh", a.handleFetchDisks)

		r.Get("/topology/presets", a.handlePresets)
		r.Post("/topology/allowed", a.handleAllowedTypes)
		r.Post("/topology/breakdown", a.handleBreakdown)
		r.Post("/topology/validate", a.handleValidate)

		if a.bridge != nil {
			r.Get("/bridge/requests", a.handleBridgeTake)
			r.Post("/bridge/resolve", a.handleBridgeResolve)
			r.Post("/bridge/notify", a.handleBridgeNotify)
		}
	})
	return r
}
