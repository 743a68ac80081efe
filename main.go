package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"nithronos/nosvol/internal/config"
	"nithronos/nosvol/internal/disks"
	"nithronos/nosvol/internal/metrics"
	"nithronos/nosvol/internal/reconcile"
	"nithronos/nosvol/internal/refresh"
	"nithronos/nosvol/internal/server"
	"nithronos/nosvol/internal/topology"
	"nithronos/nosvol/internal/transport"
	"nithronos/nosvol/internal/volumes"
)

func main() {
	cfg, err := config.FromEnv()
	logger := server.Logger(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("nosvold exited")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	catalog, rescan, err := loadCatalog(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	presets, err := loadPresets(cfg)
	if err != nil {
		return err
	}

	draftStore := volumes.NewDraftStore(cfg.DraftsPath())
	store := volumes.NewStore()
	drafts, err := draftStore.Load()
	if err != nil {
		logger.Warn().Err(err).Str("path", draftStore.Path()).Msg("drafts not restored")
	} else {
		store.LoadDrafts(drafts)
	}

	bridge := transport.NewBridge(logger, cfg.BridgeQueue)
	reg := prometheus.NewRegistry()
	var (
		recorder  reconcile.Recorder
		onRefresh func(string)
	)
	if cfg.MetricsEnabled {
		m := metrics.New(reg)
		m.WatchBridge(bridge.Depth)
		recorder, onRefresh = m, m.Refresh
	}

	c := reconcile.New(reconcile.Deps{
		Logger:    logger,
		Transport: bridge,
		Catalog:   catalog,
		Presets:   presets,
		Store:     store,
		Recorder:  recorder,
		Drafts:    draftStore,
	})
	loop := reconcile.NewLoop(c)
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	if _, err := loop.Do(ctx, "startup", func(c *reconcile.Controller) error {
		var result *multierror.Error
		if _, err := c.FetchVolumes(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		if _, err := c.FetchAvailableDisks(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		return result.ErrorOrNil()
	}); err != nil {
		logger.Warn().Err(err).Msg("initial fetch")
	}

	sched := refresh.New(logger, loop, refresh.Options{
		DiskSpec:   cfg.DiskRefresh,
		SweepSpec:  cfg.RequestSweep,
		RequestTTL: cfg.RequestTTL,
		Bridge:     bridge,
		Rescan:     rescan,
		OnRefresh:  onRefresh,
	})
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	var gatherer prometheus.Gatherer
	if cfg.MetricsEnabled {
		gatherer = reg
	}
	handler := server.NewRouter(server.Deps{
		Logger:     logger,
		Loop:       loop,
		Bridge:     bridge,
		Presets:    presets,
		Gatherer:   gatherer,
		CORSOrigin: cfg.CORSOrigin,
	})
	srv := &http.Server{
		Addr:              cfg.Bind,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info().Msgf("nosvold listening on http://%s", cfg.Bind)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		bridge.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	bridge.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	<-loopDone
	return nil
}

// loadCatalog builds the disk inventory from the configured file, or from
// lsblk when none is set. The returned rescan repeats the same lookup.
func loadCatalog(ctx context.Context, cfg config.Config, runner disks.RunFunc, logger zerolog.Logger) (*disks.Inventory, func(context.Context) (reconcile.DiskCatalog, error), error) {
	if cfg.InventoryFile != "" {
		inv, err := disks.LoadInventory(cfg.InventoryFile)
		if err != nil {
			return nil, nil, err
		}
		rescan := func(context.Context) (reconcile.DiskCatalog, error) {
			inv, err := disks.LoadInventory(cfg.InventoryFile)
			if err != nil {
				return nil, err
			}
			return inv, nil
		}
		return inv, rescan, nil
	}

	rescan := func(ctx context.Context) (reconcile.DiskCatalog, error) {
		inv, err := disks.Collect(ctx, runner)
		if err != nil {
			return nil, err
		}
		return inv, nil
	}
	inv, err := disks.Collect(ctx, runner)
	if errors.Is(err, disks.ErrNoLsblk) {
		logger.Warn().Msg("lsblk not found; starting with an empty disk inventory")
		return disks.NewInventory(nil), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return inv, rescan, nil
}

func loadPresets(cfg config.Config) (*topology.Registry, error) {
	if cfg.PresetsFile == "" {
		return topology.DefaultRegistry(), nil
	}
	return topology.LoadPresets(cfg.PresetsFile)
}
