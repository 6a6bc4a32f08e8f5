// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// zdnsd runs the whole ZDNS stack in one process: the decision API with the
// TAXII server and block pages, the UDP/TCP DNS data plane, and the periodic
// STIX rule synchronizer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"zdns.dev/zdns/internal/api"
	"zdns.dev/zdns/internal/classify"
	"zdns.dev/zdns/internal/config"
	"zdns.dev/zdns/internal/dnsd"
	"zdns.dev/zdns/internal/intel"
	"zdns.dev/zdns/internal/logging"
	"zdns.dev/zdns/internal/metrics"
	"zdns.dev/zdns/internal/policy"
	"zdns.dev/zdns/internal/store"
)

const shutdownGrace = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "zdnsd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Local .env overrides are optional.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.SetLevel(cfg.LogLevel)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening store %s: %w", cfg.DBPath, err)
	}
	defer db.Close()
	if _, err := db.EnsureDefaultCollection(); err != nil {
		return fmt.Errorf("preparing TAXII collection: %w", err)
	}

	classifier := classify.New(cfg.ModelPath)
	m := metrics.New()
	m.Register()
	engine := policy.New(db, classifier, m)
	intelSvc := intel.NewService(db)

	apiSrv := api.NewServer(cfg, db, engine, classifier, intelSvc, m)
	resolver := dnsd.NewResolver(cfg)
	dataPlane := dnsd.NewService(cfg.DNSListenAddr(), resolver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("api: listening on %s", cfg.HTTPListen)
		return apiSrv.Start(cfg.HTTPListen)
	})

	if err := dataPlane.Start(); err != nil {
		return fmt.Errorf("starting DNS listeners: %w", err)
	}

	if timer := intelSvc.StartSyncTimer(cfg.SyncIntervalMin); timer != nil {
		logging.Info("intel: STIX sync every %dm", cfg.SyncIntervalMin)
		defer timer.Stop()
	}

	g.Go(func() error {
		<-ctx.Done()
		logging.Info("shutting down")
		dataPlane.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return apiSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
