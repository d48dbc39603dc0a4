package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"geowatch/internal/browser"
	"geowatch/internal/config"
	"geowatch/internal/engine"
	"geowatch/internal/export"
	"geowatch/internal/logging"
	"geowatch/internal/metrics"
	"geowatch/internal/provider"
	"geowatch/internal/provider/bocha"
	"geowatch/internal/provider/deepseek"
	"geowatch/internal/provider/doubao"
	"geowatch/internal/server"
	"geowatch/internal/status"
	"geowatch/internal/store"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "geowatch",
		Short:   "Monitors which web sources LLM chat platforms cite",
		Version: version,
	}
	root.AddCommand(serveCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Info("starting geowatch", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Name,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	if err := st.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}

	mgr := browser.NewManager(browser.Config{
		ChromePath:     cfg.Browser.ChromePath,
		Headless:       cfg.Browser.Headless,
		ProfileRoot:    cfg.Browser.ProfileRoot,
		Timeout:        cfg.Browser.Timeout,
		StableInterval: cfg.Browser.StableInterval,
		StableTimeout:  cfg.Browser.StableTimeout,
	}, logger)
	defer mgr.Close()

	registry := provider.NewRegistry(
		deepseek.New(mgr, logger),
		doubao.New(mgr, logger),
		bocha.New(bocha.Config{
			APIKey:  cfg.Bocha.APIKey,
			BaseURL: cfg.Bocha.BaseURL,
			Count:   cfg.Bocha.Count,
		}, logger),
	)

	m := metrics.New()
	eng := engine.New(st, registry, m, logger)

	srv := server.New(server.Config{
		ListenAddress: cfg.Server.ListenAddress,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
	}, eng, status.New(st, logger), export.New(st, logger), st, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return eng.Shutdown(drainCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("geowatch stopped")
	return nil
}
