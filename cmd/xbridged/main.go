// Package main provides xbridged, the cross-chain atomic-swap overlay
// daemon.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xbridge-go/xbridged/internal/app"
	"github.com/xbridge-go/xbridged/internal/config"
	"github.com/xbridge-go/xbridged/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	f, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	log := logging.New(&logging.Config{Level: "info", TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if f.ShowVersion {
		log.Infof("xbridged %s (commit: %s)", version, commit)
		return
	}

	if f.GenKey {
		if err := runGenKey(byte(f.GenKeyVersion)); err != nil {
			log.Fatal("genkey failed", "error", err)
		}
		return
	}

	cfg, err := config.Load(f.DataDir)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}
	f.Apply(cfg)

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("config loaded", "path", config.Path(f.DataDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal("failed to construct application core", "error", err)
	}

	if err := core.Start(ctx); err != nil {
		log.Fatal("failed to start application core", "error", err)
	}

	var uiServer *http.Server
	if cfg.UI.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", core.NotifyHub().ServeHTTP)
		uiServer = &http.Server{Addr: cfg.UI.ListenAddr, Handler: mux}
		go func() {
			if err := uiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("notification websocket server stopped", "error", err)
			}
		}()
	}

	printBanner(log, core, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")

	cancel()

	if uiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := uiServer.Shutdown(shutdownCtx); err != nil {
			log.Error("error stopping notification websocket server", "error", err)
		}
	}

	if err := core.Stop(); err != nil {
		log.Error("error during shutdown", "error", err)
	}

	log.Info("goodbye")
}

func printBanner(log *logging.Logger, core *app.App, cfg *config.Config) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  xbridged atomic-swap overlay node")
	log.Infof("  version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  node id: %s", core.LocalID())
	log.Info("")
	log.Info("  listening on:")
	for _, addr := range core.Transport().Host().Addrs() {
		log.Infof("    %s/p2p/%s", addr, core.Transport().Host().ID())
	}
	if cfg.Bridge.ListenAddr != "" {
		log.Infof("  bridge: tcp://%s", cfg.Bridge.ListenAddr)
	}
	if cfg.UI.ListenAddr != "" {
		log.Infof("  ui:     ws://%s/ws", cfg.UI.ListenAddr)
	}
	log.Info("")
	log.Infof("  data dir: %s", cfg.Storage.DataDir)
	log.Info("=================================================")
	log.Info("")
}
