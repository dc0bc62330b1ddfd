package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cippm/cip/internal/api"
	"github.com/cippm/cip/internal/config"
	"github.com/cippm/cip/internal/logger"
	"github.com/cippm/cip/internal/registry"
	"github.com/cippm/cip/internal/server"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file")
	addr := pflag.String("addr", "", "listen address (overrides config)")
	httpAddr := pflag.String("http-addr", "", "browse API address (overrides config)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}

	log, err := logger.InitLogger(cfg.Log)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// The registry lives and dies with the process; nothing persists.
	store, err := registry.Open(log)
	if err != nil {
		log.Fatal("failed to open registry", zap.Error(err))
	}
	defer store.Close()

	srv := server.New(cfg.Server, store, log)
	if err := srv.Listen(); err != nil {
		log.Fatal("failed to bind", zap.Error(err))
	}

	go func() {
		if err := srv.Serve(); err != nil {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	var httpSrv *http.Server
	if cfg.HTTP.Addr != "" {
		browse := api.NewAPI(store, log)
		httpSrv = &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: browse.Router(),
		}
		go func() {
			log.Info("browse API listening", zap.String("addr", cfg.HTTP.Addr))
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal("browse API failed", zap.Error(err))
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	if httpSrv != nil {
		httpSrv.Close()
	}
	srv.Shutdown()
}
