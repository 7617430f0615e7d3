package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/yegors/mlat-client/internal/adsb"
	"github.com/yegors/mlat-client/internal/api"
	"github.com/yegors/mlat-client/internal/config"
	"github.com/yegors/mlat-client/internal/coordinator"
	"github.com/yegors/mlat-client/internal/geo"
	"github.com/yegors/mlat-client/internal/mlatserver"
	"github.com/yegors/mlat-client/internal/stats"
	"github.com/yegors/mlat-client/internal/storage/sqlite"
	"github.com/yegors/mlat-client/internal/websocket"
	"github.com/yegors/mlat-client/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting mlat-client",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
		logger.String("user", cfg.Server.User))

	if err := run(cfg, log); err != nil {
		log.Error("mlat-client stopped with error", logger.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("mlat-client fully stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := stats.New()

	receiver := adsb.NewClient(
		cfg.Receiver.Host,
		cfg.Receiver.Port,
		cfg.Receiver.InputType,
		cfg.Receiver.ReconnectInterval(),
		cfg.Receiver.IdleTimeout(),
		st,
		log,
	)

	server := mlatserver.NewConnection(mlatserver.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		User:              cfg.Server.User,
		Latitude:          cfg.Server.Latitude,
		Longitude:         cfg.Server.Longitude,
		AltitudeM:         cfg.Server.AltitudeM,
		ClockType:         cfg.Receiver.ClockType(),
		Compression:       cfg.Server.Compression,
		ConnectTimeout:    cfg.Server.ConnectTimeout(),
		HeartbeatInterval: cfg.Server.HeartbeatInterval(),
		Backoff: &mlatserver.Backoff{
			InitialDelay: time.Duration(cfg.Server.InitialBackoffSecs) * time.Second,
			MaxDelay:     time.Duration(cfg.Server.MaxBackoffSecs) * time.Second,
			Multiplier:   2.0,
		},
	}, st, log)

	// Result outputs
	var outputs []coordinator.Output
	var results api.ResultSource

	if cfg.Results.SQLitePath != "" {
		storage, err := sqlite.NewResultStorage(cfg.Results.SQLitePath, cfg.Results.MaxResultsInAPI, log)
		if err != nil {
			return fmt.Errorf("failed to open result storage: %w", err)
		}
		outputs = append(outputs, storage)
		results = storage
	}

	var wsServer *websocket.Server
	if cfg.Results.WebSocketEnabled {
		wsServer = websocket.NewServer(geo.Station{
			Latitude:  cfg.Server.Latitude,
			Longitude: cfg.Server.Longitude,
		}, log)
		go wsServer.Run()
		outputs = append(outputs, wsServer)
	}

	coord := coordinator.New(receiver, server, outputs, receiver.ClockFrequency(), st, log)

	inbound := coord.Inbound()
	receiver.SetHandler(inbound)
	server.SetHandler(inbound)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server connection: %w", err)
	}
	defer server.Stop()
	if err := receiver.Start(ctx); err != nil {
		return fmt.Errorf("failed to start receiver client: %w", err)
	}
	defer receiver.Stop()

	var httpServer *http.Server
	if cfg.Results.HTTPPort != 0 {
		var ws http.HandlerFunc
		if wsServer != nil {
			ws = wsServer.HandleConnection
		}
		router := api.NewRouter(coord, results, st, ws, cfg.Results.StaticDir, log)

		httpServer = &http.Server{
			Addr:              cfg.Results.HTTPHost + ":" + strconv.Itoa(cfg.Results.HTTPPort),
			Handler:           router.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		go func() {
			log.Info("Starting HTTP server", logger.String("addr", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error", logger.String("addr", httpServer.Addr), logger.Error(err))
			}
		}()
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("Shutting down", logger.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	// Blocks until cancelled; disconnects receiver, server and outputs on the way out
	runErr := coord.Run(ctx)

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", logger.Error(err))
		} else {
			log.Info("HTTP server shutdown complete")
		}
	}

	return runErr
}
