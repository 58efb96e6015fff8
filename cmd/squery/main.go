// main is the entry point of the Squery service.
// It initializes the configuration, logger, database, GeoIP provider, the
// query facade and RCON session manager, and starts the HTTP API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/RequiemB/squery/internal/config"
	"github.com/RequiemB/squery/internal/geoip"
	"github.com/RequiemB/squery/internal/logger"
	"github.com/RequiemB/squery/internal/monitor"
	"github.com/RequiemB/squery/internal/query"
	"github.com/RequiemB/squery/internal/rcon"
	"github.com/RequiemB/squery/internal/server"
	"github.com/RequiemB/squery/internal/storage"
	"github.com/RequiemB/squery/internal/transport"
)

func main() {
	cfg := config.Parse()

	logger.Setup(cfg.Logger)
	log.Info().Msg("Starting squery service...")

	// GeoIP update
	log.Info().Msg("Checking GeoIP database...")
	if err := geoip.EnsureDB(cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
		log.Error().Err(err).Msg("Failed to download GeoIP database")
	}

	geoProvider, err := geoip.Open(cfg.GeoIP.Path)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open GeoIP database, country detection disabled")
		geoProvider = nil
	} else {
		defer func() {
			if err := geoProvider.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing GeoIP provider")
			}
		}()
	}

	// Database
	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Query facade and RCON sessions
	udp := transport.New(cfg.Query.BufferSize)
	querier := query.New(udp, query.Options{
		Attempts:      cfg.Query.Attempts,
		PingTimeout:   cfg.Query.PingTimeout,
		Timeout:       cfg.Query.Timeout,
		RetryInterval: cfg.Query.RetryInterval,
		ReplyWindow:   cfg.RCON.ReplyWindow,
	})

	manager := rcon.New(querier, rcon.Options{
		SessionTTL:    cfg.RCON.SessionTTL,
		MaxLoginTries: cfg.RCON.MaxLoginTries,
		LoginCooldown: cfg.RCON.LoginCooldown,
	})
	manager.OnExpire = func(s rcon.Session) {
		log.Info().
			Uint64("guild", s.Key.GuildID).
			Uint64("user", s.Key.UserID).
			Str("addr", s.Addr.String()).
			Msg("RCON session expired, user logged out")
	}

	mon := monitor.New(store, querier, geoProvider, cfg.Monitor.Interval, cfg.Monitor.Workers)

	// One-shot maintenance flags
	if runMaintenance(cfg, store, mon) {
		return
	}

	mon.Start()

	srv := server.New(store, querier, manager, server.Config{
		AuthToken:   cfg.Server.AuthToken,
		MaxBodySize: cfg.Server.MaxBodySize,
		LimitCount:  cfg.RateLimit.Count,
		LimitWindow: cfg.RateLimit.Window,
		TrustProxy:  cfg.Server.TrustProxy,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	mon.Stop()

	log.Info().Msg("Server exited")
}

// runMaintenance executes one-shot maintenance flags. Returns true if a
// maintenance task ran (indicating the program should exit).
func runMaintenance(cfg *config.Config, store *storage.Repository, mon *monitor.Monitor) bool {
	if cfg.Storage.CheckAll {
		log.Info().Msg("Re-checking all registered servers...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		mon.CheckAll(ctx)

		log.Info().Msg("Check finished")
		return true
	}

	if cfg.Storage.PruneStale > 0 {
		log.Info().Dur("cutoff", cfg.Storage.PruneStale).Msg("Pruning stale guild servers...")

		count, err := store.PruneStale(cfg.Storage.PruneStale)
		if err != nil {
			log.Error().Err(err).Msg("Failed to prune stale servers")
		} else {
			log.Info().Int64("deleted", count).Msg("Prune finished")
		}

		return true
	}

	return false
}
