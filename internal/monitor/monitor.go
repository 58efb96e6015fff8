// Package monitor periodically re-queries every registered server and
// records the observed status, so callers always have a recent snapshot and
// stale registrations can be pruned.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/RequiemB/squery/internal/geoip"
	"github.com/RequiemB/squery/internal/models"
	"github.com/RequiemB/squery/internal/protocol"
	"github.com/RequiemB/squery/internal/query"
	"github.com/RequiemB/squery/internal/storage"
)

// Querier is the slice of the query client the monitor needs.
type Querier interface {
	GetServerData(ctx context.Context, addr protocol.ServerAddress, retry bool) (*query.Snapshot, error)
}

// Monitor drives the periodic re-check loop.
type Monitor struct {
	store    *storage.Repository
	querier  Querier
	geo      *geoip.Provider
	shutdown chan struct{}
	wg       sync.WaitGroup
	interval time.Duration
	workers  int
}

// New creates a monitor. geo may be nil; statuses then carry no country.
func New(store *storage.Repository, q Querier, geo *geoip.Provider, interval time.Duration, workers int) *Monitor {
	if workers <= 0 {
		workers = 10
	}

	return &Monitor{
		store:    store,
		querier:  q,
		geo:      geo,
		interval: interval,
		workers:  workers,
		shutdown: make(chan struct{}),
	}
}

// Start launches the background loop. A zero interval disables it.
func (m *Monitor) Start() {
	if m.interval <= 0 {
		log.Info().Msg("Status monitor disabled")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.shutdown:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), m.interval)
				m.CheckAll(ctx)
				cancel()
			}
		}
	}()
}

// Stop terminates the background loop and waits for in-flight checks.
func (m *Monitor) Stop() {
	close(m.shutdown)
	m.wg.Wait()
}

// CheckAll queries every registered server once through a worker pool and
// records the results.
func (m *Monitor) CheckAll(ctx context.Context) {
	guilds, err := m.store.ListGuildServers()
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch registered servers")
		return
	}
	if len(guilds) == 0 {
		return
	}

	jobs := make(chan models.GuildServer, len(guilds))
	var wg sync.WaitGroup

	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for g := range jobs {
				m.checkOne(ctx, g)
			}
		}()
	}

	for _, g := range guilds {
		jobs <- g
	}
	close(jobs)

	wg.Wait()
}

// checkOne queries one server and upserts its status. Offline is a status,
// not an error; only storage failures are logged as errors.
func (m *Monitor) checkOne(ctx context.Context, g models.GuildServer) {
	logCtx := log.With().
		Uint64("guild", g.GuildID).
		Str("host", g.Host).
		Uint16("port", g.Port).
		Logger()

	addr := protocol.ServerAddress{Host: g.Host, Port: g.Port}
	status := models.Status{CheckedAt: time.Now()}

	snapshot, err := m.querier.GetServerData(ctx, addr, true)
	switch {
	case err == nil:
		status.Online = true
		status.Hostname = snapshot.Info.Hostname
		status.Gamemode = snapshot.Info.Gamemode
		status.Language = snapshot.Info.Language
		status.Players = snapshot.Info.Players
		status.MaxPlayers = snapshot.Info.MaxPlayers
		status.CountryCode = m.geo.CountryCode(g.Host)
	case ctx.Err() != nil:
		logCtx.Debug().Msg("Check cancelled")
		return
	default:
		logCtx.Debug().Err(err).Msg("Server check failed")
	}

	if err := m.store.UpdateStatus(g.GuildID, status); err != nil {
		logCtx.Error().Err(err).Msg("Failed to record server status")
		return
	}

	logCtx.Trace().Bool("online", status.Online).Msg("Server status recorded")
}
