package server

import (
	"context"
	"time"

	"github.com/RequiemB/squery/internal/protocol"
	"github.com/RequiemB/squery/internal/query"
	"github.com/RequiemB/squery/internal/rcon"
	"github.com/RequiemB/squery/internal/storage"
)

// Querier is the facade surface the handlers consume. Satisfied by
// *query.Client; tests substitute their own.
type Querier interface {
	Connect(ctx context.Context, addr protocol.ServerAddress, rconPassword string, retry bool) (*query.Handle, error)
	GetServerInfo(ctx context.Context, addr protocol.ServerAddress, retry bool) (*protocol.ServerInfo, error)
	GetServerData(ctx context.Context, addr protocol.ServerAddress, retry bool) (*query.Snapshot, error)
}

// Server holds the dependencies and configuration required to handle API
// requests.
type Server struct {
	// storage provides the per-guild server registry.
	storage *storage.Repository

	// querier issues SAMP queries on behalf of handlers.
	querier Querier

	// rcon owns authenticated sessions and login throttling.
	rcon *rcon.Manager

	// authToken is the secret required on administrative endpoints.
	authToken string

	// maxBody caps incoming request bodies.
	maxBody int64

	// limitCount and limitWin parameterize the per-IP hard rate limit.
	limitCount int
	limitWin   time.Duration

	// trustProxy enables X-Forwarded-For when resolving client IPs.
	trustProxy bool
}

// Config carries the server's tunables from the flags layer.
type Config struct {
	AuthToken   string
	MaxBodySize int64
	LimitCount  int
	LimitWindow time.Duration
	TrustProxy  bool
}

// New creates a Server instance with the provided collaborators.
func New(store *storage.Repository, q Querier, manager *rcon.Manager, cfg Config) *Server {
	return &Server{
		storage:    store,
		querier:    q,
		rcon:       manager,
		authToken:  cfg.AuthToken,
		maxBody:    cfg.MaxBodySize,
		limitCount: cfg.LimitCount,
		limitWin:   cfg.LimitWindow,
		trustProxy: cfg.TrustProxy,
	}
}
