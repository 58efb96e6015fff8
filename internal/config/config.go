// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/RequiemB/squery/internal/logger"
	"github.com/RequiemB/squery/internal/vars"
)

// Config represents the complete application flags configuration.
type Config struct {
	Server    Server        `group:"Server Options" env-namespace:"SQUERY"`
	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"SQUERY_DB"`
	Query     Query         `group:"Query Options" namespace:"query" env-namespace:"SQUERY_QUERY"`
	RCON      RCON          `group:"RCON Options" namespace:"rcon" env-namespace:"SQUERY_RCON"`
	Monitor   Monitor       `group:"Monitor Options" namespace:"monitor" env-namespace:"SQUERY_MONITOR"`
	GeoIP     GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"SQUERY_GEOIP"`
	RateLimit RateLimit     `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"SQUERY_RATE_LIMIT"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"SQUERY_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Server holds HTTP API configuration.
type Server struct {
	Address     string `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Server listen address" default:":8080"`
	AuthToken   string `short:"t" long:"auth-token" env:"AUTH_TOKEN" description:"Admin authentication token"`
	MaxBodySize int64  `long:"max-body-size" env:"MAX_BODY_SIZE" description:"Max body size for incoming requests" default:"4096"`
	TrustProxy  bool   `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust X-Forwarded-For headers"`
}

// Storage holds database configuration and one-shot maintenance flags.
type Storage struct {
	Path       string        `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"squery.db"`
	PruneStale time.Duration `long:"prune-stale" env:"PRUNE_STALE" description:"Delete guild servers offline longer than this and exit. 0 disables." default:"0"`
	CheckAll   bool          `long:"check-all" description:"Re-check every registered server once, update statuses, then exit"`
}

// Query holds SAMP query protocol timing configuration (see the defaults in
// the protocol notes: 3 ping attempts, 3s per ping, 5s per data request).
type Query struct {
	Attempts      int           `long:"attempts" env:"ATTEMPTS" description:"Ping attempts before a server is declared offline" default:"3"`
	PingTimeout   time.Duration `long:"ping-timeout" env:"PING_TIMEOUT" description:"Per-attempt ping deadline" default:"3s"`
	Timeout       time.Duration `long:"timeout" env:"TIMEOUT" description:"Per-request deadline for info/rules/players" default:"5s"`
	RetryInterval time.Duration `long:"retry-interval" env:"RETRY_INTERVAL" description:"Sleep between failed ping attempts" default:"1s"`
	BufferSize    uint16        `long:"buffer-size" env:"BUFFER_SIZE" description:"Response datagram buffer size" default:"1400"`
}

// RCON holds RCON session configuration.
type RCON struct {
	SessionTTL    time.Duration `long:"session-ttl" env:"SESSION_TTL" description:"RCON session lifetime" default:"10m"`
	MaxLoginTries int           `long:"max-login-tries" env:"MAX_LOGIN_TRIES" description:"Failed logins before lockout" default:"3"`
	LoginCooldown time.Duration `long:"login-cooldown" env:"LOGIN_COOLDOWN" description:"Lockout duration after too many failed logins" default:"50m"`
	ReplyWindow   time.Duration `long:"reply-window" env:"REPLY_WINDOW" description:"Idle gap that ends a multi-line RCON reply" default:"500ms"`
}

// Monitor holds background status monitor configuration.
type Monitor struct {
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Re-check interval for registered servers. 0 disables." default:"2m"`
	Workers  int           `long:"workers" env:"WORKERS" description:"Concurrent query workers" default:"10"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file" default:"squery.mmdb"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
}

// RateLimit holds API rate limiting configuration.
type RateLimit struct {
	Count  int           `long:"count" env:"COUNT" description:"Per-IP limit: requests count" default:"8"`
	Window time.Duration `long:"window" env:"WINDOW" description:"Per-IP limit: window duration" default:"1m"`
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	if cfg.Server.AuthToken == "" {
		fmt.Fprintln(os.Stderr,
			"Required flag `-t, --auth-token' or environment variable `SQUERY_AUTH_TOKEN` was not specified!")
		os.Exit(1)
	}

	return &cfg
}
