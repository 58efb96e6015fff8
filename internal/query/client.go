// Package query implements reliable one-shot queries against SA-MP/open.mp
// servers: ping with bounded retries, info/rules/players snapshots with
// graceful degradation, and the stateless RCON request primitive. All
// expected network conditions surface as typed errors, never as raw socket
// failures.
package query

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/RequiemB/squery/internal/protocol"
	"github.com/RequiemB/squery/internal/transport"
)

// invalidPasswordReply is the single line a server sends back when the RCON
// password is wrong. Password acceptance has no explicit ack; it is inferred
// from receiving anything other than this line.
const invalidPasswordReply = "Invalid RCON password."

// Transport performs one-shot datagram exchanges. Satisfied by
// *transport.UDP; tests substitute their own.
type Transport interface {
	RoundTrip(ctx context.Context, addr string, payload []byte, timeout time.Duration) ([]byte, error)
	Collect(ctx context.Context, addr string, payload []byte, firstTimeout, idle time.Duration) ([][]byte, error)
}

// Options holds the retry and deadline policy. The defaults balance
// responsiveness against callers' own reply deadlines: three short ping
// attempts a second apart, then give up.
type Options struct {
	// Attempts is the total ping attempts before a server is declared
	// offline when retrying is enabled.
	Attempts int

	// PingTimeout bounds each individual ping attempt.
	PingTimeout time.Duration

	// Timeout bounds each info/rules/players/rcon request.
	Timeout time.Duration

	// RetryInterval is slept between failed ping attempts.
	RetryInterval time.Duration

	// ReplyWindow is the idle gap that ends a multi-datagram RCON reply.
	ReplyWindow time.Duration
}

// DefaultOptions returns the stock policy: 3 attempts, 3s ping deadline,
// 5s request deadline, 1s between retries.
func DefaultOptions() Options {
	return Options{
		Attempts:      3,
		PingTimeout:   3 * time.Second,
		Timeout:       5 * time.Second,
		RetryInterval: 1 * time.Second,
		ReplyWindow:   500 * time.Millisecond,
	}
}

// Client issues queries through a Transport. It holds no per-server state;
// concurrent use is safe.
type Client struct {
	transport Transport
	opts      Options
}

// New creates a query client. Zero fields in opts fall back to defaults.
func New(t Transport, opts Options) *Client {
	def := DefaultOptions()
	if opts.Attempts <= 0 {
		opts.Attempts = def.Attempts
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = def.PingTimeout
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = def.RetryInterval
	}
	if opts.ReplyWindow <= 0 {
		opts.ReplyWindow = def.ReplyWindow
	}

	return &Client{transport: t, opts: opts}
}

// Handle is a validated query target: the address that answered a ping plus
// the optional RCON password bound at connect time. It is a plain value, not
// a socket; the protocol is connectionless.
type Handle struct {
	// Addr is the target as given by the caller.
	Addr protocol.ServerAddress

	// Latency is the round-trip time of the ping that validated the handle.
	Latency time.Duration

	ip           [4]byte
	rconPassword string
}

// Snapshot aggregates one full data fetch. Info and Rules are always
// populated; Players is nil when the player list timed out or failed to
// decode, which means "unknown", not "empty".
type Snapshot struct {
	Address protocol.ServerAddress `json:"address"`
	Info    *protocol.ServerInfo   `json:"info"`
	Rules   []protocol.Rule        `json:"rules"`
	Players []protocol.Player      `json:"players,omitempty"`
}

// resolve maps the address host to the IPv4 octets embedded in every packet
// header.
func resolve(addr protocol.ServerAddress) ([4]byte, error) {
	ips, err := net.LookupIP(addr.Host)
	if err != nil {
		return [4]byte{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, addr.Host, err)
	}

	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return [4]byte(v4), nil
		}
	}

	return [4]byte{}, fmt.Errorf("%w: %q", ErrInvalidAddress, addr.Host)
}

// Connect validates that addr answers pings and returns a Handle bound to it
// and to rconPassword (empty for query-only use). With retry enabled the
// ping is attempted Options.Attempts times with a short sleep in between;
// with retry disabled a single silent attempt already means offline.
func (c *Client) Connect(ctx context.Context, addr protocol.ServerAddress, rconPassword string, retry bool) (*Handle, error) {
	ip, err := resolve(addr)
	if err != nil {
		return nil, err
	}

	attempts := c.opts.Attempts
	if !retry {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		latency, err := c.ping(ctx, addr.String(), ip, addr.Port)
		if err == nil {
			return &Handle{
				Addr:         addr,
				Latency:      latency,
				ip:           ip,
				rconPassword: rconPassword,
			}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		log.Debug().
			Str("addr", addr.String()).
			Int("attempt", attempt).
			Err(err).
			Msg("Ping attempt failed")

		if attempt < attempts {
			if err := sleep(ctx, c.opts.RetryInterval); err != nil {
				return nil, err
			}
		}
	}

	return nil, &ServerOfflineError{Host: addr.Host, Port: addr.Port}
}

// ping performs one request/response round trip and reports its duration.
// A garbled reply counts as a failed attempt, same as silence.
func (c *Client) ping(ctx context.Context, addr string, ip [4]byte, port uint16) (time.Duration, error) {
	var nonce [4]byte
	r := rand.Uint32()
	nonce[0], nonce[1], nonce[2], nonce[3] = byte(r), byte(r>>8), byte(r>>16), byte(r>>24)

	start := time.Now()
	resp, err := c.transport.RoundTrip(ctx, addr, protocol.PingRequest(ip, port, nonce), c.opts.PingTimeout)
	if err != nil {
		return 0, err
	}
	if err := protocol.DecodePing(resp, nonce); err != nil {
		return 0, err
	}

	return time.Since(start), nil
}

// GetServerInfo connects and fetches one info snapshot. A server that
// answers ping but not info is unusably degraded and reported offline.
func (c *Client) GetServerInfo(ctx context.Context, addr protocol.ServerAddress, retry bool) (*protocol.ServerInfo, error) {
	h, err := c.Connect(ctx, addr, "", retry)
	if err != nil {
		return nil, err
	}

	return c.info(ctx, h)
}

// GetServerData connects and fetches the full snapshot. Info and rules
// failures fail the whole call; a truncated, corrupt or missing player list
// degrades to Players == nil.
func (c *Client) GetServerData(ctx context.Context, addr protocol.ServerAddress, retry bool) (*Snapshot, error) {
	h, err := c.Connect(ctx, addr, "", retry)
	if err != nil {
		return nil, err
	}

	// One outstanding request at a time: the wire protocol leaves
	// concurrent interleaving per server undefined.
	info, err := c.info(ctx, h)
	if err != nil {
		return nil, err
	}

	rules, err := c.rules(ctx, h)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{Address: addr, Info: info, Rules: rules}

	players, err := c.players(ctx, h)
	switch {
	case err == nil:
		snapshot.Players = players
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		log.Debug().Str("addr", addr.String()).Err(err).Msg("Player list unavailable, degrading")
	}

	return snapshot, nil
}

func (c *Client) info(ctx context.Context, h *Handle) (*protocol.ServerInfo, error) {
	resp, err := c.transport.RoundTrip(ctx, h.Addr.String(), protocol.InfoRequest(h.ip, h.Addr.Port), c.opts.Timeout)
	if err != nil {
		return nil, c.requestErr(ctx, h, err)
	}

	return protocol.DecodeInfo(resp)
}

func (c *Client) rules(ctx context.Context, h *Handle) ([]protocol.Rule, error) {
	resp, err := c.transport.RoundTrip(ctx, h.Addr.String(), protocol.RulesRequest(h.ip, h.Addr.Port), c.opts.Timeout)
	if err != nil {
		return nil, c.requestErr(ctx, h, err)
	}

	return protocol.DecodeRules(resp)
}

func (c *Client) players(ctx context.Context, h *Handle) ([]protocol.Player, error) {
	resp, err := c.transport.RoundTrip(ctx, h.Addr.String(), protocol.PlayersRequest(h.ip, h.Addr.Port), c.opts.Timeout)
	if err != nil {
		return nil, c.requestErr(ctx, h, err)
	}

	return protocol.DecodePlayers(resp)
}

// requestErr translates a post-connect transport failure. Silence after a
// successful ping still means the server is not usable, so it maps to
// offline rather than leaking a socket error.
func (c *Client) requestErr(ctx context.Context, h *Handle, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	log.Debug().Str("addr", h.Addr.String()).Err(err).Msg("Request failed after successful ping")
	return &ServerOfflineError{Host: h.Addr.Host, Port: h.Addr.Port}
}

// SendRCONCommand sends one authenticated RCON command through the handle
// and returns the server's console output, joined across datagrams. Silence
// within the deadline is ErrRCONDisabled; the server's rejection line is
// ErrInvalidPassword.
func (c *Client) SendRCONCommand(ctx context.Context, h *Handle, command string) (string, error) {
	if h.rconPassword == "" {
		return "", errors.New("handle carries no rcon password")
	}

	payload := protocol.RCONRequest(h.ip, h.Addr.Port, h.rconPassword, command)
	datagrams, err := c.transport.Collect(ctx, h.Addr.String(), payload, c.opts.Timeout, c.opts.ReplyWindow)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, transport.ErrRefused) {
			return "", &ServerOfflineError{Host: h.Addr.Host, Port: h.Addr.Port}
		}
		return "", ErrRCONDisabled
	}

	lines := make([]string, 0, len(datagrams))
	for _, d := range datagrams {
		line, err := protocol.DecodeRCON(d)
		if err != nil {
			log.Debug().Str("addr", h.Addr.String()).Err(err).Msg("Dropping undecodable rcon datagram")
			continue
		}
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		return "", ErrRCONDisabled
	}
	if lines[0] == invalidPasswordReply {
		return "", ErrInvalidPassword
	}

	return strings.Join(lines, "\n"), nil
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
