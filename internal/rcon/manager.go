// Package rcon layers authenticated, expiring, per-user sessions on top of
// the stateless RCON request primitive, with local throttling of repeated
// failed logins and a fixed command allow-list.
package rcon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/RequiemB/squery/internal/protocol"
	"github.com/RequiemB/squery/internal/query"
)

// ErrNotLoggedIn indicates no active session for the key; sessions expire
// between user interactions, so this is expected, not exceptional.
var ErrNotLoggedIn = errors.New("not logged into rcon")

// ErrRateLimited indicates the login attempt counter is exhausted. No
// network call was made.
var ErrRateLimited = errors.New("too many failed login attempts")

// ErrCommandNotAllowed indicates the command's first token is not a known
// RCON command. No network call was made.
var ErrCommandNotAllowed = errors.New("not an rcon command")

// Key identifies a session owner: one session per (guild, user) pair.
type Key struct {
	GuildID uint64
	UserID  uint64
}

// Session is an authenticated RCON session. The embedded handle is owned
// exclusively by the session and is unreachable once the session expires,
// is replaced, or is logged out.
type Session struct {
	Addr          protocol.ServerAddress
	EstablishedAt time.Time
	ExpiresAt     time.Time
	Key           Key

	handle *query.Handle
	timer  *time.Timer
}

// Querier is the slice of the query client the manager needs. Satisfied by
// *query.Client.
type Querier interface {
	Connect(ctx context.Context, addr protocol.ServerAddress, rconPassword string, retry bool) (*query.Handle, error)
	SendRCONCommand(ctx context.Context, h *query.Handle, command string) (string, error)
}

// Options holds session lifecycle and throttling configuration.
type Options struct {
	// SessionTTL is how long a session stays valid after login.
	SessionTTL time.Duration

	// MaxLoginTries is the number of consecutive invalid-password results
	// after which logins are rejected locally.
	MaxLoginTries int

	// LoginCooldown is how long the lockout lasts; the counter resets to
	// zero once it elapses.
	LoginCooldown time.Duration
}

// DefaultOptions returns the stock policy: 10 minute sessions, 3 tries,
// 50 minute cooldown.
func DefaultOptions() Options {
	return Options{
		SessionTTL:    10 * time.Minute,
		MaxLoginTries: 3,
		LoginCooldown: 50 * time.Minute,
	}
}

// attemptState tracks failed logins for one key.
type attemptState struct {
	count   int
	resetAt time.Time
}

// Manager owns the session and login-attempt tables. All table access is
// serialized by one mutex; both tables are small and operations under the
// lock never touch the network.
type Manager struct {
	querier  Querier
	sessions map[Key]*Session
	attempts map[Key]*attemptState
	allowed  map[uint64]struct{}

	// OnExpire, when set, is called from the expiry timer after a session
	// has been removed, so the owning user can be notified.
	OnExpire func(Session)

	opts Options
	now  func() time.Time
	mu   sync.Mutex
}

// New creates a session manager issuing RCON traffic through q. Zero fields
// in opts fall back to defaults.
func New(q Querier, opts Options) *Manager {
	def := DefaultOptions()
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = def.SessionTTL
	}
	if opts.MaxLoginTries <= 0 {
		opts.MaxLoginTries = def.MaxLoginTries
	}
	if opts.LoginCooldown <= 0 {
		opts.LoginCooldown = def.LoginCooldown
	}

	allowed := make(map[uint64]struct{}, len(commands))
	for _, cmd := range commands {
		allowed[xxhash.Sum64String(cmd)] = struct{}{}
	}

	return &Manager{
		querier:  q,
		sessions: make(map[Key]*Session),
		attempts: make(map[Key]*attemptState),
		allowed:  allowed,
		opts:     opts,
		now:      time.Now,
	}
}

// IsAllowed reports whether command's first token is a known RCON command.
func (m *Manager) IsAllowed(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}

	_, ok := m.allowed[xxhash.Sum64String(fields[0])]
	return ok
}

// AttemptsLeft returns how many failed logins remain before the key is
// locked out.
func (m *Manager) AttemptsLeft(key Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.attempts[key]
	if !ok || m.lockoutElapsed(state) {
		return m.opts.MaxLoginTries
	}

	left := m.opts.MaxLoginTries - state.count
	if left < 0 {
		return 0
	}
	return left
}

// lockoutElapsed reports whether an exhausted counter's cooldown has passed.
// Callers hold m.mu.
func (m *Manager) lockoutElapsed(state *attemptState) bool {
	return state.count >= m.opts.MaxLoginTries && m.now().After(state.resetAt)
}

// Login authenticates password against addr and installs a session for key,
// replacing any prior one. Acceptance is inferred by sending a harmless echo
// probe: the protocol has no explicit auth ack, only the invalid-password
// reply line. Invalid passwords count toward the lockout; an exhausted
// counter rejects further logins locally until the cooldown elapses.
func (m *Manager) Login(ctx context.Context, key Key, addr protocol.ServerAddress, password string) (*Session, error) {
	m.mu.Lock()
	if state, ok := m.attempts[key]; ok && state.count >= m.opts.MaxLoginTries {
		if !m.now().After(state.resetAt) {
			m.mu.Unlock()
			return nil, ErrRateLimited
		}
		state.count = 0
	}
	m.mu.Unlock()

	handle, err := m.querier.Connect(ctx, addr, password, true)
	if err != nil {
		return nil, err
	}

	if _, err := m.querier.SendRCONCommand(ctx, handle, "echo rcon session opened"); err != nil {
		if errors.Is(err, query.ErrInvalidPassword) {
			m.recordFailure(key)
		}
		return nil, err
	}

	// A login cancelled mid-flight must not commit a session.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := m.now()
	session := &Session{
		Key:           key,
		Addr:          addr,
		EstablishedAt: now,
		ExpiresAt:     now.Add(m.opts.SessionTTL),
		handle:        handle,
	}

	m.mu.Lock()
	if prev, ok := m.sessions[key]; ok {
		prev.timer.Stop()
	}
	session.timer = time.AfterFunc(m.opts.SessionTTL, func() { m.expire(key, session) })
	m.sessions[key] = session
	delete(m.attempts, key)
	m.mu.Unlock()

	log.Info().
		Uint64("guild", key.GuildID).
		Uint64("user", key.UserID).
		Str("addr", addr.String()).
		Msg("RCON session established")

	return session, nil
}

// recordFailure bumps the attempt counter and arms the cooldown when the
// counter reaches the cap.
func (m *Manager) recordFailure(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.attempts[key]
	if !ok {
		state = &attemptState{}
		m.attempts[key] = state
	}

	state.count++
	if state.count >= m.opts.MaxLoginTries {
		state.resetAt = m.now().Add(m.opts.LoginCooldown)
		log.Warn().
			Uint64("guild", key.GuildID).
			Uint64("user", key.UserID).
			Time("until", state.resetAt).
			Msg("RCON login attempts exhausted, key locked out")
	}
}

// expire removes the session installed by a login if it is still the
// current one. A session replaced or logged out in the meantime already
// stopped this timer, but the check closes the race where the timer fired
// first.
func (m *Manager) expire(key Key, session *Session) {
	m.mu.Lock()
	current, ok := m.sessions[key]
	if !ok || current != session {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, key)
	m.mu.Unlock()

	log.Info().
		Uint64("guild", key.GuildID).
		Uint64("user", key.UserID).
		Str("addr", session.Addr.String()).
		Msg("RCON session expired")

	if m.OnExpire != nil {
		m.OnExpire(*session)
	}
}

// IsLoggedIn reports whether key has an active session. Pure lookup, no
// network I/O.
func (m *Manager) IsLoggedIn(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[key]
	return ok
}

// SendCommand validates command against the allow-list and sends it through
// key's session. The session may have expired between the caller's UI
// steps; that surfaces as ErrNotLoggedIn.
func (m *Manager) SendCommand(ctx context.Context, key Key, command string) (string, error) {
	if !m.IsAllowed(command) {
		return "", ErrCommandNotAllowed
	}

	m.mu.Lock()
	session, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return "", ErrNotLoggedIn
	}
	handle := session.handle
	m.mu.Unlock()

	return m.querier.SendRCONCommand(ctx, handle, command)
}

// Logout removes key's session, if any, and reports whether one existed.
func (m *Manager) Logout(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[key]
	if !ok {
		return false
	}

	session.timer.Stop()
	delete(m.sessions, key)
	return true
}
