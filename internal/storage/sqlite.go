// Package storage handles database connections, schema migrations, and data
// operations using SQLite. It is the persistence collaborator the protocol
// layers consume: per-guild (address, rcon password) lookups plus the
// monitor's last-observed statuses.
package storage

import (
	"database/sql"
	"time"

	"github.com/RequiemB/squery/internal/models"
	_ "modernc.org/sqlite" // Driver sqlite
)

// Repository manages the SQLite database connection.
type Repository struct {
	db *sql.DB
}

// New initializes a new SQLite connection, sets connection pool parameters, and runs migrations.
func New(dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// SetGuildServer registers or replaces the server for a guild. Status
// columns reset; the monitor repopulates them on its next pass.
func (r *Repository) SetGuildServer(guildID uint64, host string, port uint16, rconPassword string) error {
	now := time.Now()
	_, err := r.db.Exec(`
	INSERT INTO guild_servers (guild_id, host, port, rcon_password, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(guild_id) DO UPDATE SET
		host = excluded.host,
		port = excluded.port,
		rcon_password = excluded.rcon_password,
		updated_at = excluded.updated_at,
		hostname = '', gamemode = '', language = '', country_code = '',
		players = 0, max_players = 0, online = 0,
		last_checked = NULL, last_online = NULL;
	`, int64(guildID), host, int(port), rconPassword, now, now)

	return err
}

const guildColumns = `guild_id, host, port, rcon_password,
	hostname, gamemode, language, country_code, players, max_players, online,
	created_at, updated_at, last_checked, last_online`

func scanGuild(scan func(...any) error) (*models.GuildServer, error) {
	var (
		g           models.GuildServer
		guildID     int64
		port        int
		lastChecked sql.NullTime
		lastOnline  sql.NullTime
	)

	err := scan(
		&guildID, &g.Host, &port, &g.RCONPassword,
		&g.Hostname, &g.Gamemode, &g.Language, &g.CountryCode,
		&g.Players, &g.MaxPlayers, &g.Online,
		&g.CreatedAt, &g.UpdatedAt, &lastChecked, &lastOnline,
	)
	if err != nil {
		return nil, err
	}

	g.GuildID = uint64(guildID)
	g.Port = uint16(port)
	if lastChecked.Valid {
		g.LastChecked = lastChecked.Time
	}
	if lastOnline.Valid {
		g.LastOnline = lastOnline.Time
	}

	return &g, nil
}

// GetGuildServer retrieves the server registered for a guild, or nil when
// none is.
func (r *Repository) GetGuildServer(guildID uint64) (*models.GuildServer, error) {
	row := r.db.QueryRow(`SELECT `+guildColumns+` FROM guild_servers WHERE guild_id = ?`, int64(guildID))

	g, err := scanGuild(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}

	return g, nil
}

// ListGuildServers retrieves every registered server, most recently checked
// first.
func (r *Repository) ListGuildServers() ([]models.GuildServer, error) {
	rows, err := r.db.Query(`SELECT ` + guildColumns + ` FROM guild_servers ORDER BY last_checked DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var guilds []models.GuildServer
	for rows.Next() {
		g, err := scanGuild(rows.Scan)
		if err != nil {
			continue
		}
		guilds = append(guilds, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return guilds, nil
}

// UpdateStatus records one monitor observation for a guild's server. On an
// online status, empty string fields keep their previous values: a degraded
// snapshot must not blank out a previously known hostname.
func (r *Repository) UpdateStatus(guildID uint64, status models.Status) error {
	if !status.Online {
		_, err := r.db.Exec(`
		UPDATE guild_servers SET online = 0, last_checked = ? WHERE guild_id = ?`,
			status.CheckedAt, int64(guildID))
		return err
	}

	_, err := r.db.Exec(`
	UPDATE guild_servers SET
		online = 1,
		last_checked = ?,
		last_online = ?,
		players = ?,
		max_players = ?,
		hostname     = CASE WHEN ? != '' THEN ? ELSE hostname END,
		gamemode     = CASE WHEN ? != '' THEN ? ELSE gamemode END,
		language     = CASE WHEN ? != '' THEN ? ELSE language END,
		country_code = CASE WHEN ? != '' THEN ? ELSE country_code END
	WHERE guild_id = ?`,
		status.CheckedAt, status.CheckedAt,
		status.Players, status.MaxPlayers,
		status.Hostname, status.Hostname,
		status.Gamemode, status.Gamemode,
		status.Language, status.Language,
		status.CountryCode, status.CountryCode,
		int64(guildID))

	return err
}

// DeleteGuildServer removes a guild's registration and reports whether one
// existed.
func (r *Repository) DeleteGuildServer(guildID uint64) (bool, error) {
	res, err := r.db.Exec(`DELETE FROM guild_servers WHERE guild_id = ?`, int64(guildID))
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// PruneStale deletes registrations whose server has been offline longer
// than cutoff (or has never been seen online and was registered before it).
// Returns the number of rows removed.
func (r *Repository) PruneStale(cutoff time.Duration) (int64, error) {
	threshold := time.Now().Add(-cutoff)
	res, err := r.db.Exec(`
	DELETE FROM guild_servers
	WHERE online = 0
	  AND ((last_online IS NOT NULL AND last_online < ?)
	    OR (last_online IS NULL AND created_at < ?))`,
		threshold, threshold)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
