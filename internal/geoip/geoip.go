// Package geoip resolves game-server addresses to ISO country codes using a
// MaxMind GeoLite2 database, downloading and refreshing the database file
// as needed. A nil Provider is valid and reports no country.
package geoip

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"
)

// Provider wraps the GeoIP2 database reader.
type Provider struct {
	db *geoip2.Reader
}

// Open initializes the GeoIP database reader from a specific file path.
func Open(path string) (*Provider, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}

	return &Provider{db: db}, nil
}

// Close closes the underlying GeoIP database reader.
func (p *Provider) Close() error {
	if p == nil {
		return nil
	}
	return p.db.Close()
}

// CountryCode looks up the ISO country code (e.g. "US", "DE") for a host,
// resolving it first when it is not a literal IP. Returns "" when the
// provider is nil, the host does not resolve, or the country is unknown.
func (p *Provider) CountryCode(host string) string {
	if p == nil {
		return ""
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return ""
		}
		ip = ips[0]
	}

	record, err := p.db.Country(ip)
	if err != nil {
		return ""
	}

	return record.Country.IsoCode
}

// EnsureDB downloads a fresh copy of the database to path when the file is
// missing or older than maxAge.
func EnsureDB(path, url string, maxAge time.Duration) error {
	info, err := os.Stat(path)
	if err == nil && time.Since(info.ModTime()) < maxAge {
		log.Info().Str("path", path).Msg("GeoIP database is up to date")
		return nil
	}

	log.Info().Str("url", url).Msg("Downloading GeoIP database...")

	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s downloading geoip database", resp.Status)
	}

	// Write to a temp file first so a failed download never clobbers a
	// working database.
	tmp, err := os.CreateTemp(filepath.Dir(path), "geoip-*.mmdb")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
