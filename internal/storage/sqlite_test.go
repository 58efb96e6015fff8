package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/RequiemB/squery/internal/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	repo, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func TestNewUnreachablePath(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing", "nested", "test.db")); err == nil {
		t.Fatal("expected an error for a path inside a missing directory")
	}
}

func TestSetAndGetGuildServer(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.SetGuildServer(1001, "203.0.113.5", 7777, "hunter2"); err != nil {
		t.Fatalf("SetGuildServer: %v", err)
	}

	g, err := repo.GetGuildServer(1001)
	if err != nil {
		t.Fatalf("GetGuildServer: %v", err)
	}
	if g == nil {
		t.Fatal("guild not found after insert")
	}
	if g.Host != "203.0.113.5" || g.Port != 7777 || g.RCONPassword != "hunter2" {
		t.Fatalf("guild = %+v", g)
	}
}

func TestGetGuildServerMissing(t *testing.T) {
	repo := newTestRepo(t)

	g, err := repo.GetGuildServer(9999)
	if err != nil {
		t.Fatalf("GetGuildServer: %v", err)
	}
	if g != nil {
		t.Fatalf("guild = %+v, want nil", g)
	}
}

func TestReplaceResetsStatus(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.SetGuildServer(1001, "203.0.113.5", 7777, ""); err != nil {
		t.Fatalf("SetGuildServer: %v", err)
	}
	status := models.Status{
		Online:    true,
		Hostname:  "Test",
		Players:   12,
		CheckedAt: time.Now(),
	}
	if err := repo.UpdateStatus(1001, status); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	// Pointing the guild at a different server must not keep stale status
	if err := repo.SetGuildServer(1001, "198.51.100.9", 7778, ""); err != nil {
		t.Fatalf("SetGuildServer: %v", err)
	}

	g, err := repo.GetGuildServer(1001)
	if err != nil {
		t.Fatalf("GetGuildServer: %v", err)
	}
	if g.Online || g.Hostname != "" || g.Players != 0 || !g.LastChecked.IsZero() {
		t.Fatalf("status not reset: %+v", g)
	}
}

func TestUpdateStatusKeepsKnownFieldsOnDegradedSnapshot(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.SetGuildServer(1001, "203.0.113.5", 7777, ""); err != nil {
		t.Fatalf("SetGuildServer: %v", err)
	}
	if err := repo.UpdateStatus(1001, models.Status{
		Online: true, Hostname: "Test", Gamemode: "DM", CountryCode: "DE",
		Players: 12, MaxPlayers: 32, CheckedAt: time.Now(),
	}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	// Second observation with unknown strings keeps the previous ones
	if err := repo.UpdateStatus(1001, models.Status{
		Online: true, Players: 8, MaxPlayers: 32, CheckedAt: time.Now(),
	}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	g, _ := repo.GetGuildServer(1001)
	if g.Hostname != "Test" || g.Gamemode != "DM" || g.CountryCode != "DE" {
		t.Fatalf("known fields blanked: %+v", g)
	}
	if g.Players != 8 {
		t.Fatalf("players = %d, want 8", g.Players)
	}
}

func TestUpdateStatusOffline(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.SetGuildServer(1001, "203.0.113.5", 7777, ""); err != nil {
		t.Fatalf("SetGuildServer: %v", err)
	}
	if err := repo.UpdateStatus(1001, models.Status{
		Online: true, Hostname: "Test", CheckedAt: time.Now(),
	}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := repo.UpdateStatus(1001, models.Status{CheckedAt: time.Now()}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	g, _ := repo.GetGuildServer(1001)
	if g.Online {
		t.Fatal("guild still online after offline status")
	}
	if g.Hostname != "Test" {
		t.Fatal("offline status blanked the last known hostname")
	}
	if g.LastOnline.IsZero() {
		t.Fatal("last_online lost after offline status")
	}
}

func TestListGuildServers(t *testing.T) {
	repo := newTestRepo(t)

	for i, guildID := range []uint64{1001, 1002, 1003} {
		if err := repo.SetGuildServer(guildID, "203.0.113.5", uint16(7777+i), ""); err != nil {
			t.Fatalf("SetGuildServer: %v", err)
		}
	}

	guilds, err := repo.ListGuildServers()
	if err != nil {
		t.Fatalf("ListGuildServers: %v", err)
	}
	if len(guilds) != 3 {
		t.Fatalf("guilds = %d, want 3", len(guilds))
	}
}

func TestDeleteGuildServer(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.SetGuildServer(1001, "203.0.113.5", 7777, ""); err != nil {
		t.Fatalf("SetGuildServer: %v", err)
	}

	deleted, err := repo.DeleteGuildServer(1001)
	if err != nil {
		t.Fatalf("DeleteGuildServer: %v", err)
	}
	if !deleted {
		t.Fatal("deleted = false")
	}

	deleted, err = repo.DeleteGuildServer(1001)
	if err != nil {
		t.Fatalf("DeleteGuildServer: %v", err)
	}
	if deleted {
		t.Fatal("second delete reported a row")
	}
}

func TestPruneStale(t *testing.T) {
	repo := newTestRepo(t)

	// Offline long ago: pruned
	if err := repo.SetGuildServer(1001, "203.0.113.5", 7777, ""); err != nil {
		t.Fatalf("SetGuildServer: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := repo.UpdateStatus(1001, models.Status{Online: true, Hostname: "Old", CheckedAt: old}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := repo.UpdateStatus(1001, models.Status{CheckedAt: time.Now()}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	// Currently online: kept
	if err := repo.SetGuildServer(1002, "203.0.113.6", 7777, ""); err != nil {
		t.Fatalf("SetGuildServer: %v", err)
	}
	if err := repo.UpdateStatus(1002, models.Status{Online: true, Hostname: "Live", CheckedAt: time.Now()}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	count, err := repo.PruneStale(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if count != 1 {
		t.Fatalf("pruned = %d, want 1", count)
	}

	if g, _ := repo.GetGuildServer(1001); g != nil {
		t.Fatal("stale guild survived prune")
	}
	if g, _ := repo.GetGuildServer(1002); g == nil {
		t.Fatal("live guild was pruned")
	}
}
