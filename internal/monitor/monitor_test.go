package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/RequiemB/squery/internal/protocol"
	"github.com/RequiemB/squery/internal/query"
	"github.com/RequiemB/squery/internal/storage"
)

// fakeQuerier answers per-host: hosts absent from snapshots are offline.
type fakeQuerier struct {
	snapshots map[string]*query.Snapshot
}

func (f *fakeQuerier) GetServerData(_ context.Context, addr protocol.ServerAddress, _ bool) (*query.Snapshot, error) {
	if s, ok := f.snapshots[addr.Host]; ok {
		return s, nil
	}
	return nil, &query.ServerOfflineError{Host: addr.Host, Port: addr.Port}
}

func TestCheckAllRecordsStatuses(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.SetGuildServer(1001, "203.0.113.5", 7777, ""); err != nil {
		t.Fatalf("SetGuildServer: %v", err)
	}
	if err := store.SetGuildServer(1002, "198.51.100.9", 7777, ""); err != nil {
		t.Fatalf("SetGuildServer: %v", err)
	}

	fq := &fakeQuerier{snapshots: map[string]*query.Snapshot{
		"203.0.113.5": {
			Address: protocol.ServerAddress{Host: "203.0.113.5", Port: 7777},
			Info:    &protocol.ServerInfo{Hostname: "Test", Gamemode: "DM", Players: 12, MaxPlayers: 32},
		},
	}}

	mon := New(store, fq, nil, time.Minute, 4)
	mon.CheckAll(context.Background())

	up, err := store.GetGuildServer(1001)
	if err != nil {
		t.Fatalf("GetGuildServer: %v", err)
	}
	if !up.Online || up.Hostname != "Test" || up.Players != 12 {
		t.Fatalf("online guild status = %+v", up)
	}

	down, err := store.GetGuildServer(1002)
	if err != nil {
		t.Fatalf("GetGuildServer: %v", err)
	}
	if down.Online {
		t.Fatalf("offline guild status = %+v", down)
	}
	if down.LastChecked.IsZero() {
		t.Fatal("offline check was not recorded")
	}
}
