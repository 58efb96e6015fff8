package query

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RequiemB/squery/internal/protocol"
	"github.com/RequiemB/squery/internal/transport"
)

var testAddr = protocol.ServerAddress{Host: "203.0.113.5", Port: 7777}

// fakeTransport scripts responses per opcode without touching the network.
// A missing handler behaves like a dropped packet.
type fakeTransport struct {
	mu       sync.Mutex
	calls    map[protocol.Opcode]int
	handlers map[protocol.Opcode]func(req []byte) ([][]byte, error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		calls:    make(map[protocol.Opcode]int),
		handlers: make(map[protocol.Opcode]func(req []byte) ([][]byte, error)),
	}
}

func (f *fakeTransport) handle(op protocol.Opcode, fn func(req []byte) ([][]byte, error)) {
	f.handlers[op] = fn
}

func (f *fakeTransport) dispatch(req []byte) ([][]byte, error) {
	op := protocol.Opcode(req[protocol.HeaderSize-1])

	f.mu.Lock()
	f.calls[op]++
	fn := f.handlers[op]
	f.mu.Unlock()

	if fn == nil {
		return nil, transport.ErrTimeout
	}
	return fn(req)
}

func (f *fakeTransport) RoundTrip(_ context.Context, _ string, req []byte, _ time.Duration) ([]byte, error) {
	replies, err := f.dispatch(req)
	if err != nil {
		return nil, err
	}
	return replies[0], nil
}

func (f *fakeTransport) Collect(_ context.Context, _ string, req []byte, _, _ time.Duration) ([][]byte, error) {
	return f.dispatch(req)
}

func (f *fakeTransport) count(op protocol.Opcode) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// echoPing answers a ping by mirroring the request (header plus nonce).
func echoPing(req []byte) ([][]byte, error) {
	return [][]byte{append([]byte(nil), req[:protocol.HeaderSize+4]...)}, nil
}

// mirror builds a response reusing the request header and appending payload.
func mirror(req, payload []byte) [][]byte {
	resp := append([]byte(nil), req[:protocol.HeaderSize]...)
	return [][]byte{append(resp, payload...)}
}

func infoPayload(hostname, gamemode, language string, players, maxPlayers uint16) []byte {
	p := []byte{0}
	p = binary.LittleEndian.AppendUint16(p, players)
	p = binary.LittleEndian.AppendUint16(p, maxPlayers)
	for _, s := range []string{hostname, gamemode, language} {
		p = binary.LittleEndian.AppendUint32(p, uint32(len(s)))
		p = append(p, s...)
	}
	return p
}

func rulesPayload(pairs [][2]string) []byte {
	p := binary.LittleEndian.AppendUint16(nil, uint16(len(pairs)))
	for _, pair := range pairs {
		p = append(p, byte(len(pair[0])))
		p = append(p, pair[0]...)
		p = append(p, byte(len(pair[1])))
		p = append(p, pair[1]...)
	}
	return p
}

func playersPayload(players []protocol.Player) []byte {
	p := binary.LittleEndian.AppendUint16(nil, uint16(len(players)))
	for _, pl := range players {
		p = append(p, byte(len(pl.Name)))
		p = append(p, pl.Name...)
		p = binary.LittleEndian.AppendUint32(p, uint32(pl.Score))
	}
	return p
}

func rconLine(req []byte, line string) []byte {
	resp := append([]byte(nil), req[:protocol.HeaderSize]...)
	p := binary.LittleEndian.AppendUint16(nil, uint16(len(line)))
	p = append(p, line...)
	return append(resp, p...)
}

func fastOptions() Options {
	return Options{
		Attempts:      3,
		PingTimeout:   10 * time.Millisecond,
		Timeout:       10 * time.Millisecond,
		RetryInterval: time.Millisecond,
		ReplyWindow:   time.Millisecond,
	}
}

func TestConnectRetryBound(t *testing.T) {
	ft := newFakeTransport() // no ping handler: every attempt times out
	c := New(ft, fastOptions())

	_, err := c.Connect(context.Background(), testAddr, "", true)

	var offline *ServerOfflineError
	if !errors.As(err, &offline) {
		t.Fatalf("error = %v, want ServerOfflineError", err)
	}
	if offline.Host != testAddr.Host || offline.Port != testAddr.Port {
		t.Fatalf("offline address = %s:%d", offline.Host, offline.Port)
	}
	if got := ft.count(protocol.OpcodePing); got != 3 {
		t.Fatalf("ping attempts = %d, want 3", got)
	}
}

func TestConnectNoRetrySingleAttempt(t *testing.T) {
	ft := newFakeTransport()
	c := New(ft, fastOptions())

	if _, err := c.Connect(context.Background(), testAddr, "", false); !IsOffline(err) {
		t.Fatalf("error = %v, want offline", err)
	}
	if got := ft.count(protocol.OpcodePing); got != 1 {
		t.Fatalf("ping attempts = %d, want 1", got)
	}
}

func TestConnectFirstAttemptSucceeds(t *testing.T) {
	ft := newFakeTransport()
	ft.handle(protocol.OpcodePing, echoPing)
	c := New(ft, fastOptions())

	h, err := c.Connect(context.Background(), testAddr, "", true)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if h.Addr != testAddr {
		t.Fatalf("handle address = %v", h.Addr)
	}
	if got := ft.count(protocol.OpcodePing); got != 1 {
		t.Fatalf("ping attempts = %d, want 1 (no retries consumed)", got)
	}
}

func TestConnectCancelledDuringRetrySleep(t *testing.T) {
	ft := newFakeTransport()
	opts := fastOptions()
	opts.RetryInterval = time.Minute
	c := New(ft, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.Connect(ctx, testAddr, "", true)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancellation did not interrupt the retry sleep")
	}
}

func TestGetServerInfoIdempotent(t *testing.T) {
	ft := newFakeTransport()
	ft.handle(protocol.OpcodePing, echoPing)
	ft.handle(protocol.OpcodeInfo, func(req []byte) ([][]byte, error) {
		return mirror(req, infoPayload("Test", "DM", "EN", 12, 32)), nil
	})
	c := New(ft, fastOptions())

	want := protocol.ServerInfo{Hostname: "Test", Gamemode: "DM", Language: "EN", Players: 12, MaxPlayers: 32}
	for i := 0; i < 2; i++ {
		info, err := c.GetServerInfo(context.Background(), testAddr, true)
		if err != nil {
			t.Fatalf("GetServerInfo: %v", err)
		}
		if *info != want {
			t.Fatalf("info = %+v, want %+v", *info, want)
		}
	}
}

func TestGetServerInfoSilenceAfterPingIsOffline(t *testing.T) {
	ft := newFakeTransport()
	ft.handle(protocol.OpcodePing, echoPing) // info handler missing: times out
	c := New(ft, fastOptions())

	if _, err := c.GetServerInfo(context.Background(), testAddr, true); !IsOffline(err) {
		t.Fatalf("error = %v, want offline", err)
	}
}

func TestGetServerDataDegradesPlayers(t *testing.T) {
	ft := newFakeTransport()
	ft.handle(protocol.OpcodePing, echoPing)
	ft.handle(protocol.OpcodeInfo, func(req []byte) ([][]byte, error) {
		return mirror(req, infoPayload("Test", "DM", "EN", 12, 32)), nil
	})
	ft.handle(protocol.OpcodeRules, func(req []byte) ([][]byte, error) {
		return mirror(req, rulesPayload([][2]string{{"weather", "10"}})), nil
	})
	ft.handle(protocol.OpcodePlayers, func(req []byte) ([][]byte, error) {
		corrupt := playersPayload([]protocol.Player{{Name: "Alice", Score: 10}})
		return mirror(req, corrupt[:len(corrupt)-3]), nil
	})
	c := New(ft, fastOptions())

	snapshot, err := c.GetServerData(context.Background(), testAddr, true)
	if err != nil {
		t.Fatalf("GetServerData: %v", err)
	}
	if snapshot.Info == nil || snapshot.Info.Hostname != "Test" {
		t.Fatalf("info = %+v", snapshot.Info)
	}
	if len(snapshot.Rules) != 1 {
		t.Fatalf("rules = %+v", snapshot.Rules)
	}
	if snapshot.Players != nil {
		t.Fatalf("players = %+v, want nil (unknown)", snapshot.Players)
	}
}

func TestGetServerDataFullSnapshot(t *testing.T) {
	ft := newFakeTransport()
	ft.handle(protocol.OpcodePing, echoPing)
	ft.handle(protocol.OpcodeInfo, func(req []byte) ([][]byte, error) {
		return mirror(req, infoPayload("Test", "DM", "EN", 2, 32)), nil
	})
	ft.handle(protocol.OpcodeRules, func(req []byte) ([][]byte, error) {
		return mirror(req, rulesPayload([][2]string{{"weather", "10"}})), nil
	})
	ft.handle(protocol.OpcodePlayers, func(req []byte) ([][]byte, error) {
		return mirror(req, playersPayload([]protocol.Player{{Name: "Alice", Score: 10}, {Name: "Bob", Score: 3}})), nil
	})
	c := New(ft, fastOptions())

	snapshot, err := c.GetServerData(context.Background(), testAddr, true)
	if err != nil {
		t.Fatalf("GetServerData: %v", err)
	}
	if len(snapshot.Players) != 2 || snapshot.Players[0].Name != "Alice" {
		t.Fatalf("players = %+v", snapshot.Players)
	}
}

func TestSendRCONCommand(t *testing.T) {
	ft := newFakeTransport()
	ft.handle(protocol.OpcodePing, echoPing)
	ft.handle(protocol.OpcodeRCON, func(req []byte) ([][]byte, error) {
		return [][]byte{rconLine(req, "Console Admins: 1"), rconLine(req, "Alice")}, nil
	})
	c := New(ft, fastOptions())

	h, err := c.Connect(context.Background(), testAddr, "hunter2", true)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	out, err := c.SendRCONCommand(context.Background(), h, "players")
	if err != nil {
		t.Fatalf("SendRCONCommand: %v", err)
	}
	if out != "Console Admins: 1\nAlice" {
		t.Fatalf("output = %q", out)
	}
}

func TestSendRCONCommandInvalidPassword(t *testing.T) {
	ft := newFakeTransport()
	ft.handle(protocol.OpcodePing, echoPing)
	ft.handle(protocol.OpcodeRCON, func(req []byte) ([][]byte, error) {
		return [][]byte{rconLine(req, "Invalid RCON password.")}, nil
	})
	c := New(ft, fastOptions())

	h, _ := c.Connect(context.Background(), testAddr, "wrong", true)
	if _, err := c.SendRCONCommand(context.Background(), h, "echo hi"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("error = %v, want ErrInvalidPassword", err)
	}
}

func TestSendRCONCommandSilenceIsDisabled(t *testing.T) {
	ft := newFakeTransport()
	ft.handle(protocol.OpcodePing, echoPing) // rcon handler missing: times out
	c := New(ft, fastOptions())

	h, _ := c.Connect(context.Background(), testAddr, "hunter2", true)
	if _, err := c.SendRCONCommand(context.Background(), h, "players"); !errors.Is(err, ErrRCONDisabled) {
		t.Fatalf("error = %v, want ErrRCONDisabled", err)
	}
}

func TestSendRCONCommandRefusedMeansOffline(t *testing.T) {
	ft := newFakeTransport()
	ft.handle(protocol.OpcodePing, echoPing)
	ft.handle(protocol.OpcodeRCON, func([]byte) ([][]byte, error) {
		return nil, transport.ErrRefused
	})
	c := New(ft, fastOptions())

	h, _ := c.Connect(context.Background(), testAddr, "hunter2", true)
	_, err := c.SendRCONCommand(context.Background(), h, "players")

	var offline *ServerOfflineError
	if !errors.As(err, &offline) {
		t.Fatalf("error = %v, want ServerOfflineError", err)
	}
	if errors.Is(err, ErrRCONDisabled) {
		t.Fatal("refused port must not be reported as rcon disabled")
	}
	if offline.Host != testAddr.Host || offline.Port != testAddr.Port {
		t.Fatalf("offline address = %s:%d", offline.Host, offline.Port)
	}
}

func TestSendRCONCommandRequiresPassword(t *testing.T) {
	ft := newFakeTransport()
	ft.handle(protocol.OpcodePing, echoPing)
	c := New(ft, fastOptions())

	h, _ := c.Connect(context.Background(), testAddr, "", true)
	if _, err := c.SendRCONCommand(context.Background(), h, "players"); err == nil {
		t.Fatal("expected an error for a handle without a password")
	}
	if got := ft.count(protocol.OpcodeRCON); got != 0 {
		t.Fatalf("rcon requests = %d, want 0", got)
	}
}
