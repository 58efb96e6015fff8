package protocol

import (
	"bytes"
	"encoding/binary"
)

// reader walks a response payload with bounds checking. Every accessor
// returns the zero value once the payload runs short; callers check ok()
// at the end instead of after every field.
type reader struct {
	buf   []byte
	off   int
	short bool
}

func (r *reader) need(n int) bool {
	if r.short || r.off+n > len(r.buf) {
		r.short = true
		return false
	}
	return true
}

func (r *reader) byte() byte {
	if !r.need(1) {
		return 0
	}
	b := r.buf[r.off]
	r.off++
	return b
}

func (r *reader) uint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) int32() int32 {
	return int32(r.uint32())
}

func (r *reader) string(n int) string {
	if !r.need(n) {
		return ""
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s
}

func (r *reader) ok() bool { return !r.short }

// payload validates the 11-byte response header against the expected opcode
// and returns everything after it. The echoed IP and port are not checked:
// NATed servers echo whatever address they were queried by and a mismatch
// there carries no signal.
func payload(data []byte, want ...Opcode) ([]byte, error) {
	if len(data) < HeaderSize {
		return nil, malformed("response shorter than header (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:4], []byte(Magic)) {
		return nil, malformed("bad magic %q", data[:4])
	}

	got := Opcode(data[HeaderSize-1])
	for _, op := range want {
		if got == op {
			return data[HeaderSize:], nil
		}
	}

	return nil, malformed("unexpected opcode %q", byte(got))
}

// DecodePing validates a 'p' response against the nonce sent in the request.
func DecodePing(data []byte, nonce [4]byte) error {
	p, err := payload(data, OpcodePing)
	if err != nil {
		return err
	}
	if len(p) < 4 || !bytes.Equal(p[:4], nonce[:]) {
		return malformed("ping nonce mismatch")
	}

	return nil
}

// DecodeInfo decodes an 'i' response. Hostname, gamemode and language are
// uint32-length-prefixed strings.
func DecodeInfo(data []byte) (*ServerInfo, error) {
	p, err := payload(data, OpcodeInfo)
	if err != nil {
		return nil, err
	}

	r := &reader{buf: p}
	info := &ServerInfo{}
	info.Password = r.byte() != 0
	info.Players = r.uint16()
	info.MaxPlayers = r.uint16()
	info.Hostname = r.string(int(r.uint32()))
	info.Gamemode = r.string(int(r.uint32()))
	info.Language = r.string(int(r.uint32()))

	if !r.ok() {
		return nil, malformed("truncated info payload")
	}

	return info, nil
}

// DecodeRules decodes an 'r' response: uint16 count, then byte-length-prefixed
// name/value pairs in wire order.
func DecodeRules(data []byte) ([]Rule, error) {
	p, err := payload(data, OpcodeRules)
	if err != nil {
		return nil, err
	}

	r := &reader{buf: p}
	count := int(r.uint16())
	rules := make([]Rule, 0, count)
	for i := 0; i < count; i++ {
		rule := Rule{
			Name:  r.string(int(r.byte())),
			Value: r.string(int(r.byte())),
		}
		if !r.ok() {
			return nil, malformed("truncated rule %d of %d", i+1, count)
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

// DecodePlayers decodes a player list response. Servers answer 'c' with the
// legacy shape (name, score), but some versions reply with the detailed 'd'
// shape (id, name, score, ping) regardless of what was asked. Both are
// tried; only if neither shape fits is the packet malformed.
func DecodePlayers(data []byte) ([]Player, error) {
	p, err := payload(data, OpcodePlayers, OpcodeDetailedPlayers)
	if err != nil {
		return nil, err
	}

	if players, ok := decodeBasicPlayers(p); ok {
		return players, nil
	}
	if players, ok := decodeDetailedPlayers(p); ok {
		return players, nil
	}

	return nil, malformed("player list fits neither legacy nor detailed shape")
}

// decodeBasicPlayers parses the legacy 'c' payload: uint16 count, then
// byte-length-prefixed name and int32 score per player. The payload must be
// consumed exactly, otherwise the shape guess is wrong.
func decodeBasicPlayers(p []byte) ([]Player, bool) {
	r := &reader{buf: p}
	count := int(r.uint16())
	players := make([]Player, 0, count)
	for i := 0; i < count; i++ {
		pl := Player{Name: r.string(int(r.byte()))}
		pl.Score = r.int32()
		if !r.ok() {
			return nil, false
		}
		players = append(players, pl)
	}

	if r.off != len(p) {
		return nil, false
	}

	return players, true
}

// decodeDetailedPlayers parses the 'd' payload: uint16 count, then per player
// a byte id, byte-length-prefixed name, int32 score and uint32 ping.
func decodeDetailedPlayers(p []byte) ([]Player, bool) {
	r := &reader{buf: p}
	count := int(r.uint16())
	players := make([]Player, 0, count)
	for i := 0; i < count; i++ {
		r.byte() // player id, not exposed
		pl := Player{Name: r.string(int(r.byte()))}
		pl.Score = r.int32()
		r.uint32() // ping, not exposed
		if !r.ok() {
			return nil, false
		}
		players = append(players, pl)
	}

	if r.off != len(p) {
		return nil, false
	}

	return players, true
}

// DecodeRCON decodes one 'x' response datagram: a single uint16-length-prefixed
// line of console output. A full reply may span several datagrams, one line
// each; collecting them is the transport's concern.
func DecodeRCON(data []byte) (string, error) {
	p, err := payload(data, OpcodeRCON)
	if err != nil {
		return "", err
	}

	r := &reader{buf: p}
	line := r.string(int(r.uint16()))
	if !r.ok() {
		return "", malformed("truncated rcon line")
	}

	return line, nil
}
