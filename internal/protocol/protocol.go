// Package protocol implements the SA-MP/open.mp UDP query wire format:
// request packet construction and response packet decoding for the query
// opcodes (ping, info, rules, players) and RCON. The package is pure and
// performs no I/O.
package protocol

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Opcode identifies a query packet type on the wire.
type Opcode byte

// Query opcodes, one byte each, placed after the 10-byte packet header.
const (
	OpcodePing            Opcode = 'p'
	OpcodeInfo            Opcode = 'i'
	OpcodeRules           Opcode = 'r'
	OpcodePlayers         Opcode = 'c'
	OpcodeDetailedPlayers Opcode = 'd'
	OpcodeRCON            Opcode = 'x'
)

// Magic is the 4-byte prefix of every query packet.
const Magic = "SAMP"

// HeaderSize is the length of the packet header: magic, IPv4 octets,
// little-endian port and the opcode byte.
const HeaderSize = 11

// ErrMalformedPacket indicates a datagram that was received but could not be
// decoded as a valid response for the requested opcode. Truncated or corrupt
// player lists are the common real-world cause.
var ErrMalformedPacket = errors.New("malformed packet")

// ServerAddress identifies a query target. It is a value type and can be
// used directly as a map key.
type ServerAddress struct {
	Host string
	Port uint16
}

// String returns the address in host:port form.
func (a ServerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// ServerInfo is the decoded payload of an 'i' response: one immutable
// snapshot of the server's public state.
type ServerInfo struct {
	Hostname   string `json:"hostname"`
	Gamemode   string `json:"gamemode"`
	Language   string `json:"language"`
	Players    uint16 `json:"players"`
	MaxPlayers uint16 `json:"max_players"`
	Password   bool   `json:"password"`
}

// Rule is one name/value pair from an 'r' response. Wire order is preserved
// for display purposes.
type Rule struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Player is one entry from a 'c' (or version-variant 'd') response.
type Player struct {
	Name  string `json:"name"`
	Score int32  `json:"score"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPacket, fmt.Sprintf(format, args...))
}
