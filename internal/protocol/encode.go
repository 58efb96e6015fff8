package protocol

import "encoding/binary"

// header builds the common 11-byte packet prefix. The server uses the echoed
// IP and port to address its reply, so they must be the target's own IPv4
// address, not the sender's.
func header(ip [4]byte, port uint16, op Opcode) []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = append(buf, Magic...)
	buf = append(buf, ip[0], ip[1], ip[2], ip[3])
	buf = binary.LittleEndian.AppendUint16(buf, port)
	buf = append(buf, byte(op))

	return buf
}

// PingRequest builds a 'p' packet. The nonce is echoed back verbatim by the
// server and lets the caller match the reply to its own probe.
func PingRequest(ip [4]byte, port uint16, nonce [4]byte) []byte {
	return append(header(ip, port, OpcodePing), nonce[0], nonce[1], nonce[2], nonce[3])
}

// InfoRequest builds an 'i' packet.
func InfoRequest(ip [4]byte, port uint16) []byte {
	return header(ip, port, OpcodeInfo)
}

// RulesRequest builds an 'r' packet.
func RulesRequest(ip [4]byte, port uint16) []byte {
	return header(ip, port, OpcodeRules)
}

// PlayersRequest builds a 'c' packet.
func PlayersRequest(ip [4]byte, port uint16) []byte {
	return header(ip, port, OpcodePlayers)
}

// RCONRequest builds an 'x' packet carrying the password and command text,
// both as little-endian length-prefixed strings. Some historical servers
// also expect a ping cookie before the password; modern SA-MP and open.mp
// builds do not enforce it, so none is sent.
func RCONRequest(ip [4]byte, port uint16, password, command string) []byte {
	buf := header(ip, port, OpcodeRCON)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(password)))
	buf = append(buf, password...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(command)))
	buf = append(buf, command...)

	return buf
}
