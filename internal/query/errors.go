package query

import (
	"errors"
	"fmt"
)

// ServerOfflineError indicates the target did not answer within the retry
// budget. It carries the address so callers can report which server failed
// without holding extra state.
type ServerOfflineError struct {
	Host string
	Port uint16
}

func (e *ServerOfflineError) Error() string {
	return fmt.Sprintf("server %s:%d did not respond", e.Host, e.Port)
}

// ErrRCONDisabled indicates an RCON request produced no reply within the
// deadline. The wire protocol cannot distinguish RCON being disabled from a
// command that legitimately prints nothing; see rcon.PossibleCause for the
// per-command heuristics callers can apply.
var ErrRCONDisabled = errors.New("rcon disabled or command produced no output")

// ErrInvalidPassword indicates the server rejected the RCON password.
var ErrInvalidPassword = errors.New("invalid rcon password")

// ErrInvalidAddress indicates a host that could not be resolved to an IPv4
// address. The wire format embeds the target's IPv4 octets, so IPv6-only
// hosts cannot be queried.
var ErrInvalidAddress = errors.New("host does not resolve to an IPv4 address")

// IsOffline reports whether err represents an unresponsive server.
func IsOffline(err error) bool {
	var offline *ServerOfflineError
	return errors.As(err, &offline)
}
