package rcon

// commands is the fixed set of RCON command names a server console accepts.
// Anything whose first token is not listed here is rejected locally, before
// any datagram is sent. The set is not configurable at runtime.
var commands = []string{
	"cmdlist",
	"varlist",
	"exit",
	"echo",
	"hostname",
	"gamemodetext",
	"mapname",
	"exec",
	"kick",
	"ban",
	"changemode",
	"gmx",
	"reloadbans",
	"reloadlog",
	"say",
	"players",
	"banip",
	"unbanip",
	"gravity",
	"weather",
	"loadfs",
	"weburl",
	"unloadfs",
	"reloadfs",
	"password",
	"messageslimit",
	"ackslimit",
	"messageholelimit",
	"playertimeout",
	"language",
}

// causes maps commands with known no-output cases to an explanation for the
// ambiguous "no reply" signal. The wire protocol cannot distinguish RCON
// being disabled from a command that legitimately prints nothing, so the
// ambiguity is surfaced to callers instead of guessed away.
var causes = map[string]string{
	"players": "no players may be online",
	"kick":    "the player id may not be connected",
	"ban":     "the player id may not be connected",
}

// PossibleCause returns a human-readable reason why command may have
// produced no reply even though RCON is enabled, or "" when silence has no
// known benign cause.
func PossibleCause(command string) string {
	return causes[command]
}
