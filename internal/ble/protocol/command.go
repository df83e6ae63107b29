// Package protocol implements the text formats exchanged over the BLE
// configuration service: command tokens, the combined server value and the
// status line.
package protocol

import "strings"

// Command is a parsed command characteristic write.
type Command int

const (
	CommandUnknown Command = iota
	CommandRefresh
	CommandConnect
	CommandClear
	CommandStatus
)

// Command tokens accepted on the command characteristic.
const (
	TokenRefresh = "REFRESH"
	TokenConnect = "CONNECT"
	TokenClear   = "CLEAR"
	TokenStatus  = "STATUS"
)

// ParseCommand trims surrounding whitespace and matches the value against
// the known tokens. Matching is case sensitive.
func ParseCommand(value []byte) Command {
	switch strings.TrimSpace(string(value)) {
	case TokenRefresh:
		return CommandRefresh
	case TokenConnect:
		return CommandConnect
	case TokenClear:
		return CommandClear
	case TokenStatus:
		return CommandStatus
	default:
		return CommandUnknown
	}
}

func (c Command) String() string {
	switch c {
	case CommandRefresh:
		return TokenRefresh
	case CommandConnect:
		return TokenConnect
	case CommandClear:
		return TokenClear
	case CommandStatus:
		return TokenStatus
	default:
		return "UNKNOWN"
	}
}

// ServerDelimiter separates the server URL from the device key.
const ServerDelimiter = '|'

// SplitServerValue splits a server characteristic write of the form
// "url|key". The key is only present when the delimiter appears after at
// least one URL byte; otherwise the whole value is the URL and hasKey is
// false.
func SplitServerValue(value string) (url, key string, hasKey bool) {
	i := strings.IndexByte(value, ServerDelimiter)
	if i <= 0 {
		return value, "", false
	}
	return value[:i], value[i+1:], true
}
