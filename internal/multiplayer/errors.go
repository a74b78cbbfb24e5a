package multiplayer

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when a message cannot be sent because there
// is no open connection.
var ErrNotConnected = errors.New("multiplayer: not connected")

// ErrNotInRoom is returned by operations that need a joined room.
var ErrNotInRoom = errors.New("multiplayer: not in a room")

// Protocol error codes.
const (
	CodeMalformed      = "MALFORMED"
	CodeUnknownType    = "UNKNOWN_TYPE"
	CodeUnknownSession = "UNKNOWN_SESSION"
	CodeWrongFile      = "WRONG_FILE"
	CodeNotInRoom      = "NOT_IN_ROOM"
	CodeInternal       = "INTERNAL"
)

// ProtocolError is a message that violates the room protocol. Receivers
// log it and drop the message.
type ProtocolError struct {
	Code      string
	Message   string
	SessionID string
}

func (e *ProtocolError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("protocol error %s (session %s): %s", e.Code, e.SessionID, e.Message)
	}
	return fmt.Sprintf("protocol error %s: %s", e.Code, e.Message)
}

// IsProtocolError reports whether err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
