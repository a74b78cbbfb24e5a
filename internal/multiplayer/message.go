package multiplayer

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/gridsync/internal/txn"
)

// MessageType discriminates wire messages.
type MessageType string

const (
	TypeEnterRoom   MessageType = "EnterRoom"
	TypeLeaveRoom   MessageType = "LeaveRoom"
	TypeUserUpdate  MessageType = "UserUpdate"
	TypeHeartbeat   MessageType = "Heartbeat"
	TypeTransaction MessageType = "Transaction"
	TypeUsersInRoom MessageType = "UsersInRoom"
	TypeError       MessageType = "Error"
)

func (t MessageType) valid() bool {
	switch t {
	case TypeEnterRoom, TypeLeaveRoom, TypeUserUpdate, TypeHeartbeat,
		TypeTransaction, TypeUsersInRoom, TypeError:
		return true
	}
	return false
}

// CellEdit is a user's in-progress cell editor.
type CellEdit struct {
	Active bool   `json:"active"`
	Text   string `json:"text"`
	Cursor int    `json:"cursor"`
}

// UserUpdate is a partial presence change. Nil fields are unchanged.
type UserUpdate struct {
	X         *float64  `json:"x,omitempty"`
	Y         *float64  `json:"y,omitempty"`
	Visible   *bool     `json:"visible,omitempty"`
	SheetID   *string   `json:"sheet_id,omitempty"`
	Selection *string   `json:"selection,omitempty"`
	CellEdit  *CellEdit `json:"cell_edit,omitempty"`
}

// IsEmpty reports whether u changes nothing.
func (u UserUpdate) IsEmpty() bool {
	return u.X == nil && u.Y == nil && u.Visible == nil &&
		u.SheetID == nil && u.Selection == nil && u.CellEdit == nil
}

// Merge returns u with every field set in later overriding it.
func (u UserUpdate) Merge(later UserUpdate) UserUpdate {
	if later.X != nil {
		u.X = later.X
	}
	if later.Y != nil {
		u.Y = later.Y
	}
	if later.Visible != nil {
		u.Visible = later.Visible
	}
	if later.SheetID != nil {
		u.SheetID = later.SheetID
	}
	if later.Selection != nil {
		u.Selection = later.Selection
	}
	if later.CellEdit != nil {
		u.CellEdit = later.CellEdit
	}
	return u
}

// User is one roster entry: identity plus the last known presence.
type User struct {
	SessionID string   `json:"session_id"`
	UserID    string   `json:"user_id"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Image     string   `json:"image"`
	SheetID   string   `json:"sheet_id,omitempty"`
	Selection string   `json:"selection,omitempty"`
	CellEdit  CellEdit `json:"cell_edit"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	Visible   bool     `json:"visible"`
}

// Apply merges a presence update into u.
func (u *User) Apply(up UserUpdate) {
	if up.X != nil {
		x := *up.X
		u.X = &x
	}
	if up.Y != nil {
		y := *up.Y
		u.Y = &y
	}
	if up.Visible != nil {
		u.Visible = *up.Visible
	}
	if up.SheetID != nil {
		u.SheetID = *up.SheetID
	}
	if up.Selection != nil {
		u.Selection = *up.Selection
	}
	if up.CellEdit != nil {
		u.CellEdit = *up.CellEdit
	}
}

// Message is the single envelope for every wire message. Which fields are
// meaningful depends on Type:
//
//	EnterRoom    session_id user_id file_id sheet_id selection first_name
//	             last_name image cell_edit sequence_num (last seen)
//	LeaveRoom    session_id file_id
//	UserUpdate   session_id file_id update
//	Heartbeat    session_id file_id
//	Transaction  session_id file_id id operations cursor sequence_num
//	UsersInRoom  file_id users
//	Error        code error
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	UserID    string      `json:"user_id,omitempty"`
	FileID    string      `json:"file_id,omitempty"`
	SheetID   string      `json:"sheet_id,omitempty"`
	Selection string      `json:"selection,omitempty"`
	FirstName string      `json:"first_name,omitempty"`
	LastName  string      `json:"last_name,omitempty"`
	Image     string      `json:"image,omitempty"`
	CellEdit  *CellEdit   `json:"cell_edit,omitempty"`

	Update *UserUpdate `json:"update,omitempty"`

	ID          string          `json:"id,omitempty"`
	Operations  json.RawMessage `json:"operations,omitempty"`
	Cursor      string          `json:"cursor,omitempty"`
	SequenceNum int64           `json:"sequence_num,omitempty"`

	Users []User `json:"users,omitempty"`

	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// Encode serializes m.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses and validates the envelope of a wire message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, &ProtocolError{Code: CodeMalformed, Message: err.Error()}
	}
	if !m.Type.valid() {
		return Message{}, &ProtocolError{
			Code:      CodeUnknownType,
			Message:   fmt.Sprintf("unknown message type %q", m.Type),
			SessionID: m.SessionID,
		}
	}
	switch m.Type {
	case TypeEnterRoom, TypeLeaveRoom, TypeUserUpdate, TypeHeartbeat, TypeTransaction:
		if m.SessionID == "" || m.FileID == "" {
			return Message{}, &ProtocolError{
				Code:    CodeMalformed,
				Message: fmt.Sprintf("%s requires session_id and file_id", m.Type),
			}
		}
	}
	if m.Type == TypeUserUpdate && m.Update == nil {
		return Message{}, &ProtocolError{Code: CodeMalformed, Message: "UserUpdate without update", SessionID: m.SessionID}
	}
	return m, nil
}

// TransactionMessage wraps a transaction for the wire.
func TransactionMessage(sessionID, fileID string, seq int64, tx *txn.Transaction) (Message, error) {
	ops, err := txn.MarshalOperations(tx.Operations)
	if err != nil {
		return Message{}, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	return Message{
		Type:        TypeTransaction,
		SessionID:   sessionID,
		FileID:      fileID,
		ID:          tx.ID,
		Operations:  ops,
		Cursor:      tx.Cursor,
		SequenceNum: seq,
	}, nil
}

// Transaction decodes the operations of a Transaction message.
func (m Message) Transaction() (*txn.Transaction, error) {
	if m.Type != TypeTransaction {
		return nil, fmt.Errorf("message %s carries no transaction", m.Type)
	}
	if m.ID == "" {
		return nil, &ProtocolError{Code: CodeMalformed, Message: "transaction without id", SessionID: m.SessionID}
	}
	ops, err := txn.UnmarshalOperations(m.Operations)
	if err != nil {
		return nil, &ProtocolError{
			Code:      CodeMalformed,
			Message:   fmt.Sprintf("transaction %s: %v", m.ID, err),
			SessionID: m.SessionID,
		}
	}
	return &txn.Transaction{ID: m.ID, Operations: ops, Cursor: m.Cursor}, nil
}

// EnteringUser builds the roster entry announced by an EnterRoom message.
func (m Message) EnteringUser() User {
	u := User{
		SessionID: m.SessionID,
		UserID:    m.UserID,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Image:     m.Image,
		SheetID:   m.SheetID,
		Selection: m.Selection,
	}
	if m.CellEdit != nil {
		u.CellEdit = *m.CellEdit
	}
	return u
}
