package txn

import (
	"encoding/json"
	"fmt"
)

// Transaction is the unit of undo, redo and network broadcast.
type Transaction struct {
	ID         string
	Operations []Operation

	// Cursor is the serialized selection of the author when the
	// transaction was made, restored on undo and redo.
	Cursor string
}

type transactionJSON struct {
	ID         string            `json:"id"`
	Operations []json.RawMessage `json:"operations"`
	Cursor     string            `json:"cursor,omitempty"`
}

// MarshalJSON encodes the transaction with typed operations.
func (t Transaction) MarshalJSON() ([]byte, error) {
	raw, err := encodeList(t.Operations)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
	}
	return json.Marshal(transactionJSON{ID: t.ID, Operations: raw, Cursor: t.Cursor})
}

// UnmarshalJSON decodes a transaction encoded by MarshalJSON.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var v transactionJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	ops, err := decodeList(v.Operations)
	if err != nil {
		return fmt.Errorf("transaction %s: %w", v.ID, err)
	}
	*t = Transaction{ID: v.ID, Operations: ops, Cursor: v.Cursor}
	return nil
}
