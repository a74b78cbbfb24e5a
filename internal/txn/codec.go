package txn

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalOperation encodes op as a JSON object whose "type" member names
// the variant, followed by the variant's own fields.
func MarshalOperation(op Operation) ([]byte, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", op.Kind(), err)
	}
	typ, err := json.Marshal(op.Kind())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalOperation decodes an operation produced by MarshalOperation.
func UnmarshalOperation(data []byte) (Operation, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}

	var (
		op  Operation
		err error
	)
	switch head.Type {
	case SetCells{}.Kind():
		op, err = decode[SetCells](data)
	case DeleteCells{}.Kind():
		op, err = decode[DeleteCells](data)
	case SetCodeCell{}.Kind():
		op, err = decode[SetCodeCell](data)
	case SetFormats{}.Kind():
		op, err = decode[SetFormats](data)
	case SetCellFormats{}.Kind():
		op, err = decode[SetCellFormats](data)
	case AddSheet{}.Kind():
		op, err = decode[AddSheet](data)
	case DeleteSheet{}.Kind():
		op, err = decode[DeleteSheet](data)
	case SetSheetName{}.Kind():
		op, err = decode[SetSheetName](data)
	case SetSheetColor{}.Kind():
		op, err = decode[SetSheetColor](data)
	case ReorderSheet{}.Kind():
		op, err = decode[ReorderSheet](data)
	case ResizeColumn{}.Kind():
		op, err = decode[ResizeColumn](data)
	case ResizeRow{}.Kind():
		op, err = decode[ResizeRow](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return op, nil
}

func decode[T Operation](data []byte) (Operation, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// MarshalOperations encodes a list of operations as a JSON array.
func MarshalOperations(ops []Operation) ([]byte, error) {
	raw, err := encodeList(ops)
	if err != nil {
		return nil, err
	}
	return json.Marshal(raw)
}

// UnmarshalOperations decodes a JSON array of operations.
func UnmarshalOperations(data []byte) ([]Operation, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode operations: %w", err)
	}
	return decodeList(raw)
}

func encodeList(ops []Operation) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, len(ops))
	for i, op := range ops {
		b, err := MarshalOperation(op)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		raw[i] = b
	}
	return raw, nil
}

func decodeList(raw []json.RawMessage) ([]Operation, error) {
	ops := make([]Operation, len(raw))
	for i, r := range raw {
		op, err := UnmarshalOperation(r)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ops[i] = op
	}
	return ops, nil
}
