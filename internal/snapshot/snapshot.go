package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/gridsync/internal/sheet"
)

// Domain separates snapshot digests from any other SHA-256 use.
const Domain = "gridsync/snapshot/v1"

// Version is the encoding version written by Encode.
const Version = 1

// ErrUnsupportedVersion is returned by Decode for snapshots written by a
// newer encoder.
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

// Snapshot is the full content of one file at a sequence number.
type Snapshot struct {
	Version  int          `json:"version"`
	FileID   string       `json:"file_id,omitempty"`
	Sequence int64        `json:"sequence"`
	Sheets   []sheet.Data `json:"sheets"`
}

// Take copies the registry's content.
func Take(reg *sheet.Registry, fileID string, seq int64) Snapshot {
	ordered := reg.Ordered()
	s := Snapshot{
		Version:  Version,
		FileID:   fileID,
		Sequence: seq,
		Sheets:   make([]sheet.Data, 0, len(ordered)),
	}
	for _, sh := range ordered {
		s.Sheets = append(s.Sheets, sh.Data())
	}
	return s
}

// Encode writes s as compact JSON without HTML escaping and without a
// trailing newline.
func Encode(s Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses the output of Encode.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version > Version {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w: %d", ErrUnsupportedVersion, s.Version)
	}
	return s, nil
}

// Registry rebuilds a sheet registry from s.
func (s Snapshot) Registry(opts ...sheet.Option) (*sheet.Registry, error) {
	reg := sheet.NewRegistry(opts...)
	for _, d := range s.Sheets {
		sh, err := sheet.FromData(d)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		if err := reg.Add(sh); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
	}
	return reg, nil
}

// Digest hashes encoded snapshot bytes.
// Format: hex(SHA256(Domain + 0x00 + data)).
func Digest(data []byte) string {
	h := sha256.New()
	h.Write([]byte(Domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint digests the content of reg alone, ignoring file and
// sequence, so that two grids can be compared for equality.
func Fingerprint(reg *sheet.Registry) (string, error) {
	data, err := Encode(Take(reg, "", 0))
	if err != nil {
		return "", err
	}
	return Digest(data), nil
}
