package ast

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// ErrInvalidNodeID is returned when an external node reference cannot be decoded.
var ErrInvalidNodeID = errors.New("invalid node id")

// NodeIDSize is the number of bytes in a NodeID.
const NodeIDSize = 16

// NodeID is a content-addressed node identifier: the first 128 bits of a
// BLAKE3 digest over (repo, path, span, kind).
type NodeID [NodeIDSize]byte

// NewNodeID derives the identifier for a construct. Identical inputs always
// produce the same id, so unchanged constructs keep their id across re-parses.
func NewNodeID(repoID, path string, span Span, kind NodeKind) NodeID {
	h := blake3.New()
	var buf [8]byte
	// Variable-length fields are length-prefixed so ("app", "sx.py") and
	// ("apps", "x.py") stay distinct.
	writeString(h, buf[:], repoID)
	writeString(h, buf[:], NormalizePath(path))

	binary.LittleEndian.PutUint64(buf[:], uint64(span.StartByte))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(span.EndByte))
	h.Write(buf[:])
	h.Write([]byte(kind))

	var id NodeID
	copy(id[:], h.Sum(nil))
	return id
}

func writeString(h *blake3.Hasher, buf []byte, s string) {
	binary.LittleEndian.PutUint64(buf, uint64(len(s)))
	h.Write(buf)
	h.Write([]byte(s))
}

// ParseNodeID decodes the 32-character hex form produced by NodeID.String.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	if len(s) != NodeIDSize*2 {
		return id, fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidNodeID, NodeIDSize*2, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidNodeID, err)
	}
	return id, nil
}

// String returns the lowercase hex encoding.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the id is unset.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// MarshalText implements encoding.TextMarshaler so ids serialize as hex in JSON.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NormalizePath cleans a path and converts it to forward slashes so the same
// file hashes identically on every platform.
func NormalizePath(path string) string {
	if path == "" {
		return ""
	}
	return filepath.ToSlash(filepath.Clean(path))
}
