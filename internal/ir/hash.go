package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ComputeHash returns the SHA-256 hex digest of a snapshot's canonical form.
// The canonical form sorts entities by kgid and properties by name, and
// excludes created_at and schema_hash, so two structurally identical
// snapshots always hash the same regardless of construction order or when
// they were taken.
func ComputeHash(s SchemaSnapshot) (string, error) {
	data, err := json.Marshal(s.canonical(false))
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashSnapshot returns a copy of the snapshot with SchemaHash populated.
func HashSnapshot(s SchemaSnapshot) (SchemaSnapshot, error) {
	h, err := ComputeHash(s)
	if err != nil {
		return SchemaSnapshot{}, err
	}
	s.SchemaHash = h
	return s, nil
}
