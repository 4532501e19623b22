// Package ingest ties bulk data loading to the ledger: checksummed sources,
// batch provenance, pre-flight validation, and remote fetching with a local
// cache.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// FileChecksum returns the SHA-256 hex digest of a file's contents.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open '%s': %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to checksum '%s': %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
