package ingest

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/crochetdb/crochet/internal/ledger"
)

var ErrSourceNotFound = errors.New("source file not found")

// NewBatchID returns a fresh 12-hex-char batch identifier.
func NewBatchID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// Tracker registers data batches in the ledger with source provenance.
type Tracker struct {
	ledger        *ledger.Ledger
	loaderVersion string
}

func NewTracker(led *ledger.Ledger, loaderVersion string) *Tracker {
	if loaderVersion == "" {
		loaderVersion = "1.0"
	}
	return &Tracker{ledger: led, loaderVersion: loaderVersion}
}

// RegisterBatch records a batch row, checksumming sourceFile when given.
func (t *Tracker) RegisterBatch(sourceFile, migrationID string, recordCount int64, batchID string) (ledger.DatasetBatch, error) {
	if batchID == "" {
		batchID = NewBatchID()
	}
	checksum := ""
	if sourceFile != "" {
		if _, err := os.Stat(sourceFile); err != nil {
			return ledger.DatasetBatch{}, ErrSourceNotFound
		}
		var err error
		checksum, err = FileChecksum(sourceFile)
		if err != nil {
			return ledger.DatasetBatch{}, err
		}
	}
	return t.ledger.RecordBatch(ledger.DatasetBatch{
		BatchID:       batchID,
		MigrationID:   migrationID,
		SourceFile:    sourceFile,
		FileChecksum:  checksum,
		LoaderVersion: t.loaderVersion,
		RecordCount:   recordCount,
	})
}

// RegisterRemoteBatch fetches a remote source and records it as a batch.
// Returns the batch and the local path of the downloaded file.
func (t *Tracker) RegisterRemoteBatch(ctx context.Context, source Source, cacheDir, migrationID string, recordCount int64) (ledger.DatasetBatch, string, error) {
	result, err := Fetch(ctx, source, cacheDir)
	if err != nil {
		return ledger.DatasetBatch{}, "", err
	}
	batch, err := t.ledger.RecordBatch(ledger.DatasetBatch{
		BatchID:       NewBatchID(),
		MigrationID:   migrationID,
		SourceFile:    source.URI,
		FileChecksum:  result.Checksum,
		LoaderVersion: t.loaderVersion,
		RecordCount:   recordCount,
	})
	if err != nil {
		return ledger.DatasetBatch{}, "", err
	}
	return batch, result.LocalPath, nil
}

// VerifyFile reports whether a batch's source file still matches its
// recorded checksum. Batches with no source recorded pass.
func (t *Tracker) VerifyFile(batch ledger.DatasetBatch) (bool, error) {
	if batch.SourceFile == "" || batch.FileChecksum == "" {
		return true, nil
	}
	if _, err := os.Stat(batch.SourceFile); err != nil {
		return false, nil
	}
	sum, err := FileChecksum(batch.SourceFile)
	if err != nil {
		return false, err
	}
	return sum == batch.FileChecksum, nil
}
