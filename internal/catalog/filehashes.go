package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileHash is a reference-counted content record. Identity holds the
// SHA-256 content hash for images and the random identity for videos.
type FileHash struct {
	ID             string
	Identity       string
	StoragePath    string
	FileExtension  string
	MIMEType       string
	FileSize       int64
	Width          int
	Height         int
	ReferenceCount int
	CreatedAt      time.Time
}

// CreateOrIncrementFileHash inserts a new file hash record or, when one
// with the same identity already exists, bumps its reference count. The
// returned record reflects the post-operation state.
func (s *Store) CreateOrIncrementFileHash(ctx context.Context, fh *FileHash) (*FileHash, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO file_hashes (id, sha256_hash, storage_path, file_extension, mime_type, file_size, width, height, reference_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		 ON CONFLICT (sha256_hash) DO UPDATE SET
			reference_count = file_hashes.reference_count + 1
		 RETURNING id, sha256_hash, storage_path, file_extension, mime_type, file_size, width, height, reference_count, created_at`,
		uuid.NewString(), fh.Identity, fh.StoragePath, fh.FileExtension,
		fh.MIMEType, fh.FileSize, fh.Width, fh.Height)

	out, err := scanFileHash(row)
	if err != nil {
		return nil, fmt.Errorf("create or increment file hash: %w", err)
	}
	return out, nil
}

// GetFileHash returns a file hash record by primary key.
func (s *Store) GetFileHash(ctx context.Context, id string) (*FileHash, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, sha256_hash, storage_path, file_extension, mime_type, file_size, width, height, reference_count, created_at
		 FROM file_hashes WHERE id = $1`, id)
	fh, err := scanFileHash(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file hash: %w", err)
	}
	return fh, nil
}

// GetFileHashByIdentity returns a file hash record by content identity.
func (s *Store) GetFileHashByIdentity(ctx context.Context, identity string) (*FileHash, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, sha256_hash, storage_path, file_extension, mime_type, file_size, width, height, reference_count, created_at
		 FROM file_hashes WHERE sha256_hash = $1`, identity)
	fh, err := scanFileHash(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file hash by identity: %w", err)
	}
	return fh, nil
}

// DeleteFileHash removes a file hash record. Called only after the
// record's files have been removed from disk.
func (s *Store) DeleteFileHash(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM file_hashes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file hash: %w", err)
	}
	return nil
}

// CountFileHashes returns the number of tracked file hash records.
func (s *Store) CountFileHashes(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_hashes`).Scan(&count)
	return count, err
}

// StorageTotals returns the tracked file count and summed byte size.
func (s *Store) StorageTotals(ctx context.Context) (int64, int64, error) {
	var count, bytes int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM file_hashes`).Scan(&count, &bytes)
	return count, bytes, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileHash(row rowScanner) (*FileHash, error) {
	var fh FileHash
	err := row.Scan(&fh.ID, &fh.Identity, &fh.StoragePath, &fh.FileExtension,
		&fh.MIMEType, &fh.FileSize, &fh.Width, &fh.Height, &fh.ReferenceCount, &fh.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &fh, nil
}
