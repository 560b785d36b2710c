package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Photo is one catalog entry referencing a file hash record. Several
// photos may share one record; the reference count ties them together.
type Photo struct {
	ID               string
	AlbumID          *string
	FileHashID       string
	OriginalFilename string
	IsVideo          bool
	SortOrder        int
	Caption          *string
	CapturedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PhotoFile is a photo joined with its file hash record, as needed for
// serving and downloads.
type PhotoFile struct {
	Photo
	Identity      string
	FileExtension string
	MIMEType      string
	FileSize      int64
	Width         int
	Height        int
}

const photoColumns = `id, album_id, file_hash_id, original_filename, is_video, sort_order, caption, captured_at, created_at, updated_at`

const photoFileColumns = `p.id, p.album_id, p.file_hash_id, p.original_filename, p.is_video, p.sort_order, p.caption, p.captured_at, p.created_at, p.updated_at,
	fh.sha256_hash, fh.file_extension, fh.mime_type, fh.file_size, fh.width, fh.height`

// CreatePhoto inserts a new photo row.
func (s *Store) CreatePhoto(ctx context.Context, p *Photo) (*Photo, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO photos (id, album_id, file_hash_id, original_filename, is_video, sort_order, caption, captured_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+photoColumns,
		p.ID, p.AlbumID, p.FileHashID, p.OriginalFilename, p.IsVideo,
		p.SortOrder, p.Caption, p.CapturedAt)
	out, err := scanPhoto(row)
	if err != nil {
		return nil, fmt.Errorf("create photo: %w", err)
	}
	return out, nil
}

// GetPhoto returns a photo by ID, or nil when absent.
func (s *Store) GetPhoto(ctx context.Context, id string) (*Photo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+photoColumns+` FROM photos WHERE id = $1`, id)
	p, err := scanPhoto(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return p, nil
}

// GetPhotoFile returns a photo joined with its file hash record.
func (s *Store) GetPhotoFile(ctx context.Context, id string) (*PhotoFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+photoFileColumns+`
		 FROM photos p JOIN file_hashes fh ON fh.id = p.file_hash_id
		 WHERE p.id = $1`, id)
	pf, err := scanPhotoFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get photo file: %w", err)
	}
	return pf, nil
}

// ListAlbumPhotos returns an album's photos with their file records,
// ordered by sort order then creation time.
func (s *Store) ListAlbumPhotos(ctx context.Context, albumID string) ([]*PhotoFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+photoFileColumns+`
		 FROM photos p JOIN file_hashes fh ON fh.id = p.file_hash_id
		 WHERE p.album_id = $1
		 ORDER BY p.sort_order, p.created_at`, albumID)
	if err != nil {
		return nil, fmt.Errorf("list album photos: %w", err)
	}
	defer rows.Close()

	var photos []*PhotoFile
	for rows.Next() {
		pf, err := scanPhotoFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, pf)
	}
	return photos, rows.Err()
}

// NextSortOrder returns the sort order for a photo appended to an album.
func (s *Store) NextSortOrder(ctx context.Context, albumID string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sort_order) + 1, 0) FROM photos WHERE album_id = $1`,
		albumID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next sort order: %w", err)
	}
	return next, nil
}

// UpdatePhoto updates a photo's caption and sort order.
func (s *Store) UpdatePhoto(ctx context.Context, id string, caption *string, sortOrder int) (*Photo, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE photos SET caption = $2, sort_order = $3, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+photoColumns, id, caption, sortOrder)
	p, err := scanPhoto(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update photo: %w", err)
	}
	return p, nil
}

// OrphanedFile identifies a file hash record whose reference count
// reached zero, so its stored files are eligible for removal.
type OrphanedFile struct {
	FileHashID    string
	Identity      string
	FileExtension string
	IsVideo       bool
}

// RemovePhoto deletes a photo and decrements its file record's reference
// count in one transaction. When the count reaches zero the returned
// OrphanedFile is non-nil and the caller is expected to remove the files
// from disk and then delete the record via DeleteFileHash.
func (s *Store) RemovePhoto(ctx context.Context, photoID string) (*OrphanedFile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var fileHashID string
	var isVideo bool
	err = tx.QueryRowContext(ctx,
		`DELETE FROM photos WHERE id = $1 RETURNING file_hash_id, is_video`,
		photoID).Scan(&fileHashID, &isVideo)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete photo: %w", err)
	}

	var remaining int
	var identity, ext string
	err = tx.QueryRowContext(ctx,
		`UPDATE file_hashes SET reference_count = reference_count - 1
		 WHERE id = $1
		 RETURNING reference_count, sha256_hash, file_extension`,
		fileHashID).Scan(&remaining, &identity, &ext)
	if err != nil {
		return nil, fmt.Errorf("decrement reference count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	if remaining > 0 {
		return nil, nil
	}
	return &OrphanedFile{
		FileHashID:    fileHashID,
		Identity:      identity,
		FileExtension: ext,
		IsVideo:       isVideo,
	}, nil
}

func scanPhoto(row rowScanner) (*Photo, error) {
	var p Photo
	err := row.Scan(&p.ID, &p.AlbumID, &p.FileHashID, &p.OriginalFilename,
		&p.IsVideo, &p.SortOrder, &p.Caption, &p.CapturedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPhotoFile(row rowScanner) (*PhotoFile, error) {
	var pf PhotoFile
	err := row.Scan(&pf.ID, &pf.AlbumID, &pf.FileHashID, &pf.OriginalFilename,
		&pf.IsVideo, &pf.SortOrder, &pf.Caption, &pf.CapturedAt, &pf.CreatedAt, &pf.UpdatedAt,
		&pf.Identity, &pf.FileExtension, &pf.MIMEType, &pf.FileSize, &pf.Width, &pf.Height)
	if err != nil {
		return nil, err
	}
	return &pf, nil
}
