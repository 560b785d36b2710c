package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Album is a collection of photos with a URL-friendly slug.
type Album struct {
	ID           string
	Title        string
	Slug         string
	Description  *string
	CoverPhotoID *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PhotoCount   int
}

const albumColumns = `id, title, slug, description, cover_photo_id, created_at, updated_at`

var (
	slugStrip    = regexp.MustCompile(`[^a-zA-Z0-9\s-]`)
	slugSpaces   = regexp.MustCompile(`[\s_]+`)
	slugCollapse = regexp.MustCompile(`-+`)
)

// Slugify converts a title into a URL-friendly slug.
func Slugify(title string) string {
	slug := slugStrip.ReplaceAllString(strings.ToLower(title), "")
	slug = slugSpaces.ReplaceAllString(slug, "-")
	slug = slugCollapse.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// CreateAlbum inserts a new album, deriving a unique slug from the title.
// On slug collision a numeric suffix is appended.
func (s *Store) CreateAlbum(ctx context.Context, title string, description *string) (*Album, error) {
	base := Slugify(title)
	if base == "" {
		base = "album"
	}

	slug := base
	for attempt := 2; ; attempt++ {
		row := s.db.QueryRowContext(ctx,
			`INSERT INTO albums (id, title, slug, description)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (slug) DO NOTHING
			 RETURNING `+albumColumns,
			uuid.NewString(), title, slug, description)
		a, err := scanAlbum(row)
		if err == sql.ErrNoRows {
			if attempt > 100 {
				return nil, fmt.Errorf("create album: could not find free slug for %q", base)
			}
			slug = fmt.Sprintf("%s-%d", base, attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create album: %w", err)
		}
		return a, nil
	}
}

// GetAlbum returns an album by ID, or nil when absent.
func (s *Store) GetAlbum(ctx context.Context, id string) (*Album, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+albumColumns+` FROM albums WHERE id = $1`, id)
	return s.albumOrNil(row)
}

// GetAlbumBySlug returns an album by slug, or nil when absent.
func (s *Store) GetAlbumBySlug(ctx context.Context, slug string) (*Album, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+albumColumns+` FROM albums WHERE slug = $1`, slug)
	return s.albumOrNil(row)
}

// ListAlbums returns all albums with photo counts, newest first.
func (s *Store) ListAlbums(ctx context.Context) ([]*Album, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.title, a.slug, a.description, a.cover_photo_id, a.created_at, a.updated_at,
		        COUNT(p.id)
		 FROM albums a LEFT JOIN photos p ON p.album_id = a.id
		 GROUP BY a.id
		 ORDER BY a.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}
	defer rows.Close()

	var albums []*Album
	for rows.Next() {
		var a Album
		if err := rows.Scan(&a.ID, &a.Title, &a.Slug, &a.Description,
			&a.CoverPhotoID, &a.CreatedAt, &a.UpdatedAt, &a.PhotoCount); err != nil {
			return nil, fmt.Errorf("scan album: %w", err)
		}
		albums = append(albums, &a)
	}
	return albums, rows.Err()
}

// UpdateAlbum updates an album's title, description, and cover photo.
// The slug is stable across renames so shared URLs keep working.
func (s *Store) UpdateAlbum(ctx context.Context, id, title string, description, coverPhotoID *string) (*Album, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE albums SET title = $2, description = $3, cover_photo_id = $4, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+albumColumns, id, title, description, coverPhotoID)
	return s.albumOrNil(row)
}

// RemoveAlbum deletes an album and all its photos in one transaction,
// decrementing each referenced file record. It returns the records whose
// reference count reached zero; the caller removes their files from disk
// and then calls DeleteFileHash for each.
func (s *Store) RemoveAlbum(ctx context.Context, albumID string) ([]OrphanedFile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Clear the cover reference first so the photo delete is unimpeded.
	if _, err := tx.ExecContext(ctx,
		`UPDATE albums SET cover_photo_id = NULL WHERE id = $1`, albumID); err != nil {
		return nil, fmt.Errorf("clear cover: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`DELETE FROM photos WHERE album_id = $1 RETURNING file_hash_id, is_video`, albumID)
	if err != nil {
		return nil, fmt.Errorf("delete photos: %w", err)
	}

	refs := make(map[string]int)
	isVideo := make(map[string]bool)
	for rows.Next() {
		var fhID string
		var video bool
		if err := rows.Scan(&fhID, &video); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan deleted photo: %w", err)
		}
		refs[fhID]++
		isVideo[fhID] = video
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("deleted photos: %w", err)
	}

	var orphans []OrphanedFile
	for fhID, n := range refs {
		var remaining int
		var identity, ext string
		err := tx.QueryRowContext(ctx,
			`UPDATE file_hashes SET reference_count = reference_count - $2
			 WHERE id = $1
			 RETURNING reference_count, sha256_hash, file_extension`,
			fhID, n).Scan(&remaining, &identity, &ext)
		if err != nil {
			return nil, fmt.Errorf("decrement reference count: %w", err)
		}
		if remaining <= 0 {
			orphans = append(orphans, OrphanedFile{
				FileHashID:    fhID,
				Identity:      identity,
				FileExtension: ext,
				IsVideo:       isVideo[fhID],
			})
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM albums WHERE id = $1`, albumID)
	if err != nil {
		return nil, fmt.Errorf("delete album: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return orphans, nil
}

func (s *Store) albumOrNil(row rowScanner) (*Album, error) {
	a, err := scanAlbum(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query album: %w", err)
	}
	return a, nil
}

func scanAlbum(row rowScanner) (*Album, error) {
	var a Album
	err := row.Scan(&a.ID, &a.Title, &a.Slug, &a.Description,
		&a.CoverPhotoID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
