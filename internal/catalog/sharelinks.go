package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ShareLink grants public access to an album via a random token or a
// custom slug, optionally password protected and time limited.
type ShareLink struct {
	ID                  string
	AlbumID             string
	Token               string
	CustomSlug          *string
	PasswordHash        *string
	IsPasswordProtected bool
	ExpiresAt           *time.Time
	IsRevoked           bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Expired reports whether the link's expiry has passed.
func (l *ShareLink) Expired() bool {
	return l.ExpiresAt != nil && time.Now().After(*l.ExpiresAt)
}

// Usable reports whether the link grants access right now.
func (l *ShareLink) Usable() bool {
	return !l.IsRevoked && !l.Expired()
}

const shareLinkColumns = `id, album_id, token, custom_slug, password_hash, is_password_protected, expires_at, is_revoked, created_at, updated_at`

// CreateShareLink inserts a new share link.
func (s *Store) CreateShareLink(ctx context.Context, l *ShareLink) (*ShareLink, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO share_links (id, album_id, token, custom_slug, password_hash, is_password_protected, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+shareLinkColumns,
		uuid.NewString(), l.AlbumID, l.Token, l.CustomSlug,
		l.PasswordHash, l.PasswordHash != nil, l.ExpiresAt)
	out, err := scanShareLink(row)
	if err != nil {
		return nil, fmt.Errorf("create share link: %w", err)
	}
	return out, nil
}

// GetShareLink returns a share link by ID, or nil when absent.
func (s *Store) GetShareLink(ctx context.Context, id string) (*ShareLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+shareLinkColumns+` FROM share_links WHERE id = $1`, id)
	return shareLinkOrNil(row)
}

// ResolveShareLink finds a share link by its token or custom slug.
func (s *Store) ResolveShareLink(ctx context.Context, tokenOrSlug string) (*ShareLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+shareLinkColumns+` FROM share_links
		 WHERE token = $1 OR custom_slug = $1`, tokenOrSlug)
	return shareLinkOrNil(row)
}

// ListAlbumShareLinks returns all share links for an album, newest first.
func (s *Store) ListAlbumShareLinks(ctx context.Context, albumID string) ([]*ShareLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+shareLinkColumns+` FROM share_links
		 WHERE album_id = $1 ORDER BY created_at DESC`, albumID)
	if err != nil {
		return nil, fmt.Errorf("list share links: %w", err)
	}
	defer rows.Close()

	var links []*ShareLink
	for rows.Next() {
		l, err := scanShareLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// RevokeShareLink marks a share link revoked. Revocation is permanent.
func (s *Store) RevokeShareLink(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE share_links SET is_revoked = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("revoke share link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteShareLink removes a share link entirely.
func (s *Store) DeleteShareLink(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM share_links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete share link: %w", err)
	}
	return nil
}

// CountActiveShareLinks returns the number of usable share links.
func (s *Store) CountActiveShareLinks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM share_links
		 WHERE NOT is_revoked AND (expires_at IS NULL OR expires_at > NOW())`).Scan(&count)
	return count, err
}

func shareLinkOrNil(row rowScanner) (*ShareLink, error) {
	l, err := scanShareLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query share link: %w", err)
	}
	return l, nil
}

func scanShareLink(row rowScanner) (*ShareLink, error) {
	var l ShareLink
	err := row.Scan(&l.ID, &l.AlbumID, &l.Token, &l.CustomSlug, &l.PasswordHash,
		&l.IsPasswordProtected, &l.ExpiresAt, &l.IsRevoked, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
