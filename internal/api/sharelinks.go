package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/clientpix/clientpix/internal/auth"
	"github.com/clientpix/clientpix/internal/catalog"
	"github.com/clientpix/clientpix/internal/logging"
	"github.com/clientpix/clientpix/internal/metrics"
)

type shareLinkResponse struct {
	ID                  string     `json:"id"`
	AlbumID             string     `json:"album_id"`
	Token               string     `json:"token"`
	CustomSlug          *string    `json:"custom_slug"`
	IsPasswordProtected bool       `json:"is_password_protected"`
	ExpiresAt           *time.Time `json:"expires_at"`
	IsRevoked           bool       `json:"is_revoked"`
	CreatedAt           time.Time  `json:"created_at"`
}

func toShareLinkResponse(l *catalog.ShareLink) shareLinkResponse {
	return shareLinkResponse{
		ID:                  l.ID,
		AlbumID:             l.AlbumID,
		Token:               l.Token,
		CustomSlug:          l.CustomSlug,
		IsPasswordProtected: l.IsPasswordProtected,
		ExpiresAt:           l.ExpiresAt,
		IsRevoked:           l.IsRevoked,
		CreatedAt:           l.CreatedAt,
	}
}

// ─── Admin management ───────────────────────────────────────────────────────

func (s *Server) handleListShareLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.catalog.ListAlbumShareLinks(r.Context(), r.PathValue("albumID"))
	if err != nil {
		logging.Error("list share links", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	out := make([]shareLinkResponse, 0, len(links))
	for _, l := range links {
		out = append(out, toShareLinkResponse(l))
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"share_links": out})
}

func (s *Server) handleCreateShareLink(w http.ResponseWriter, r *http.Request) {
	albumID := r.PathValue("albumID")
	album, err := s.catalog.GetAlbum(r.Context(), albumID)
	if err != nil {
		logging.Error("get album", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	if album == nil {
		s.sendError(w, http.StatusNotFound, "album not found")
		return
	}

	var req struct {
		CustomSlug    *string `json:"custom_slug"`
		Password      *string `json:"password"`
		ExpiresInDays *int    `json:"expires_in_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := auth.GenerateToken(32)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	link := &catalog.ShareLink{AlbumID: albumID, Token: token}
	if req.CustomSlug != nil && *req.CustomSlug != "" {
		slug := catalog.Slugify(*req.CustomSlug)
		if slug == "" {
			s.sendError(w, http.StatusBadRequest, "invalid custom slug")
			return
		}
		link.CustomSlug = &slug
	}
	if req.Password != nil && *req.Password != "" {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, "failed to hash password")
			return
		}
		link.PasswordHash = &hash
	}
	if req.ExpiresInDays != nil && *req.ExpiresInDays > 0 {
		t := time.Now().AddDate(0, 0, *req.ExpiresInDays)
		link.ExpiresAt = &t
	}

	created, err := s.catalog.CreateShareLink(r.Context(), link)
	if err != nil {
		logging.Error("create share link", zap.Error(err))
		s.sendError(w, http.StatusConflict, "failed to create share link (slug taken?)")
		return
	}

	s.updateShareLinkGauge(r)
	logging.Info("share link created",
		zap.String("album_id", albumID), zap.String("share_id", created.ID))
	s.sendJSON(w, http.StatusCreated, toShareLinkResponse(created))
}

func (s *Server) handleRevokeShareLink(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.RevokeShareLink(r.Context(), r.PathValue("shareID")); err != nil {
		s.sendError(w, http.StatusNotFound, "share link not found")
		return
	}
	s.updateShareLinkGauge(r)
	s.sendJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

func (s *Server) updateShareLinkGauge(r *http.Request) {
	if count, err := s.catalog.CountActiveShareLinks(r.Context()); err == nil {
		metrics.SetShareLinksActive(count)
	}
}

// ─── Public access ──────────────────────────────────────────────────────────

// resolveUsableLink loads a share link by token or slug and enforces
// revocation, expiry, and the password, writing the error response on
// failure. Passwords arrive in the X-Share-Password header.
func (s *Server) resolveUsableLink(w http.ResponseWriter, r *http.Request) *catalog.ShareLink {
	link, err := s.catalog.ResolveShareLink(r.Context(), r.PathValue("token"))
	if err != nil {
		logging.Error("resolve share link", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return nil
	}
	if link == nil || !link.Usable() {
		s.sendError(w, http.StatusNotFound, "share link not found or expired")
		return nil
	}

	if link.IsPasswordProtected {
		password := r.Header.Get("X-Share-Password")
		if password == "" || link.PasswordHash == nil ||
			!auth.VerifyPassword(password, *link.PasswordHash) {
			s.sendJSON(w, http.StatusUnauthorized, map[string]any{
				"error":             "password required",
				"code":              http.StatusUnauthorized,
				"password_required": true,
			})
			return nil
		}
	}
	return link
}

// handleSharedVerify checks a password against a protected link without
// exposing album content.
func (s *Server) handleSharedVerify(w http.ResponseWriter, r *http.Request) {
	if !s.throttle(w, r) {
		return
	}
	link, err := s.catalog.ResolveShareLink(r.Context(), r.PathValue("token"))
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	if link == nil || !link.Usable() {
		s.sendError(w, http.StatusNotFound, "share link not found or expired")
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	valid := !link.IsPasswordProtected ||
		(link.PasswordHash != nil && auth.VerifyPassword(req.Password, *link.PasswordHash))
	s.sendJSON(w, http.StatusOK, map[string]any{"valid": valid})
}

// handleSharedAlbum returns the shared album with its photos. File URLs
// point back through the share so no admin token is needed to view them.
func (s *Server) handleSharedAlbum(w http.ResponseWriter, r *http.Request) {
	link := s.resolveUsableLink(w, r)
	if link == nil {
		return
	}

	album, err := s.catalog.GetAlbum(r.Context(), link.AlbumID)
	if err != nil || album == nil {
		s.sendError(w, http.StatusNotFound, "album not found")
		return
	}
	photos, err := s.catalog.ListAlbumPhotos(r.Context(), album.ID)
	if err != nil {
		logging.Error("list shared album photos", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}

	shareBase := "/api/v1/shared/" + r.PathValue("token") + "/files/"
	out := make([]*photoResponse, 0, len(photos))
	for _, pf := range photos {
		p := toPhotoResponse(pf)
		base := shareBase + pf.ID
		p.URLs = urlSet{
			Original:  base + "?variant=original",
			Web:       base + "?variant=web",
			Thumbnail: base + "?variant=thumbnail",
		}
		out = append(out, p)
	}

	resp := toAlbumResponse(album)
	resp.PhotoCount = len(photos)
	s.sendJSON(w, http.StatusOK, map[string]any{
		"album":  resp,
		"photos": out,
	})
}

// handleSharedFile serves a photo through a share link. The photo must
// belong to the shared album.
func (s *Server) handleSharedFile(w http.ResponseWriter, r *http.Request) {
	link := s.resolveUsableLink(w, r)
	if link == nil {
		return
	}

	pf, err := s.catalog.GetPhotoFile(r.Context(), r.PathValue("photoID"))
	if err != nil {
		logging.Error("get shared photo file", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	if pf == nil || pf.AlbumID == nil || *pf.AlbumID != link.AlbumID {
		s.sendError(w, http.StatusNotFound, "photo not found")
		return
	}
	s.serveVariant(w, r, pf)
}

// handleSharedDownload serves the shared album as a ZIP bundle.
func (s *Server) handleSharedDownload(w http.ResponseWriter, r *http.Request) {
	link := s.resolveUsableLink(w, r)
	if link == nil {
		return
	}

	album, err := s.catalog.GetAlbum(r.Context(), link.AlbumID)
	if err != nil || album == nil {
		s.sendError(w, http.StatusNotFound, "album not found")
		return
	}
	photos, err := s.catalog.ListAlbumPhotos(r.Context(), album.ID)
	if err != nil || len(photos) == 0 {
		s.sendError(w, http.StatusNotFound, "album is empty")
		return
	}

	zipName := fmt.Sprintf("%s-%d.zip", album.Slug, time.Now().UnixNano())
	zipPath := filepath.Join(os.TempDir(), zipName)
	if err := s.buildAlbumZip(zipPath, photos); err != nil {
		logging.Error("build shared album zip", zap.Error(err))
		os.Remove(zipPath)
		s.sendError(w, http.StatusInternalServerError, "failed to build archive")
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", album.Slug+".zip"))
	w.Header().Set("Content-Type", "application/zip")
	http.ServeFile(w, r, zipPath)
}
