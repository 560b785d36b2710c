package api

import (
	"archive/zip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/clientpix/clientpix/internal/catalog"
	"github.com/clientpix/clientpix/internal/logging"
	"github.com/clientpix/clientpix/internal/metrics"
	"github.com/clientpix/clientpix/internal/storage"
)

type albumResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Slug         string    `json:"slug"`
	Description  *string   `json:"description"`
	CoverPhotoID *string   `json:"cover_photo_id"`
	PhotoCount   int       `json:"photo_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type photoResponse struct {
	ID               string     `json:"id"`
	AlbumID          *string    `json:"album_id"`
	OriginalFilename string     `json:"original_filename"`
	IsVideo          bool       `json:"is_video"`
	SortOrder        int        `json:"sort_order"`
	Caption          *string    `json:"caption"`
	CapturedAt       *time.Time `json:"captured_at"`
	Width            int        `json:"width"`
	Height           int        `json:"height"`
	FileSize         int64      `json:"file_size"`
	MIMEType         string     `json:"mime_type"`
	URLs             urlSet     `json:"urls"`
	CreatedAt        time.Time  `json:"created_at"`
}

type urlSet struct {
	Original  string `json:"original"`
	Web       string `json:"web"`
	Thumbnail string `json:"thumbnail"`
}

func toAlbumResponse(a *catalog.Album) albumResponse {
	return albumResponse{
		ID:           a.ID,
		Title:        a.Title,
		Slug:         a.Slug,
		Description:  a.Description,
		CoverPhotoID: a.CoverPhotoID,
		PhotoCount:   a.PhotoCount,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func toPhotoResponse(pf *catalog.PhotoFile) *photoResponse {
	base := "/api/v1/files/" + pf.ID
	return &photoResponse{
		ID:               pf.ID,
		AlbumID:          pf.AlbumID,
		OriginalFilename: pf.OriginalFilename,
		IsVideo:          pf.IsVideo,
		SortOrder:        pf.SortOrder,
		Caption:          pf.Caption,
		CapturedAt:       pf.CapturedAt,
		Width:            pf.Width,
		Height:           pf.Height,
		FileSize:         pf.FileSize,
		MIMEType:         pf.MIMEType,
		URLs: urlSet{
			Original:  base + "?variant=original",
			Web:       base + "?variant=web",
			Thumbnail: base + "?variant=thumbnail",
		},
		CreatedAt: pf.CreatedAt,
	}
}

// ─── Album CRUD ─────────────────────────────────────────────────────────────

func (s *Server) handleListAlbums(w http.ResponseWriter, r *http.Request) {
	albums, err := s.catalog.ListAlbums(r.Context())
	if err != nil {
		logging.Error("list albums", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	out := make([]albumResponse, 0, len(albums))
	for _, a := range albums {
		out = append(out, toAlbumResponse(a))
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"albums": out})
}

func (s *Server) handleCreateAlbum(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string  `json:"title"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		s.sendError(w, http.StatusBadRequest, "title is required")
		return
	}

	album, err := s.catalog.CreateAlbum(r.Context(), req.Title, req.Description)
	if err != nil {
		logging.Error("create album", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	logging.Info("album created",
		zap.String("album_id", album.ID), zap.String("slug", album.Slug))
	s.sendJSON(w, http.StatusCreated, toAlbumResponse(album))
}

func (s *Server) handleGetAlbum(w http.ResponseWriter, r *http.Request) {
	album, err := s.catalog.GetAlbum(r.Context(), r.PathValue("albumID"))
	if err != nil {
		logging.Error("get album", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	if album == nil {
		s.sendError(w, http.StatusNotFound, "album not found")
		return
	}

	photos, err := s.catalog.ListAlbumPhotos(r.Context(), album.ID)
	if err != nil {
		logging.Error("list album photos", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}

	out := make([]*photoResponse, 0, len(photos))
	for _, pf := range photos {
		out = append(out, toPhotoResponse(pf))
	}
	resp := toAlbumResponse(album)
	resp.PhotoCount = len(photos)
	s.sendJSON(w, http.StatusOK, map[string]any{
		"album":  resp,
		"photos": out,
	})
}

func (s *Server) handleUpdateAlbum(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title        string  `json:"title"`
		Description  *string `json:"description"`
		CoverPhotoID *string `json:"cover_photo_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		s.sendError(w, http.StatusBadRequest, "title is required")
		return
	}

	album, err := s.catalog.UpdateAlbum(r.Context(), r.PathValue("albumID"),
		req.Title, req.Description, req.CoverPhotoID)
	if err != nil {
		logging.Error("update album", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	if album == nil {
		s.sendError(w, http.StatusNotFound, "album not found")
		return
	}
	s.sendJSON(w, http.StatusOK, toAlbumResponse(album))
}

// handleDeleteAlbum removes an album with all its photos. The catalog
// rows go first in one transaction; only records whose reference count
// reached zero have their files removed afterwards.
func (s *Server) handleDeleteAlbum(w http.ResponseWriter, r *http.Request) {
	albumID := r.PathValue("albumID")
	orphans, err := s.catalog.RemoveAlbum(r.Context(), albumID)
	if err == sql.ErrNoRows {
		s.sendError(w, http.StatusNotFound, "album not found")
		return
	}
	if err != nil {
		logging.Error("delete album", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}

	removed := 0
	for _, o := range orphans {
		if s.removeOrphanFiles(r, o) {
			removed++
		}
	}

	logging.Info("album deleted",
		zap.String("album_id", albumID),
		zap.Int("orphaned_files", len(orphans)),
		zap.Int("files_removed", removed))
	s.sendJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// ─── Photos ─────────────────────────────────────────────────────────────────

func (s *Server) handleUpdatePhoto(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caption   *string `json:"caption"`
		SortOrder int     `json:"sort_order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	photo, err := s.catalog.UpdatePhoto(r.Context(), r.PathValue("photoID"),
		req.Caption, req.SortOrder)
	if err != nil {
		logging.Error("update photo", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	if photo == nil {
		s.sendError(w, http.StatusNotFound, "photo not found")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"updated": true})
}

// handleDeletePhoto removes a photo. When it was the last reference to
// its file record, the stored files are deleted and, if every path was
// removed cleanly, the record itself follows.
func (s *Server) handleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	photoID := r.PathValue("photoID")
	photo, err := s.catalog.GetPhoto(r.Context(), photoID)
	if err != nil {
		logging.Error("get photo", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	if photo == nil {
		s.sendError(w, http.StatusNotFound, "photo not found")
		return
	}

	orphan, err := s.catalog.RemovePhoto(r.Context(), photoID)
	if err != nil {
		logging.Error("delete photo", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}

	filesRemoved := false
	if orphan != nil {
		filesRemoved = s.removeOrphanFiles(r, *orphan)
	}

	if count, err := s.catalog.CountFileHashes(r.Context()); err == nil {
		metrics.SetTrackedFileHashes(count)
	}

	logging.Info("photo deleted",
		zap.String("photo_id", photoID),
		zap.Bool("files_removed", filesRemoved))
	s.sendJSON(w, http.StatusOK, map[string]any{
		"deleted":       true,
		"files_removed": filesRemoved,
	})
}

// removeOrphanFiles deletes an orphaned record's files from disk and,
// when every path was removed, the file hash record. On partial failure
// the record is kept so a later pass can retry; the photo row is already
// gone either way.
func (s *Server) removeOrphanFiles(r *http.Request, o catalog.OrphanedFile) bool {
	res := s.store.DeleteAll(o.Identity, o.FileExtension, o.IsVideo)
	for _, f := range res.Failed {
		logging.Warn("failed to remove stored file",
			zap.String("path", f.Path), zap.Error(f.Err))
	}
	if len(res.Failed) > 0 {
		return false
	}
	if err := s.catalog.DeleteFileHash(r.Context(), o.FileHashID); err != nil {
		logging.Error("delete file hash record",
			zap.String("file_hash_id", o.FileHashID), zap.Error(err))
		return false
	}
	return true
}

// ─── Downloads ──────────────────────────────────────────────────────────────

func (s *Server) handlePhotoDownload(w http.ResponseWriter, r *http.Request) {
	pf, err := s.catalog.GetPhotoFile(r.Context(), r.PathValue("photoID"))
	if err != nil {
		logging.Error("get photo file", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	if pf == nil {
		s.sendError(w, http.StatusNotFound, "photo not found")
		return
	}

	path := s.store.ResolvePath(pf.Identity, storage.VariantOriginal, pf.FileExtension, pf.IsVideo)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", pf.OriginalFilename))
	w.Header().Set("Content-Type", pf.MIMEType)
	metrics.RecordFileServed("download", pf.FileSize)
	http.ServeFile(w, r, path)
}

// handleAlbumDownload bundles an album's originals into a ZIP written to
// the temp directory and serves it. The bundle is not deleted here; the
// cleanup sweeper reclaims stale ZIP files on its age rule.
func (s *Server) handleAlbumDownload(w http.ResponseWriter, r *http.Request) {
	album, err := s.catalog.GetAlbum(r.Context(), r.PathValue("albumID"))
	if err != nil {
		logging.Error("get album", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	if album == nil {
		s.sendError(w, http.StatusNotFound, "album not found")
		return
	}

	photos, err := s.catalog.ListAlbumPhotos(r.Context(), album.ID)
	if err != nil {
		logging.Error("list album photos", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	if len(photos) == 0 {
		s.sendError(w, http.StatusNotFound, "album is empty")
		return
	}

	zipName := fmt.Sprintf("%s-%d.zip", album.Slug, time.Now().UnixNano())
	zipPath := filepath.Join(os.TempDir(), zipName)
	if err := s.buildAlbumZip(zipPath, photos); err != nil {
		logging.Error("build album zip", zap.Error(err))
		os.Remove(zipPath)
		s.sendError(w, http.StatusInternalServerError, "failed to build archive")
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", album.Slug+".zip"))
	w.Header().Set("Content-Type", "application/zip")
	http.ServeFile(w, r, zipPath)
}

func (s *Server) buildAlbumZip(zipPath string, photos []*catalog.PhotoFile) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create zip: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	seen := make(map[string]int)
	for _, pf := range photos {
		name := pf.OriginalFilename
		if n := seen[name]; n > 0 {
			ext := filepath.Ext(name)
			name = fmt.Sprintf("%s_%d%s", name[:len(name)-len(ext)], n, ext)
		}
		seen[pf.OriginalFilename]++

		src, err := os.Open(s.store.ResolvePath(pf.Identity, storage.VariantOriginal, pf.FileExtension, pf.IsVideo))
		if err != nil {
			logging.Warn("skipping missing file in album archive",
				zap.String("photo_id", pf.ID), zap.Error(err))
			continue
		}
		entry, err := zw.Create(name)
		if err == nil {
			_, err = io.Copy(entry, src)
		}
		src.Close()
		if err != nil {
			zw.Close()
			return fmt.Errorf("write zip entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize zip: %w", err)
	}
	return out.Close()
}
