package api

import (
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"go.uber.org/zap"

	"github.com/clientpix/clientpix/internal/catalog"
	"github.com/clientpix/clientpix/internal/logging"
	"github.com/clientpix/clientpix/internal/metrics"
	"github.com/clientpix/clientpix/internal/storage"
)

type uploadResult struct {
	FileName  string         `json:"file_name"`
	Photo     *photoResponse `json:"photo,omitempty"`
	Duplicate bool           `json:"duplicate"`
	Error     string         `json:"error,omitempty"`
}

// handleUpload ingests one or more files into an album. Each file is
// processed independently; a failure on one does not abort the rest.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
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

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		s.sendError(w, http.StatusBadRequest, "no files provided")
		return
	}

	results := make([]uploadResult, 0, len(files))
	created := 0
	for _, fh := range files {
		res := s.ingestOne(r, album.ID, fh)
		if res.Error == "" {
			created++
		}
		results = append(results, res)
	}

	status := http.StatusCreated
	if created == 0 {
		status = http.StatusBadRequest
	}
	s.sendJSON(w, status, map[string]any{
		"results":  results,
		"uploaded": created,
	})
}

func (s *Server) ingestOne(r *http.Request, albumID string, fh *multipart.FileHeader) uploadResult {
	res := uploadResult{FileName: fh.Filename}

	f, err := fh.Open()
	if err != nil {
		res.Error = "failed to read file"
		return res
	}
	defer f.Close()

	start := time.Now()
	stored, err := s.store.Ingest(r.Context(), f, fh.Filename)
	if err != nil {
		kind := "image"
		if stored != nil && stored.IsVideo {
			kind = "video"
		}
		metrics.RecordIngest(kind, 0, time.Since(start), false)
		logging.Error("ingest failed",
			zap.String("file", fh.Filename), zap.Error(err))
		res.Error = "storage failure"
		return res
	}

	kind := "image"
	if stored.IsVideo {
		kind = "video"
	}
	metrics.RecordIngest(kind, stored.FileSize, time.Since(start), true)
	if stored.IsDuplicate {
		metrics.RecordDuplicate()
	}

	photo, err := s.registerPhoto(r, albumID, fh.Filename, stored)
	if err != nil {
		logging.Error("register photo",
			zap.String("file", fh.Filename), zap.Error(err))
		res.Error = "database failure"
		return res
	}

	res.Photo = photo
	res.Duplicate = stored.IsDuplicate
	return res
}

// registerPhoto records an ingested file in the catalog: the reference
// counted file record plus the photo row pointing at it.
func (s *Server) registerPhoto(r *http.Request, albumID, filename string, stored *storage.StoredFile) (*photoResponse, error) {
	fileHash, err := s.catalog.CreateOrIncrementFileHash(r.Context(), &catalog.FileHash{
		Identity:      stored.ID,
		StoragePath:   stored.StoragePath,
		FileExtension: stored.FileExtension,
		MIMEType:      stored.MIMEType,
		FileSize:      stored.FileSize,
		Width:         stored.Width,
		Height:        stored.Height,
	})
	if err != nil {
		return nil, err
	}

	sortOrder, err := s.catalog.NextSortOrder(r.Context(), albumID)
	if err != nil {
		return nil, err
	}

	var capturedAt *time.Time
	if !stored.IsVideo {
		capturedAt = exifCapturedAt(s.store.ResolvePath(stored.ID, storage.VariantOriginal, stored.FileExtension, false))
	}

	photo, err := s.catalog.CreatePhoto(r.Context(), &catalog.Photo{
		AlbumID:          &albumID,
		FileHashID:       fileHash.ID,
		OriginalFilename: filename,
		IsVideo:          stored.IsVideo,
		SortOrder:        sortOrder,
		CapturedAt:       capturedAt,
	})
	if err != nil {
		return nil, err
	}

	if count, err := s.catalog.CountFileHashes(r.Context()); err == nil {
		metrics.SetTrackedFileHashes(count)
	}

	return toPhotoResponse(&catalog.PhotoFile{
		Photo:         *photo,
		Identity:      fileHash.Identity,
		FileExtension: fileHash.FileExtension,
		MIMEType:      fileHash.MIMEType,
		FileSize:      fileHash.FileSize,
		Width:         fileHash.Width,
		Height:        fileHash.Height,
	}), nil
}

// exifCapturedAt reads the capture timestamp from an image's EXIF data.
// Returns nil when the file has no usable EXIF.
func exifCapturedAt(path string) *time.Time {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return nil
	}
	t, err := x.DateTime()
	if err != nil {
		return nil
	}
	return &t
}
