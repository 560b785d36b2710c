package api

import (
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/clientpix/clientpix/internal/catalog"
	"github.com/clientpix/clientpix/internal/logging"
	"github.com/clientpix/clientpix/internal/metrics"
	"github.com/clientpix/clientpix/internal/storage"
)

// handleFile serves a photo's stored bytes. The variant query parameter
// selects original, web, or thumbnail; derived variants fall back to the
// original when missing rather than erroring.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
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
	s.serveVariant(w, r, pf)
}

func (s *Server) serveVariant(w http.ResponseWriter, r *http.Request, pf *catalog.PhotoFile) {
	variant, err := parseVariant(r.URL.Query().Get("variant"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	path := s.store.ResolvePath(pf.Identity, variant, pf.FileExtension, pf.IsVideo)
	contentType := pf.MIMEType
	if variant != storage.VariantOriginal && (!pf.IsVideo || variant == storage.VariantThumbnail) {
		contentType = "image/webp"
	}

	info, err := os.Stat(path)
	if err != nil {
		if variant == storage.VariantOriginal {
			s.sendError(w, http.StatusNotFound, "file not found")
			return
		}
		// Derived image variants can be rebuilt from the original on the
		// spot. Video posters cannot (they need ffmpeg), so those fall
		// through to the original.
		if !pf.IsVideo {
			if found, derr := s.store.RegenerateVariants(pf.Identity, pf.FileExtension); found && derr == nil {
				info, err = os.Stat(path)
			} else if derr != nil {
				logging.Warn("variant regeneration on serve failed",
					zap.String("identity", pf.Identity), zap.Error(derr))
			}
		}
		if err != nil {
			// Serve the original instead
			path = s.store.ResolvePath(pf.Identity, storage.VariantOriginal, pf.FileExtension, pf.IsVideo)
			contentType = pf.MIMEType
			info, err = os.Stat(path)
			if err != nil {
				s.sendError(w, http.StatusNotFound, "file not found")
				return
			}
		}
	}

	// Content-addressed files never change, so clients may cache forever
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", `"`+pf.Identity+`-`+string(variant)+`"`)

	metrics.RecordFileServed(string(variant), info.Size())
	http.ServeFile(w, r, path)
}

func parseVariant(v string) (storage.Variant, error) {
	switch v {
	case "", "original":
		return storage.VariantOriginal, nil
	case "web":
		return storage.VariantWeb, nil
	case "thumbnail", "thumb":
		return storage.VariantThumbnail, nil
	default:
		return "", errInvalidVariant
	}
}

type variantError string

func (e variantError) Error() string { return string(e) }

const errInvalidVariant = variantError("variant must be one of original, web, thumbnail")
