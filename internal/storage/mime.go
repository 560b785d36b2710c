package storage

import (
	"path/filepath"
	"strings"
)

// imageMIMETypes maps image extensions to MIME types. Files with these
// extensions are deduplicated by SHA-256 and get derived variants.
var imageMIMETypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".bmp":  "image/bmp",
	".raw":  "image/raw",
	".cr2":  "image/x-canon-cr2",
	".cr3":  "image/x-canon-cr3",
	".nef":  "image/x-nikon-nef",
	".arw":  "image/x-sony-arw",
}

// videoMIMETypes maps video extensions to MIME types. Videos skip hashing
// and variant derivation.
var videoMIMETypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".3gp":  "video/3gpp",
	".mts":  "video/mp2t",
	".m2ts": "video/mp2t",
}

// IsImage reports whether the extension is a recognized image format.
func IsImage(ext string) bool {
	_, ok := imageMIMETypes[strings.ToLower(ext)]
	return ok
}

// IsVideo reports whether the extension is a recognized video format.
func IsVideo(ext string) bool {
	_, ok := videoMIMETypes[strings.ToLower(ext)]
	return ok
}

// MIMEType returns the MIME type for a file extension, falling back to
// application/octet-stream for unrecognized types.
func MIMEType(ext string) string {
	e := strings.ToLower(ext)
	if m, ok := imageMIMETypes[e]; ok {
		return m
	}
	if m, ok := videoMIMETypes[e]; ok {
		return m
	}
	return "application/octet-stream"
}

// normalizeExt extracts the lowercased extension from a filename, falling
// back to .bin when there is none.
func normalizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".bin"
	}
	return ext
}
