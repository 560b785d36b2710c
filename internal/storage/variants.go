package storage

import (
	"bytes"
	"fmt"
	"image"

	// Register decoders for every format the ingest pipeline can derive
	// variants from. RAW camera formats stay undecodable on purpose: their
	// originals are stored as-is with zero dimensions.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/clientpix/clientpix/internal/metrics"
)

const (
	// Thumbnail for grid views: longest side capped at 800px, sized for
	// retina displays.
	thumbMaxDimension = 800
	thumbQuality      = 90

	// Web variant for lightbox viewing, higher quality for full screen.
	webQuality = 92
)

// deriveVariants decodes the stored original and writes the thumbnail and
// web WebP variants through Write. Resizing is CPU-bound, so the work
// holds one of the store's bounded derive slots; concurrent ingestions
// queue here instead of oversubscribing the CPU.
func (s *Store) deriveVariants(identity, originalPath string) (err error) {
	s.deriveSlots <- struct{}{}
	defer func() { <-s.deriveSlots }()
	defer func() { metrics.RecordVariantDerivation(err == nil) }()

	// AutoOrientation bakes the EXIF rotation into the pixels so the
	// derived variants render upright everywhere. Decoding to NRGBA also
	// collapses alpha and indexed modes into something WebP can encode.
	img, err := imaging.Open(originalPath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode %s: %w", originalPath, err)
	}

	thumb := imaging.Fit(img, thumbMaxDimension, thumbMaxDimension, imaging.Lanczos)
	if err := s.writeWebP(identity, VariantThumbnail, thumb, thumbQuality); err != nil {
		return err
	}

	web := img
	bounds := img.Bounds()
	if bounds.Dx() > s.webMaxDimension || bounds.Dy() > s.webMaxDimension {
		// Downscale only, never upscale.
		web = imaging.Fit(img, s.webMaxDimension, s.webMaxDimension, imaging.Lanczos)
	}
	return s.writeWebP(identity, VariantWeb, web, webQuality)
}

// WritePosterFrames derives the thumbnail and web variants for a video
// from an extracted poster frame. Frame extraction itself happens out of
// process; this only resizes and encodes.
func (s *Store) WritePosterFrames(identity string, frame image.Image) error {
	thumb := imaging.Fit(frame, thumbMaxDimension, thumbMaxDimension, imaging.Lanczos)
	if err := s.writeWebP(identity, VariantThumbnail, thumb, thumbQuality); err != nil {
		return err
	}

	web := frame
	bounds := frame.Bounds()
	if bounds.Dx() > s.webMaxDimension || bounds.Dy() > s.webMaxDimension {
		web = imaging.Fit(frame, s.webMaxDimension, s.webMaxDimension, imaging.Lanczos)
	}
	return s.writeWebP(identity, VariantWeb, web, webQuality)
}

func (s *Store) writeWebP(identity string, variant Variant, img image.Image, quality float32) error {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode %s variant: %w", variant, err)
	}
	if err := s.Write(identity, variant, buf.Bytes()); err != nil {
		return fmt.Errorf("store %s variant: %w", variant, err)
	}
	return nil
}
