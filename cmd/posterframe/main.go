// posterframe extracts poster frames for stored videos and writes their
// thumbnail and web variants. Frame extraction shells out to ffmpeg, so
// the tool runs out of band rather than inside the upload path.
//
// Usage:
//
//	posterframe -upload-dir /data/uploads [-force] [-seek 1.0]
package main

import (
	"flag"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"

	"github.com/clientpix/clientpix/internal/logging"
	"github.com/clientpix/clientpix/internal/storage"
)

func main() {
	uploadDir := flag.String("upload-dir", "./uploads", "storage root directory")
	force := flag.Bool("force", false, "regenerate posters that already exist")
	seek := flag.Float64("seek", 1.0, "timestamp in seconds to grab the frame from")
	flag.Parse()

	if err := logging.Init(logging.Config{Level: "info", Format: "console"}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		logging.Fatal("ffmpeg not found in PATH")
	}

	store, err := storage.New(*uploadDir, storage.Options{})
	if err != nil {
		logging.Fatal("content store init failed", zap.Error(err))
	}

	videos, err := filepath.Glob(filepath.Join(*uploadDir, "videos", "*"))
	if err != nil {
		logging.Fatal("scan videos", zap.Error(err))
	}

	done, skipped, failed := 0, 0, 0
	for _, path := range videos {
		name := filepath.Base(path)
		ext := filepath.Ext(name)
		identity := strings.TrimSuffix(name, ext)
		if identity == "" || ext == "" {
			continue
		}

		if !*force && store.Exists(identity, storage.VariantThumbnail, ext, true) {
			skipped++
			continue
		}

		if err := extractPoster(store, path, identity, *seek); err != nil {
			logging.Warn("poster extraction failed",
				zap.String("video", name), zap.Error(err))
			failed++
			continue
		}
		logging.Info("poster written", zap.String("video", name))
		done++
	}

	logging.Info("posterframe finished",
		zap.Int("written", done),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed))
	if failed > 0 {
		os.Exit(1)
	}
}

// extractPoster grabs one frame from the video and stores it as the
// poster variants. Seeking past the end of very short clips falls back
// to the first frame.
func extractPoster(store *storage.Store, videoPath, identity string, seek float64) error {
	framePath := filepath.Join(os.TempDir(), "posterframe_"+identity+".png")
	defer os.Remove(framePath)

	if seek > 0 {
		if d, err := probeDuration(videoPath); err == nil && d <= seek {
			seek = 0
		}
	}

	cmd := exec.Command("ffmpeg",
		"-ss", strconv.FormatFloat(seek, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-y", framePath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, lastLine(out))
	}

	f, err := os.Open(framePath)
	if err != nil {
		return fmt.Errorf("open frame: %w", err)
	}
	frame, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	return store.WritePosterFrames(identity, frame)
}

func probeDuration(videoPath string) (float64, error) {
	out, err := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	).Output()
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
