package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ThumbnailName is the fixed thumbnail filename inside a published asset.
const ThumbnailName = "thumbnail.jpg"

// Thumbnailer extracts a single representative frame as a static image.
type Thumbnailer interface {
	Extract(ctx context.Context, sourcePath, outputPath string, offset time.Duration) error
}

// FFmpegThumbnailer grabs one frame with ffmpeg. Failure is reported to the
// caller but never fails the owning job.
type FFmpegThumbnailer struct {
	binary string
	logger *slog.Logger
}

// NewFFmpegThumbnailer builds a thumbnailer around the given ffmpeg binary.
func NewFFmpegThumbnailer(binary string, logger *slog.Logger) *FFmpegThumbnailer {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegThumbnailer{binary: binary, logger: logger}
}

// Extract writes a single frame taken at offset into outputPath.
func (t *FFmpegThumbnailer) Extract(ctx context.Context, sourcePath, outputPath string, offset time.Duration) error {
	if strings.TrimSpace(sourcePath) == "" {
		return fmt.Errorf("source path is required")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("prepare thumbnail directory: %w", err)
	}
	if offset < 0 {
		offset = 0
	}
	cmd := exec.CommandContext(ctx, t.binary,
		"-y",
		"-ss", fmt.Sprintf("%.3f", offset.Seconds()),
		"-i", sourcePath,
		"-vframes", "1",
		"-q:v", "2",
		outputPath,
	)
	cmd.Stdout = newProcessLogWriter(t.logger, filepath.Base(outputPath), "stdout")
	cmd.Stderr = newProcessLogWriter(t.logger, filepath.Base(outputPath), "stderr")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("extract thumbnail: %w", err)
	}
	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("thumbnail missing or empty")
	}
	return nil
}
