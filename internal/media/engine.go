package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"videoflix-pipeline/internal/models"
)

const (
	// VariantPlaylistName is the playlist filename inside each tier
	// directory; the master playlist references it by relative path.
	VariantPlaylistName = "index.m3u8"

	segmentPattern = "segment_%05d.ts"
)

// TranscodeParams describes one tier invocation. Invocations are independent
// and order-insensitive; the caller bounds concurrency and wall-clock budget
// through the context.
type TranscodeParams struct {
	JobID          string
	SourcePath     string
	Tier           models.Tier
	OutputDir      string
	SegmentSeconds int

	// FrameRate caps the GOP length at one segment. Zero falls back to the
	// default of 30 frames per second.
	FrameRate float64
}

// TierOutput reports the artifacts produced for one tier.
type TierOutput struct {
	PlaylistPath string
	SegmentCount int
}

// Engine produces HLS segments and a variant playlist for one tier.
type Engine interface {
	Transcode(ctx context.Context, params TranscodeParams) (TierOutput, error)
}

// FFmpegEngine drives the external ffmpeg process. All tiers share the same
// segment duration and forced keyframe cadence so the resulting variants stay
// switch-aligned; the alignment itself is ffmpeg's job, not this wrapper's.
type FFmpegEngine struct {
	binary string
	logger *slog.Logger
}

// NewFFmpegEngine builds an engine around the given ffmpeg binary.
func NewFFmpegEngine(binary string, logger *slog.Logger) *FFmpegEngine {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegEngine{binary: binary, logger: logger}
}

// Transcode runs one tier to completion. Failures are classified as
// EncodeFailure (nonzero exit), Timeout (context budget exceeded), or
// OutputIncomplete (clean exit with missing or empty artifacts).
func (e *FFmpegEngine) Transcode(ctx context.Context, params TranscodeParams) (TierOutput, error) {
	if strings.TrimSpace(params.SourcePath) == "" {
		return TierOutput{}, models.Errorf(models.KindEncodeFailure, "source path is required")
	}
	if params.SegmentSeconds <= 0 {
		return TierOutput{}, models.Errorf(models.KindEncodeFailure, "segment duration is required")
	}
	if err := os.MkdirAll(params.OutputDir, 0o755); err != nil {
		return TierOutput{}, models.NewError(models.KindEncodeFailure, "prepare output directory", err)
	}

	playlist := filepath.Join(params.OutputDir, VariantPlaylistName)
	args := buildTierArgs(params, playlist)

	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Stdout = newProcessLogWriter(e.logger, params.JobID, "stdout")
	cmd.Stderr = newProcessLogWriter(e.logger, params.JobID, "stderr")
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			return TierOutput{}, models.Errorf(models.KindTimeout, "tier %s exceeded its transcode budget", params.Tier.Name)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return TierOutput{}, models.NewError(models.KindCancelled, "tier "+params.Tier.Name+" cancelled", ctx.Err())
		}
		return TierOutput{}, models.NewError(models.KindEncodeFailure, "ffmpeg exited abnormally for tier "+params.Tier.Name, err)
	}

	count, err := verifyTierOutput(params.OutputDir, playlist)
	if err != nil {
		return TierOutput{}, err
	}
	return TierOutput{PlaylistPath: playlist, SegmentCount: count}, nil
}

const defaultFrameRate = 30

// buildTierArgs mirrors the ladder settings of the encoding pipeline: scale
// to the tier's dimensions, cap the bitrate, and force keyframes onto segment
// boundaries so every tier cuts at the same timestamps. The GOP cap keeps
// encoder-inserted keyframes from drifting past a segment.
func buildTierArgs(params TranscodeParams, playlist string) []string {
	tier := params.Tier
	seg := params.SegmentSeconds
	fps := params.FrameRate
	if fps <= 0 {
		fps = defaultFrameRate
	}
	gop := int(fps*float64(seg) + 0.5)
	return []string{
		"-y",
		"-i", params.SourcePath,
		"-vf", fmt.Sprintf("scale=%d:%d", tier.Width, tier.Height),
		"-c:v", "libx264",
		"-crf", "23",
		"-maxrate", fmt.Sprintf("%dk", tier.Bitrate),
		"-bufsize", fmt.Sprintf("%dk", tier.Bitrate*2),
		"-preset", "veryfast",
		"-g", fmt.Sprintf("%d", gop),
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", seg),
		"-c:a", "aac",
		"-b:a", "128k",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", seg),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(params.OutputDir, segmentPattern),
		playlist,
	}
}

func verifyTierOutput(outputDir, playlist string) (int, error) {
	info, err := os.Stat(playlist)
	if err != nil || info.Size() == 0 {
		return 0, models.Errorf(models.KindOutputIncomplete, "variant playlist missing or empty")
	}
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return 0, models.NewError(models.KindOutputIncomplete, "read output directory", err)
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ts") {
			continue
		}
		segInfo, err := entry.Info()
		if err != nil || segInfo.Size() == 0 {
			return 0, models.Errorf(models.KindOutputIncomplete, "segment %s is empty", entry.Name())
		}
		count++
	}
	if count == 0 {
		return 0, models.Errorf(models.KindOutputIncomplete, "no segments were produced")
	}
	return count, nil
}
