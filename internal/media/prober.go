// Package media wraps the external ffmpeg/ffprobe processes behind the
// prober, transcode engine, thumbnail, and manifest building primitives used
// by the pipeline scheduler.
package media

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"videoflix-pipeline/internal/models"
)

// ProbeResult summarizes a validated source file.
type ProbeResult struct {
	Duration   time.Duration
	Container  string
	VideoCodec string
	AudioCodec string
	Width      int
	Height     int

	// FrameRate is the average frame rate of the selected video stream, zero
	// when ffprobe does not report one.
	FrameRate float64
}

// Prober inspects a source file before any rendition work begins.
type Prober interface {
	Probe(ctx context.Context, sourcePath string) (ProbeResult, error)
}

// ProberConfig controls the ffprobe invocation and the input allow-list.
type ProberConfig struct {
	Binary            string
	AllowedContainers []string
	AllowedCodecs     []string
}

var (
	defaultContainers = []string{"mp4", "mov", "mkv", "matroska", "webm", "avi"}
	defaultCodecs     = []string{"h264", "hevc", "vp8", "vp9", "mpeg4", "av1"}
)

// FFprobeProber shells out to ffprobe and validates the result against the
// configured container and codec allow-lists.
type FFprobeProber struct {
	binary     string
	containers map[string]struct{}
	codecs     map[string]struct{}
}

// NewFFprobeProber builds a prober, falling back to the stock allow-lists
// when none are configured.
func NewFFprobeProber(cfg ProberConfig) *FFprobeProber {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = "ffprobe"
	}
	containers := cfg.AllowedContainers
	if len(containers) == 0 {
		containers = defaultContainers
	}
	codecs := cfg.AllowedCodecs
	if len(codecs) == 0 {
		codecs = defaultCodecs
	}
	prober := &FFprobeProber{
		binary:     binary,
		containers: make(map[string]struct{}, len(containers)),
		codecs:     make(map[string]struct{}, len(codecs)),
	}
	for _, name := range containers {
		prober.containers[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	for _, name := range codecs {
		prober.codecs[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return prober
}

type probePayload struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

// Probe runs ffprobe against the source file. It is read-only and reports
// UnreadableMedia when the file cannot be decoded and UnsupportedFormat when
// the container or video codec falls outside the allow-list.
func (p *FFprobeProber) Probe(ctx context.Context, sourcePath string) (ProbeResult, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return ProbeResult{}, models.Errorf(models.KindUnreadableMedia, "source path is required")
	}
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		sourcePath,
	)
	output, err := cmd.Output()
	if err != nil {
		return ProbeResult{}, models.NewError(models.KindUnreadableMedia, "ffprobe could not read input", err)
	}
	var payload probePayload
	if err := json.Unmarshal(output, &payload); err != nil {
		return ProbeResult{}, models.NewError(models.KindUnreadableMedia, "ffprobe output could not be parsed", err)
	}

	result := ProbeResult{Container: strings.TrimSpace(payload.Format.FormatName)}
	if payload.Format.Duration != "" {
		if seconds, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil && seconds > 0 {
			result.Duration = time.Duration(seconds * float64(time.Second))
		}
	}
	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video":
			if result.VideoCodec == "" {
				result.VideoCodec = strings.ToLower(stream.CodecName)
				result.Width = stream.Width
				result.Height = stream.Height
				result.FrameRate = parseFrameRate(stream.AvgFrameRate)
			}
		case "audio":
			if result.AudioCodec == "" {
				result.AudioCodec = strings.ToLower(stream.CodecName)
			}
		}
	}

	if result.VideoCodec == "" {
		return ProbeResult{}, models.Errorf(models.KindUnsupportedFormat, "input has no video stream")
	}
	if !p.containerAllowed(result.Container) {
		return ProbeResult{}, models.Errorf(models.KindUnsupportedFormat, "container %q is not allowed", result.Container)
	}
	if _, ok := p.codecs[result.VideoCodec]; !ok {
		return ProbeResult{}, models.Errorf(models.KindUnsupportedFormat, "video codec %q is not allowed", result.VideoCodec)
	}
	return result, nil
}

// ffprobe reports frame rates as a rational, e.g. "30000/1001". A zero
// denominator means the stream carries no rate.
func parseFrameRate(rational string) float64 {
	num, den, found := strings.Cut(strings.TrimSpace(rational), "/")
	if !found {
		if value, err := strconv.ParseFloat(num, 64); err == nil && value > 0 {
			return value
		}
		return 0
	}
	numerator, err := strconv.ParseFloat(num, 64)
	if err != nil || numerator <= 0 {
		return 0
	}
	denominator, err := strconv.ParseFloat(den, 64)
	if err != nil || denominator <= 0 {
		return 0
	}
	return numerator / denominator
}

// ffprobe reports the container as a comma separated alias list, e.g.
// "mov,mp4,m4a,3gp,3g2,mj2". Any allowed alias accepts the input.
func (p *FFprobeProber) containerAllowed(formatName string) bool {
	for _, alias := range strings.Split(formatName, ",") {
		if _, ok := p.containers[strings.ToLower(strings.TrimSpace(alias))]; ok {
			return true
		}
	}
	return false
}
