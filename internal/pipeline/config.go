package pipeline

import (
	"fmt"
	"strings"
	"time"

	"videoflix-pipeline/internal/models"
)

const (
	defaultWorkers           = 2
	defaultTierConcurrency   = 2
	defaultQueueDepth        = 64
	defaultTierTimeout       = 30 * time.Minute
	defaultHeartbeatInterval = 15 * time.Second
	defaultHeartbeatTimeout  = 2 * time.Minute
	defaultMaxAttempts       = 3
	defaultSegmentSeconds    = 10
	defaultThumbnailOffset   = 5 * time.Second
)

// DefaultTiers is the encoding ladder applied when a job does not request a
// specific tier set.
var DefaultTiers = []models.Tier{
	{Name: "1080p", Width: 1920, Height: 1080, Bitrate: 4800},
	{Name: "720p", Width: 1280, Height: 720, Bitrate: 2400},
	{Name: "480p", Width: 854, Height: 480, Bitrate: 800},
}

// Config carries the immutable pipeline settings handed to the scheduler at
// construction. Zero values are replaced by defaults in Normalize.
type Config struct {
	// Tiers is the rendition ladder offered to jobs.
	Tiers []models.Tier

	// SegmentSeconds is the fixed HLS segment duration shared by every tier
	// so adaptive switching stays aligned.
	SegmentSeconds int

	// Workers bounds how many jobs run concurrently across the pool.
	Workers int

	// TierConcurrency bounds how many rendition transcodes run in parallel
	// inside a single job.
	TierConcurrency int

	// QueueDepth bounds the queued-job backlog; enqueues beyond it are
	// rejected with QueueSaturated.
	QueueDepth int

	// TierTimeout is the wall-clock budget for one rendition transcode.
	TierTimeout time.Duration

	// HeartbeatInterval is how often a worker refreshes its claim.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is how long a processing job may go without a
	// heartbeat before it is reclaimable.
	HeartbeatTimeout time.Duration

	// MaxAttempts caps explicit re-enqueues of a failed job.
	MaxAttempts int

	// StagingRoot holds per-job work directories, never exposed to readers.
	StagingRoot string

	// PublishRoot is the asset tree served to clients; jobs move into it
	// with a single rename once ready.
	PublishRoot string

	// KeepFailedStaging retains the staging directory of failed attempts for
	// diagnostics instead of purging it.
	KeepFailedStaging bool

	// ThumbnailOffset selects the frame grabbed for the thumbnail. Inputs
	// shorter than the offset fall back to one second.
	ThumbnailOffset time.Duration

	// FFmpegPath and FFprobePath override the binaries resolved from PATH.
	FFmpegPath  string
	FFprobePath string
}

// Normalize fills defaults and validates the parts that have no sensible
// fallback.
func (c Config) Normalize() (Config, error) {
	if len(c.Tiers) == 0 {
		c.Tiers = append([]models.Tier(nil), DefaultTiers...)
	}
	for _, tier := range c.Tiers {
		if strings.TrimSpace(tier.Name) == "" {
			return Config{}, fmt.Errorf("tier name is required")
		}
		if tier.Width <= 0 || tier.Height <= 0 {
			return Config{}, fmt.Errorf("tier %s: dimensions are required", tier.Name)
		}
		if tier.Bitrate <= 0 {
			return Config{}, fmt.Errorf("tier %s: bitrate is required", tier.Name)
		}
	}
	if c.SegmentSeconds <= 0 {
		c.SegmentSeconds = defaultSegmentSeconds
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.TierConcurrency <= 0 {
		c.TierConcurrency = defaultTierConcurrency
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.TierTimeout <= 0 {
		c.TierTimeout = defaultTierTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return Config{}, fmt.Errorf("heartbeat timeout %s must exceed interval %s", c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if strings.TrimSpace(c.StagingRoot) == "" {
		return Config{}, fmt.Errorf("staging root is required")
	}
	if strings.TrimSpace(c.PublishRoot) == "" {
		return Config{}, fmt.Errorf("publish root is required")
	}
	if c.ThumbnailOffset <= 0 {
		c.ThumbnailOffset = defaultThumbnailOffset
	}
	if strings.TrimSpace(c.FFmpegPath) == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(c.FFprobePath) == "" {
		c.FFprobePath = "ffprobe"
	}
	return c, nil
}

// TierByName resolves a requested tier name against the configured ladder.
func (c Config) TierByName(name string) (models.Tier, bool) {
	for _, tier := range c.Tiers {
		if strings.EqualFold(tier.Name, name) {
			return tier, true
		}
	}
	return models.Tier{}, false
}
