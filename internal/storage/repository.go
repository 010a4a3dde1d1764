// Package storage persists transcode job records and the published-assets
// index. It is the single source of truth consumed by the scheduler and the
// status API.
package storage

import (
	"context"
	"errors"
	"time"

	"videoflix-pipeline/internal/models"
)

var (
	// ErrJobNotFound indicates the referenced job id does not exist.
	ErrJobNotFound = errors.New("transcode job not found")

	// ErrVideoNotFound indicates no job history exists for the video.
	ErrVideoNotFound = errors.New("video has no transcode jobs")

	// ErrActiveJobExists guards the one-active-job-per-video invariant at
	// enqueue time.
	ErrActiveJobExists = errors.New("an active transcode job already exists for this video")

	// ErrNotClaimable indicates a claim attempt raced another worker or the
	// job left the queued state.
	ErrNotClaimable = errors.New("job is not claimable")

	// ErrNotClaimOwner indicates a worker tried to touch a job claimed by
	// another worker.
	ErrNotClaimOwner = errors.New("job is claimed by another worker")

	// ErrInvalidTransition indicates a state machine violation, e.g. failing
	// a job that already reached a terminal state.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// CreateJobParams describes a job admission request.
type CreateJobParams struct {
	VideoID    string
	SourcePath string
	Filename   string
	Tiers      []models.Tier
}

// Repository exposes the job record operations required by the scheduler and
// the API adapter. Implementations must serialize writes per job id.
type Repository interface {
	Ping(ctx context.Context) error

	// CreateJob admits a new job in the queued state. It enforces the
	// one-active-job-per-video invariant atomically and returns
	// ErrActiveJobExists when violated.
	CreateJob(params CreateJobParams) (models.TranscodeJob, error)

	GetJob(id string) (models.TranscodeJob, bool)

	// JobForVideo returns the most recent job for the video.
	JobForVideo(videoID string) (models.TranscodeJob, bool)

	// PendingJobs lists queued jobs in FIFO admission order. Used to rebuild
	// the backlog after a restart.
	PendingJobs() ([]models.TranscodeJob, error)

	// ClaimJob atomically moves a queued job to processing on behalf of
	// workerID. At most one worker can win the claim.
	ClaimJob(id, workerID string) (models.TranscodeJob, error)

	// HeartbeatJob refreshes the claim liveness for a processing job.
	HeartbeatJob(id, workerID string) error

	// ReclaimStale returns processing jobs whose heartbeat is older than the
	// timeout back to queued and reports them for re-enqueue.
	ReclaimStale(timeout time.Duration) ([]models.TranscodeJob, error)

	// AppendRendition records one tier outcome. Entries are append-only per
	// attempt.
	AppendRendition(jobID string, result models.RenditionResult) error

	// SetThumbnail records the thumbnail outcome for the current attempt.
	SetThumbnail(jobID string, result models.ThumbnailResult) error

	// CompleteJob moves a processing job to ready, records the published
	// artifact root, and repoints the published-assets index for the video.
	CompleteJob(id, outputRoot, masterPath, thumbnailPath string) (models.TranscodeJob, error)

	// FailJob moves a processing job to failed with the classified reason.
	FailJob(id string, kind, detail string) (models.TranscodeJob, error)

	// CancelQueued removes a queued job from contention by failing it with
	// the Cancelled reason before any worker claims it.
	CancelQueued(id string) (models.TranscodeJob, error)

	// DeleteJob erases a job record entirely. It exists for admission
	// rollback, where a record that never reached the backlog must leave no
	// trace, and refuses jobs that have left the queued state.
	DeleteJob(id string) error

	// RetryJob moves the video's failed job back to queued and increments
	// the attempt count, refusing with a MaxAttemptsExceeded error once
	// maxAttempts is reached.
	RetryJob(videoID string, maxAttempts int) (models.TranscodeJob, error)

	// PublishedAsset resolves the artifact tree of the most recent ready job
	// for the video.
	PublishedAsset(videoID string) (models.PublishedAsset, bool)

	// PurgeVideo removes all job records and the published index entry for
	// the video, returning the artifact roots that should be deleted from
	// disk.
	PurgeVideo(videoID string) ([]string, error)

	Close(ctx context.Context) error
}

var _ Repository = (*Storage)(nil)
