// Package models defines the domain records shared across the transcoding
// pipeline: video assets, transcode jobs, and their per-tier outcomes.
package models

import "time"

// JobStatus enumerates the transcode job state machine. Transitions are
// monotonic within an attempt: Queued -> Processing -> {Ready, Failed}.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobReady      JobStatus = "ready"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status ends the current attempt.
func (s JobStatus) Terminal() bool {
	return s == JobReady || s == JobFailed
}

// Valid reports whether the status is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobProcessing, JobReady, JobFailed:
		return true
	}
	return false
}

// RenditionStatus enumerates per-tier transcode outcomes.
type RenditionStatus string

const (
	RenditionPending RenditionStatus = "pending"
	RenditionSuccess RenditionStatus = "success"
	RenditionFailed  RenditionStatus = "failed"
)

// VideoAsset identifies one uploaded source file. Assets are created by the
// upload collaborator and referenced, never owned, by transcode jobs.
type VideoAsset struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	SourcePath string    `json:"sourcePath"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Tier describes one target rendition: resolution plus a bitrate ceiling in
// kilobits per second.
type Tier struct {
	Name    string `json:"name"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Bitrate int    `json:"bitrate"`
}

// TranscodeJob records one conversion run for a video asset. It is mutated
// only by the scheduler and retained after terminal states as audit history.
type TranscodeJob struct {
	ID          string            `json:"id"`
	VideoID     string            `json:"videoId"`
	SourcePath  string            `json:"sourcePath"`
	Filename    string            `json:"filename,omitempty"`
	Status      JobStatus         `json:"status"`
	Tiers       []Tier            `json:"tiers"`
	OutputRoot  string            `json:"outputRoot,omitempty"`
	ErrorKind   string            `json:"errorKind,omitempty"`
	ErrorDetail string            `json:"errorDetail,omitempty"`
	Attempts    int               `json:"attempts"`
	ClaimedBy   string            `json:"claimedBy,omitempty"`
	HeartbeatAt *time.Time        `json:"heartbeatAt,omitempty"`
	Renditions  []RenditionResult `json:"renditions,omitempty"`
	Thumbnail   *ThumbnailResult  `json:"thumbnail,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// RenditionResult captures the outcome of transcoding one tier within one
// attempt. Entries are append-only and keyed by (job id, attempt, tier).
type RenditionResult struct {
	Tier         string          `json:"tier"`
	Attempt      int             `json:"attempt"`
	Status       RenditionStatus `json:"status"`
	PlaylistPath string          `json:"playlistPath,omitempty"`
	SegmentCount int             `json:"segmentCount,omitempty"`
	Bitrate      int             `json:"bitrate,omitempty"`
	Width        int             `json:"width,omitempty"`
	Height       int             `json:"height,omitempty"`
	ErrorKind    string          `json:"errorKind,omitempty"`
	ErrorDetail  string          `json:"errorDetail,omitempty"`
	CompletedAt  time.Time       `json:"completedAt"`
}

// ThumbnailResult captures thumbnail extraction for a job. Failure here never
// fails the job but is recorded for status queries.
type ThumbnailResult struct {
	Status      RenditionStatus `json:"status"`
	Path        string          `json:"path,omitempty"`
	ErrorDetail string          `json:"errorDetail,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
}

// PublishedAsset points at the artifact tree of the most recent ready job for
// a video. Paths are only valid once the owning job reached ready.
type PublishedAsset struct {
	VideoID     string    `json:"videoId"`
	JobID       string    `json:"jobId"`
	Root        string    `json:"root"`
	MasterPath  string    `json:"masterPath"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}
