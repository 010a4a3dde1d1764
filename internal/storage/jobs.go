package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"videoflix-pipeline/internal/models"
)

// CreateJob admits a job in the queued state. The one-active-job-per-video
// check and the insert happen under one write lock, so concurrent admission
// cannot create two live jobs for the same video.
func (s *Storage) CreateJob(params CreateJobParams) (models.TranscodeJob, error) {
	videoID := strings.TrimSpace(params.VideoID)
	if videoID == "" {
		return models.TranscodeJob{}, fmt.Errorf("%w: video id is required", models.ErrInvalidArgument)
	}
	if strings.TrimSpace(params.SourcePath) == "" {
		return models.TranscodeJob{}, fmt.Errorf("%w: source path is required", models.ErrInvalidArgument)
	}
	if len(params.Tiers) == 0 {
		return models.TranscodeJob{}, fmt.Errorf("%w: at least one tier is required", models.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Jobs {
		if existing.VideoID == videoID && !existing.Status.Terminal() {
			return models.TranscodeJob{}, ErrActiveJobExists
		}
	}

	id, err := generateID()
	if err != nil {
		return models.TranscodeJob{}, err
	}
	now := s.now()
	job := models.TranscodeJob{
		ID:         id,
		VideoID:    videoID,
		SourcePath: params.SourcePath,
		Filename:   params.Filename,
		Status:     models.JobQueued,
		Tiers:      append([]models.Tier(nil), params.Tiers...),
		Attempts:   1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.data.Jobs[id] = job
	if err := s.persist(); err != nil {
		delete(s.data.Jobs, id)
		return models.TranscodeJob{}, err
	}
	return cloneJob(job), nil
}

// GetJob returns the job by id.
func (s *Storage) GetJob(id string) (models.TranscodeJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.data.Jobs[id]
	if !ok {
		return models.TranscodeJob{}, false
	}
	return cloneJob(job), true
}

// JobForVideo returns the most recently created job for the video.
func (s *Storage) JobForVideo(videoID string) (models.TranscodeJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestJobLocked(videoID)
}

func (s *Storage) latestJobLocked(videoID string) (models.TranscodeJob, bool) {
	var latest models.TranscodeJob
	found := false
	for _, job := range s.data.Jobs {
		if job.VideoID != videoID {
			continue
		}
		if !found || job.CreatedAt.After(latest.CreatedAt) {
			latest = job
			found = true
		}
	}
	if !found {
		return models.TranscodeJob{}, false
	}
	return cloneJob(latest), true
}

// PendingJobs lists queued jobs in FIFO admission order.
func (s *Storage) PendingJobs() ([]models.TranscodeJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []models.TranscodeJob
	for _, job := range s.data.Jobs {
		if job.Status == models.JobQueued {
			pending = append(pending, cloneJob(job))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// ClaimJob performs the atomic queued -> processing transition for workerID.
func (s *Storage) ClaimJob(id, workerID string) (models.TranscodeJob, error) {
	if strings.TrimSpace(workerID) == "" {
		return models.TranscodeJob{}, fmt.Errorf("worker id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.data.Jobs[id]
	if !ok {
		return models.TranscodeJob{}, ErrJobNotFound
	}
	if job.Status != models.JobQueued {
		return models.TranscodeJob{}, ErrNotClaimable
	}
	now := s.now()
	job.Status = models.JobProcessing
	job.ClaimedBy = workerID
	job.HeartbeatAt = &now
	job.UpdatedAt = now
	return s.saveJobLocked(job)
}

// HeartbeatJob refreshes claim liveness for a processing job.
func (s *Storage) HeartbeatJob(id, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.data.Jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != models.JobProcessing {
		return ErrInvalidTransition
	}
	if job.ClaimedBy != workerID {
		return ErrNotClaimOwner
	}
	now := s.now()
	job.HeartbeatAt = &now
	job.UpdatedAt = now
	_, err := s.saveJobLocked(job)
	return err
}

// ReclaimStale returns processing jobs with expired heartbeats to the queued
// state so another worker can claim them.
func (s *Storage) ReclaimStale(timeout time.Duration) ([]models.TranscodeJob, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("reclaim timeout must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var reclaimed []models.TranscodeJob
	for id, job := range s.data.Jobs {
		if job.Status != models.JobProcessing {
			continue
		}
		if job.HeartbeatAt != nil && now.Sub(*job.HeartbeatAt) < timeout {
			continue
		}
		job.Status = models.JobQueued
		job.ClaimedBy = ""
		job.HeartbeatAt = nil
		job.UpdatedAt = now
		s.data.Jobs[id] = job
		reclaimed = append(reclaimed, cloneJob(job))
	}
	if len(reclaimed) == 0 {
		return nil, nil
	}
	if err := s.persist(); err != nil {
		return nil, err
	}
	sort.Slice(reclaimed, func(i, j int) bool {
		return reclaimed[i].CreatedAt.Before(reclaimed[j].CreatedAt)
	})
	return reclaimed, nil
}

// AppendRendition records one tier outcome for the job's current attempt.
func (s *Storage) AppendRendition(jobID string, result models.RenditionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.data.Jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != models.JobProcessing {
		return ErrInvalidTransition
	}
	job.Renditions = append(job.Renditions, result)
	job.UpdatedAt = s.now()
	_, err := s.saveJobLocked(job)
	return err
}

// SetThumbnail records the thumbnail outcome for the job.
func (s *Storage) SetThumbnail(jobID string, result models.ThumbnailResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.data.Jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != models.JobProcessing {
		return ErrInvalidTransition
	}
	job.Thumbnail = &result
	job.UpdatedAt = s.now()
	_, err := s.saveJobLocked(job)
	return err
}

// CompleteJob transitions processing -> ready and repoints the published
// index at the new artifact root.
func (s *Storage) CompleteJob(id, outputRoot, masterPath, thumbnailPath string) (models.TranscodeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.data.Jobs[id]
	if !ok {
		return models.TranscodeJob{}, ErrJobNotFound
	}
	if job.Status != models.JobProcessing {
		return models.TranscodeJob{}, ErrInvalidTransition
	}
	now := s.now()
	job.Status = models.JobReady
	job.OutputRoot = outputRoot
	job.ErrorKind = ""
	job.ErrorDetail = ""
	job.ClaimedBy = ""
	job.HeartbeatAt = nil
	job.UpdatedAt = now

	previous, hadPrevious := s.data.Published[job.VideoID]
	s.data.Published[job.VideoID] = models.PublishedAsset{
		VideoID:     job.VideoID,
		JobID:       job.ID,
		Root:        outputRoot,
		MasterPath:  masterPath,
		Thumbnail:   thumbnailPath,
		PublishedAt: now,
	}
	s.data.Jobs[id] = job
	if err := s.persist(); err != nil {
		if hadPrevious {
			s.data.Published[job.VideoID] = previous
		} else {
			delete(s.data.Published, job.VideoID)
		}
		return models.TranscodeJob{}, err
	}
	return cloneJob(job), nil
}

// FailJob transitions processing -> failed with the classified reason.
func (s *Storage) FailJob(id string, kind, detail string) (models.TranscodeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.data.Jobs[id]
	if !ok {
		return models.TranscodeJob{}, ErrJobNotFound
	}
	if job.Status != models.JobProcessing {
		return models.TranscodeJob{}, ErrInvalidTransition
	}
	now := s.now()
	job.Status = models.JobFailed
	job.ErrorKind = kind
	job.ErrorDetail = detail
	job.ClaimedBy = ""
	job.HeartbeatAt = nil
	job.UpdatedAt = now
	return s.saveJobLocked(job)
}

// CancelQueued fails a queued job with the Cancelled reason before any worker
// claims it.
func (s *Storage) CancelQueued(id string) (models.TranscodeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.data.Jobs[id]
	if !ok {
		return models.TranscodeJob{}, ErrJobNotFound
	}
	if job.Status != models.JobQueued {
		return models.TranscodeJob{}, ErrInvalidTransition
	}
	now := s.now()
	job.Status = models.JobFailed
	job.ErrorKind = string(models.KindCancelled)
	job.ErrorDetail = "cancelled while queued"
	job.UpdatedAt = now
	return s.saveJobLocked(job)
}

// DeleteJob erases a queued job record as if it were never admitted.
func (s *Storage) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.data.Jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != models.JobQueued {
		return ErrInvalidTransition
	}
	delete(s.data.Jobs, id)
	if err := s.persist(); err != nil {
		s.data.Jobs[id] = job
		return err
	}
	return nil
}

// RetryJob re-enqueues the video's failed job, bumping the attempt count up
// to maxAttempts.
func (s *Storage) RetryJob(videoID string, maxAttempts int) (models.TranscodeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest models.TranscodeJob
	found := false
	for _, job := range s.data.Jobs {
		if job.VideoID != videoID {
			continue
		}
		if !found || job.CreatedAt.After(latest.CreatedAt) {
			latest = job
			found = true
		}
	}
	if !found {
		return models.TranscodeJob{}, ErrVideoNotFound
	}
	if latest.Status != models.JobFailed {
		return models.TranscodeJob{}, ErrInvalidTransition
	}
	if maxAttempts > 0 && latest.Attempts >= maxAttempts {
		return models.TranscodeJob{}, models.Errorf(models.KindMaxAttemptsExceeded,
			"job %s already used %d of %d attempts", latest.ID, latest.Attempts, maxAttempts)
	}
	now := s.now()
	latest.Status = models.JobQueued
	latest.Attempts++
	latest.ErrorKind = ""
	latest.ErrorDetail = ""
	latest.ClaimedBy = ""
	latest.HeartbeatAt = nil
	latest.UpdatedAt = now
	return s.saveJobLocked(latest)
}

// PublishedAsset resolves the published artifact tree for a video.
func (s *Storage) PublishedAsset(videoID string) (models.PublishedAsset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.data.Published[videoID]
	return asset, ok
}

// PurgeVideo deletes all job history and the published index entry for the
// video, returning every artifact root that should be removed from disk.
func (s *Storage) PurgeVideo(videoID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var roots []string
	removedJobs := make(map[string]models.TranscodeJob)
	for id, job := range s.data.Jobs {
		if job.VideoID != videoID {
			continue
		}
		if job.OutputRoot != "" {
			roots = append(roots, job.OutputRoot)
		}
		removedJobs[id] = job
		delete(s.data.Jobs, id)
	}
	published, hadPublished := s.data.Published[videoID]
	if hadPublished {
		delete(s.data.Published, videoID)
	}
	if len(removedJobs) == 0 && !hadPublished {
		return nil, ErrVideoNotFound
	}
	if err := s.persist(); err != nil {
		for id, job := range removedJobs {
			s.data.Jobs[id] = job
		}
		if hadPublished {
			s.data.Published[videoID] = published
		}
		return nil, err
	}
	sort.Strings(roots)
	return roots, nil
}

func (s *Storage) saveJobLocked(job models.TranscodeJob) (models.TranscodeJob, error) {
	previous, existed := s.data.Jobs[job.ID]
	s.data.Jobs[job.ID] = job
	if err := s.persist(); err != nil {
		if existed {
			s.data.Jobs[job.ID] = previous
		} else {
			delete(s.data.Jobs, job.ID)
		}
		return models.TranscodeJob{}, err
	}
	return cloneJob(job), nil
}
