// Package pipeline schedules transcode jobs: admission, the worker pool,
// per-tier fan-out, publication, and failure recovery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"videoflix-pipeline/internal/media"
	"videoflix-pipeline/internal/models"
	"videoflix-pipeline/internal/observability/logging"
	"videoflix-pipeline/internal/observability/metrics"
	"videoflix-pipeline/internal/queue"
	"videoflix-pipeline/internal/storage"
)

// EnqueueParams describes a transcode request for one video asset.
type EnqueueParams struct {
	VideoID    string
	SourcePath string
	Filename   string

	// TierNames selects a subset of the configured ladder. Empty means the
	// full ladder.
	TierNames []string
}

// Scheduler owns the job lifecycle from admission to terminal state. One
// scheduler runs per process; multiple processes may share a repository and a
// Redis backlog, with the claim step arbitrating ownership.
type Scheduler struct {
	cfg       Config
	repo      storage.Repository
	backlog   queue.Queue
	prober    media.Prober
	engine    media.Engine
	thumbs    media.Thumbnailer
	publisher *Publisher
	logger    *slog.Logger
	recorder  *metrics.Recorder
	workerTag string

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	runCtx  context.Context
	runStop context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// SchedulerOptions carries the collaborators a Scheduler needs. Media
// components left nil are built from the config's binary paths.
type SchedulerOptions struct {
	Repository  storage.Repository
	Backlog     queue.Queue
	Prober      media.Prober
	Engine      media.Engine
	Thumbnailer media.Thumbnailer
	Logger      *slog.Logger
	Recorder    *metrics.Recorder
}

// NewScheduler validates the config and wires default collaborators.
func NewScheduler(cfg Config, opts SchedulerOptions) (*Scheduler, error) {
	normalized, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	if opts.Repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "scheduler")
	publisher, err := NewPublisher(normalized.StagingRoot, normalized.PublishRoot)
	if err != nil {
		return nil, err
	}
	backlog := opts.Backlog
	if backlog == nil {
		backlog = queue.NewMemoryQueue(normalized.QueueDepth)
	}
	prober := opts.Prober
	if prober == nil {
		prober = media.NewFFprobeProber(media.ProberConfig{Binary: normalized.FFprobePath})
	}
	engine := opts.Engine
	if engine == nil {
		engine = media.NewFFmpegEngine(normalized.FFmpegPath, logger)
	}
	thumbs := opts.Thumbnailer
	if thumbs == nil {
		thumbs = media.NewFFmpegThumbnailer(normalized.FFmpegPath, logger)
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.Default()
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "worker"
	}
	return &Scheduler{
		cfg:       normalized,
		repo:      opts.Repository,
		backlog:   backlog,
		prober:    prober,
		engine:    engine,
		thumbs:    thumbs,
		publisher: publisher,
		logger:    logger,
		recorder:  recorder,
		workerTag: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		cancels:   make(map[string]context.CancelFunc),
	}, nil
}

// Start recovers interrupted work and launches the worker pool plus the
// background reclaim loop. It returns once everything is running.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.runCtx, s.runStop = context.WithCancel(context.Background())

	if err := s.recoverBacklog(ctx); err != nil {
		return err
	}
	for i := 0; i < s.cfg.Workers; i++ {
		workerID := fmt.Sprintf("%s-w%d", s.workerTag, i)
		s.wg.Add(1)
		go s.workerLoop(workerID)
	}
	s.wg.Add(1)
	go s.reclaimLoop()
	s.logger.Info("scheduler started", "workers", s.cfg.Workers, "tiers", len(s.cfg.Tiers))
	return nil
}

// Stop cancels all in-flight work and waits for workers to drain, bounded by
// the context. Interrupted jobs stay in processing until the stale reclaim
// returns them to the queue.
func (s *Scheduler) Stop(ctx context.Context) error {
	if !s.started {
		return nil
	}
	s.runStop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// recoverBacklog runs once at boot: processing jobs whose heartbeat expired
// go back to queued, and every queued job record is pushed onto the backlog
// again. Duplicate backlog entries are harmless because the claim step keeps
// at most one winner.
func (s *Scheduler) recoverBacklog(ctx context.Context) error {
	reclaimed, err := s.repo.ReclaimStale(s.cfg.HeartbeatTimeout)
	if err != nil {
		return fmt.Errorf("reclaim stale jobs: %w", err)
	}
	for _, job := range reclaimed {
		s.logger.Warn("reclaimed interrupted job", "job_id", job.ID, "video_id", job.VideoID)
		s.recorder.JobReclaimed()
	}
	pending, err := s.repo.PendingJobs()
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	for _, job := range pending {
		if err := s.backlog.Enqueue(ctx, job.ID); err != nil {
			s.logger.Warn("requeue pending job failed", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// Enqueue admits a transcode job for the video. Admission is rejected when an
// active job already exists for the video or the backlog is saturated.
func (s *Scheduler) Enqueue(ctx context.Context, params EnqueueParams) (models.TranscodeJob, error) {
	tiers, err := s.resolveTiers(params.TierNames)
	if err != nil {
		return models.TranscodeJob{}, err
	}
	if s.backlog.Depth() >= s.cfg.QueueDepth {
		return models.TranscodeJob{}, models.Errorf(models.KindQueueSaturated, "queue is full")
	}
	job, err := s.repo.CreateJob(storage.CreateJobParams{
		VideoID:    params.VideoID,
		SourcePath: params.SourcePath,
		Filename:   params.Filename,
		Tiers:      tiers,
	})
	if err != nil {
		return models.TranscodeJob{}, err
	}
	if err := s.backlog.Enqueue(ctx, job.ID); err != nil {
		// Erase the admission entirely. A record that never reached the
		// backlog must not survive as a failed job blocking the video.
		if deleteErr := s.repo.DeleteJob(job.ID); deleteErr != nil {
			s.logger.Error("rollback of saturated enqueue failed", "job_id", job.ID, "error", deleteErr)
		}
		return models.TranscodeJob{}, err
	}
	s.recorder.JobEnqueued()
	s.recorder.SetQueueDepth(s.backlog.Depth())
	logging.WithContext(logging.ContextWithVideoID(ctx, job.VideoID), s.logger).Info("job enqueued", "job_id", job.ID, "tiers", len(tiers))
	return job, nil
}

func (s *Scheduler) resolveTiers(names []string) ([]models.Tier, error) {
	if len(names) == 0 {
		return append([]models.Tier(nil), s.cfg.Tiers...), nil
	}
	seen := make(map[string]struct{}, len(names))
	tiers := make([]models.Tier, 0, len(names))
	for _, name := range names {
		tier, ok := s.cfg.TierByName(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown tier %q", models.ErrInvalidArgument, name)
		}
		if _, dup := seen[tier.Name]; dup {
			continue
		}
		seen[tier.Name] = struct{}{}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

// Cancel stops a job. Queued jobs fail immediately with the cancelled reason;
// processing jobs owned by this scheduler have their context cancelled and
// fail once the running tiers unwind. Cancelling a terminal job is an error.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) (models.TranscodeJob, error) {
	job, err := s.repo.CancelQueued(jobID)
	if err == nil {
		s.recorder.JobCancelled()
		s.logger.Info("queued job cancelled", "job_id", jobID)
		return job, nil
	}
	if !errors.Is(err, storage.ErrInvalidTransition) {
		return models.TranscodeJob{}, err
	}
	current, ok := s.repo.GetJob(jobID)
	if !ok {
		return models.TranscodeJob{}, storage.ErrJobNotFound
	}
	if current.Status != models.JobProcessing {
		return models.TranscodeJob{}, storage.ErrInvalidTransition
	}
	s.cancelMu.Lock()
	cancel, owned := s.cancels[jobID]
	s.cancelMu.Unlock()
	if !owned {
		return models.TranscodeJob{}, fmt.Errorf("job %s is processing on another worker", jobID)
	}
	cancel()
	s.logger.Info("processing job cancellation requested", "job_id", jobID)
	return current, nil
}

// Retry re-admits the most recent failed job for the video, refusing once the
// attempt budget is exhausted.
func (s *Scheduler) Retry(ctx context.Context, videoID string) (models.TranscodeJob, error) {
	job, err := s.repo.RetryJob(videoID, s.cfg.MaxAttempts)
	if err != nil {
		return models.TranscodeJob{}, err
	}
	if err := s.backlog.Enqueue(ctx, job.ID); err != nil {
		return models.TranscodeJob{}, err
	}
	s.recorder.JobRetried()
	s.logger.Info("job retried", "job_id", job.ID, "video_id", videoID, "attempt", job.Attempts)
	return job, nil
}

// Purge removes every job record and published artifact for the video. An
// in-flight job is cancelled first so the worker cannot re-publish after the
// tree is gone.
func (s *Scheduler) Purge(ctx context.Context, videoID string) error {
	if job, ok := s.repo.JobForVideo(videoID); ok && !job.Status.Terminal() {
		if _, err := s.Cancel(ctx, job.ID); err != nil {
			s.logger.Warn("cancel before purge failed", "job_id", job.ID, "error", err)
		}
	}
	roots, err := s.repo.PurgeVideo(videoID)
	if err != nil {
		return err
	}
	for _, root := range roots {
		if err := s.publisher.RemoveArtifacts(root); err != nil {
			s.logger.Warn("artifact removal failed", "root", root, "error", err)
		}
	}
	s.logger.Info("video purged", "video_id", videoID, "artifact_roots", len(roots))
	return nil
}

func (s *Scheduler) workerLoop(workerID string) {
	defer s.wg.Done()
	logger := s.logger.With("worker_id", workerID)
	for {
		jobID, err := s.backlog.Dequeue(s.runCtx)
		if err != nil {
			return
		}
		s.recorder.SetQueueDepth(s.backlog.Depth())
		job, err := s.repo.ClaimJob(jobID, workerID)
		if err != nil {
			if errors.Is(err, storage.ErrNotClaimable) || errors.Is(err, storage.ErrJobNotFound) {
				continue
			}
			logger.Error("claim failed", "job_id", jobID, "error", err)
			continue
		}
		s.runJob(logger, workerID, job)
	}
}

func (s *Scheduler) runJob(logger *slog.Logger, workerID string, job models.TranscodeJob) {
	s.recorder.JobStarted()
	jobCtx, cancel := context.WithCancel(s.runCtx)
	s.cancelMu.Lock()
	s.cancels[job.ID] = cancel
	s.cancelMu.Unlock()
	defer func() {
		s.cancelMu.Lock()
		delete(s.cancels, job.ID)
		s.cancelMu.Unlock()
		cancel()
	}()

	logger = logger.With("job_id", job.ID, "video_id", job.VideoID, "attempt", job.Attempts)
	logger.Info("job started", "tiers", len(job.Tiers))

	heartbeatDone := make(chan struct{})
	go s.heartbeat(jobCtx, cancel, job.ID, workerID, heartbeatDone)
	defer func() { <-heartbeatDone }()
	defer cancel()

	if err := s.process(jobCtx, logger, job); err != nil {
		if s.runCtx.Err() != nil {
			// Shutdown interrupted the attempt; leave the record in
			// processing for the stale reclaim instead of failing it.
			logger.Warn("job interrupted", "error", err)
			return
		}
		kind := models.KindOf(err)
		if kind == "" {
			kind = models.KindEncodeFailure
		}
		s.failJob(logger, job, kind, err.Error())
	}
}

func (s *Scheduler) heartbeat(ctx context.Context, cancel context.CancelFunc, jobID, workerID string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.repo.HeartbeatJob(jobID, workerID); err != nil {
				s.logger.Warn("heartbeat failed, abandoning job", "job_id", jobID, "error", err)
				cancel()
				return
			}
		}
	}
}

// process runs one job attempt end to end: probe, tier fan-out, thumbnail,
// master playlist, publish, complete.
func (s *Scheduler) process(ctx context.Context, logger *slog.Logger, job models.TranscodeJob) error {
	probe, err := s.prober.Probe(ctx, job.SourcePath)
	if err != nil {
		return err
	}
	logger.Info("source validated",
		"container", probe.Container,
		"video_codec", probe.VideoCodec,
		"duration_s", probe.Duration.Seconds())

	stagingDir := s.publisher.StagingDir(job.ID, job.Attempts)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return models.NewError(models.KindEncodeFailure, "prepare staging directory", err)
	}

	results := s.transcodeTiers(ctx, logger, job, probe, stagingDir)
	thumbnail := s.extractThumbnail(ctx, logger, job, probe, stagingDir)

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return models.NewError(models.KindCancelled, "job cancelled", err)
		}
		return models.NewError(models.KindTimeout, "job deadline exceeded", err)
	}

	if err := media.WriteMasterPlaylist(filepath.Join(stagingDir, media.MasterPlaylistName), results); err != nil {
		return err
	}

	publishDir := s.publisher.PublishDir(job.VideoID, job.Filename)
	if err := s.publisher.Publish(stagingDir, publishDir); err != nil {
		return models.NewError(models.KindOutputIncomplete, "publish failed", err)
	}

	masterPath := filepath.Join(publishDir, media.MasterPlaylistName)
	thumbnailPath := ""
	if thumbnail != nil && thumbnail.Status == models.RenditionSuccess {
		thumbnailPath = filepath.Join(publishDir, media.ThumbnailName)
	}
	completed, err := s.repo.CompleteJob(job.ID, publishDir, masterPath, thumbnailPath)
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	s.recorder.JobReady()
	logger.Info("job ready",
		"output_root", completed.OutputRoot,
		"renditions", countSuccesses(results),
		"requested", len(job.Tiers))
	return nil
}

// transcodeTiers fans the job's tiers across a bounded semaphore. Each tier
// gets its own wall-clock budget; one tier failing never stops the others.
func (s *Scheduler) transcodeTiers(ctx context.Context, logger *slog.Logger, job models.TranscodeJob, probe media.ProbeResult, stagingDir string) []models.RenditionResult {
	sem := semaphore.NewWeighted(int64(s.cfg.TierConcurrency))
	results := make([]models.RenditionResult, len(job.Tiers))
	var wg sync.WaitGroup
	for i, tier := range job.Tiers {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = failedRendition(job, tier, models.KindCancelled, "job cancelled before tier started")
			continue
		}
		wg.Add(1)
		go func(i int, tier models.Tier) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = s.transcodeTier(ctx, logger, job, tier, probe, stagingDir)
		}(i, tier)
	}
	wg.Wait()

	for _, result := range results {
		if err := s.repo.AppendRendition(job.ID, result); err != nil {
			logger.Warn("rendition record failed", "tier", result.Tier, "error", err)
		}
		s.recorder.ObserveRendition(result.Tier, string(result.Status))
	}
	return results
}

func (s *Scheduler) transcodeTier(ctx context.Context, logger *slog.Logger, job models.TranscodeJob, tier models.Tier, probe media.ProbeResult, stagingDir string) models.RenditionResult {
	tierCtx, cancel := context.WithTimeout(ctx, s.cfg.TierTimeout)
	defer cancel()
	start := time.Now()
	output, err := s.engine.Transcode(tierCtx, media.TranscodeParams{
		JobID:          job.ID,
		SourcePath:     job.SourcePath,
		Tier:           tier,
		OutputDir:      filepath.Join(stagingDir, tier.Name),
		SegmentSeconds: s.cfg.SegmentSeconds,
		FrameRate:      probe.FrameRate,
	})
	if err != nil {
		kind := models.KindOf(err)
		if kind == "" {
			kind = models.KindEncodeFailure
		}
		logger.Warn("tier failed", "tier", tier.Name, "kind", string(kind), "error", err)
		return failedRendition(job, tier, kind, err.Error())
	}
	logger.Info("tier complete",
		"tier", tier.Name,
		"segments", output.SegmentCount,
		"duration_ms", time.Since(start).Milliseconds())
	return models.RenditionResult{
		Tier:         tier.Name,
		Attempt:      job.Attempts,
		Status:       models.RenditionSuccess,
		PlaylistPath: output.PlaylistPath,
		SegmentCount: output.SegmentCount,
		Bitrate:      tier.Bitrate,
		Width:        tier.Width,
		Height:       tier.Height,
		CompletedAt:  time.Now().UTC(),
	}
}

// extractThumbnail grabs one frame into the staging tree. A short source
// falls back to the one-second mark; failure is recorded but never fails the
// job.
func (s *Scheduler) extractThumbnail(ctx context.Context, logger *slog.Logger, job models.TranscodeJob, probe media.ProbeResult, stagingDir string) *models.ThumbnailResult {
	offset := s.cfg.ThumbnailOffset
	if probe.Duration > 0 && probe.Duration <= offset {
		offset = time.Second
	}
	result := models.ThumbnailResult{Status: models.RenditionSuccess, CompletedAt: time.Now().UTC()}
	target := filepath.Join(stagingDir, media.ThumbnailName)
	if err := s.thumbs.Extract(ctx, job.SourcePath, target, offset); err != nil {
		logger.Warn("thumbnail extraction failed", "error", err)
		result.Status = models.RenditionFailed
		result.ErrorDetail = err.Error()
	} else {
		result.Path = target
	}
	result.CompletedAt = time.Now().UTC()
	if err := s.repo.SetThumbnail(job.ID, result); err != nil {
		logger.Warn("thumbnail record failed", "error", err)
	}
	return &result
}

func (s *Scheduler) failJob(logger *slog.Logger, job models.TranscodeJob, kind models.ErrorKind, detail string) {
	if !s.cfg.KeepFailedStaging {
		if err := s.publisher.CleanupStaging(job.ID, job.Attempts); err != nil {
			logger.Warn("staging cleanup failed", "error", err)
		}
	}
	failed, err := s.repo.FailJob(job.ID, string(kind), detail)
	if err != nil {
		logger.Error("failure record failed", "kind", string(kind), "error", err)
		return
	}
	s.recorder.JobFailed(string(kind))
	logger.Warn("job failed",
		"kind", string(kind),
		"detail", detail,
		"attempt", failed.Attempts)
}

// reclaimLoop periodically returns stale processing jobs to the queue and
// refreshes the backlog depth gauge.
func (s *Scheduler) reclaimLoop() {
	defer s.wg.Done()
	interval := s.cfg.HeartbeatTimeout / 2
	if interval < s.cfg.HeartbeatInterval {
		interval = s.cfg.HeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.runCtx.Done():
			return
		case <-ticker.C:
			reclaimed, err := s.repo.ReclaimStale(s.cfg.HeartbeatTimeout)
			if err != nil {
				s.logger.Error("stale reclaim failed", "error", err)
				continue
			}
			for _, job := range reclaimed {
				s.logger.Warn("reclaimed stale job", "job_id", job.ID, "video_id", job.VideoID)
				s.recorder.JobReclaimed()
				if err := s.backlog.Enqueue(s.runCtx, job.ID); err != nil {
					s.logger.Warn("requeue of reclaimed job failed", "job_id", job.ID, "error", err)
				}
			}
			s.recorder.SetQueueDepth(s.backlog.Depth())
		}
	}
}

func failedRendition(job models.TranscodeJob, tier models.Tier, kind models.ErrorKind, detail string) models.RenditionResult {
	return models.RenditionResult{
		Tier:        tier.Name,
		Attempt:     job.Attempts,
		Status:      models.RenditionFailed,
		Bitrate:     tier.Bitrate,
		Width:       tier.Width,
		Height:      tier.Height,
		ErrorKind:   string(kind),
		ErrorDetail: detail,
		CompletedAt: time.Now().UTC(),
	}
}

func countSuccesses(results []models.RenditionResult) int {
	count := 0
	for _, result := range results {
		if result.Status == models.RenditionSuccess {
			count++
		}
	}
	return count
}

// TierNames lists the configured ladder in bitrate order for status output.
func (s *Scheduler) TierNames() []string {
	names := make([]string, len(s.cfg.Tiers))
	for i, tier := range s.cfg.Tiers {
		names[i] = tier.Name
	}
	sort.Strings(names)
	return names
}

// Repository exposes the underlying job store for read-side collaborators.
func (s *Scheduler) Repository() storage.Repository {
	return s.repo
}

// MaxAttempts reports the configured retry budget.
func (s *Scheduler) MaxAttempts() int {
	return s.cfg.MaxAttempts
}
