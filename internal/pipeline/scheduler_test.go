package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"videoflix-pipeline/internal/media"
	"videoflix-pipeline/internal/models"
	"videoflix-pipeline/internal/storage"
)

type fakeProber struct {
	err    error
	result media.ProbeResult
}

func (p *fakeProber) Probe(ctx context.Context, sourcePath string) (media.ProbeResult, error) {
	if p.err != nil {
		return media.ProbeResult{}, p.err
	}
	return p.result, nil
}

type fakeEngine struct {
	mu       sync.Mutex
	failures map[string]error
	blocked  map[string]bool

	// started receives one tier name per encode that entered a blocked
	// wait, so tests can synchronize on work being in flight.
	started chan string
}

func (e *fakeEngine) setFailure(tier string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failures == nil {
		e.failures = make(map[string]error)
	}
	if err == nil {
		delete(e.failures, tier)
	} else {
		e.failures[tier] = err
	}
}

// setBlocked makes encodes for the tier hold until their context ends, then
// return the error the real engine would classify for that context.
func (e *fakeEngine) setBlocked(tier string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.blocked == nil {
		e.blocked = make(map[string]bool)
		e.started = make(chan string, 16)
	}
	e.blocked[tier] = true
}

func (e *fakeEngine) Transcode(ctx context.Context, params media.TranscodeParams) (media.TierOutput, error) {
	e.mu.Lock()
	err := e.failures[params.Tier.Name]
	blocked := e.blocked[params.Tier.Name]
	started := e.started
	e.mu.Unlock()
	if err != nil {
		return media.TierOutput{}, err
	}
	if blocked {
		select {
		case started <- params.Tier.Name:
		default:
		}
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return media.TierOutput{}, models.NewError(models.KindTimeout, "transcode deadline exceeded", ctx.Err())
		}
		return media.TierOutput{}, models.NewError(models.KindCancelled, "transcode interrupted", ctx.Err())
	}
	if mkErr := os.MkdirAll(params.OutputDir, 0o755); mkErr != nil {
		return media.TierOutput{}, mkErr
	}
	return media.TierOutput{
		PlaylistPath: filepath.Join(params.OutputDir, media.VariantPlaylistName),
		SegmentCount: 6,
	}, nil
}

type fakeThumbnailer struct {
	err error
}

func (t *fakeThumbnailer) Extract(ctx context.Context, sourcePath, outputPath string, offset time.Duration) error {
	if t.err != nil {
		return t.err
	}
	return os.WriteFile(outputPath, []byte("jpeg"), 0o644)
}

type testHarness struct {
	scheduler *Scheduler
	store     *storage.Storage
	engine    *fakeEngine
	prober    *fakeProber
	cfg       Config
}

func newTestHarness(t *testing.T, mutate func(*Config)) *testHarness {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	cfg := Config{
		Workers:           2,
		TierConcurrency:   2,
		QueueDepth:        8,
		TierTimeout:       5 * time.Second,
		HeartbeatInterval: 10 * time.Millisecond,
		HeartbeatTimeout:  50 * time.Millisecond,
		MaxAttempts:       3,
		StagingRoot:       filepath.Join(t.TempDir(), "staging"),
		PublishRoot:       filepath.Join(t.TempDir(), "publish"),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	engine := &fakeEngine{}
	prober := &fakeProber{result: media.ProbeResult{
		Duration:   time.Minute,
		Container:  "mov,mp4,m4a",
		VideoCodec: "h264",
		Width:      1920,
		Height:     1080,
	}}
	scheduler, err := NewScheduler(cfg, SchedulerOptions{
		Repository:  store,
		Prober:      prober,
		Engine:      engine,
		Thumbnailer: &fakeThumbnailer{},
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return &testHarness{scheduler: scheduler, store: store, engine: engine, prober: prober, cfg: cfg}
}

func (h *testHarness) start(t *testing.T) {
	t.Helper()
	if err := h.scheduler.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.scheduler.Stop(ctx)
	})
}

func (h *testHarness) waitTerminal(t *testing.T, videoID string) models.TranscodeJob {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := h.store.JobForVideo(videoID); ok && job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := h.store.JobForVideo(videoID)
	t.Fatalf("job for %s never reached a terminal state, last: %+v", videoID, job)
	return models.TranscodeJob{}
}

func (h *testHarness) waitStatus(t *testing.T, videoID string, status models.JobStatus) models.TranscodeJob {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := h.store.JobForVideo(videoID); ok && job.Status == status {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := h.store.JobForVideo(videoID)
	t.Fatalf("job for %s never reached %s, last: %+v", videoID, status, job)
	return models.TranscodeJob{}
}

func enqueueTestJob(t *testing.T, h *testHarness, videoID string) models.TranscodeJob {
	t.Helper()
	job, err := h.scheduler.Enqueue(context.Background(), EnqueueParams{
		VideoID:    videoID,
		SourcePath: "/uploads/" + videoID + ".mp4",
		Filename:   videoID + ".mp4",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job
}

func TestSchedulerCompletesJob(t *testing.T) {
	h := newTestHarness(t, nil)
	h.start(t)

	enqueueTestJob(t, h, "video-1")
	job := h.waitTerminal(t, "video-1")
	if job.Status != models.JobReady {
		t.Fatalf("expected ready, got %s (%s: %s)", job.Status, job.ErrorKind, job.ErrorDetail)
	}
	if len(job.Renditions) != len(DefaultTiers) {
		t.Fatalf("expected %d renditions, got %d", len(DefaultTiers), len(job.Renditions))
	}
	for _, result := range job.Renditions {
		if result.Status != models.RenditionSuccess || result.Attempt != 1 {
			t.Fatalf("unexpected rendition: %+v", result)
		}
	}
	if job.Thumbnail == nil || job.Thumbnail.Status != models.RenditionSuccess {
		t.Fatalf("expected thumbnail success, got %+v", job.Thumbnail)
	}

	asset, ok := h.store.PublishedAsset("video-1")
	if !ok {
		t.Fatal("expected published asset")
	}
	if _, err := os.Stat(asset.MasterPath); err != nil {
		t.Fatalf("master playlist missing: %v", err)
	}
	if _, err := os.Stat(asset.Thumbnail); err != nil {
		t.Fatalf("thumbnail missing: %v", err)
	}
	if filepath.Dir(asset.MasterPath) != asset.Root {
		t.Fatalf("master playlist not at asset root: %s vs %s", asset.MasterPath, asset.Root)
	}

	// Staging tree moved, not copied.
	entries, err := os.ReadDir(h.cfg.StagingRoot)
	if err != nil {
		t.Fatalf("ReadDir staging: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging root not empty after publish: %v", entries)
	}
}

func TestSchedulerToleratesPartialTierFailure(t *testing.T) {
	h := newTestHarness(t, nil)
	h.engine.setFailure("1080p", models.Errorf(models.KindEncodeFailure, "encoder crashed"))
	h.start(t)

	enqueueTestJob(t, h, "video-1")
	job := h.waitTerminal(t, "video-1")
	if job.Status != models.JobReady {
		t.Fatalf("expected ready despite tier failure, got %s", job.Status)
	}

	failures := 0
	for _, result := range job.Renditions {
		if result.Status == models.RenditionFailed {
			failures++
			if result.Tier != "1080p" || result.ErrorKind != string(models.KindEncodeFailure) {
				t.Fatalf("unexpected failed rendition: %+v", result)
			}
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one failed rendition, got %d", failures)
	}

	asset, _ := h.store.PublishedAsset("video-1")
	data, err := os.ReadFile(asset.MasterPath)
	if err != nil {
		t.Fatalf("read master: %v", err)
	}
	if string(data) == "" || containsLine(string(data), "1080p/index.m3u8") {
		t.Fatalf("failed tier leaked into master playlist:\n%s", data)
	}
}

func TestSchedulerFailsWhenAllTiersFail(t *testing.T) {
	h := newTestHarness(t, nil)
	for _, tier := range DefaultTiers {
		h.engine.setFailure(tier.Name, models.Errorf(models.KindEncodeFailure, "encoder crashed"))
	}
	h.start(t)

	enqueueTestJob(t, h, "video-1")
	job := h.waitTerminal(t, "video-1")
	if job.Status != models.JobFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorKind != string(models.KindNoRenditionsAvailable) {
		t.Fatalf("expected NoRenditionsAvailable, got %s", job.ErrorKind)
	}
	if _, ok := h.store.PublishedAsset("video-1"); ok {
		t.Fatal("failed job must not publish an asset")
	}
}

func TestSchedulerRejectsUnreadableSource(t *testing.T) {
	h := newTestHarness(t, nil)
	h.prober.err = models.Errorf(models.KindUnreadableMedia, "ffprobe could not read input")
	h.start(t)

	enqueueTestJob(t, h, "video-1")
	job := h.waitTerminal(t, "video-1")
	if job.Status != models.JobFailed || job.ErrorKind != string(models.KindUnreadableMedia) {
		t.Fatalf("expected UnreadableMedia failure, got %s/%s", job.Status, job.ErrorKind)
	}
}

func TestEnqueueRejectsSecondActiveJob(t *testing.T) {
	h := newTestHarness(t, nil)

	enqueueTestJob(t, h, "video-1")
	_, err := h.scheduler.Enqueue(context.Background(), EnqueueParams{
		VideoID:    "video-1",
		SourcePath: "/uploads/other.mp4",
	})
	if !errors.Is(err, storage.ErrActiveJobExists) {
		t.Fatalf("expected ErrActiveJobExists, got %v", err)
	}
}

func TestEnqueueRejectsWhenQueueSaturated(t *testing.T) {
	h := newTestHarness(t, func(cfg *Config) { cfg.QueueDepth = 1 })

	enqueueTestJob(t, h, "video-1")
	_, err := h.scheduler.Enqueue(context.Background(), EnqueueParams{
		VideoID:    "video-2",
		SourcePath: "/uploads/video-2.mp4",
	})
	if !models.IsKind(err, models.KindQueueSaturated) {
		t.Fatalf("expected QueueSaturated, got %v", err)
	}
	if _, ok := h.store.JobForVideo("video-2"); ok {
		t.Fatal("saturated admission must not leave an active job record")
	}
}

func TestEnqueueRejectsUnknownTier(t *testing.T) {
	h := newTestHarness(t, nil)
	_, err := h.scheduler.Enqueue(context.Background(), EnqueueParams{
		VideoID:    "video-1",
		SourcePath: "/uploads/video-1.mp4",
		TierNames:  []string{"4k"},
	})
	if !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for unknown tier, got %v", err)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	h := newTestHarness(t, nil)

	job := enqueueTestJob(t, h, "video-1")
	cancelled, err := h.scheduler.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != models.JobFailed || cancelled.ErrorKind != string(models.KindCancelled) {
		t.Fatalf("unexpected cancelled job: %+v", cancelled)
	}

	if _, err := h.scheduler.Cancel(context.Background(), job.ID); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on terminal job, got %v", err)
	}
}

func TestCancelProcessingJobStopsInFlightEncodes(t *testing.T) {
	h := newTestHarness(t, nil)
	for _, tier := range DefaultTiers {
		h.engine.setBlocked(tier.Name)
	}
	h.start(t)

	job := enqueueTestJob(t, h, "video-1")
	h.waitStatus(t, "video-1", models.JobProcessing)
	select {
	case <-h.engine.started:
	case <-time.After(3 * time.Second):
		t.Fatal("no encode entered flight before cancel")
	}

	if _, err := h.scheduler.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	done := h.waitTerminal(t, "video-1")
	if done.Status != models.JobFailed || done.ErrorKind != string(models.KindCancelled) {
		t.Fatalf("expected failed/Cancelled, got %s/%s", done.Status, done.ErrorKind)
	}
	for _, result := range done.Renditions {
		if result.Status == models.RenditionSuccess {
			t.Fatalf("cancelled job must not record successful renditions: %+v", result)
		}
	}
	if _, ok := h.store.PublishedAsset("video-1"); ok {
		t.Fatal("cancelled job must not publish an asset")
	}
}

func TestTierTimeoutFailsOnlyThatTier(t *testing.T) {
	h := newTestHarness(t, func(cfg *Config) { cfg.TierTimeout = 50 * time.Millisecond })
	h.engine.setBlocked("1080p")
	h.start(t)

	enqueueTestJob(t, h, "video-1")
	job := h.waitTerminal(t, "video-1")
	if job.Status != models.JobReady {
		t.Fatalf("expected ready despite tier timeout, got %s (%s: %s)", job.Status, job.ErrorKind, job.ErrorDetail)
	}

	timeouts := 0
	for _, result := range job.Renditions {
		if result.Tier == "1080p" {
			timeouts++
			if result.Status != models.RenditionFailed || result.ErrorKind != string(models.KindTimeout) {
				t.Fatalf("expected Timeout rendition for 1080p, got %+v", result)
			}
			continue
		}
		if result.Status != models.RenditionSuccess {
			t.Fatalf("sibling tier must not be affected by the timeout: %+v", result)
		}
	}
	if timeouts != 1 {
		t.Fatalf("expected exactly one timed out rendition, got %d", timeouts)
	}

	asset, _ := h.store.PublishedAsset("video-1")
	data, err := os.ReadFile(asset.MasterPath)
	if err != nil {
		t.Fatalf("read master: %v", err)
	}
	if containsLine(string(data), "1080p/index.m3u8") {
		t.Fatalf("timed out tier leaked into master playlist:\n%s", data)
	}
}

// rejectingQueue admits nothing, standing in for a saturated Redis backlog
// that fails after the job record was already created.
type rejectingQueue struct{}

func (rejectingQueue) Enqueue(ctx context.Context, jobID string) error {
	return models.Errorf(models.KindQueueSaturated, "backlog rejected enqueue")
}

func (rejectingQueue) Dequeue(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (rejectingQueue) Depth() int { return 0 }

func (rejectingQueue) Close() error { return nil }

func TestEnqueueBacklogRejectionLeavesNoJobRecord(t *testing.T) {
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	scheduler, err := NewScheduler(Config{
		StagingRoot: filepath.Join(t.TempDir(), "staging"),
		PublishRoot: filepath.Join(t.TempDir(), "publish"),
	}, SchedulerOptions{
		Repository:  store,
		Backlog:     rejectingQueue{},
		Prober:      &fakeProber{},
		Engine:      &fakeEngine{},
		Thumbnailer: &fakeThumbnailer{},
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	_, err = scheduler.Enqueue(context.Background(), EnqueueParams{
		VideoID:    "video-1",
		SourcePath: "/uploads/video-1.mp4",
	})
	if !models.IsKind(err, models.KindQueueSaturated) {
		t.Fatalf("expected QueueSaturated, got %v", err)
	}
	if _, ok := store.JobForVideo("video-1"); ok {
		t.Fatal("rejected admission must leave no job record behind")
	}
}

func TestRetryAfterFailureSucceeds(t *testing.T) {
	h := newTestHarness(t, nil)
	for _, tier := range DefaultTiers {
		h.engine.setFailure(tier.Name, models.Errorf(models.KindEncodeFailure, "encoder crashed"))
	}
	h.start(t)

	enqueueTestJob(t, h, "video-1")
	failed := h.waitTerminal(t, "video-1")
	if failed.Status != models.JobFailed {
		t.Fatalf("expected initial failure, got %s", failed.Status)
	}

	for _, tier := range DefaultTiers {
		h.engine.setFailure(tier.Name, nil)
	}
	retried, err := h.scheduler.Retry(context.Background(), "video-1")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Attempts != 2 {
		t.Fatalf("expected attempt 2, got %d", retried.Attempts)
	}

	job := h.waitTerminal(t, "video-1")
	if job.Status != models.JobReady {
		t.Fatalf("expected ready after retry, got %s (%s)", job.Status, job.ErrorDetail)
	}
}

func TestPurgeRemovesRecordsAndArtifacts(t *testing.T) {
	h := newTestHarness(t, nil)
	h.start(t)

	enqueueTestJob(t, h, "video-1")
	job := h.waitTerminal(t, "video-1")
	if job.Status != models.JobReady {
		t.Fatalf("expected ready, got %s", job.Status)
	}
	asset, _ := h.store.PublishedAsset("video-1")

	if err := h.scheduler.Purge(context.Background(), "video-1"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, err := os.Stat(asset.Root); !os.IsNotExist(err) {
		t.Fatalf("expected artifact tree removed, stat err: %v", err)
	}
	if _, ok := h.store.JobForVideo("video-1"); ok {
		t.Fatal("expected job history removed")
	}
}

func containsLine(content, line string) bool {
	for _, candidate := range splitLines(content) {
		if candidate == line {
			return true
		}
	}
	return false
}

func splitLines(content string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			lines = append(lines, content[start:i])
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, content[start:])
	}
	return lines
}
