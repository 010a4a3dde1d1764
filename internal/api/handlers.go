// Package api exposes the job admission and status surface over HTTP.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"videoflix-pipeline/internal/models"
	"videoflix-pipeline/internal/observability/logging"
	"videoflix-pipeline/internal/pipeline"
	"videoflix-pipeline/internal/storage"
)

// Handler serves the transcoding control API. All mutations go through the
// scheduler; reads go straight to the repository.
type Handler struct {
	scheduler *pipeline.Scheduler
	repo      storage.Repository
	logger    *slog.Logger

	// tokenHash gates mutating endpoints when non-empty.
	tokenHash string
}

// Config wires a Handler.
type Config struct {
	Scheduler *pipeline.Scheduler
	Logger    *slog.Logger
	TokenHash string
}

// NewHandler builds the API handler around a running scheduler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		scheduler: cfg.Scheduler,
		repo:      cfg.Scheduler.Repository(),
		logger:    logging.WithComponent(logger, "api"),
		tokenHash: strings.TrimSpace(cfg.TokenHash),
	}, nil
}

// Authorize verifies the bearer token against the configured hash. A handler
// with no hash configured accepts every request.
func (h *Handler) Authorize(r *http.Request) error {
	if h.tokenHash == "" {
		return nil
	}
	token := ExtractToken(r)
	if token == "" {
		return fmt.Errorf("missing api token")
	}
	return VerifyToken(h.tokenHash, token)
}

// Health reports liveness plus datastore reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if err := h.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type enqueueRequest struct {
	VideoID    string   `json:"videoId"`
	SourcePath string   `json:"sourcePath"`
	Filename   string   `json:"filename"`
	Tiers      []string `json:"tiers"`
}

// Jobs handles POST /api/jobs: admit a transcode job for a video asset.
func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	job, err := h.scheduler.Enqueue(r.Context(), pipeline.EnqueueParams{
		VideoID:    strings.TrimSpace(req.VideoID),
		SourcePath: strings.TrimSpace(req.SourcePath),
		Filename:   strings.TrimSpace(req.Filename),
		TierNames:  req.Tiers,
	})
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobPayload(job))
}

// JobByID handles GET /api/jobs/{id} and POST /api/jobs/{id}/cancel.
func (h *Handler) JobByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitResourcePath(r.URL.Path, "/api/jobs/")
	if id == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("job id is required"))
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		job, ok := h.repo.GetJob(id)
		if !ok {
			writeError(w, http.StatusNotFound, storage.ErrJobNotFound)
			return
		}
		writeJSON(w, http.StatusOK, jobPayload(job))
	case action == "cancel" && r.Method == http.MethodPost:
		job, err := h.scheduler.Cancel(r.Context(), id)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, jobPayload(job))
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// VideoByID handles GET /api/videos/{id}/status, POST /api/videos/{id}/retry,
// and DELETE /api/videos/{id}.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitResourcePath(r.URL.Path, "/api/videos/")
	if id == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("video id is required"))
		return
	}
	switch {
	case action == "status" && r.Method == http.MethodGet:
		h.videoStatus(w, r, id)
	case action == "retry" && r.Method == http.MethodPost:
		job, err := h.scheduler.Retry(r.Context(), id)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, jobPayload(job))
	case action == "" && r.Method == http.MethodDelete:
		if err := h.scheduler.Purge(r.Context(), id); err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) videoStatus(w http.ResponseWriter, r *http.Request, videoID string) {
	job, ok := h.repo.JobForVideo(videoID)
	if !ok {
		writeError(w, http.StatusNotFound, storage.ErrVideoNotFound)
		return
	}
	payload := videoStatusPayload{
		VideoID: videoID,
		Status:  job.Status,
		Job:     jobPayload(job),
	}
	if asset, ok := h.repo.PublishedAsset(videoID); ok {
		payload.Asset = &assetPayload{
			Root:        asset.Root,
			MasterPath:  asset.MasterPath,
			Thumbnail:   asset.Thumbnail,
			PublishedAt: asset.PublishedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

type videoStatusPayload struct {
	VideoID string           `json:"videoId"`
	Status  models.JobStatus `json:"status"`
	Job     jobResponse      `json:"job"`
	Asset   *assetPayload    `json:"asset,omitempty"`
}

type assetPayload struct {
	Root        string `json:"root"`
	MasterPath  string `json:"masterPath"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	PublishedAt string `json:"publishedAt"`
}

type jobResponse struct {
	ID          string                   `json:"id"`
	VideoID     string                   `json:"videoId"`
	Status      models.JobStatus         `json:"status"`
	Attempts    int                      `json:"attempts"`
	Tiers       []string                 `json:"tiers"`
	ErrorKind   string                   `json:"errorKind,omitempty"`
	ErrorDetail string                   `json:"errorDetail,omitempty"`
	Renditions  []models.RenditionResult `json:"renditions,omitempty"`
	Thumbnail   *models.ThumbnailResult  `json:"thumbnail,omitempty"`
}

func jobPayload(job models.TranscodeJob) jobResponse {
	tiers := make([]string, len(job.Tiers))
	for i, tier := range job.Tiers {
		tiers[i] = tier.Name
	}
	return jobResponse{
		ID:          job.ID,
		VideoID:     job.VideoID,
		Status:      job.Status,
		Attempts:    job.Attempts,
		Tiers:       tiers,
		ErrorKind:   job.ErrorKind,
		ErrorDetail: job.ErrorDetail,
		Renditions:  currentAttemptRenditions(job),
		Thumbnail:   job.Thumbnail,
	}
}

// currentAttemptRenditions filters the append-only history down to the most
// recent attempt so status responses describe the asset as it stands.
func currentAttemptRenditions(job models.TranscodeJob) []models.RenditionResult {
	var current []models.RenditionResult
	for _, result := range job.Renditions {
		if result.Attempt == job.Attempts {
			current = append(current, result)
		}
	}
	return current
}

func splitResourcePath(path, prefix string) (id, action string) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", ""
	}
	parts := strings.SplitN(rest, "/", 2)
	id = parts[0]
	if len(parts) == 2 {
		action = parts[1]
	}
	return id, action
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, storage.ErrJobNotFound), errors.Is(err, storage.ErrVideoNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrActiveJobExists), errors.Is(err, storage.ErrInvalidTransition):
		return http.StatusConflict
	case models.IsKind(err, models.KindQueueSaturated):
		return http.StatusTooManyRequests
	case models.IsKind(err, models.KindMaxAttemptsExceeded):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
