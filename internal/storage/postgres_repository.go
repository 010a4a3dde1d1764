package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"videoflix-pipeline/internal/models"
)

// The one-active-job-per-video invariant is enforced by a partial unique
// index over non-terminal statuses, so concurrent admission is decided by the
// database rather than application logic.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS transcode_jobs (
	id TEXT PRIMARY KEY,
	video_id TEXT NOT NULL,
	source_path TEXT NOT NULL,
	filename TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	tiers JSONB NOT NULL,
	output_root TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	error_detail TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 1,
	claimed_by TEXT NOT NULL DEFAULT '',
	heartbeat_at TIMESTAMPTZ,
	thumbnail JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS transcode_jobs_active_video
	ON transcode_jobs (video_id)
	WHERE status IN ('queued', 'processing');
CREATE TABLE IF NOT EXISTS rendition_results (
	job_id TEXT NOT NULL REFERENCES transcode_jobs(id) ON DELETE CASCADE,
	attempt INTEGER NOT NULL,
	tier TEXT NOT NULL,
	status TEXT NOT NULL,
	playlist_path TEXT NOT NULL DEFAULT '',
	segment_count INTEGER NOT NULL DEFAULT 0,
	bitrate INTEGER NOT NULL DEFAULT 0,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	error_kind TEXT NOT NULL DEFAULT '',
	error_detail TEXT NOT NULL DEFAULT '',
	completed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (job_id, attempt, tier)
);
CREATE TABLE IF NOT EXISTS published_assets (
	video_id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	root TEXT NOT NULL,
	master_path TEXT NOT NULL,
	thumbnail TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ NOT NULL
);
`

const jobColumns = `id, video_id, source_path, filename, status, tiers, output_root,
	error_kind, error_detail, attempts, claimed_by, heartbeat_at, thumbnail, created_at, updated_at`

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

var _ Repository = (*postgresRepository)(nil)

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema when missing.
func NewPostgresRepository(cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.operationTimeout())
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	repo := &postgresRepository{pool: pool, cfg: cfg}
	if err := repo.ensureSchema(); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) ensureSchema() error {
	ctx, cancel := r.opContext()
	defer cancel()
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (r *postgresRepository) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.operationTimeout())
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *postgresRepository) CreateJob(params CreateJobParams) (models.TranscodeJob, error) {
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
	id, err := generateID()
	if err != nil {
		return models.TranscodeJob{}, err
	}
	tiers, err := json.Marshal(params.Tiers)
	if err != nil {
		return models.TranscodeJob{}, fmt.Errorf("encode tiers: %w", err)
	}
	now := time.Now().UTC()

	ctx, cancel := r.opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO transcode_jobs (id, video_id, source_path, filename, status, tiers, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7)`,
		id, videoID, params.SourcePath, params.Filename, string(models.JobQueued), tiers, now)
	if err != nil {
		if isUniqueViolation(err) {
			return models.TranscodeJob{}, ErrActiveJobExists
		}
		return models.TranscodeJob{}, fmt.Errorf("insert job: %w", err)
	}
	return r.fetchJob(ctx, id)
}

func (r *postgresRepository) GetJob(id string) (models.TranscodeJob, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	job, err := r.fetchJob(ctx, id)
	if err != nil {
		return models.TranscodeJob{}, false
	}
	return job, true
}

func (r *postgresRepository) JobForVideo(videoID string) (models.TranscodeJob, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM transcode_jobs
		WHERE video_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, videoID)
	job, err := r.scanJob(ctx, row)
	if err != nil {
		return models.TranscodeJob{}, false
	}
	return job, true
}

func (r *postgresRepository) PendingJobs() ([]models.TranscodeJob, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM transcode_jobs
		WHERE status = $1 ORDER BY created_at ASC, id ASC`, string(models.JobQueued))
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()
	var pending []models.TranscodeJob
	for rows.Next() {
		job, err := r.scanJob(ctx, rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, job)
	}
	return pending, rows.Err()
}

func (r *postgresRepository) ClaimJob(id, workerID string) (models.TranscodeJob, error) {
	if strings.TrimSpace(workerID) == "" {
		return models.TranscodeJob{}, fmt.Errorf("worker id is required")
	}
	ctx, cancel := r.opContext()
	defer cancel()
	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx, `
		UPDATE transcode_jobs
		SET status = $2, claimed_by = $3, heartbeat_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5
		RETURNING `+jobColumns,
		id, string(models.JobProcessing), workerID, now, string(models.JobQueued))
	job, err := r.scanJob(ctx, row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, fetchErr := r.fetchJob(ctx, id); errors.Is(fetchErr, ErrJobNotFound) {
				return models.TranscodeJob{}, ErrJobNotFound
			}
			return models.TranscodeJob{}, ErrNotClaimable
		}
		return models.TranscodeJob{}, err
	}
	return job, nil
}

func (r *postgresRepository) HeartbeatJob(id, workerID string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
		UPDATE transcode_jobs SET heartbeat_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4 AND claimed_by = $2`,
		id, workerID, time.Now().UTC(), string(models.JobProcessing))
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimOwner
	}
	return nil
}

func (r *postgresRepository) ReclaimStale(timeout time.Duration) ([]models.TranscodeJob, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("reclaim timeout must be positive")
	}
	ctx, cancel := r.opContext()
	defer cancel()
	now := time.Now().UTC()
	rows, err := r.pool.Query(ctx, `
		UPDATE transcode_jobs
		SET status = $1, claimed_by = '', heartbeat_at = NULL, updated_at = $2
		WHERE status = $3 AND (heartbeat_at IS NULL OR heartbeat_at < $4)
		RETURNING `+jobColumns,
		string(models.JobQueued), now, string(models.JobProcessing), now.Add(-timeout))
	if err != nil {
		return nil, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	defer rows.Close()
	var reclaimed []models.TranscodeJob
	for rows.Next() {
		job, err := r.scanJob(ctx, rows)
		if err != nil {
			return nil, err
		}
		reclaimed = append(reclaimed, job)
	}
	return reclaimed, rows.Err()
}

func (r *postgresRepository) AppendRendition(jobID string, result models.RenditionResult) error {
	ctx, cancel := r.opContext()
	defer cancel()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rendition_results (job_id, attempt, tier, status, playlist_path, segment_count,
			bitrate, width, height, error_kind, error_detail, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		jobID, result.Attempt, result.Tier, string(result.Status), result.PlaylistPath,
		result.SegmentCount, result.Bitrate, result.Width, result.Height,
		result.ErrorKind, result.ErrorDetail, result.CompletedAt)
	if err != nil {
		return fmt.Errorf("append rendition: %w", err)
	}
	return nil
}

func (r *postgresRepository) SetThumbnail(jobID string, result models.ThumbnailResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
		UPDATE transcode_jobs SET thumbnail = $2, updated_at = $3 WHERE id = $1`,
		jobID, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set thumbnail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *postgresRepository) CompleteJob(id, outputRoot, masterPath, thumbnailPath string) (models.TranscodeJob, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.TranscodeJob{}, fmt.Errorf("begin complete transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	row := tx.QueryRow(ctx, `
		UPDATE transcode_jobs
		SET status = $2, output_root = $3, error_kind = '', error_detail = '',
			claimed_by = '', heartbeat_at = NULL, updated_at = $4
		WHERE id = $1 AND status = $5
		RETURNING `+jobColumns,
		id, string(models.JobReady), outputRoot, now, string(models.JobProcessing))
	var raw rawJob
	if err := raw.scan(row); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TranscodeJob{}, ErrInvalidTransition
		}
		return models.TranscodeJob{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO published_assets (video_id, job_id, root, master_path, thumbnail, published_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (video_id) DO UPDATE
		SET job_id = EXCLUDED.job_id, root = EXCLUDED.root, master_path = EXCLUDED.master_path,
			thumbnail = EXCLUDED.thumbnail, published_at = EXCLUDED.published_at`,
		raw.videoID, id, outputRoot, masterPath, thumbnailPath, now); err != nil {
		return models.TranscodeJob{}, fmt.Errorf("update published index: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.TranscodeJob{}, fmt.Errorf("commit complete transaction: %w", err)
	}
	job, err := raw.toJob()
	if err != nil {
		return models.TranscodeJob{}, err
	}
	job.Renditions, err = r.fetchRenditions(ctx, id)
	if err != nil {
		return models.TranscodeJob{}, err
	}
	return job, nil
}

func (r *postgresRepository) FailJob(id string, kind, detail string) (models.TranscodeJob, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `
		UPDATE transcode_jobs
		SET status = $2, error_kind = $3, error_detail = $4,
			claimed_by = '', heartbeat_at = NULL, updated_at = $5
		WHERE id = $1 AND status = $6
		RETURNING `+jobColumns,
		id, string(models.JobFailed), kind, detail, time.Now().UTC(), string(models.JobProcessing))
	job, err := r.scanJob(ctx, row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TranscodeJob{}, ErrInvalidTransition
		}
		return models.TranscodeJob{}, err
	}
	return job, nil
}

func (r *postgresRepository) CancelQueued(id string) (models.TranscodeJob, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `
		UPDATE transcode_jobs
		SET status = $2, error_kind = $3, error_detail = 'cancelled while queued', updated_at = $4
		WHERE id = $1 AND status = $5
		RETURNING `+jobColumns,
		id, string(models.JobFailed), string(models.KindCancelled), time.Now().UTC(), string(models.JobQueued))
	job, err := r.scanJob(ctx, row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TranscodeJob{}, ErrInvalidTransition
		}
		return models.TranscodeJob{}, err
	}
	return job, nil
}

func (r *postgresRepository) DeleteJob(id string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM transcode_jobs WHERE id = $1 AND status = $2`,
		id, string(models.JobQueued))
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.fetchJob(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

func (r *postgresRepository) RetryJob(videoID string, maxAttempts int) (models.TranscodeJob, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.TranscodeJob{}, fmt.Errorf("begin retry transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM transcode_jobs
		WHERE video_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1 FOR UPDATE`, videoID)
	var raw rawJob
	if err := raw.scan(row); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TranscodeJob{}, ErrVideoNotFound
		}
		return models.TranscodeJob{}, err
	}
	if raw.status != string(models.JobFailed) {
		return models.TranscodeJob{}, ErrInvalidTransition
	}
	if maxAttempts > 0 && raw.attempts >= maxAttempts {
		return models.TranscodeJob{}, models.Errorf(models.KindMaxAttemptsExceeded,
			"job %s already used %d of %d attempts", raw.id, raw.attempts, maxAttempts)
	}
	now := time.Now().UTC()
	updated := tx.QueryRow(ctx, `
		UPDATE transcode_jobs
		SET status = $2, attempts = attempts + 1, error_kind = '', error_detail = '',
			claimed_by = '', heartbeat_at = NULL, updated_at = $3
		WHERE id = $1
		RETURNING `+jobColumns,
		raw.id, string(models.JobQueued), now)
	var fresh rawJob
	if err := fresh.scan(updated); err != nil {
		return models.TranscodeJob{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.TranscodeJob{}, fmt.Errorf("commit retry transaction: %w", err)
	}
	job, err := fresh.toJob()
	if err != nil {
		return models.TranscodeJob{}, err
	}
	job.Renditions, err = r.fetchRenditions(ctx, job.ID)
	if err != nil {
		return models.TranscodeJob{}, err
	}
	return job, nil
}

func (r *postgresRepository) PublishedAsset(videoID string) (models.PublishedAsset, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	var asset models.PublishedAsset
	err := r.pool.QueryRow(ctx, `
		SELECT video_id, job_id, root, master_path, thumbnail, published_at
		FROM published_assets WHERE video_id = $1`, videoID).
		Scan(&asset.VideoID, &asset.JobID, &asset.Root, &asset.MasterPath, &asset.Thumbnail, &asset.PublishedAt)
	if err != nil {
		return models.PublishedAsset{}, false
	}
	return asset, true
}

func (r *postgresRepository) PurgeVideo(videoID string) ([]string, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin purge transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		DELETE FROM transcode_jobs WHERE video_id = $1 RETURNING output_root`, videoID)
	if err != nil {
		return nil, fmt.Errorf("purge jobs: %w", err)
	}
	var roots []string
	deleted := 0
	for rows.Next() {
		var root string
		if err := rows.Scan(&root); err != nil {
			rows.Close()
			return nil, err
		}
		deleted++
		if root != "" {
			roots = append(roots, root)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM published_assets WHERE video_id = $1`, videoID)
	if err != nil {
		return nil, fmt.Errorf("purge published index: %w", err)
	}
	if deleted == 0 && tag.RowsAffected() == 0 {
		return nil, ErrVideoNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit purge transaction: %w", err)
	}
	return roots, nil
}

type rawJob struct {
	id          string
	videoID     string
	sourcePath  string
	filename    string
	status      string
	tiers       []byte
	outputRoot  string
	errorKind   string
	errorDetail string
	attempts    int
	claimedBy   string
	heartbeatAt *time.Time
	thumbnail   []byte
	createdAt   time.Time
	updatedAt   time.Time
}

func (j *rawJob) scan(row pgx.Row) error {
	return row.Scan(&j.id, &j.videoID, &j.sourcePath, &j.filename, &j.status, &j.tiers,
		&j.outputRoot, &j.errorKind, &j.errorDetail, &j.attempts, &j.claimedBy,
		&j.heartbeatAt, &j.thumbnail, &j.createdAt, &j.updatedAt)
}

func (j *rawJob) toJob() (models.TranscodeJob, error) {
	job := models.TranscodeJob{
		ID:          j.id,
		VideoID:     j.videoID,
		SourcePath:  j.sourcePath,
		Filename:    j.filename,
		Status:      models.JobStatus(j.status),
		OutputRoot:  j.outputRoot,
		ErrorKind:   j.errorKind,
		ErrorDetail: j.errorDetail,
		Attempts:    j.attempts,
		ClaimedBy:   j.claimedBy,
		HeartbeatAt: j.heartbeatAt,
		CreatedAt:   j.createdAt,
		UpdatedAt:   j.updatedAt,
	}
	if len(j.tiers) > 0 {
		if err := json.Unmarshal(j.tiers, &job.Tiers); err != nil {
			return models.TranscodeJob{}, fmt.Errorf("decode tiers: %w", err)
		}
	}
	if len(j.thumbnail) > 0 {
		var thumbnail models.ThumbnailResult
		if err := json.Unmarshal(j.thumbnail, &thumbnail); err != nil {
			return models.TranscodeJob{}, fmt.Errorf("decode thumbnail: %w", err)
		}
		job.Thumbnail = &thumbnail
	}
	return job, nil
}

func (r *postgresRepository) fetchJob(ctx context.Context, id string) (models.TranscodeJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM transcode_jobs WHERE id = $1`, id)
	return r.scanJob(ctx, row)
}

func (r *postgresRepository) scanJob(ctx context.Context, row pgx.Row) (models.TranscodeJob, error) {
	var raw rawJob
	if err := raw.scan(row); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TranscodeJob{}, ErrJobNotFound
		}
		return models.TranscodeJob{}, fmt.Errorf("scan job: %w", err)
	}
	job, err := raw.toJob()
	if err != nil {
		return models.TranscodeJob{}, err
	}
	job.Renditions, err = r.fetchRenditions(ctx, job.ID)
	if err != nil {
		return models.TranscodeJob{}, err
	}
	return job, nil
}

func (r *postgresRepository) fetchRenditions(ctx context.Context, jobID string) ([]models.RenditionResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tier, attempt, status, playlist_path, segment_count, bitrate, width, height,
			error_kind, error_detail, completed_at
		FROM rendition_results WHERE job_id = $1
		ORDER BY attempt ASC, completed_at ASC, tier ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list renditions: %w", err)
	}
	defer rows.Close()
	var results []models.RenditionResult
	for rows.Next() {
		var result models.RenditionResult
		var status string
		if err := rows.Scan(&result.Tier, &result.Attempt, &status, &result.PlaylistPath,
			&result.SegmentCount, &result.Bitrate, &result.Width, &result.Height,
			&result.ErrorKind, &result.ErrorDetail, &result.CompletedAt); err != nil {
			return nil, err
		}
		result.Status = models.RenditionStatus(status)
		results = append(results, result)
	}
	return results, rows.Err()
}
