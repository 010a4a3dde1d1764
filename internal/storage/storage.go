package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"videoflix-pipeline/internal/models"
)

type dataset struct {
	Jobs      map[string]models.TranscodeJob   `json:"jobs"`
	Published map[string]models.PublishedAsset `json:"published"`
}

func newDataset() dataset {
	return dataset{
		Jobs:      make(map[string]models.TranscodeJob),
		Published: make(map[string]models.PublishedAsset),
	}
}

// Storage is the JSON-file repository. All mutations happen under the write
// lock and are flushed through an atomic temp-file rename, so a crashed
// process never leaves a truncated datastore behind.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	now             func() time.Time
}

// Option mutates storage configuration.
type Option func(*Storage)

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStorage opens (or creates) a JSON datastore at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	s := &Storage{
		filePath: path,
		data:     newDataset(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare storage directory: %w", err)
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &s.data); err != nil {
				return nil, fmt.Errorf("decode datastore %s: %w", path, err)
			}
		}
		if s.data.Jobs == nil {
			s.data.Jobs = make(map[string]models.TranscodeJob)
		}
		if s.data.Published == nil {
			s.data.Published = make(map[string]models.PublishedAsset)
		}
	case os.IsNotExist(err):
		if err := s.persist(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read datastore %s: %w", path, err)
	}
	return s, nil
}

// Ping reports datastore availability. The JSON store is always local, so it
// only verifies the backing directory still exists.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := os.Stat(filepath.Dir(s.filePath))
	return err
}

// Close flushes nothing; persists happen synchronously on every mutation.
func (s *Storage) Close(ctx context.Context) error {
	return nil
}

func (s *Storage) persist() error {
	if s.persistOverride != nil {
		return s.persistOverride(s.data)
	}
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prepare storage directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp datastore: %w", err)
	}
	tmpPath := tmpFile.Name()
	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode datastore: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp datastore: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace datastore: %w", err)
	}
	return nil
}

func generateID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func cloneJob(job models.TranscodeJob) models.TranscodeJob {
	cloned := job
	if job.Tiers != nil {
		cloned.Tiers = append([]models.Tier(nil), job.Tiers...)
	}
	if job.Renditions != nil {
		cloned.Renditions = append([]models.RenditionResult(nil), job.Renditions...)
	}
	if job.Thumbnail != nil {
		thumbnail := *job.Thumbnail
		cloned.Thumbnail = &thumbnail
	}
	if job.HeartbeatAt != nil {
		heartbeat := *job.HeartbeatAt
		cloned.HeartbeatAt = &heartbeat
	}
	return cloned
}
