package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Publisher owns the artifact filesystem layout. Every attempt builds its
// tree under a per-job staging directory and only a complete tree moves into
// the publish root, in a single rename, so players never observe a partial
// asset.
type Publisher struct {
	stagingRoot string
	publishRoot string
}

// NewPublisher validates both roots and creates them when missing.
func NewPublisher(stagingRoot, publishRoot string) (*Publisher, error) {
	stagingRoot = strings.TrimSpace(stagingRoot)
	publishRoot = strings.TrimSpace(publishRoot)
	if stagingRoot == "" || publishRoot == "" {
		return nil, fmt.Errorf("staging and publish roots are required")
	}
	for _, dir := range []string{stagingRoot, publishRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare artifact root %s: %w", dir, err)
		}
	}
	return &Publisher{stagingRoot: stagingRoot, publishRoot: publishRoot}, nil
}

// StagingDir returns the scratch directory for one job attempt. Including the
// attempt number keeps retry output away from the debris of a failed run.
func (p *Publisher) StagingDir(jobID string, attempt int) string {
	return filepath.Join(p.stagingRoot, fmt.Sprintf("%s-attempt-%d", jobID, attempt))
}

// PublishDir returns the stable per-video directory under the publish root.
// The label leads with a readable slug of the upload filename and ends with
// the video id so distinct videos never collide.
func (p *Publisher) PublishDir(videoID, filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	label := slugify(stem)
	if label == "" {
		label = "video"
	}
	return filepath.Join(p.publishRoot, label+"-"+videoID)
}

// Publish moves a completed staging tree into the publish root. When a
// previous asset occupies the destination it is swapped aside first and
// removed after the rename, so readers see either the old tree or the new
// one.
func (p *Publisher) Publish(stagingDir, publishDir string) error {
	if _, err := os.Stat(stagingDir); err != nil {
		return fmt.Errorf("staging tree missing: %w", err)
	}
	var displaced string
	if _, err := os.Stat(publishDir); err == nil {
		displaced = fmt.Sprintf("%s.replaced-%d", publishDir, time.Now().UnixNano())
		if err := os.Rename(publishDir, displaced); err != nil {
			return fmt.Errorf("displace previous asset: %w", err)
		}
	}
	if err := os.Rename(stagingDir, publishDir); err != nil {
		if displaced != "" {
			os.Rename(displaced, publishDir)
		}
		return fmt.Errorf("publish asset tree: %w", err)
	}
	if displaced != "" {
		os.RemoveAll(displaced)
	}
	return nil
}

// CleanupStaging discards a job attempt's scratch tree.
func (p *Publisher) CleanupStaging(jobID string, attempt int) error {
	return os.RemoveAll(p.StagingDir(jobID, attempt))
}

// RemoveArtifacts deletes a published asset tree. The path must sit under
// the publish root; anything else is refused rather than removed.
func (p *Publisher) RemoveArtifacts(root string) error {
	cleaned := filepath.Clean(root)
	base := filepath.Clean(p.publishRoot)
	rel, err := filepath.Rel(base, cleaned)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("refusing to remove %s outside publish root", root)
	}
	return os.RemoveAll(cleaned)
}
