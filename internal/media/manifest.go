package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"videoflix-pipeline/internal/models"
)

// MasterPlaylistName is the fixed master playlist filename inside a published
// asset root.
const MasterPlaylistName = "master.m3u8"

// BuildMasterPlaylist renders the master playlist for the successful subset
// of results, ordered by descending bitrate with ties broken by ascending
// tier name. It returns NoRenditionsAvailable when no tier succeeded.
func BuildMasterPlaylist(results []models.RenditionResult) (string, error) {
	successes := make([]models.RenditionResult, 0, len(results))
	for _, result := range results {
		if result.Status == models.RenditionSuccess {
			successes = append(successes, result)
		}
	}
	if len(successes) == 0 {
		return "", models.Errorf(models.KindNoRenditionsAvailable, "no renditions succeeded")
	}
	sort.Slice(successes, func(i, j int) bool {
		if successes[i].Bitrate == successes[j].Bitrate {
			return successes[i].Tier < successes[j].Tier
		}
		return successes[i].Bitrate > successes[j].Bitrate
	})

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, result := range successes {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n",
			result.Bitrate*1000, result.Width, result.Height)
		fmt.Fprintf(&b, "%s/%s\n", result.Tier, VariantPlaylistName)
	}
	return b.String(), nil
}

// WriteMasterPlaylist regenerates the master playlist at path. The write goes
// through a temp file and rename so a reader never observes a partial or
// stale manifest.
func WriteMasterPlaylist(path string, results []models.RenditionResult) error {
	content, err := BuildMasterPlaylist(results)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prepare manifest directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "master-*.m3u8")
	if err != nil {
		return fmt.Errorf("create manifest temp file: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish manifest: %w", err)
	}
	return nil
}
