package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"videoflix-pipeline/internal/models"
)

func TestBuildMasterPlaylistOrdersByBitrate(t *testing.T) {
	results := []models.RenditionResult{
		{Tier: "480p", Status: models.RenditionSuccess, Bitrate: 800, Width: 854, Height: 480},
		{Tier: "1080p", Status: models.RenditionSuccess, Bitrate: 4800, Width: 1920, Height: 1080},
		{Tier: "720p", Status: models.RenditionSuccess, Bitrate: 2400, Width: 1280, Height: 720},
	}
	content, err := BuildMasterPlaylist(results)
	if err != nil {
		t.Fatalf("BuildMasterPlaylist: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(content), "\n")
	want := []string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXT-X-STREAM-INF:BANDWIDTH=4800000,RESOLUTION=1920x1080",
		"1080p/index.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=2400000,RESOLUTION=1280x720",
		"720p/index.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=854x480",
		"480p/index.m3u8",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d:\n%s", len(want), len(lines), content)
	}
	for i, line := range want {
		if lines[i] != line {
			t.Fatalf("line %d: expected %q, got %q", i, line, lines[i])
		}
	}
}

func TestBuildMasterPlaylistSkipsFailedTiers(t *testing.T) {
	results := []models.RenditionResult{
		{Tier: "1080p", Status: models.RenditionFailed, Bitrate: 4800},
		{Tier: "720p", Status: models.RenditionSuccess, Bitrate: 2400, Width: 1280, Height: 720},
	}
	content, err := BuildMasterPlaylist(results)
	if err != nil {
		t.Fatalf("BuildMasterPlaylist: %v", err)
	}
	if strings.Contains(content, "1080p") {
		t.Fatalf("failed tier leaked into manifest:\n%s", content)
	}
	if !strings.Contains(content, "720p/index.m3u8") {
		t.Fatalf("missing surviving tier:\n%s", content)
	}
}

func TestBuildMasterPlaylistRequiresASuccess(t *testing.T) {
	results := []models.RenditionResult{
		{Tier: "720p", Status: models.RenditionFailed},
		{Tier: "480p", Status: models.RenditionFailed},
	}
	_, err := BuildMasterPlaylist(results)
	if !models.IsKind(err, models.KindNoRenditionsAvailable) {
		t.Fatalf("expected NoRenditionsAvailable, got %v", err)
	}
}

func TestWriteMasterPlaylistReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.m3u8")
	results := []models.RenditionResult{
		{Tier: "720p", Status: models.RenditionSuccess, Bitrate: 2400, Width: 1280, Height: 720},
	}
	if err := WriteMasterPlaylist(path, results); err != nil {
		t.Fatalf("WriteMasterPlaylist: %v", err)
	}

	// A rewrite leaves no temp files behind.
	results = append(results, models.RenditionResult{
		Tier: "480p", Status: models.RenditionSuccess, Bitrate: 800, Width: 854, Height: 480,
	})
	if err := WriteMasterPlaylist(path, results); err != nil {
		t.Fatalf("WriteMasterPlaylist rewrite: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "master.m3u8" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "480p/index.m3u8") {
		t.Fatalf("rewrite missing new tier:\n%s", data)
	}
}
