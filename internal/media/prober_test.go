package media

import "testing"

func TestContainerAllowed(t *testing.T) {
	prober := NewFFprobeProber(ProberConfig{})
	cases := []struct {
		name       string
		formatName string
		want       bool
	}{
		{"mp4 alias list", "mov,mp4,m4a,3gp,3g2,mj2", true},
		{"matroska alias list", "matroska,webm", true},
		{"plain avi", "avi", true},
		{"gif", "gif", false},
		{"mpegts", "mpegts", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := prober.containerAllowed(tc.formatName); got != tc.want {
				t.Fatalf("containerAllowed(%q) = %v, want %v", tc.formatName, got, tc.want)
			}
		})
	}
}

func TestParseFrameRate(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 30000.0 / 1001.0},
		{"25", 25},
		{"0/0", 0},
		{"0/1", 0},
		{"", 0},
		{"garbage", 0},
		{"30/garbage", 0},
	}
	for _, tc := range cases {
		if got := parseFrameRate(tc.in); got != tc.want {
			t.Errorf("parseFrameRate(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewFFprobeProberCustomAllowLists(t *testing.T) {
	prober := NewFFprobeProber(ProberConfig{
		AllowedContainers: []string{"MP4"},
		AllowedCodecs:     []string{"H264"},
	})
	if !prober.containerAllowed("mov,mp4") {
		t.Fatal("expected lowercased custom container to match")
	}
	if prober.containerAllowed("webm") {
		t.Fatal("webm should not be allowed with a custom list")
	}
	if _, ok := prober.codecs["h264"]; !ok {
		t.Fatal("expected custom codec to be normalized to lowercase")
	}
}
