package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsThroughWrapping(t *testing.T) {
	base := NewError(KindTimeout, "tier budget exceeded", errors.New("context deadline exceeded"))
	wrapped := fmt.Errorf("tier 720p: %w", base)

	if kind := KindOf(wrapped); kind != KindTimeout {
		t.Fatalf("KindOf = %q, want %q", kind, KindTimeout)
	}
	if !IsKind(wrapped, KindTimeout) {
		t.Fatal("IsKind should match through wrapping")
	}
	if IsKind(wrapped, KindEncodeFailure) {
		t.Fatal("IsKind matched the wrong kind")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if kind := KindOf(errors.New("boom")); kind != "" {
		t.Fatalf("expected empty kind for plain error, got %q", kind)
	}
	if IsKind(nil, KindTimeout) {
		t.Fatal("nil error should never match a kind")
	}
}

func TestErrorfFormatsMessage(t *testing.T) {
	err := Errorf(KindUnsupportedFormat, "container %q is not allowed", "gif")
	if got := err.Error(); got != `UnsupportedFormat: container "gif" is not allowed` {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("exit status 1")
	err := NewError(KindEncodeFailure, "ffmpeg exited abnormally", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the cause")
	}
}

func TestJobStatusHelpers(t *testing.T) {
	cases := []struct {
		status   JobStatus
		terminal bool
		valid    bool
	}{
		{JobQueued, false, true},
		{JobProcessing, false, true},
		{JobReady, true, true},
		{JobFailed, true, true},
		{JobStatus("bogus"), false, false},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tc.status, got, tc.terminal)
		}
		if got := tc.status.Valid(); got != tc.valid {
			t.Errorf("%s.Valid() = %v, want %v", tc.status, got, tc.valid)
		}
	}
}
