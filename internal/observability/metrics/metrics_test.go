package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestJobLifecycleCounters(t *testing.T) {
	r := New()
	r.JobEnqueued()
	r.JobStarted()
	r.JobStarted()
	r.JobReady()
	r.JobFailed("EncodeFailure")
	r.JobRetried()
	r.JobCancelled()
	r.JobReclaimed()

	events, failures := r.JobCounts()
	want := map[string]uint64{
		"enqueued":  1,
		"started":   2,
		"ready":     1,
		"failed":    1,
		"retried":   1,
		"cancelled": 1,
		"reclaimed": 1,
	}
	for event, count := range want {
		if events[event] != count {
			t.Errorf("events[%s] = %d, want %d", event, events[event], count)
		}
	}
	if failures["encodefailure"] != 1 {
		t.Errorf("failures = %v, want encodefailure counted", failures)
	}
}

func TestActiveJobsGaugeNeverGoesNegative(t *testing.T) {
	r := New()
	r.JobReady()
	if got := r.ActiveJobs(); got != 0 {
		t.Fatalf("ActiveJobs = %d, want 0", got)
	}
	r.JobStarted()
	r.JobStarted()
	r.JobFailed("Timeout")
	if got := r.ActiveJobs(); got != 1 {
		t.Fatalf("ActiveJobs = %d, want 1", got)
	}
}

func TestSetQueueDepthClampsNegative(t *testing.T) {
	r := New()
	r.SetQueueDepth(-5)
	var b strings.Builder
	r.Write(&b)
	if !strings.Contains(b.String(), "videoflix_queue_depth 0") {
		t.Fatalf("expected clamped gauge:\n%s", b.String())
	}
}

func TestWriteRendersPrometheusText(t *testing.T) {
	r := New()
	r.ObserveRequest("post", "/api/jobs", 202, 150*time.Millisecond)
	r.ObserveRequest("get", "/api/videos/8f14e45fceea/status", 200, 10*time.Millisecond)
	r.JobEnqueued()
	r.JobFailed("EncodeFailure")
	r.ObserveRendition("720p", "success")
	r.ObserveRendition("1080p", "failed")
	r.SetQueueDepth(3)

	var b strings.Builder
	r.Write(&b)
	out := b.String()

	for _, line := range []string{
		`videoflix_http_requests_total{method="POST",path="/api/jobs",status="202"} 1`,
		`videoflix_http_requests_total{method="GET",path="/api/videos/:id/status",status="200"} 1`,
		`videoflix_jobs_total{event="enqueued"} 1`,
		`videoflix_jobs_total{event="failed"} 1`,
		`videoflix_job_failures_total{kind="encodefailure"} 1`,
		`videoflix_renditions_total{tier="720p",status="success"} 1`,
		`videoflix_renditions_total{tier="1080p",status="failed"} 1`,
		"videoflix_queue_depth 3",
	} {
		if !strings.Contains(out, line) {
			t.Errorf("missing line %q in output:\n%s", line, out)
		}
	}
}

func TestHandlerServesExposition(t *testing.T) {
	r := New()
	r.JobEnqueued()
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(w.Body.String(), "# TYPE videoflix_jobs_total counter") {
		t.Fatalf("missing type comment:\n%s", w.Body.String())
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/", "/"},
		{"", "/"},
		{"/healthz", "/healthz"},
		{"/api/jobs", "/api/jobs"},
		{"/api/jobs/01HZXK3V9WQJ4R8T/cancel", "/api/jobs/:id/cancel"},
		{"/api/videos/vid42abc/status", "/api/videos/:id/status"},
		{"/api/videos/v123", "/api/videos/:id"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.in); got != tc.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResetClearsEverything(t *testing.T) {
	r := New()
	r.JobEnqueued()
	r.JobStarted()
	r.SetQueueDepth(4)
	r.Reset()
	events, failures := r.JobCounts()
	if len(events) != 0 || len(failures) != 0 {
		t.Fatalf("counters survived reset: %v %v", events, failures)
	}
	if r.ActiveJobs() != 0 {
		t.Fatal("active gauge survived reset")
	}
}
