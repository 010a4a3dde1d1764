package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type renditionLabel struct {
	tier   string
	status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests, job
// lifecycle events, per-tier rendition outcomes, and backlog depth. Writers
// coordinate via a RWMutex; the gauges are atomics so hot paths stay cheap.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	jobEvents       map[string]uint64
	jobFailures     map[string]uint64
	renditionEvents map[renditionLabel]uint64
	activeJobs      atomic.Int64
	queueDepth      atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		jobEvents:       make(map[string]uint64),
		jobFailures:     make(map[string]uint64),
		renditionEvents: make(map[renditionLabel]uint64),
	}
}

// Default returns the shared Recorder used by packages that do not carry
// their own instrumentation handle.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration keyed by
// HTTP method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// JobEnqueued records a job admission.
func (r *Recorder) JobEnqueued() {
	r.incrementJobEvent("enqueued")
}

// JobStarted records a claimed job and raises the active gauge.
func (r *Recorder) JobStarted() {
	r.incrementJobEvent("started")
	r.activeJobs.Add(1)
}

// JobReady records a completed job and lowers the active gauge.
func (r *Recorder) JobReady() {
	r.incrementJobEvent("ready")
	r.decrementGauge(&r.activeJobs)
}

// JobFailed records a terminal failure keyed by the classified reason and
// lowers the active gauge.
func (r *Recorder) JobFailed(kind string) {
	r.incrementJobEvent("failed")
	normalized := normalizeName(kind)
	r.mu.Lock()
	r.jobFailures[normalized]++
	r.mu.Unlock()
	r.decrementGauge(&r.activeJobs)
}

// JobRetried records a failed job re-entering the queue.
func (r *Recorder) JobRetried() {
	r.incrementJobEvent("retried")
}

// JobCancelled records a queued job removed before any worker claimed it.
func (r *Recorder) JobCancelled() {
	r.incrementJobEvent("cancelled")
}

// JobReclaimed records a stale processing job returned to the queue.
func (r *Recorder) JobReclaimed() {
	r.incrementJobEvent("reclaimed")
	r.decrementGauge(&r.activeJobs)
}

func (r *Recorder) incrementJobEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.jobEvents[normalized]++
	r.mu.Unlock()
}

// ObserveRendition records one tier outcome.
func (r *Recorder) ObserveRendition(tier, status string) {
	label := renditionLabel{tier: normalizeName(tier), status: normalizeName(status)}
	r.mu.Lock()
	r.renditionEvents[label]++
	r.mu.Unlock()
}

// SetQueueDepth updates the backlog depth gauge.
func (r *Recorder) SetQueueDepth(depth int) {
	if depth < 0 {
		depth = 0
	}
	r.queueDepth.Store(int64(depth))
}

// ActiveJobs exposes the current number of jobs being processed.
func (r *Recorder) ActiveJobs() int64 {
	return r.activeJobs.Load()
}

// JobCounts returns copies of the job event and failure counters for tests
// and reporting.
func (r *Recorder) JobCounts() (events map[string]uint64, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[string]uint64, len(r.jobEvents))
	for k, v := range r.jobEvents {
		events[k] = v
	}
	failures = make(map[string]uint64, len(r.jobFailures))
	for k, v := range r.jobFailures {
		failures[k] = v
	}
	return events, failures
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.jobEvents = make(map[string]uint64)
	r.jobFailures = make(map[string]uint64)
	r.renditionEvents = make(map[renditionLabel]uint64)
	r.activeJobs.Store(0)
	r.queueDepth.Store(0)
}

// Handler exposes the Recorder as an http.Handler writing Prometheus text
// exposition data.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format with sorted label sets
// so scrapes and tests see stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	jobEvents := sortedKeys(r.jobEvents)
	jobFailures := sortedKeys(r.jobFailures)
	renditionLabels := r.sortedRenditionLabels()

	fmt.Fprintln(w, "# HELP videoflix_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE videoflix_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "videoflix_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP videoflix_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE videoflix_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "videoflix_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP videoflix_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE videoflix_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "videoflix_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP videoflix_jobs_total Transcode job lifecycle events by type")
	fmt.Fprintln(w, "# TYPE videoflix_jobs_total counter")
	for _, event := range jobEvents {
		fmt.Fprintf(w, "videoflix_jobs_total{event=\"%s\"} %d\n", event, r.jobEvents[event])
	}

	fmt.Fprintln(w, "# HELP videoflix_job_failures_total Terminal job failures by classified reason")
	fmt.Fprintln(w, "# TYPE videoflix_job_failures_total counter")
	for _, kind := range jobFailures {
		fmt.Fprintf(w, "videoflix_job_failures_total{kind=\"%s\"} %d\n", kind, r.jobFailures[kind])
	}

	fmt.Fprintln(w, "# HELP videoflix_renditions_total Tier transcode outcomes by tier and status")
	fmt.Fprintln(w, "# TYPE videoflix_renditions_total counter")
	for _, label := range renditionLabels {
		fmt.Fprintf(w, "videoflix_renditions_total{tier=\"%s\",status=\"%s\"} %d\n", label.tier, label.status, r.renditionEvents[label])
	}

	fmt.Fprintln(w, "# HELP videoflix_active_jobs Current number of jobs being processed")
	fmt.Fprintln(w, "# TYPE videoflix_active_jobs gauge")
	fmt.Fprintf(w, "videoflix_active_jobs %d\n", r.activeJobs.Load())

	fmt.Fprintln(w, "# HELP videoflix_queue_depth Current backlog size awaiting a worker")
	fmt.Fprintln(w, "# TYPE videoflix_queue_depth gauge")
	fmt.Fprintf(w, "videoflix_queue_depth %d\n", r.queueDepth.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedRenditionLabels() []renditionLabel {
	labels := make([]renditionLabel, 0, len(r.renditionEvents))
	for label := range r.renditionEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].tier != labels[j].tier {
			return labels[i].tier < labels[j].tier
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
