package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	runsStartedTotal   atomic.Uint64
	runsSucceededTotal atomic.Uint64
	runsFailedTotal    atomic.Uint64
	runsRepairedTotal  atomic.Uint64

	jobsReceivedTotal             atomic.Uint64
	jobsCompletedTotal            atomic.Uint64
	jobsFailedTotal               atomic.Uint64
	jobsDeletedUnrecoverableTotal atomic.Uint64

	runDuration = newHistogram([]float64{250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000})
)

// IncRunStarted increments the started counter.
func IncRunStarted() {
	runsStartedTotal.Add(1)
}

// IncRunSucceeded increments the succeeded counter.
func IncRunSucceeded() {
	runsSucceededTotal.Add(1)
}

// IncRunFailed increments the failed counter.
func IncRunFailed() {
	runsFailedTotal.Add(1)
}

// IncRunRepaired counts runs that only validated after the repair round-trip.
func IncRunRepaired() {
	runsRepairedTotal.Add(1)
}

// IncJobsReceived increments the queue-jobs-received counter.
func IncJobsReceived() {
	jobsReceivedTotal.Add(1)
}

// IncJobsCompleted increments the queue-jobs-completed counter.
func IncJobsCompleted() {
	jobsCompletedTotal.Add(1)
}

// IncJobsFailed increments the queue-jobs-failed counter.
func IncJobsFailed() {
	jobsFailedTotal.Add(1)
}

// IncJobsDeletedUnrecoverable counts malformed queue messages dropped on the floor.
func IncJobsDeletedUnrecoverable() {
	jobsDeletedUnrecoverableTotal.Add(1)
}

// ObserveRunDurationMs records a run duration in milliseconds.
func ObserveRunDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	runDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "analysis_runs_started_total", "Total analysis runs started", runsStartedTotal.Load())
	writeCounter(&buf, "analysis_runs_succeeded_total", "Total analysis runs succeeded", runsSucceededTotal.Load())
	writeCounter(&buf, "analysis_runs_failed_total", "Total analysis runs failed", runsFailedTotal.Load())
	writeCounter(&buf, "analysis_runs_repaired_total", "Total analysis runs that needed the repair round-trip", runsRepairedTotal.Load())
	writeCounter(&buf, "analysis_jobs_received_total", "Total queue jobs received", jobsReceivedTotal.Load())
	writeCounter(&buf, "analysis_jobs_completed_total", "Total queue jobs completed", jobsCompletedTotal.Load())
	writeCounter(&buf, "analysis_jobs_failed_total", "Total queue jobs failed", jobsFailedTotal.Load())
	writeCounter(&buf, "analysis_jobs_deleted_unrecoverable_total", "Total malformed queue jobs discarded", jobsDeletedUnrecoverableTotal.Load())
	writeHistogram(&buf, "analysis_run_duration_ms", "Analysis run duration in milliseconds", runDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)+1),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := len(h.buckets)
	for i, bound := range h.buckets {
		if value <= bound {
			idx = i
			break
		}
	}
	h.counts[idx]++
	h.sum += value
	h.count++
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	counts := make([]uint64, len(h.counts))
	copy(counts, h.counts)
	return histogramSnapshot{
		buckets: h.buckets,
		counts:  counts,
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	cumulative := uint64(0)
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=%q} %d\n", name, strconv.FormatFloat(bound, 'g', -1, 64), cumulative)
	}
	cumulative += snap.counts[len(snap.buckets)]
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, cumulative)
	fmt.Fprintf(buf, "%s_sum %s\n", name, strconv.FormatFloat(snap.sum, 'g', -1, 64))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}
