package modesetting

import (
	"sync/atomic"
	"time"
)

// DispatchLatencyBuckets defines the request-to-dispatch histogram
// buckets in nanoseconds: from 100us (sub-frame) to 10s (stuck output).
var DispatchLatencyBuckets = []uint64{
	100_000,        // 100us
	1_000_000,      // 1ms
	8_000_000,      // half a 60Hz frame
	16_700_000,     // one 60Hz frame
	33_400_000,     // two frames
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks operational statistics for one screen's completion
// queue. All fields are atomic so snapshots may be taken from any
// thread even though the queue itself is single-threaded.
type Metrics struct {
	// Submission counters
	SequenceAllocs  atomic.Uint64 // Queue entries allocated
	AllocFailures   atomic.Uint64 // Allocations refused at the pending cap
	VblankRequests  atomic.Uint64 // Vblank waits armed
	VblankFallbacks atomic.Uint64 // Waits that fell back to the legacy interface
	FlipRequests    atomic.Uint64 // Page flips submitted (one per CRTC)
	FlipRejections  atomic.Uint64 // Flips the kernel refused

	// Event pump counters
	EventsProcessed atomic.Uint64 // Records decoded
	EventsMatched   atomic.Uint64 // Records dispatched to a handler
	StaleEvents     atomic.Uint64 // Records with no pending entry
	MalformedEvents atomic.Uint64 // Records that failed to decode

	// Cancellation counters
	Aborts atomic.Uint64 // Entries dispatched through the abort path

	// Pending-depth statistics
	PendingTotal atomic.Uint64 // Cumulative pending samples
	PendingCount atomic.Uint64 // Number of samples
	MaxPending   atomic.Uint32 // High-water mark

	// Request-to-dispatch latency
	TotalLatencyNs atomic.Uint64
	DispatchCount  atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Screen lifecycle
	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordDispatch records a matched completion and its latency from
// allocation to handler invocation.
func (m *Metrics) RecordDispatch(latencyNs uint64) {
	m.EventsMatched.Add(1)
	m.TotalLatencyNs.Add(latencyNs)
	m.DispatchCount.Add(1)

	for i, bucket := range DispatchLatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// RecordPending samples the current pending-entry depth.
func (m *Metrics) RecordPending(depth uint32) {
	m.PendingTotal.Add(uint64(depth))
	m.PendingCount.Add(1)

	for {
		current := m.MaxPending.Load()
		if depth <= current {
			break
		}
		if m.MaxPending.CompareAndSwap(current, depth) {
			break
		}
	}
}

// Stop marks the screen as torn down
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy with derived statistics.
type MetricsSnapshot struct {
	SequenceAllocs  uint64
	AllocFailures   uint64
	VblankRequests  uint64
	VblankFallbacks uint64
	FlipRequests    uint64
	FlipRejections  uint64

	EventsProcessed uint64
	EventsMatched   uint64
	StaleEvents     uint64
	MalformedEvents uint64
	Aborts          uint64

	AvgPending float64
	MaxPending uint32

	AvgLatencyNs uint64
	LatencyP50Ns uint64
	LatencyP99Ns uint64

	UptimeNs        uint64
	EventsPerSecond float64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SequenceAllocs:  m.SequenceAllocs.Load(),
		AllocFailures:   m.AllocFailures.Load(),
		VblankRequests:  m.VblankRequests.Load(),
		VblankFallbacks: m.VblankFallbacks.Load(),
		FlipRequests:    m.FlipRequests.Load(),
		FlipRejections:  m.FlipRejections.Load(),
		EventsProcessed: m.EventsProcessed.Load(),
		EventsMatched:   m.EventsMatched.Load(),
		StaleEvents:     m.StaleEvents.Load(),
		MalformedEvents: m.MalformedEvents.Load(),
		Aborts:          m.Aborts.Load(),
		MaxPending:      m.MaxPending.Load(),
	}

	pendingTotal := m.PendingTotal.Load()
	pendingCount := m.PendingCount.Load()
	if pendingCount > 0 {
		snap.AvgPending = float64(pendingTotal) / float64(pendingCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	dispatchCount := m.DispatchCount.Load()
	if dispatchCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / dispatchCount
		snap.LatencyP50Ns = m.latencyPercentile(0.50)
		snap.LatencyP99Ns = m.latencyPercentile(0.99)
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}
	if snap.UptimeNs > 0 {
		snap.EventsPerSecond = float64(snap.EventsProcessed) / (float64(snap.UptimeNs) / 1e9)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	return snap
}

// latencyPercentile estimates the dispatch latency at the given
// percentile using linear interpolation between histogram buckets.
func (m *Metrics) latencyPercentile(percentile float64) uint64 {
	total := m.DispatchCount.Load()
	if total == 0 {
		return 0
	}

	targetCount := uint64(float64(total) * percentile)
	prevBucket := uint64(0)
	for i, bucket := range DispatchLatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return DispatchLatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all counters (useful for testing)
func (m *Metrics) Reset() {
	m.SequenceAllocs.Store(0)
	m.AllocFailures.Store(0)
	m.VblankRequests.Store(0)
	m.VblankFallbacks.Store(0)
	m.FlipRequests.Store(0)
	m.FlipRejections.Store(0)
	m.EventsProcessed.Store(0)
	m.EventsMatched.Store(0)
	m.StaleEvents.Store(0)
	m.MalformedEvents.Store(0)
	m.Aborts.Store(0)
	m.PendingTotal.Store(0)
	m.PendingCount.Store(0)
	m.MaxPending.Store(0)
	m.TotalLatencyNs.Store(0)
	m.DispatchCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable collection of queue activity.
type Observer interface {
	// ObserveDispatch is called for each matched completion
	ObserveDispatch(latencyNs uint64)

	// ObserveAbort is called for each aborted entry
	ObserveAbort()

	// ObservePending is called with the queue depth after each change
	ObservePending(depth uint32)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveDispatch(uint64) {}
func (NoOpObserver) ObserveAbort()          {}
func (NoOpObserver) ObservePending(uint32)  {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveDispatch(latencyNs uint64) {
	o.metrics.RecordDispatch(latencyNs)
}

func (o *MetricsObserver) ObserveAbort() {
	o.metrics.Aborts.Add(1)
}

func (o *MetricsObserver) ObservePending(depth uint32) {
	o.metrics.RecordPending(depth)
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
