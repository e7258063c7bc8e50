package fetch

import (
	"strings"
	"sync"
	"time"
)

// RPCMetrics tracks block fetch call statistics for the scan summary.
// It is safe for concurrent use by the fetches of one batch.
type RPCMetrics struct {
	mu sync.Mutex

	totalCalls   uint64
	successCalls uint64
	errorCalls   uint64

	// latency tracking (in milliseconds)
	totalLatency  uint64
	minLatency    uint64
	maxLatency    uint64
	recentLatency []uint64

	rateLimitErrors    uint64
	consecutiveErrors  uint64
	maxConsecutiveErrs uint64

	blocksFetched       uint64
	transactionsFetched uint64
	startTime           time.Time

	windowSize int
}

// MetricsSnapshot is a point-in-time copy of the fetch statistics
type MetricsSnapshot struct {
	TotalCalls           uint64
	SuccessCalls         uint64
	ErrorCalls           uint64
	ErrorRate            float64
	AverageLatency       time.Duration
	RecentAverageLatency time.Duration
	MinLatency           time.Duration
	MaxLatency           time.Duration
	RateLimitErrors      uint64
	MaxConsecutiveErrors uint64
	BlocksFetched        uint64
	TransactionsFetched  uint64
	Throughput           float64 // blocks per second
	Elapsed              time.Duration
}

// NewRPCMetrics creates a metrics tracker averaging latency over windowSize calls
func NewRPCMetrics(windowSize int) *RPCMetrics {
	if windowSize <= 0 {
		windowSize = 1
	}
	return &RPCMetrics{
		recentLatency: make([]uint64, 0, windowSize),
		windowSize:    windowSize,
		startTime:     time.Now(),
		minLatency:    ^uint64(0),
	}
}

// RecordCall records the outcome of one eth_getBlockByNumber call
func (m *RPCMetrics) RecordCall(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalCalls++
	if err != nil {
		m.errorCalls++
		m.consecutiveErrors++
		if m.consecutiveErrors > m.maxConsecutiveErrs {
			m.maxConsecutiveErrs = m.consecutiveErrors
		}
		if isRateLimitError(err) {
			m.rateLimitErrors++
		}
		return
	}

	m.successCalls++
	m.consecutiveErrors = 0

	ms := uint64(latency.Milliseconds())
	m.totalLatency += ms
	if ms < m.minLatency {
		m.minLatency = ms
	}
	if ms > m.maxLatency {
		m.maxLatency = ms
	}

	m.recentLatency = append(m.recentLatency, ms)
	if len(m.recentLatency) > m.windowSize {
		m.recentLatency = m.recentLatency[1:]
	}
}

// RecordBlock records a successfully fetched block
func (m *RPCMetrics) RecordBlock(txCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocksFetched++
	m.transactionsFetched += uint64(txCount)
}

// Snapshot returns a copy of the current statistics
func (m *RPCMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := time.Since(m.startTime)
	snap := MetricsSnapshot{
		TotalCalls:           m.totalCalls,
		SuccessCalls:         m.successCalls,
		ErrorCalls:           m.errorCalls,
		MaxLatency:           time.Duration(m.maxLatency) * time.Millisecond,
		RateLimitErrors:      m.rateLimitErrors,
		MaxConsecutiveErrors: m.maxConsecutiveErrs,
		BlocksFetched:        m.blocksFetched,
		TransactionsFetched:  m.transactionsFetched,
		Elapsed:              elapsed,
	}

	if m.totalCalls > 0 {
		snap.ErrorRate = float64(m.errorCalls) / float64(m.totalCalls)
	}
	if m.successCalls > 0 {
		snap.AverageLatency = time.Duration(m.totalLatency/m.successCalls) * time.Millisecond
		snap.MinLatency = time.Duration(m.minLatency) * time.Millisecond
	}
	if len(m.recentLatency) > 0 {
		var sum uint64
		for _, l := range m.recentLatency {
			sum += l
		}
		snap.RecentAverageLatency = time.Duration(sum/uint64(len(m.recentLatency))) * time.Millisecond
	}
	if secs := elapsed.Seconds(); secs > 0 {
		snap.Throughput = float64(m.blocksFetched) / secs
	}

	return snap
}

// isRateLimitError recognizes the usual HTTP 429 / provider throttling messages
func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit")
}
