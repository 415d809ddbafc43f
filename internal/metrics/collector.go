// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.


// Package metrics exposes ProtoV2d's observability surface: Prometheus
// counters/histograms for handshakes, sessions, QoS-1 delivery and
// keepalive RTT, plus a lightweight in-process collector of signature
// and verification counts for callers that want a cheap snapshot
// without scraping /metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "protov2d"

// Registry is the Prometheus registry every metric in this package
// registers against, and the one Handler/StartServer serve.
var Registry = prometheus.NewRegistry()

// MetricsCollector tracks cryptographic operation counts and latency
// samples in-process, for callers that want a quick snapshot (e.g. a
// CLI's shutdown summary) without scraping Prometheus.
type MetricsCollector struct {
	mu sync.RWMutex

	SignatureCount     int64
	VerificationCount  int64
	SuccessfulVerifies int64
	FailedVerifies     int64

	SignatureTimes    []int64
	VerificationTimes []int64

	startTime        time.Time
	maxTimingSamples int
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startTime:        time.Now(),
		maxTimingSamples: 1000,
	}
}

// RecordSignature records a signature operation
func (mc *MetricsCollector) RecordSignature(duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.SignatureCount++
	mc.recordTiming(&mc.SignatureTimes, duration)
}

// RecordVerification records a verification operation
func (mc *MetricsCollector) RecordVerification(success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.VerificationCount++
	if success {
		mc.SuccessfulVerifies++
	} else {
		mc.FailedVerifies++
	}
	mc.recordTiming(&mc.VerificationTimes, duration)
}

// recordTiming records a timing sample
func (mc *MetricsCollector) recordTiming(timings *[]int64, duration time.Duration) {
	microseconds := duration.Microseconds()
	*timings = append(*timings, microseconds)

	if len(*timings) > mc.maxTimingSamples {
		*timings = (*timings)[len(*timings)-mc.maxTimingSamples:]
	}
}

// GetSnapshot returns a snapshot of current metrics
func (mc *MetricsCollector) GetSnapshot() *MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return &MetricsSnapshot{
		Timestamp:           time.Now(),
		Uptime:              time.Since(mc.startTime),
		SignatureCount:      mc.SignatureCount,
		VerificationCount:   mc.VerificationCount,
		SuccessfulVerifies:  mc.SuccessfulVerifies,
		FailedVerifies:      mc.FailedVerifies,
		AvgSignatureTime:    calculateAverage(mc.SignatureTimes),
		AvgVerificationTime: calculateAverage(mc.VerificationTimes),
		P95SignatureTime:    calculatePercentile(mc.SignatureTimes, 95),
		P95VerificationTime: calculatePercentile(mc.VerificationTimes, 95),
	}
}

// Reset resets all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.SignatureCount = 0
	mc.VerificationCount = 0
	mc.SuccessfulVerifies = 0
	mc.FailedVerifies = 0

	mc.SignatureTimes = nil
	mc.VerificationTimes = nil

	mc.startTime = time.Now()
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	SignatureCount     int64
	VerificationCount  int64
	SuccessfulVerifies int64
	FailedVerifies     int64

	AvgSignatureTime    float64
	AvgVerificationTime float64

	P95SignatureTime    int64
	P95VerificationTime int64
}

// GetVerificationSuccessRate returns the verification success rate as a percentage
func (ms *MetricsSnapshot) GetVerificationSuccessRate() float64 {
	if ms.VerificationCount == 0 {
		return 0
	}
	return float64(ms.SuccessfulVerifies) / float64(ms.VerificationCount) * 100
}

func calculateAverage(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func calculatePercentile(values []int64, percentile int) int64 {
	if len(values) == 0 {
		return 0
	}

	index := len(values) * percentile / 100
	if index >= len(values) {
		index = len(values) - 1
	}

	sorted := make([]int64, len(values))
	copy(sorted, values)

	for i := 0; i < len(sorted)-1; i++ {
		for j := 0; j < len(sorted)-i-1; j++ {
			if sorted[j] > sorted[j+1] {
				sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
			}
		}
	}

	return sorted[index]
}

// Global metrics collector instance
var globalCollector = NewMetricsCollector()

// GetGlobalCollector returns the global metrics collector
func GetGlobalCollector() *MetricsCollector {
	return globalCollector
}
