// internal/utils/metrics.go
package utils

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*atomic.Int64
	gauges     map[string]*atomic.Int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max of observed values
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// NewMetricsCollector creates an isolated collector (tests use one per case)
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*atomic.Int64),
		gauges:     make(map[string]*atomic.Int64),
		histograms: make(map[string]*Histogram),
	}
}

// value returns the named cell of table, creating it on first use.
// Reads take the fast path under the read lock.
func (m *MetricsCollector) value(table map[string]*atomic.Int64, name string) *atomic.Int64 {
	m.mu.RLock()
	cell, exists := table[name]
	m.mu.RUnlock()
	if exists {
		return cell
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cell, exists = table[name]; !exists {
		cell = new(atomic.Int64)
		table[name] = cell
	}
	return cell
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	m.value(m.counters, name).Add(1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	m.value(m.counters, name).Add(value)
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	cell, exists := m.counters[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return cell.Load()
}

// SetGauge sets a gauge metric
func (m *MetricsCollector) SetGauge(name string, value int64) {
	m.value(m.gauges, name).Store(value)
}

// IncGauge increments a gauge metric
func (m *MetricsCollector) IncGauge(name string) {
	m.value(m.gauges, name).Add(1)
}

// DecGauge decrements a gauge metric
func (m *MetricsCollector) DecGauge(name string) {
	m.value(m.gauges, name).Add(-1)
}

// GetGauge gets the current value of a gauge
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	cell, exists := m.gauges[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return cell.Load()
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if histogram, exists = m.histograms[name]; !exists {
			histogram = &Histogram{min: value, max: value}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value
	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, cell := range m.counters {
		counters[name] = cell.Load()
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, cell := range m.gauges {
		gauges[name] = cell.Load()
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, histogram := range m.histograms {
		histogram.mu.Lock()
		histograms[name] = map[string]int64{
			"count": histogram.count,
			"sum":   histogram.sum,
			"min":   histogram.min,
			"max":   histogram.max,
		}
		histogram.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// EditorMetrics records storyboard editor specific metrics
type EditorMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewEditorMetrics binds editor metrics to a collector and logger.
// Nil arguments fall back to the global instances.
func NewEditorMetrics(metrics *MetricsCollector, logger *Logger) *EditorMetrics {
	if metrics == nil {
		metrics = GetMetricsCollector()
	}
	if logger == nil {
		logger = GetLogger()
	}
	return &EditorMetrics{metrics: metrics, logger: logger}
}

// Collector exposes the underlying collector
func (em *EditorMetrics) Collector() *MetricsCollector {
	return em.metrics
}

// RecordBackendRequest records one round trip to the generation backend
func (em *EditorMetrics) RecordBackendRequest(operation string, duration time.Duration, err error) {
	em.metrics.IncrementCounter("backend_requests_total")
	em.metrics.IncrementCounter("backend_requests_" + operation)
	em.metrics.RecordHistogram("backend_response_time_ms", duration.Milliseconds())

	if err != nil {
		em.metrics.IncrementCounter("backend_failures_total")
		em.logger.Warn("Backend request failed", map[string]interface{}{
			"operation": operation,
			"duration":  duration.Milliseconds(),
			"error":     err.Error(),
		})
		return
	}

	em.logger.Debug("Backend request completed", map[string]interface{}{
		"operation": operation,
		"duration":  duration.Milliseconds(),
	})
}

// RecordBackendFailure counts a failure by its error type
func (em *EditorMetrics) RecordBackendFailure(errorType string) {
	em.metrics.IncrementCounter("backend_failures_" + errorType)
}

// RecordStoreMutation counts an applied store mutation
func (em *EditorMetrics) RecordStoreMutation(operation string) {
	em.metrics.IncrementCounter("store_mutations_total")
	em.metrics.IncrementCounter("store_mutations_" + operation)
}

// RecordStaleDiscard counts and logs an async result dropped by the staleness check
func (em *EditorMetrics) RecordStaleDiscard(kind, reason string, fields map[string]interface{}) {
	em.metrics.IncrementCounter("stale_responses_discarded")
	em.metrics.IncrementCounter("stale_responses_" + kind)

	logFields := map[string]interface{}{
		"kind":   kind,
		"reason": reason,
	}
	for key, value := range fields {
		logFields[key] = value
	}
	em.logger.Info("discarded stale response", logFields)
}

// StaleDiscards returns the number of discarded stale responses
func (em *EditorMetrics) StaleDiscards() int64 {
	return em.metrics.GetCounterValue("stale_responses_discarded")
}

// RecordAPIRequest records metrics for a shell API request
func (em *EditorMetrics) RecordAPIRequest(endpoint, method string, statusCode int, duration time.Duration) {
	em.metrics.IncrementCounter("api_requests_total")
	em.metrics.IncrementCounter("api_requests_" + method + "_" + endpoint)
	em.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())
	em.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")
}
