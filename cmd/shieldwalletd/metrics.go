// metrics.go - Metrics collection for wallet operations
package main

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Gauge   MetricType = "gauge"
)

// Metric represents a single metric
type Metric struct {
	Name      string     `json:"name"`
	Type      MetricType `json:"type"`
	Value     float64    `json:"value"`
	Timestamp time.Time  `json:"timestamp"`
}

// MetricsCollector manages metrics collection
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: make(map[string]*Metric),
	}
}

// IncrementCounter increments a counter metric
func (mc *MetricsCollector) IncrementCounter(name string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if m, exists := mc.metrics[name]; exists && m.Type == Counter {
		m.Value++
		m.Timestamp = time.Now()
		return
	}
	mc.metrics[name] = &Metric{Name: name, Type: Counter, Value: 1, Timestamp: time.Now()}
}

// SetGauge sets a gauge metric value
func (mc *MetricsCollector) SetGauge(name string, value float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics[name] = &Metric{Name: name, Type: Gauge, Value: value, Timestamp: time.Now()}
}

// GetMetric retrieves a metric by name
func (mc *MetricsCollector) GetMetric(name string) *Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.metrics[name]
}

// GetAllMetrics returns all collected metrics
func (mc *MetricsCollector) GetAllMetrics() []*Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	metrics := make([]*Metric, 0, len(mc.metrics))
	for _, m := range mc.metrics {
		metrics = append(metrics, m)
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })
	return metrics
}

// Summary returns a printable summary of all metrics
func (mc *MetricsCollector) Summary() string {
	var b strings.Builder
	b.WriteString("=== Wallet Metrics ===\n")
	for _, m := range mc.GetAllMetrics() {
		b.WriteString(fmt.Sprintf("%-40s %10.0f (%s)\n", m.Name, m.Value, m.Type))
	}
	return b.String()
}
