package slicemap

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/slicemap/href"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    resolveHistogram *prometheus.HistogramVec
//	}
//
//	func (p *PrometheusCollector) RecordResolve(kind href.Kind, d time.Duration, err error) {
//	    p.resolveHistogram.WithLabelValues(kind.String()).Observe(d.Seconds())
//	}
type MetricsCollector interface {
	// RecordResolve is called after each resolve operation.
	// err is nil if the reference resolved.
	RecordResolve(kind href.Kind, duration time.Duration, err error)

	// RecordFetch is called after each blob read issued by a resolve.
	RecordFetch(bytes int, duration time.Duration, err error)

	// RecordBuild is called after each build. entries and bytes sum over the
	// three tries; reused is the number of nodes taken from earlier builds.
	RecordBuild(entries, bytes, reused int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordResolve(href.Kind, time.Duration, error)   {}
func (NoopMetricsCollector) RecordFetch(int, time.Duration, error)           {}
func (NoopMetricsCollector) RecordBuild(int, int, int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ResolveCount      atomic.Int64
	ResolveNotFound   atomic.Int64
	ResolveErrors     atomic.Int64
	ResolveTotalNanos atomic.Int64
	FetchCount        atomic.Int64
	FetchErrors       atomic.Int64
	FetchBytes        atomic.Int64
	FetchTotalNanos   atomic.Int64
	BuildCount        atomic.Int64
	BuildErrors       atomic.Int64
	BuildEntries      atomic.Int64
	BuildBytes        atomic.Int64
	BuildReusedNodes  atomic.Int64
}

// RecordResolve implements MetricsCollector.
func (b *BasicMetricsCollector) RecordResolve(_ href.Kind, duration time.Duration, err error) {
	b.ResolveCount.Add(1)
	b.ResolveTotalNanos.Add(duration.Nanoseconds())
	switch {
	case err == nil:
	case isNotFound(err):
		b.ResolveNotFound.Add(1)
	default:
		b.ResolveErrors.Add(1)
	}
}

// RecordFetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFetch(bytes int, duration time.Duration, err error) {
	b.FetchCount.Add(1)
	b.FetchBytes.Add(int64(bytes))
	b.FetchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FetchErrors.Add(1)
	}
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(entries, bytes, reused int, _ time.Duration, err error) {
	b.BuildCount.Add(1)
	if err != nil {
		b.BuildErrors.Add(1)
		return
	}
	b.BuildEntries.Add(int64(entries))
	b.BuildBytes.Add(int64(bytes))
	b.BuildReusedNodes.Add(int64(reused))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ResolveCount:     b.ResolveCount.Load(),
		ResolveNotFound:  b.ResolveNotFound.Load(),
		ResolveErrors:    b.ResolveErrors.Load(),
		ResolveAvgNanos:  avg(b.ResolveTotalNanos.Load(), b.ResolveCount.Load()),
		FetchCount:       b.FetchCount.Load(),
		FetchErrors:      b.FetchErrors.Load(),
		FetchBytes:       b.FetchBytes.Load(),
		FetchAvgNanos:    avg(b.FetchTotalNanos.Load(), b.FetchCount.Load()),
		BuildCount:       b.BuildCount.Load(),
		BuildErrors:      b.BuildErrors.Load(),
		BuildEntries:     b.BuildEntries.Load(),
		BuildBytes:       b.BuildBytes.Load(),
		BuildReusedNodes: b.BuildReusedNodes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ResolveCount     int64
	ResolveNotFound  int64
	ResolveErrors    int64
	ResolveAvgNanos  int64
	FetchCount       int64
	FetchErrors      int64
	FetchBytes       int64
	FetchAvgNanos    int64
	BuildCount       int64
	BuildErrors      int64
	BuildEntries     int64
	BuildBytes       int64
	BuildReusedNodes int64
}
