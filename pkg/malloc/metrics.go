// Copyright 2026 Anasvag575
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package malloc

import "github.com/prometheus/client_golang/prometheus"

// AllocatorCollector exposes the package-level debug counters (debug.go) as
// a prometheus.Collector, grounded on metrics_allocator.go's
// MetricsAllocator: the same allocate/free counts, in-use bytes, and
// mmap/munmap counts, wired to the Collector interface directly instead of
// through injected Counter/Gauge instances, since this package has exactly
// one process-wide allocator rather than one instance per upstream to wrap.
// It additionally exposes page-steal counts (SPEC_FULL.md §5.4), which
// MetricsAllocator's upstream has no equivalent of.
type AllocatorCollector struct {
	mallocOps    *prometheus.Desc
	reallocOps   *prometheus.Desc
	freeOps      *prometheus.Desc
	mmapCalls    *prometheus.Desc
	munmapCalls  *prometheus.Desc
	pageSteals   *prometheus.Desc
	allocBytes   *prometheus.Desc
	deallocBytes *prometheus.Desc
	inuseBytes   *prometheus.Desc
	peakBytes    *prometheus.Desc
}

// NewAllocatorCollector builds a collector reading this process's single
// set of allocator counters. Register it with a prometheus.Registry to
// expose it; it is otherwise inert.
func NewAllocatorCollector() *AllocatorCollector {
	return &AllocatorCollector{
		mallocOps:    prometheus.NewDesc("xmalloc_malloc_ops_total", "Total number of allocate calls.", nil, nil),
		reallocOps:   prometheus.NewDesc("xmalloc_realloc_ops_total", "Total number of reallocate calls.", nil, nil),
		freeOps:      prometheus.NewDesc("xmalloc_free_ops_total", "Total number of release calls.", nil, nil),
		mmapCalls:    prometheus.NewDesc("xmalloc_mmap_calls_total", "Total number of mmap syscalls issued.", nil, nil),
		munmapCalls:  prometheus.NewDesc("xmalloc_munmap_calls_total", "Total number of munmap syscalls issued.", nil, nil),
		pageSteals:   prometheus.NewDesc("xmalloc_page_steals_total", "Total number of page-blocks adopted from an orphaned owner.", nil, nil),
		allocBytes:   prometheus.NewDesc("xmalloc_alloc_bytes_total", "Cumulative bytes ever returned to a caller.", nil, nil),
		deallocBytes: prometheus.NewDesc("xmalloc_dealloc_bytes_total", "Cumulative bytes ever released.", nil, nil),
		inuseBytes:   prometheus.NewDesc("xmalloc_inuse_bytes", "Bytes currently allocated and not yet released.", nil, nil),
		peakBytes:    prometheus.NewDesc("xmalloc_peak_inuse_bytes", "High-water mark of bytes allocated and not yet released.", nil, nil),
	}
}

func (c *AllocatorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.mallocOps
	ch <- c.reallocOps
	ch <- c.freeOps
	ch <- c.mmapCalls
	ch <- c.munmapCalls
	ch <- c.pageSteals
	ch <- c.allocBytes
	ch <- c.deallocBytes
	ch <- c.inuseBytes
	ch <- c.peakBytes
}

func (c *AllocatorCollector) Collect(ch chan<- prometheus.Metric) {
	allocBytes := debugStats.allocBytes.Load()
	deallocBytes := debugStats.deallocBytes.Load()

	ch <- prometheus.MustNewConstMetric(c.mallocOps, prometheus.CounterValue, float64(debugStats.mallocOps.Load()))
	ch <- prometheus.MustNewConstMetric(c.reallocOps, prometheus.CounterValue, float64(debugStats.reallocOps.Load()))
	ch <- prometheus.MustNewConstMetric(c.freeOps, prometheus.CounterValue, float64(debugStats.freeOps.Load()))
	ch <- prometheus.MustNewConstMetric(c.mmapCalls, prometheus.CounterValue, float64(debugStats.mmapOps.Load()))
	ch <- prometheus.MustNewConstMetric(c.munmapCalls, prometheus.CounterValue, float64(debugStats.munmapOps.Load()))
	ch <- prometheus.MustNewConstMetric(c.pageSteals, prometheus.CounterValue, float64(debugStats.pageSteals.Load()))
	ch <- prometheus.MustNewConstMetric(c.allocBytes, prometheus.CounterValue, float64(allocBytes))
	ch <- prometheus.MustNewConstMetric(c.deallocBytes, prometheus.CounterValue, float64(deallocBytes))
	ch <- prometheus.MustNewConstMetric(c.inuseBytes, prometheus.GaugeValue, float64(allocBytes-deallocBytes))
	ch <- prometheus.MustNewConstMetric(c.peakBytes, prometheus.GaugeValue, float64(debugStats.peakInUse.Load()))
}
