// Package metrics exports the tile pipeline and render loop to prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/olablt/slippymap/tiles"
	"github.com/olablt/slippymap/tiles/cache"
)

type Metrics struct {
	reg *prometheus.Registry

	TileLoads     prometheus.Counter
	TileRetries   prometheus.Counter
	TileErrors    *prometheus.CounterVec
	DegradedLoads prometheus.Counter
	CacheWarnings prometheus.Counter
	LoadLatency   prometheus.Histogram

	Frames        prometheus.Counter
	FrameDuration prometheus.Histogram
	TilesMissing  prometheus.Gauge
}

// New registers the collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		TileLoads: f.NewCounter(prometheus.CounterOpts{
			Name: "slippymap_tile_loads_total",
			Help: "Total number of tiles loaded",
		}),
		TileRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "slippymap_tile_retries_total",
			Help: "Total number of scheduled tile retries",
		}),
		TileErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "slippymap_tile_errors_total",
			Help: "Total number of tiles that failed for good",
		}, []string{"kind"}),
		DegradedLoads: f.NewCounter(prometheus.CounterOpts{
			Name: "slippymap_tile_degraded_loads_total",
			Help: "Total number of tiles loaded through the non-retina fallback",
		}),
		CacheWarnings: f.NewCounter(prometheus.CounterOpts{
			Name: "slippymap_cache_warnings_total",
			Help: "Total number of memory pressure evictions",
		}),
		LoadLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "slippymap_tile_load_seconds",
			Help:    "Duration of the fetch attempt that loaded a tile",
			Buckets: prometheus.DefBuckets,
		}),
		Frames: f.NewCounter(prometheus.CounterOpts{
			Name: "slippymap_frames_total",
			Help: "Total number of rendered frames",
		}),
		FrameDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "slippymap_frame_seconds",
			Help:    "Time spent rendering a frame",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
		TilesMissing: f.NewGauge(prometheus.GaugeOpts{
			Name: "slippymap_tiles_missing",
			Help: "Visible tiles not yet loaded in the last frame",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Subscribe counts tile events from e until the returned function is called.
func (m *Metrics) Subscribe(e *tiles.Emitter) (off func()) {
	return e.On(m.observe)
}

func (m *Metrics) observe(ev tiles.Event) {
	switch ev.Kind {
	case tiles.EventTileLoad:
		m.TileLoads.Inc()
		m.LoadLatency.Observe(ev.LoadTime.Seconds())
		if ev.Degraded {
			m.DegradedLoads.Inc()
		}
	case tiles.EventTileRetry:
		m.TileRetries.Inc()
	case tiles.EventTileError:
		m.TileErrors.WithLabelValues(tiles.Classify(ev.Err).String()).Inc()
	case tiles.EventCacheWarning:
		m.CacheWarnings.Inc()
	}
}

func (m *Metrics) ObserveFrame(d time.Duration, missing int) {
	m.Frames.Inc()
	m.FrameDuration.Observe(d.Seconds())
	m.TilesMissing.Set(float64(missing))
}

// WatchCache exports the size and memory use of the cache returned by fn.
// fn is called at scrape time and must be safe for concurrent use.
func (m *Metrics) WatchCache(fn func() *cache.Cache) {
	f := promauto.With(m.reg)
	stats := func() cache.Stats {
		if c := fn(); c != nil {
			return c.Stats()
		}
		return cache.Stats{}
	}
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "slippymap_cache_entries",
		Help: "Number of tiles in the cache",
	}, func() float64 { return float64(stats().Len) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "slippymap_cache_image_bytes",
		Help: "Decoded size of the images held by the tile cache",
	}, func() float64 { return float64(stats().ImageBytes) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "slippymap_memory_pressure_megabytes",
		Help: "Memory usage seen by the cache pressure check; the process heap when a runtime probe is configured",
	}, func() float64 { return stats().MemoryMB })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "slippymap_cache_evictions_total",
		Help: "Total number of evicted tiles",
	}, func() float64 { return float64(stats().Evictions) })
}
