package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/crystal-mush/mushkeeper/pkg/dbck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metric descriptors for the game. Each Game gets
// its own registry so tests can build several.
type Metrics struct {
	game      *Game
	startTime time.Time
	registry  *prometheus.Registry

	objectsTotal   prometheus.Gauge
	freelistLength prometheus.Gauge
	heapBlocks     prometheus.Gauge
	heapBytes      prometheus.Gauge
	heapTagBytes   *prometheus.GaugeVec
	heapOverruns   prometheus.Gauge
	heapDoubleFree prometheus.Gauge
	poolBuffers    *prometheus.GaugeVec
	queueDepth     *prometheus.GaugeVec
	uptimeSeconds  prometheus.Gauge
	goroutines     prometheus.Gauge

	dbckRuns      *prometheus.CounterVec
	dbckFindings  *prometheus.CounterVec
	dbckDestroyed prometheus.Counter
	dbckOrphans   prometheus.Counter
	dbckDuration  prometheus.Histogram
}

// NewMetrics creates and registers Prometheus metrics for the game.
func NewMetrics(game *Game, startTime time.Time) *Metrics {
	m := &Metrics{
		game:      game,
		startTime: startTime,
		registry:  prometheus.NewRegistry(),
		objectsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushkeeper_objects_total",
			Help: "Size of the object table (db_top).",
		}),
		freelistLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushkeeper_freelist_length",
			Help: "Clean garbage objects on the freelist after the last dbck pass.",
		}),
		heapBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushkeeper_heap_live_blocks",
			Help: "Live tracked heap blocks.",
		}),
		heapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushkeeper_heap_live_bytes",
			Help: "Bytes held by live tracked heap blocks.",
		}),
		heapTagBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mushkeeper_heap_tag_bytes",
			Help: "Bytes held by live tracked heap blocks, by tag.",
		}, []string{"tag"}),
		heapOverruns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushkeeper_heap_overruns",
			Help: "Blocks found with a damaged canary at free time.",
		}),
		heapDoubleFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushkeeper_heap_double_frees",
			Help: "Frees of already-freed blocks.",
		}),
		poolBuffers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mushkeeper_pool_buffers",
			Help: "Buffer pool contents by pool and state (in_use, total, lost, damaged).",
		}, []string{"pool", "state"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mushkeeper_queue_depth",
			Help: "Current command queue depth by type.",
		}, []string{"queue_type"}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushkeeper_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushkeeper_goroutines",
			Help: "Number of active goroutines.",
		}),
		dbckRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushkeeper_dbck_runs_total",
			Help: "dbck passes by mode.",
		}, []string{"mode"}),
		dbckFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushkeeper_dbck_findings_total",
			Help: "dbck findings by severity.",
		}, []string{"severity"}),
		dbckDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mushkeeper_dbck_destroyed_total",
			Help: "Objects destroyed by dbck.",
		}),
		dbckOrphans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mushkeeper_dbck_orphans_total",
			Help: "Orphaned objects dbck sent home.",
		}),
		dbckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mushkeeper_dbck_duration_seconds",
			Help:    "Wall time of dbck passes.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	m.registry.MustRegister(
		m.objectsTotal,
		m.freelistLength,
		m.heapBlocks,
		m.heapBytes,
		m.heapTagBytes,
		m.heapOverruns,
		m.heapDoubleFree,
		m.poolBuffers,
		m.queueDepth,
		m.uptimeSeconds,
		m.goroutines,
		m.dbckRuns,
		m.dbckFindings,
		m.dbckDestroyed,
		m.dbckOrphans,
		m.dbckDuration,
	)

	return m
}

// ObserveDBCK records one finished pass.
func (m *Metrics) ObserveDBCK(r *dbck.Report) {
	mode := "normal"
	if r.Full {
		mode = "full"
	}
	m.dbckRuns.WithLabelValues(mode).Inc()
	for sev, n := range r.BySeverity() {
		m.dbckFindings.WithLabelValues(sev.String()).Add(float64(n))
	}
	m.dbckDestroyed.Add(float64(r.Stats.Destroyed))
	m.dbckOrphans.Add(float64(r.Stats.Orphans))
	m.dbckDuration.Observe(r.Duration.Seconds())
	m.freelistLength.Set(float64(r.Stats.Freelist))
}

// Update refreshes all gauge metrics from current game state.
func (m *Metrics) Update() {
	m.objectsTotal.Set(float64(m.game.Top()))

	hs := m.game.Heap.Stats()
	m.heapBlocks.Set(float64(hs.Blocks))
	m.heapBytes.Set(float64(hs.Bytes))
	m.heapOverruns.Set(float64(hs.Overruns))
	m.heapDoubleFree.Set(float64(hs.DoubleFrees))
	m.heapTagBytes.Reset()
	for _, ts := range m.game.Heap.ByTag() {
		m.heapTagBytes.WithLabelValues(ts.Tag).Set(float64(ts.Bytes))
	}

	for _, ps := range m.game.Heap.PoolStats() {
		m.poolBuffers.WithLabelValues(ps.Name, "in_use").Set(float64(ps.InUse))
		m.poolBuffers.WithLabelValues(ps.Name, "total").Set(float64(ps.Total))
		m.poolBuffers.WithLabelValues(ps.Name, "lost").Set(float64(ps.Lost))
		m.poolBuffers.WithLabelValues(ps.Name, "damaged").Set(float64(ps.Damaged))
	}

	immediate, waiting, semaphore := m.game.Queue.Stats()
	m.queueDepth.WithLabelValues("immediate").Set(float64(immediate))
	m.queueDepth.WithLabelValues("waiting").Set(float64(waiting))
	m.queueDepth.WithLabelValues("semaphore").Set(float64(semaphore))

	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Gather refreshes the gauges and returns the current metric families.
func (m *Metrics) Gather() ([]string, error) {
	m.Update()
	mfs, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(mfs))
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	return names, nil
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		h.ServeHTTP(w, r)
	})
}
