package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mchmarny/metarank/pkg/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

var (
	runTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metarank_runs_total",
		Help: "Total engine runs by status",
	}, []string{"status"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "metarank_run_duration_seconds",
		Help:    "Engine run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	})

	kUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "metarank_k_used",
		Help: "Regularization constant used by the last successful run",
	})

	btIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "metarank_bt_iterations",
		Help:    "Strength solver iterations per run",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	btKeptEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "metarank_bt_kept_edges",
		Help: "Comparison edges kept by the last successful run",
	})

	warningTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metarank_warnings_total",
		Help: "Non-fatal run warnings by kind",
	}, []string{"kind"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metarank_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})
)

// ObserveRun records the outcome of one engine run. res may be nil when err
// is set.
func ObserveRun(d time.Duration, res *engine.Result, err error) {
	runDuration.Observe(d.Seconds())
	if err != nil || res == nil {
		runTotal.WithLabelValues(StatusError).Inc()
		return
	}
	runTotal.WithLabelValues(StatusOK).Inc()

	kUsed.Set(res.Diagnostics.K.KUsed)
	btIterations.Observe(float64(res.Diagnostics.BT.Iterations))
	btKeptEdges.Set(float64(res.Diagnostics.BT.Kept))
	for _, w := range res.Diagnostics.Warnings {
		warningTotal.WithLabelValues(string(w.Kind)).Inc()
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument counts requests served by next under the given route label.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}
