package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mchmarny/metarank/pkg/bt"
	"github.com/mchmarny/metarank/pkg/engine"
	"github.com/mchmarny/metarank/pkg/kselect"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRun(t *testing.T) {
	okBefore := testutil.ToFloat64(runTotal.WithLabelValues(StatusOK))
	errBefore := testutil.ToFloat64(runTotal.WithLabelValues(StatusError))
	warnBefore := testutil.ToFloat64(warningTotal.WithLabelValues(string(engine.EmptyGraphWarning)))

	res := &engine.Result{Diagnostics: engine.Diagnostics{
		K:        kselect.Result{KUsed: 2.5},
		BT:       bt.Diagnostics{Kept: 7, Iterations: 42},
		Warnings: []engine.Warning{{Kind: engine.EmptyGraphWarning}},
	}}
	ObserveRun(20*time.Millisecond, res, nil)
	ObserveRun(time.Millisecond, nil, errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(runTotal.WithLabelValues(StatusOK)))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(runTotal.WithLabelValues(StatusError)))
	assert.Equal(t, warnBefore+1, testutil.ToFloat64(warningTotal.WithLabelValues(string(engine.EmptyGraphWarning))))
	assert.Equal(t, 2.5, testutil.ToFloat64(kUsed))
	assert.Equal(t, 7.0, testutil.ToFloat64(btKeptEdges))
}

func TestInstrument(t *testing.T) {
	h := Instrument("test", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequests.WithLabelValues("test", "418"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("test", "418")))
}

func TestHandler(t *testing.T) {
	ObserveRun(time.Millisecond, nil, errors.New("boom"))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "metarank_runs_total")
}
