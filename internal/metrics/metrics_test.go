package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Observations(t *testing.T) {
	r := NewRecorder()

	r.ObservePass(ResultWritten, 20*time.Millisecond)
	r.ObservePass(ResultWritten, 30*time.Millisecond)
	r.ObservePass(ResultFailed, time.Millisecond)
	r.ObserveGraph(4, 1)
	r.SkippedFiles(2)
	r.SkippedFiles(0)
	r.FileEvents(3)
	r.Coalesced()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.passesTotal.WithLabelValues(ResultWritten)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.passesTotal.WithLabelValues(ResultFailed)))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.classes))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.unknownDeps))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.skippedFiles))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.fileEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.coalescedRuns))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.ObservePass(ResultWritten, time.Second)
		r.ObserveGraph(1, 0)
		r.SkippedFiles(1)
		r.FileEvents(1)
		r.Coalesced()
	})
	assert.Nil(t, r.Registry())
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.ObservePass(ResultUnchanged, time.Millisecond)

	server := httptest.NewServer(r.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `autowire_generation_passes_total{result="unchanged"} 1`)

	health, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
