package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget/internal/batch"
)

func TestObserveHTTP_UsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Get("/api/cards/{cardID}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNoContent)
		m.ObserveHTTP(req, http.StatusNoContent, 5*time.Millisecond)
	})

	for _, id := range []string{"1", "2", "3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/cards/"+id, nil))
	}

	got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/cards/{cardID}", http.MethodGet, "204"))
	assert.Equal(t, 3.0, got)
}

func TestBatchListeners(t *testing.T) {
	m := New()
	ctx := context.Background()
	start := time.Now()
	job := &batch.JobExecution{JobName: "report", StartTime: start}

	m.BeforeJob(ctx, job)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsRunning.WithLabelValues("report")))

	m.AfterStep(ctx, job, &batch.StepExecution{StepName: "reportStep", ReadCount: 4, WriteCount: 3, SkipCount: 1})
	job.Status = batch.StatusCompleted
	job.EndTime = start.Add(time.Second)
	m.AfterJob(ctx, job)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobsRunning.WithLabelValues("report")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("report", "COMPLETED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.stepItems.WithLabelValues("report", "reportStep", "write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepItems.WithLabelValues("report", "reportStep", "skip")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.DeadLettered()
	m.Synced(2, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "budget_batch_dead_letters_total 1"))
	assert.True(t, strings.Contains(body, `budget_transaction_synced_total{outcome="inserted"} 2`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
