package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/devdenneg/chupik/internal/chupik/metrics"
)

func TestInstancesDoNotCollide(t *testing.T) {
	a := metrics.New("chupik")
	b := metrics.New("chupik")

	a.Messages.WithLabelValues(metrics.SourceLocal).Inc()
	if got := testutil.ToFloat64(b.Messages.WithLabelValues(metrics.SourceLocal)); got != 0 {
		t.Fatalf("second instance sees %v messages, want 0", got)
	}
}

func TestHooks(t *testing.T) {
	m := metrics.New("chupik")

	m.LoopFailed("silence", errors.New("boom"))
	m.LoopFailed("silence", errors.New("boom"))
	m.SetActiveTasks(3)
	m.ObserveGeneration(1500 * time.Millisecond)
	m.RetryAttempted(1, errors.New("upstream status 503"))

	if got := testutil.ToFloat64(m.LoopErrors.WithLabelValues("silence")); got != 2 {
		t.Errorf("loop errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ActiveTasks); got != 3 {
		t.Errorf("active tasks = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.GenerationRetries); got != 1 {
		t.Errorf("generation retries = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.GenerationLatency); n != 1 {
		t.Errorf("latency series = %d, want 1", n)
	}
}

func TestHandler(t *testing.T) {
	m := metrics.New("chupik")
	m.Messages.WithLabelValues(metrics.SourceRemote).Add(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `chupik_messages_total{source="remote"} 2`) {
		t.Errorf("metrics output missing counter:\n%s", body)
	}
}
