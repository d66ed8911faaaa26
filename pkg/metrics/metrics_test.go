package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Turn("answered")
	m.Generation("openai", time.Now(), nil)
	m.ToolCall("expenses_get", "success")
	m.Artifact("delivered")
	m.PendingAdd(1)
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.Turn("answered")
	m.Turn("answered")
	m.ToolCall("expenses_get", "error")
	m.Artifact("fallback")
	m.PendingAdd(1)
	m.PendingAdd(-1)
	m.Generation("openai", time.Now(), errors.New("boom"))

	if got := testutil.ToFloat64(m.TurnCounter.WithLabelValues("answered")); got != 2 {
		t.Errorf("turns = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ToolCallCounter.WithLabelValues("expenses_get", "error")); got != 1 {
		t.Errorf("tool calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PendingContinuations); got != 0 {
		t.Errorf("pending = %v, want 0", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Artifact("delivered")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `spendbot_artifacts_total{status="delivered"} 1`) {
		t.Errorf("metrics output missing artifact counter:\n%s", body)
	}
}

func TestTwoInstancesDoNotCollide(t *testing.T) {
	New()
	New()
}
